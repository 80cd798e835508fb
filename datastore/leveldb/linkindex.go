package leveldb

import (
	"notary/datamodel/link"

	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	keyPrefixLink = "LNK" // Mirrored links indexed by name. Followed by the link name
)

var _ link.LinkIndex = (*LinkIndex)(nil)

type LinkIndex struct {
	LevelDB
}

func NewLinkIndex(path string) (*LinkIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &LinkIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *LinkIndex) Get(name string) (*link.Link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lnk := &link.Link{}
	if err := l.get(keyFromString(keyPrefixLink, name), lnk, "link "+name); err != nil {
		return nil, err
	}
	return lnk, nil
}

func (l *LinkIndex) Put(lnk *link.Link) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := encMode.Marshal(lnk)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromString(keyPrefixLink, lnk.Name), raw, nil)
}

// goleveldb reports no error when deleting a missing key.
func (l *LinkIndex) Delete(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Delete(keyFromString(keyPrefixLink, name), nil)
}

func (l *LinkIndex) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixLink)), nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}
