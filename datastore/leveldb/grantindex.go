package leveldb

import (
	"fmt"

	"notary/datamodel/grant"
	"notary/principal"

	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPrincipal = "PRN" // Grants indexed by principal. Followed by the principal text
)

var _ grant.GrantIndex = (*GrantIndex)(nil)

type GrantIndex struct {
	LevelDB
}

func NewGrantIndex(path string) (*GrantIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &GrantIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *GrantIndex) Get(p principal.Principal) (*grant.Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := &grant.Grant{}
	if err := l.get(keyFromString(keyPrefixPrincipal, string(p)), g, fmt.Sprintf("principal %s", p)); err != nil {
		return nil, err
	}
	if g.Principal != p {
		log.Errorf("GrantIndex.Get: principal mismatch: %s != %s", p, g.Principal)
		return nil, ErrCorrupted
	}
	return g, nil
}

func (l *GrantIndex) Put(g *grant.Grant) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := encMode.Marshal(g)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromString(keyPrefixPrincipal, string(g.Principal)), raw, nil)
}

func (l *GrantIndex) Delete(p principal.Principal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Delete(keyFromString(keyPrefixPrincipal, string(p)), nil)
}

func (l *GrantIndex) Enumerate() ([]*grant.Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPrincipal)), nil)
	defer iter.Release()

	var results []*grant.Grant
	for iter.Next() {
		g := &grant.Grant{}
		if err := decMode.Unmarshal(iter.Value(), g); err != nil {
			return nil, ErrCorrupted
		}
		results = append(results, g)
	}
	return results, iter.Error()
}
