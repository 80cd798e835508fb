package leveldb

import (
	"fmt"

	"notary/datamodel/asset"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixAsset = "AST" // Asset metadata indexed by key. Followed by the asset key
)

var _ asset.AssetIndex = (*AssetIndex)(nil)

type AssetIndex struct {
	LevelDB
}

func NewAssetIndex(path string) (*AssetIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &AssetIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *AssetIndex) Get(key string) (*asset.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := &asset.Asset{}
	if err := l.get(keyFromString(keyPrefixAsset, key), a, fmt.Sprintf("asset %q", key)); err != nil {
		return nil, err
	}

	// Compare the key just in case
	if a.Key != key {
		log.Errorf("AssetIndex.Get: key mismatch: %q != %q", key, a.Key)
		return nil, ErrCorrupted
	}

	return a, nil
}

func (l *AssetIndex) Enumerate() ([]*asset.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixAsset)), nil)
	defer iter.Release()

	var results []*asset.Asset
	for iter.Next() {
		a := &asset.Asset{}
		if err := decMode.Unmarshal(iter.Value(), a); err != nil {
			log.Errorf("AssetIndex.Enumerate: failed to decode %q: %v", string(iter.Key()), err)
			return nil, ErrCorrupted
		}
		results = append(results, a)
	}

	return results, iter.Error()
}

// Write applies the change set in one leveldb batch.
func (l *AssetIndex) Write(changes *asset.ChangeSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)

	if changes.Clear {
		iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixAsset)), nil)
		for iter.Next() {
			// The iterator reuses its key buffer
			key := append([]byte(nil), iter.Key()...)
			batch.Delete(key)
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return err
		}
	}

	for _, key := range changes.Delete {
		batch.Delete(keyFromString(keyPrefixAsset, key))
	}

	for _, a := range changes.Put {
		raw, err := encMode.Marshal(a)
		if err != nil {
			return err
		}
		batch.Put(keyFromString(keyPrefixAsset, a.Key), raw)
	}

	if batch.Len() == 0 {
		return nil
	}

	log.Debugf("AssetIndex.Write: %d records (clear=%t)", batch.Len(), changes.Clear)
	return l.db.Write(batch, nil)
}
