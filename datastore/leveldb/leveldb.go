// Package leveldb implements the notary indexes on top of goleveldb. Values
// are CBOR; keys are a three letter prefix followed by a textual key.
package leveldb

import (
	stderrors "errors"
	"fmt"
	"sync"

	"notary/errs"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	log "github.com/sirupsen/logrus"
)

// MemoryPath opens an index backed by memory only. Used by tests and by
// throwaway nodes.
const MemoryPath = ":memory:"

var ErrCorrupted = fmt.Errorf("corrupted")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding so an unchanged value produces identical bytes.
	// Timestamps keep nanoseconds: the change feed orders by them.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("leveldb: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("leveldb: CBOR decoder initialization failed: " + err.Error())
	}
}

type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromString(prefix string, s string) []byte {
	return append([]byte(prefix), []byte(s)...)
}

func keyFromSeq(prefix string, seq uint64) []byte {
	return append([]byte(prefix), []byte(fmt.Sprintf("%016x", seq))...)
}

func seqFromKey(prefix string, key []byte) (uint64, error) {
	if len(key) != len(prefix)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(prefix)]) != prefix {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(prefix)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	if path == MemoryPath {
		return leveldb.Open(storage.NewMemStorage(), nil)
	}

	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		log.Warnf("LevelDB at %s is corrupted, attempting recovery", path)
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

// get fetches and decodes key into v. A missing key is reported as
// errs.ErrNotFound wrapped with what.
func (l *LevelDB) get(key []byte, v any, what string) error {
	raw, err := l.db.Get(key, nil)
	if err == errors.ErrNotFound {
		return fmt.Errorf("%w: %s", errs.ErrNotFound, what)
	}
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		log.Errorf("Failed to decode %s: %v", what, err)
		return ErrCorrupted
	}
	return nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, errs.ErrNotFound)
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
