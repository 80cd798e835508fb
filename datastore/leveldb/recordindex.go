package leveldb

import (
	"fmt"
	"time"

	"notary/datamodel/record"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixRecord  = "REC" // Records indexed by fingerprint. Followed by the fingerprint
	keyPrefixUpdated = "UPD" // Fingerprints indexed by update stamp. Followed by 16-digit hexadecimal unix nanos
)

var _ record.RecordIndex = (*RecordIndex)(nil)

// RecordIndex stores every record once under REC and a pointer to its
// fingerprint under UPD at its Updated stamp. Stamps are unique per index,
// so the UPD range is a total order over changes.
type RecordIndex struct {
	LevelDB
	last time.Time
}

func NewRecordIndex(path string) (*RecordIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to identify the latest stamp
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixUpdated)), nil)
	defer iter.Release()

	var last time.Time
	if iter.Last() {
		nanos, err := seqFromKey(keyPrefixUpdated, iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		last = time.Unix(0, int64(nanos)).UTC()
	}

	return &RecordIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		last: last,
	}, nil
}

func keyFromStamp(t time.Time) []byte {
	return keyFromSeq(keyPrefixUpdated, uint64(t.UnixNano()))
}

func (l *RecordIndex) Get(fingerprint string) (*record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(fingerprint)
}

func (l *RecordIndex) getLocked(fingerprint string) (*record.Record, error) {
	r := &record.Record{}
	if err := l.get(keyFromString(keyPrefixRecord, fingerprint), r, fmt.Sprintf("record %q", fingerprint)); err != nil {
		return nil, err
	}
	if r.Fingerprint != fingerprint {
		log.Errorf("RecordIndex.Get: fingerprint mismatch: %q != %q", fingerprint, r.Fingerprint)
		return nil, ErrCorrupted
	}
	return r, nil
}

// Put replaces the record and moves its change-feed entry in one batch.
func (l *RecordIndex) Put(r *record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.Updated.UnixNano() <= 0 {
		return fmt.Errorf("RecordIndex.Put: record %q has no update stamp", r.Fingerprint)
	}

	batch := new(leveldb.Batch)

	prev, err := l.getLocked(r.Fingerprint)
	switch {
	case err == nil:
		batch.Delete(keyFromStamp(prev.Updated))
	case !isNotFound(err):
		return err
	}

	raw, err := encMode.Marshal(r)
	if err != nil {
		return err
	}
	batch.Put(keyFromString(keyPrefixRecord, r.Fingerprint), raw)
	batch.Put(keyFromStamp(r.Updated), []byte(r.Fingerprint))

	if err := l.db.Write(batch, nil); err != nil {
		return err
	}

	if r.Updated.After(l.last) {
		l.last = r.Updated
	}
	return nil
}

func (l *RecordIndex) Enumerate() ([]*record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixRecord)), nil)
	defer iter.Release()

	var results []*record.Record
	for iter.Next() {
		r := &record.Record{}
		if err := decMode.Unmarshal(iter.Value(), r); err != nil {
			log.Errorf("RecordIndex.Enumerate: failed to decode %q: %v", string(iter.Key()), err)
			return nil, ErrCorrupted
		}
		results = append(results, r)
	}

	return results, iter.Error()
}

func (l *RecordIndex) EnumerateUpdatedAfter(since time.Time) ([]*record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var from uint64
	if !since.IsZero() && since.UnixNano() > 0 {
		from = uint64(since.UnixNano()) + 1
	}
	rng := &util.Range{
		Start: keyFromSeq(keyPrefixUpdated, from),
		Limit: util.BytesPrefix([]byte(keyPrefixUpdated)).Limit,
	}

	iter := l.db.NewIterator(rng, nil)
	defer iter.Release()

	var results []*record.Record
	for iter.Next() {
		fingerprint := string(iter.Value())
		r, err := l.getLocked(fingerprint)
		if err != nil {
			log.Errorf("RecordIndex.EnumerateUpdatedAfter: dangling stamp %s -> %q: %v", string(iter.Key()), fingerprint, err)
			return nil, ErrCorrupted
		}
		results = append(results, r)
	}

	return results, iter.Error()
}

func (l *RecordIndex) LastUpdated() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Clear drops all records and stamps. The last stamp is kept so stamps
// handed out after a clear still sort after everything seen before it.
func (l *RecordIndex) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, prefix := range []string{keyPrefixRecord, keyPrefixUpdated} {
		iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return err
		}
	}

	return l.db.Write(batch, nil)
}
