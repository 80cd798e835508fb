// Package assets maps keys to content-addressed encodings. Chunk bytes live
// in a block store; asset metadata lives in an asset index. A commit writes
// new blocks first, then all metadata in one index write, then drops blocks
// nothing references any more.
package assets

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"notary/datamodel/asset"
	"notary/datamodel/block"
	"notary/errs"
	"notary/oid"
	"notary/upload"

	log "github.com/sirupsen/logrus"
)

type Registry struct {
	index   asset.AssetIndex
	blocks  block.BlockStore
	uploads *upload.Manager
	now     func() time.Time
}

// New wires a registry. A nil clock uses time.Now.
func New(index asset.AssetIndex, blocks block.BlockStore, uploads *upload.Manager, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		index:   index,
		blocks:  blocks,
		uploads: uploads,
		now:     now,
	}
}

func (r *Registry) Uploads() *upload.Manager {
	return r.uploads
}

// CommitBatch applies ops in order as one transition. The batch is consumed
// whatever the outcome.
func (r *Registry) CommitBatch(batchID uint64, ops []asset.Operation) error {
	if !r.uploads.Has(batchID) {
		return fmt.Errorf("%w: %d", errs.ErrUnknownBatch, batchID)
	}
	defer r.uploads.Discard(batchID)

	t := r.begin(batchID)
	for i, op := range ops {
		if err := t.apply(op); err != nil {
			log.Debugf("Batch %d aborted at operation %d: %v", batchID, i, err)
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return t.commit()
}

func (r *Registry) CreateAsset(op asset.CreateAsset) error {
	return r.single(op)
}

// SetAssetContent outside of a batch resolves its chunks against the live
// batch that holds all of them, and consumes that batch.
func (r *Registry) SetAssetContent(op asset.SetAssetContent) error {
	if len(op.ChunkIDs) == 0 {
		return fmt.Errorf("%w: no chunks for %q", errs.ErrInvalidArgument, op.Key)
	}
	batchID, err := r.uploads.Owner(op.ChunkIDs)
	if err != nil {
		return err
	}
	return r.CommitBatch(batchID, []asset.Operation{op})
}

func (r *Registry) UnsetAssetContent(op asset.UnsetAssetContent) error {
	return r.single(op)
}

func (r *Registry) DeleteAsset(op asset.DeleteAsset) error {
	return r.single(op)
}

// Clear removes every asset and every batch in progress. Batches are only
// dropped once the asset index is cleared.
func (r *Registry) Clear() error {
	if err := r.single(asset.Clear{}); err != nil {
		return err
	}
	r.uploads.Clear()
	return nil
}

func (r *Registry) single(op asset.Operation) error {
	t := r.begin(0)
	if err := t.apply(op); err != nil {
		return err
	}
	return t.commit()
}

// StoreArgs is a complete upload in one message.
type StoreArgs struct {
	Key             string
	Content         []byte
	ContentType     string
	ContentEncoding string
	Sha256          []byte // optional
}

// Store creates the asset if missing, sets its content type and replaces
// one encoding. Content larger than the chunk limit is split so every chunk
// can be served in one response.
func (r *Registry) Store(args StoreArgs) error {
	if err := asset.ValidateKey(args.Key); err != nil {
		return err
	}
	if err := asset.ValidateEncodingName(args.ContentEncoding); err != nil {
		return err
	}

	t := r.begin(0)

	a, err := t.lookup(args.Key)
	switch {
	case err == nil:
		a = a.Clone()
	case isNotFound(err):
		a = &asset.Asset{Key: args.Key, Encodings: map[string]*asset.Encoding{}}
	default:
		return err
	}
	a.ContentType = args.ContentType

	var pieces [][]byte
	for rest := args.Content; len(rest) > 0; {
		n := min(len(rest), r.uploads.MaxChunkSize())
		pieces = append(pieces, rest[:n])
		rest = rest[n:]
	}

	enc, err := t.encode(args.ContentEncoding, pieces, args.Sha256)
	if err != nil {
		return err
	}
	a.Encodings[args.ContentEncoding] = enc
	t.assets[args.Key] = a

	return t.commit()
}

// tx stages the effect of a commit. A nil entry in assets is a deletion.
type tx struct {
	r       *Registry
	batchID uint64
	cleared bool
	assets  map[string]*asset.Asset
	blocks  map[oid.Oid]*block.Block
}

func (r *Registry) begin(batchID uint64) *tx {
	return &tx{
		r:       r,
		batchID: batchID,
		assets:  make(map[string]*asset.Asset),
		blocks:  make(map[oid.Oid]*block.Block),
	}
}

func (t *tx) lookup(key string) (*asset.Asset, error) {
	if a, ok := t.assets[key]; ok {
		if a == nil {
			return nil, fmt.Errorf("%w: asset %q", errs.ErrNotFound, key)
		}
		return a, nil
	}
	if t.cleared {
		return nil, fmt.Errorf("%w: asset %q", errs.ErrNotFound, key)
	}
	return t.r.index.Get(key)
}

func (t *tx) apply(op asset.Operation) error {
	switch op := op.(type) {
	case asset.CreateAsset:
		if err := asset.ValidateKey(op.Key); err != nil {
			return err
		}
		_, err := t.lookup(op.Key)
		if err == nil {
			return fmt.Errorf("%w: asset %q", errs.ErrAlreadyExists, op.Key)
		}
		if !isNotFound(err) {
			return err
		}
		t.assets[op.Key] = &asset.Asset{
			Key:         op.Key,
			ContentType: op.ContentType,
			Encodings:   map[string]*asset.Encoding{},
		}

	case asset.SetAssetContent:
		if err := asset.ValidateEncodingName(op.ContentEncoding); err != nil {
			return err
		}
		a, err := t.lookup(op.Key)
		if err != nil {
			return err
		}
		if len(op.ChunkIDs) == 0 {
			return fmt.Errorf("%w: no chunks for %q", errs.ErrInvalidArgument, op.Key)
		}
		chunks, err := t.r.uploads.Chunks(t.batchID, op.ChunkIDs)
		if err != nil {
			return err
		}
		pieces := make([][]byte, len(chunks))
		for i, c := range chunks {
			pieces[i] = c.Data
		}
		enc, err := t.encode(op.ContentEncoding, pieces, op.Sha256)
		if err != nil {
			return err
		}
		a = a.Clone()
		a.Encodings[op.ContentEncoding] = enc
		t.assets[op.Key] = a

	case asset.UnsetAssetContent:
		a, err := t.lookup(op.Key)
		if err != nil {
			return err
		}
		if _, ok := a.Encodings[op.ContentEncoding]; !ok {
			return nil
		}
		a = a.Clone()
		delete(a.Encodings, op.ContentEncoding)
		t.assets[op.Key] = a

	case asset.DeleteAsset:
		if _, err := t.lookup(op.Key); err != nil {
			return err
		}
		t.assets[op.Key] = nil

	case asset.Clear:
		t.cleared = true
		t.assets = make(map[string]*asset.Asset)

	default:
		return fmt.Errorf("%w: unsupported operation %T", errs.ErrInvalidArgument, op)
	}
	return nil
}

// encode builds an encoding from pieces in order and stages their blocks.
func (t *tx) encode(name string, pieces [][]byte, want []byte) (*asset.Encoding, error) {
	h := sha256.New()
	enc := &asset.Encoding{
		ContentEncoding: name,
		Chunks:          make([]asset.ChunkRef, 0, len(pieces)),
		Modified:        t.r.now(),
	}
	for _, p := range pieces {
		b := block.New(p)
		t.blocks[b.Oid] = b
		h.Write(p)
		enc.Chunks = append(enc.Chunks, asset.ChunkRef{Oid: b.Oid, Length: b.Length})
		enc.TotalLength += b.Length
	}
	copy(enc.Sha256[:], h.Sum(nil))

	if want != nil {
		if len(want) != sha256.Size {
			return nil, fmt.Errorf("%w: sha256 must be %d bytes, got %d", errs.ErrInvalidArgument, sha256.Size, len(want))
		}
		if !bytes.Equal(want, enc.Sha256[:]) {
			return nil, fmt.Errorf("%w: sha256 mismatch for encoding %q", errs.ErrIntegrity, name)
		}
	}
	return enc, nil
}

func (t *tx) commit() error {
	changes := &asset.ChangeSet{Clear: t.cleared}

	keys := make([]string, 0, len(t.assets))
	for key := range t.assets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if a := t.assets[key]; a == nil {
			changes.Delete = append(changes.Delete, key)
		} else {
			changes.Put = append(changes.Put, a)
		}
	}

	if changes.Empty() {
		return nil
	}

	for _, b := range t.blocks {
		if _, err := t.r.blocks.Put(b); err != nil {
			log.Errorf("Failed to store block %s: %v", b.Oid.String(), err)
			t.r.collect()
			return err
		}
	}

	if err := t.r.index.Write(changes); err != nil {
		log.Errorf("Failed to write asset metadata: %v", err)
		t.r.collect()
		return err
	}

	log.Debugf("Committed %d puts, %d deletes (clear=%t)", len(changes.Put), len(changes.Delete), changes.Clear)
	t.r.collect()
	return nil
}

// collect logs instead of failing: the commit it follows already happened.
func (r *Registry) collect() {
	if n, err := r.CollectGarbage(); err != nil {
		log.Warnf("Block collection failed: %v", err)
	} else if n > 0 {
		log.Debugf("Collected %d unreferenced blocks", n)
	}
}

// CollectGarbage deletes every block no asset references and returns how
// many were deleted.
func (r *Registry) CollectGarbage() (int, error) {
	all, err := r.index.Enumerate()
	if err != nil {
		return 0, err
	}
	live := make(map[oid.Oid]bool)
	for _, a := range all {
		for _, ref := range a.Refs() {
			live[ref] = true
		}
	}

	stored, err := r.blocks.Enumerate()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range stored {
		if live[*o] {
			continue
		}
		if err := r.blocks.Delete(o); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
