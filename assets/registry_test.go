package assets

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/datamodel/asset"
	"notary/datamodel/block"
	"notary/datastore/flatfs"
	"notary/datastore/leveldb"
	"notary/errs"
	"notary/upload"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, cfg upload.Config) (*Registry, *flatfs.FlatFS) {
	t.Helper()

	index, err := leveldb.NewAssetIndex(leveldb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	blocks, err := flatfs.New(t.TempDir())
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	return New(index, blocks, upload.New(cfg, clock), clock), blocks
}

func upChunks(t *testing.T, r *Registry, parts ...string) (uint64, []uint64) {
	t.Helper()

	batch, err := r.Uploads().CreateBatch()
	require.NoError(t, err)
	var ids []uint64
	for _, p := range parts {
		id, err := r.Uploads().CreateChunk(batch, []byte(p))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return batch, ids
}

func sum(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func TestCommitTwoChunks(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	batch, ids := upChunks(t, r, "AB", "CD")
	err := r.CommitBatch(batch, []asset.Operation{
		asset.CreateAsset{Key: "/x", ContentType: "text/plain"},
		asset.SetAssetContent{Key: "/x", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids, Sha256: sum("ABCD")},
	})
	require.NoError(t, err)

	res, err := r.Get("/x", []string{"gzip", asset.EncodingIdentity})
	require.NoError(t, err)
	assert.Equal(t, []byte("AB"), res.Content)
	assert.Equal(t, uint64(4), res.TotalLength)
	assert.Equal(t, "text/plain", res.ContentType)
	assert.Equal(t, asset.EncodingIdentity, res.ContentEncoding)
	assert.Equal(t, sum("ABCD"), res.Sha256[:])

	second, err := r.GetChunk("/x", asset.EncodingIdentity, sum("ABCD"), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("CD"), second)

	_, err = r.GetChunk("/x", asset.EncodingIdentity, nil, 2)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// A batch is single use
	err = r.CommitBatch(batch, nil)
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
	assert.Equal(t, 0, r.Uploads().Live())
}

func TestCommitIsAtomic(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	batch, ids := upChunks(t, r, "data")
	err := r.CommitBatch(batch, []asset.Operation{
		asset.CreateAsset{Key: "/y", ContentType: "text/plain"},
		asset.SetAssetContent{Key: "/y", ContentEncoding: asset.EncodingIdentity, ChunkIDs: []uint64{ids[0], ids[0] + 1000}},
	})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)

	_, err = r.Asset("/y")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// The failed batch is gone too
	err = r.CommitBatch(batch, []asset.Operation{asset.CreateAsset{Key: "/y"}})
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
}

func TestCommitRejectsChunksOfOtherBatches(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	_, foreign := upChunks(t, r, "elsewhere")
	batch, _ := upChunks(t, r, "here")

	err := r.CommitBatch(batch, []asset.Operation{
		asset.CreateAsset{Key: "/z"},
		asset.SetAssetContent{Key: "/z", ContentEncoding: asset.EncodingIdentity, ChunkIDs: foreign},
	})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)
}

func TestCommitChecksIntegrity(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	batch, ids := upChunks(t, r, "ABCD")
	err := r.CommitBatch(batch, []asset.Operation{
		asset.CreateAsset{Key: "/x"},
		asset.SetAssetContent{Key: "/x", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids, Sha256: sum("ABCE")},
	})
	require.ErrorIs(t, err, errs.ErrIntegrity)

	_, err = r.Asset("/x")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOperationErrors(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	require.NoError(t, r.CreateAsset(asset.CreateAsset{Key: "/a", ContentType: "text/plain"}))
	require.ErrorIs(t, r.CreateAsset(asset.CreateAsset{Key: "/a"}), errs.ErrAlreadyExists)
	require.ErrorIs(t, r.CreateAsset(asset.CreateAsset{Key: ""}), errs.ErrInvalidArgument)

	// Unsetting an encoding the asset does not have changes nothing
	require.NoError(t, r.UnsetAssetContent(asset.UnsetAssetContent{Key: "/a", ContentEncoding: "gzip"}))
	require.ErrorIs(t, r.UnsetAssetContent(asset.UnsetAssetContent{Key: "/missing", ContentEncoding: "gzip"}), errs.ErrNotFound)

	require.ErrorIs(t, r.DeleteAsset(asset.DeleteAsset{Key: "/missing"}), errs.ErrNotFound)
	require.NoError(t, r.DeleteAsset(asset.DeleteAsset{Key: "/a"}))
	_, err := r.Asset("/a")
	require.ErrorIs(t, err, errs.ErrNotFound)

	batch, _ := upChunks(t, r)
	err = r.CommitBatch(batch, []asset.Operation{
		asset.CreateAsset{Key: "/b"},
		asset.SetAssetContent{Key: "/b", ContentEncoding: asset.EncodingIdentity},
	})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	batch, ids := upChunks(t, r, "x")
	err = r.CommitBatch(batch, []asset.Operation{
		asset.SetAssetContent{Key: "/nope", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids},
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestOperationsSeeEarlierOperations(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())
	require.NoError(t, r.CreateAsset(asset.CreateAsset{Key: "/old"}))

	batch, ids := upChunks(t, r, "v1")
	err := r.CommitBatch(batch, []asset.Operation{
		asset.Clear{},
		asset.CreateAsset{Key: "/new", ContentType: "text/plain"},
		asset.SetAssetContent{Key: "/new", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids},
		asset.DeleteAsset{Key: "/new"},
		asset.CreateAsset{Key: "/new", ContentType: "text/html"},
	})
	require.NoError(t, err)

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/new", list[0].Key)
	assert.Equal(t, "text/html", list[0].ContentType)
	assert.Empty(t, list[0].Encodings)
}

func TestStaleChunk(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())
	require.NoError(t, r.Store(StoreArgs{Key: "/s", Content: []byte("one"), ContentEncoding: asset.EncodingIdentity}))

	_, err := r.GetChunk("/s", asset.EncodingIdentity, sum("one"), 0)
	require.NoError(t, err)

	require.NoError(t, r.Store(StoreArgs{Key: "/s", Content: []byte("two"), ContentEncoding: asset.EncodingIdentity}))
	_, err = r.GetChunk("/s", asset.EncodingIdentity, sum("one"), 0)
	require.ErrorIs(t, err, errs.ErrStaleContent)

	_, err = r.GetChunk("/s", "br", nil, 0)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStoreSplitsAndCollects(t *testing.T) {
	r, blocks := newRegistry(t, upload.Config{MaxChunkSize: 4})

	require.NoError(t, r.Store(StoreArgs{
		Key:             "/big",
		Content:         []byte("0123456789"),
		ContentType:     "application/octet-stream",
		ContentEncoding: asset.EncodingIdentity,
		Sha256:          sum("0123456789"),
	}))

	a, err := r.Asset("/big")
	require.NoError(t, err)
	enc := a.Encodings[asset.EncodingIdentity]
	require.Len(t, enc.Chunks, 3)
	assert.Equal(t, uint64(10), enc.TotalLength)
	assert.True(t, enc.Modified.Equal(testNow))

	stored, err := blocks.Enumerate()
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// Replacing the content drops the blocks nobody references any more
	require.NoError(t, r.Store(StoreArgs{Key: "/big", Content: []byte("0123"), ContentEncoding: asset.EncodingIdentity}))
	stored, err = blocks.Enumerate()
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	err = r.Store(StoreArgs{Key: "/big", Content: []byte("x"), ContentEncoding: asset.EncodingIdentity, Sha256: sum("y")})
	require.ErrorIs(t, err, errs.ErrIntegrity)

	require.NoError(t, r.Clear())
	stored, err = blocks.Enumerate()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSharedBlocksSurviveDeletion(t *testing.T) {
	r, blocks := newRegistry(t, upload.DefaultConfig())

	require.NoError(t, r.Store(StoreArgs{Key: "/a", Content: []byte("same"), ContentEncoding: asset.EncodingIdentity}))
	require.NoError(t, r.Store(StoreArgs{Key: "/b", Content: []byte("same"), ContentEncoding: asset.EncodingIdentity}))
	require.NoError(t, r.DeleteAsset(asset.DeleteAsset{Key: "/a"}))

	stored, err := blocks.Enumerate()
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	res, err := r.Get("/b", []string{asset.EncodingIdentity})
	require.NoError(t, err)
	assert.Equal(t, []byte("same"), res.Content)
}

func TestCollectGarbageDropsLeftovers(t *testing.T) {
	r, blocks := newRegistry(t, upload.DefaultConfig())

	require.NoError(t, r.Store(StoreArgs{Key: "/kept", Content: []byte("kept"), ContentEncoding: asset.EncodingIdentity}))
	// A block left behind by an interrupted commit
	_, err := blocks.Put(block.New([]byte("orphan")))
	require.NoError(t, err)

	n, err := r.CollectGarbage()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.CollectGarbage()
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err := r.Get("/kept", []string{asset.EncodingIdentity})
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), res.Content)
}

func TestSetAssetContentShortcut(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())
	require.NoError(t, r.CreateAsset(asset.CreateAsset{Key: "/c"}))

	batch, ids := upChunks(t, r, "he", "llo")
	require.NoError(t, r.SetAssetContent(asset.SetAssetContent{Key: "/c", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids}))
	assert.False(t, r.Uploads().Has(batch))

	res, err := r.Get("/c", []string{asset.EncodingIdentity})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.TotalLength)

	_, one := upChunks(t, r, "a")
	_, two := upChunks(t, r, "b")
	err = r.SetAssetContent(asset.SetAssetContent{Key: "/c", ContentEncoding: "gzip", ChunkIDs: append(one, two...)})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)
}

func TestClearDropsBatches(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	batch, _ := upChunks(t, r, "pending")
	require.NoError(t, r.Store(StoreArgs{Key: "/k", Content: []byte("v"), ContentEncoding: asset.EncodingIdentity}))
	require.NoError(t, r.Clear())

	assert.False(t, r.Uploads().Has(batch))
	list, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

// failingIndex rejects writes while fail is set.
type failingIndex struct {
	asset.AssetIndex
	fail bool
}

func (f *failingIndex) Write(cs *asset.ChangeSet) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.AssetIndex.Write(cs)
}

func TestFailedClearKeepsBatches(t *testing.T) {
	mem, err := leveldb.NewAssetIndex(leveldb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	blocks, err := flatfs.New(t.TempDir())
	require.NoError(t, err)

	index := &failingIndex{AssetIndex: mem}
	clock := func() time.Time { return testNow }
	r := New(index, blocks, upload.New(upload.DefaultConfig(), clock), clock)

	batch, _ := upChunks(t, r, "pending")
	require.NoError(t, r.Store(StoreArgs{Key: "/k", Content: []byte("v"), ContentEncoding: asset.EncodingIdentity}))

	index.fail = true
	require.Error(t, r.Clear())
	assert.True(t, r.Uploads().Has(batch))
	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	index.fail = false
	require.NoError(t, r.Clear())
	assert.False(t, r.Uploads().Has(batch))
	list, err = r.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListIsSorted(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	for _, key := range []string{"/c", "/a", "/b"} {
		require.NoError(t, r.Store(StoreArgs{Key: key, Content: []byte(key), ContentType: "text/plain", ContentEncoding: asset.EncodingIdentity}))
	}
	require.NoError(t, r.Store(StoreArgs{Key: "/a", Content: []byte("zipped"), ContentType: "text/plain", ContentEncoding: "gzip"}))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "/a", list[0].Key)
	assert.Equal(t, "/b", list[1].Key)
	assert.Equal(t, "/c", list[2].Key)

	require.Len(t, list[0].Encodings, 2)
	assert.Equal(t, "gzip", list[0].Encodings[0].ContentEncoding)
	assert.Equal(t, uint64(6), list[0].Encodings[0].Length)
	assert.Equal(t, asset.EncodingIdentity, list[0].Encodings[1].ContentEncoding)
}

func TestEncodingLengthIsSumOfChunks(t *testing.T) {
	r, _ := newRegistry(t, upload.DefaultConfig())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("total length and hash follow the chunks", prop.ForAll(
		func(parts []string) bool {
			if len(parts) == 0 {
				return true
			}
			for i, p := range parts {
				if p == "" {
					parts[i] = "-"
				}
			}

			batch, err := r.Uploads().CreateBatch()
			if err != nil {
				return false
			}
			var ids []uint64
			for _, p := range parts {
				id, err := r.Uploads().CreateChunk(batch, []byte(p))
				if err != nil {
					return false
				}
				ids = append(ids, id)
			}

			if err := r.CommitBatch(batch, []asset.Operation{
				asset.Clear{},
				asset.CreateAsset{Key: "/p"},
				asset.SetAssetContent{Key: "/p", ContentEncoding: asset.EncodingIdentity, ChunkIDs: ids},
			}); err != nil {
				return false
			}

			joined := strings.Join(parts, "")
			res, err := r.Get("/p", []string{asset.EncodingIdentity})
			if err != nil {
				return false
			}
			return res.TotalLength == uint64(len(joined)) && res.Sha256 == sha256.Sum256([]byte(joined))
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
