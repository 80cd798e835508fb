package leveldb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/datamodel/asset"
	"notary/datamodel/grant"
	"notary/datamodel/link"
	"notary/datamodel/node"
	"notary/datamodel/record"
	"notary/errs"
	"notary/oid"
	"notary/principal"
)

func TestSeqKeys(t *testing.T) {
	key := keyFromSeq(keyPrefixUpdated, 0x1234)
	require.Equal(t, "UPD0000000000001234", string(key))

	seq, err := seqFromKey(keyPrefixUpdated, key)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), seq)

	_, err = seqFromKey(keyPrefixRecord, key)
	require.Error(t, err)
	_, err = seqFromKey(keyPrefixUpdated, key[:10])
	require.Error(t, err)
}

func TestAssetIndex(t *testing.T) {
	idx, err := NewAssetIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Get("/missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	modified := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	a := &asset.Asset{
		Key:         "/a.txt",
		ContentType: "text/plain",
		Encodings: map[string]*asset.Encoding{
			asset.EncodingIdentity: {
				ContentEncoding: asset.EncodingIdentity,
				Chunks:          []asset.ChunkRef{{Oid: *oid.FromData(oid.OidTypeRawBlock, []byte("x")), Length: 1}},
				TotalLength:     1,
				Modified:        modified,
			},
		},
	}
	b := &asset.Asset{Key: "/b.txt", ContentType: "text/plain"}

	require.NoError(t, idx.Write(&asset.ChangeSet{Put: []*asset.Asset{b, a}}))

	got, err := idx.Get("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "text/plain", got.ContentType)
	enc := got.Encodings[asset.EncodingIdentity]
	require.NotNil(t, enc)
	assert.True(t, enc.Modified.Equal(modified), "nanoseconds survive the round trip")
	assert.True(t, enc.Chunks[0].Oid.Equal(&a.Encodings[asset.EncodingIdentity].Chunks[0].Oid))

	all, err := idx.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/a.txt", all[0].Key)
	assert.Equal(t, "/b.txt", all[1].Key)

	require.NoError(t, idx.Write(&asset.ChangeSet{Delete: []string{"/a.txt"}}))
	_, err = idx.Get("/a.txt")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// Clear is applied before Put
	c := &asset.Asset{Key: "/c.txt"}
	require.NoError(t, idx.Write(&asset.ChangeSet{Clear: true, Put: []*asset.Asset{c}}))
	all, err = idx.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/c.txt", all[0].Key)
}

func stamp(n int64) time.Time {
	return time.Unix(1700000000, n).UTC()
}

func TestRecordIndexChangeFeed(t *testing.T) {
	idx, err := NewRecordIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	require.True(t, idx.LastUpdated().IsZero())

	owner := principal.Principal("alice")
	for i, fp := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Put(&record.Record{
			Fingerprint: fp,
			Owner:       owner.Ptr(),
			Created:     stamp(int64(i + 1)),
			Updated:     stamp(int64(i + 1)),
		}))
	}
	require.True(t, idx.LastUpdated().Equal(stamp(3)))

	all, err := idx.EnumerateUpdatedAfter(time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	after, err := idx.EnumerateUpdatedAfter(stamp(1))
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].Fingerprint)
	assert.Equal(t, "c", after[1].Fingerprint)

	// Updating "a" moves it to the end of the feed and drops its old entry
	r, err := idx.Get("a")
	require.NoError(t, err)
	r.Description = "updated"
	r.Updated = stamp(4)
	require.NoError(t, idx.Put(r))

	feed, err := idx.EnumerateUpdatedAfter(time.Time{})
	require.NoError(t, err)
	require.Len(t, feed, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{feed[0].Fingerprint, feed[1].Fingerprint, feed[2].Fingerprint})
	assert.Equal(t, "updated", feed[2].Description)
	require.Equal(t, "alice", feed[2].Owner.String())

	byFp, err := idx.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, "a", byFp[0].Fingerprint)

	require.NoError(t, idx.Clear())
	all, err = idx.Enumerate()
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = idx.Get("a")
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.True(t, idx.LastUpdated().Equal(stamp(4)))
}

func TestRecordIndexRejectsMissingStamp(t *testing.T) {
	idx, err := NewRecordIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	require.Error(t, idx.Put(&record.Record{Fingerprint: "x"}))
}

func TestRecordIndexRecoversLastStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")

	idx, err := NewRecordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Put(&record.Record{Fingerprint: "x", Updated: stamp(42)}))
	require.NoError(t, idx.Put(&record.Record{Fingerprint: "y", Updated: stamp(7)}))
	require.NoError(t, idx.Close())

	idx, err = NewRecordIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	assert.True(t, idx.LastUpdated().Equal(stamp(42)))
}

func TestGrantIndex(t *testing.T) {
	idx, err := NewGrantIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Get("bob")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, idx.Put(&grant.Grant{Principal: "bob", Role: grant.RoleWriter}))
	require.NoError(t, idx.Put(&grant.Grant{Principal: "alice", Role: grant.RoleAdmin}))

	g, err := idx.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, grant.RoleWriter, g.Role)

	all, err := idx.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, principal.Principal("alice"), all[0].Principal)

	require.NoError(t, idx.Delete("bob"))
	require.NoError(t, idx.Delete("bob"))
	_, err = idx.Get("bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNodeIndex(t *testing.T) {
	idx, err := NewNodeIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	id, err := oid.Random(oid.OidTypeNode)
	require.NoError(t, err)

	_, err = idx.Get(id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	md := &node.Metadata{NodeID: *id, Addresses: []string{"127.0.0.1:4000"}, SequenceNumber: 3, Checkpoint: 99}
	_, err = idx.Put(md)
	require.NoError(t, err)

	got, err := idx.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.SequenceNumber)
	assert.Equal(t, int64(99), got.Checkpoint)

	ids, err := idx.Enumerate()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, ids[0].Equal(id))

	datum := oid.Encode(oid.OidTypeDatum, [32]byte{1})
	_, err = idx.Put(&node.Metadata{NodeID: *datum})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestLinkIndex(t *testing.T) {
	idx, err := NewLinkIndex(MemoryPath)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put(&link.Link{Name: "hello", CanisterID: "aaaaa-aa", Updated: stamp(1)}))
	require.NoError(t, idx.Put(&link.Link{Name: "world", CanisterID: "bbbbb-bb", Updated: stamp(2)}))

	l, err := idx.Get("hello")
	require.NoError(t, err)
	assert.Equal(t, "aaaaa-aa", l.CanisterID)

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.Delete("hello"))
	require.NoError(t, idx.Delete("never-there"))
	_, err = idx.Get("hello")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
