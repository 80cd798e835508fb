package notary

import (
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/datamodel/record"
	"notary/datastore/leveldb"
	"notary/errs"
	"notary/principal"
)

const (
	alice principal.Principal = "alice"
	bob   principal.Principal = "bob"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func newRegistry(t *testing.T, cfg Config) (*Registry, *fakeClock) {
	t.Helper()

	index, err := leveldb.NewRecordIndex(leveldb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(index, cfg, clock.Now), clock
}

func str(s string) *string { return &s }

func vis(v record.Visibility) *record.Visibility { return &v }

func TestClaimAndExpire(t *testing.T) {
	r, clock := newRegistry(t, Config{ClaimTTL: time.Hour})

	v, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "hello", CanisterID: str("aaaaa-aa"), Description: str("Hello world")})
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Owner.String())
	assert.Equal(t, record.StateClaimed, v.State)
	require.NotNil(t, v.Expires)
	assert.True(t, v.Expires.Equal(clock.Now().Add(time.Hour)))

	_, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "hello"})
	require.ErrorIs(t, err, errs.ErrAlreadyClaimed)

	// Expired at exactly the expiry instant
	clock.Advance(time.Hour)
	v, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "bob", v.Owner.String())
	assert.Nil(t, v.CanisterID)
	assert.Empty(t, v.Description)
}

func TestClaimValidation(t *testing.T) {
	r, _ := newRegistry(t, DefaultConfig())

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: ""})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "a/b"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "ok", CanisterID: str("")})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	long := make([]byte, DefaultMaxDescriptionLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "ok", Description: str(string(long))})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "ok", Description: str(string(long[1:]))})
	require.NoError(t, err)
}

func TestReservations(t *testing.T) {
	r, clock := newRegistry(t, DefaultConfig())
	expires := clock.Now().Add(24 * time.Hour)

	_, err := r.SetLinkReserved(SetLinkReservedArgs{Link: "past", Expires: clock.Now()})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = r.SetLinkReserved(SetLinkReservedArgs{Link: "for-bob", Expires: expires, Owner: bob.Ptr(), Description: str("kept")})
	require.NoError(t, err)
	_, err = r.SetLinkReserved(SetLinkReservedArgs{Link: "open", Expires: expires, CanisterID: str("ccccc-cc")})
	require.NoError(t, err)

	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "for-bob"})
	require.ErrorIs(t, err, errs.ErrAlreadyClaimed)

	v, err := r.ClaimLink(bob, ClaimLinkArgs{Link: "for-bob"})
	require.NoError(t, err)
	assert.Equal(t, "kept", v.Description)
	assert.Nil(t, v.ReservedFor)

	v, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "open", Description: str("mine")})
	require.NoError(t, err)
	assert.Equal(t, "ccccc-cc", *v.CanisterID)
	assert.Equal(t, "mine", v.Description)

	// A live claim cannot be reserved over
	_, err = r.SetLinkReserved(SetLinkReservedArgs{Link: "open", Expires: expires})
	require.ErrorIs(t, err, errs.ErrAlreadyClaimed)

	// An expired reservation is free for anyone
	_, err = r.SetLinkReserved(SetLinkReservedArgs{Link: "short", Expires: clock.Now().Add(time.Minute), Owner: bob.Ptr()})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "short"})
	require.NoError(t, err)
}

func TestHiddenLinks(t *testing.T) {
	r, _ := newRegistry(t, DefaultConfig())

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "secret", CanisterID: str("sssss-ss"), Visibility: vis(record.Hidden)})
	require.NoError(t, err)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "public", CanisterID: str("ppppp-pp")})
	require.NoError(t, err)

	v, err := r.GetLink(bob, "secret")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Nil(t, v.CanisterID)
	assert.Equal(t, record.Hidden, v.Visibility)

	v, err = r.GetLink(alice, "secret")
	require.NoError(t, err)
	assert.Equal(t, "sssss-ss", *v.CanisterID)

	links, err := r.GetLinks(bob)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "public", links[0].Fingerprint)

	links, err = r.GetLinks(alice)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "public", links[0].Fingerprint)
	assert.Equal(t, "secret", links[1].Fingerprint)

	_, err = r.RevealLink(bob, "secret")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = r.RevealLink(alice, "nothing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	v, err = r.RevealLink(alice, "secret")
	require.NoError(t, err)
	assert.Equal(t, record.Public, v.Visibility)

	v, err = r.GetLink(bob, "secret")
	require.NoError(t, err)
	assert.Equal(t, "sssss-ss", *v.CanisterID)

	missing, err := r.GetLink(bob, "nothing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateLink(t *testing.T) {
	r, clock := newRegistry(t, Config{ClaimTTL: time.Hour})

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "mine", Description: str("old")})
	require.NoError(t, err)

	_, err = r.UpdateLink(bob, UpdateLinkArgs{Link: "mine", Description: str("stolen")})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	v, err := r.UpdateLink(alice, UpdateLinkArgs{Link: "mine", CanisterID: str("zzzzz-zz")})
	require.NoError(t, err)
	assert.Equal(t, "old", v.Description)
	assert.Equal(t, "zzzzz-zz", *v.CanisterID)

	clock.Advance(time.Hour)
	_, err = r.UpdateLink(alice, UpdateLinkArgs{Link: "mine", Description: str("late")})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNotarize(t *testing.T) {
	r, _ := newRegistry(t, DefaultConfig())

	datum := []byte("contract text")
	hash := sha256.Sum256(datum)

	v, err := r.Notarize(alice, NotarizeArgs{Datum: datum, Description: str("contract")})
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(hash), v.Fingerprint)
	assert.True(t, v.HasDatum)
	assert.Nil(t, v.Expires)

	dup, err := r.Notarize(bob, NotarizeArgs{Hash: hash[:]})
	require.ErrorIs(t, err, errs.ErrAlreadyClaimed)
	assert.Nil(t, dup)

	_, err = r.Notarize(alice, NotarizeArgs{Datum: []byte("other"), Hash: hash[:]})
	require.ErrorIs(t, err, errs.ErrIntegrity)
	_, err = r.Notarize(alice, NotarizeArgs{})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = r.Notarize(alice, NotarizeArgs{Hash: []byte("short")})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	// Hash only: nothing stored inline
	other := sha256.Sum256([]byte("kept elsewhere"))
	v, err = r.Notarize(bob, NotarizeArgs{Hash: other[:], Visibility: vis(record.Hidden)})
	require.NoError(t, err)
	assert.False(t, v.HasDatum)

	got, err := r.GetDatum(alice, Fingerprint(hash))
	require.NoError(t, err)
	assert.Equal(t, datum, got.Datum)

	data, err := r.GetData(alice)
	require.NoError(t, err)
	require.Len(t, data, 1)

	data, err = r.GetData(bob)
	require.NoError(t, err)
	require.Len(t, data, 2)

	// Datum and link lookups do not cross
	link, err := r.GetLink(alice, Fingerprint(hash))
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestHiddenDatumIsWithheld(t *testing.T) {
	r, _ := newRegistry(t, DefaultConfig())

	datum := []byte("private")
	_, err := r.Notarize(alice, NotarizeArgs{Datum: datum, Visibility: vis(record.Hidden)})
	require.NoError(t, err)

	fp := Fingerprint(sha256.Sum256(datum))
	v, err := r.GetDatum(bob, fp)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, v.HasDatum)
	assert.Nil(t, v.Datum)

	v, err = r.GetDatum(alice, fp)
	require.NoError(t, err)
	assert.True(t, v.HasDatum)
	assert.Equal(t, datum, v.Datum)
}

func TestSearch(t *testing.T) {
	r, _ := newRegistry(t, Config{MaxSearchResults: 3})

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "cat", Description: str("A house pet")})
	require.NoError(t, err)
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "catalog", Description: str("Things")})
	require.NoError(t, err)
	_, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "dog", Description: str("Not a CAT person")})
	require.NoError(t, err)
	_, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "hidden-cat", Visibility: vis(record.Hidden)})
	require.NoError(t, err)

	res, err := r.Search(alice, "CAT")
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "cat", res[0].Fingerprint)
	assert.Equal(t, "catalog", res[1].Fingerprint)
	assert.Equal(t, "dog", res[2].Fingerprint)

	res, err = r.Search(bob, "bob")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "dog", res[0].Fingerprint)
	assert.Equal(t, "hidden-cat", res[1].Fingerprint)

	res, err = r.Search(alice, "  ")
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = r.Search(alice, "hidden")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestUpdatedLinks(t *testing.T) {
	r, clock := newRegistry(t, DefaultConfig())

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "one", CanisterID: str("11111-11")})
	require.NoError(t, err)
	// The clock does not move: stamps still increase
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "two", CanisterID: str("22222-22"), Visibility: vis(record.Hidden)})
	require.NoError(t, err)
	_, err = r.Notarize(alice, NotarizeArgs{Datum: []byte("d")})
	require.NoError(t, err)

	all, err := r.GetUpdatedLinks(bob, time.Time{})
	require.NoError(t, err)
	require.Len(t, all.Links, 2)
	assert.Equal(t, "one", all.Links[0].Link)
	assert.Equal(t, "two", all.Links[1].Link)
	assert.True(t, all.Links[0].Updated.Before(all.Links[1].Updated))
	assert.Nil(t, all.Links[1].CanisterID, "hidden canister is withheld")
	assert.True(t, all.Checkpoint.After(all.Links[1].Updated), "checkpoint covers the datum")

	// Resuming from the checkpoint is empty and idempotent
	again, err := r.GetUpdatedLinks(bob, all.Checkpoint)
	require.NoError(t, err)
	assert.Empty(t, again.Links)
	assert.True(t, again.Checkpoint.Equal(all.Checkpoint))

	// A clock stepping back does not reorder the feed
	clock.Advance(-time.Hour)
	_, err = r.UpdateLink(alice, UpdateLinkArgs{Link: "one", Description: str("moved")})
	require.NoError(t, err)

	next, err := r.GetUpdatedLinks(bob, all.Checkpoint)
	require.NoError(t, err)
	require.Len(t, next.Links, 1)
	assert.Equal(t, "one", next.Links[0].Link)
	assert.True(t, next.Checkpoint.After(all.Checkpoint))

	// A later since returns a subset of an earlier one
	sub, err := r.GetUpdatedLinks(bob, all.Links[0].Updated)
	require.NoError(t, err)
	full, err := r.GetUpdatedLinks(bob, time.Time{})
	require.NoError(t, err)
	assert.Len(t, full.Links, 2)
	assert.Len(t, sub.Links, 2)
	assert.Equal(t, "two", sub.Links[0].Link)
	assert.Equal(t, "one", sub.Links[1].Link)
}

func TestStampsSurviveRestart(t *testing.T) {
	path := t.TempDir()

	index, err := leveldb.NewRecordIndex(path)
	require.NoError(t, err)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(index, DefaultConfig(), func() time.Time { return future })
	_, err = r.ClaimLink(alice, ClaimLinkArgs{Link: "x"})
	require.NoError(t, err)
	require.NoError(t, index.Close())

	index, err = leveldb.NewRecordIndex(path)
	require.NoError(t, err)
	defer index.Close()

	// A node restarted with a clock behind the last stamp keeps counting up
	past := future.Add(-time.Hour)
	r = New(index, DefaultConfig(), func() time.Time { return past })
	_, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "y"})
	require.NoError(t, err)

	feed, err := r.GetUpdatedLinks(alice, time.Time{})
	require.NoError(t, err)
	require.Len(t, feed.Links, 2)
	assert.Equal(t, "x", feed.Links[0].Link)
	assert.Equal(t, "y", feed.Links[1].Link)
}

func TestClear(t *testing.T) {
	r, _ := newRegistry(t, DefaultConfig())

	_, err := r.ClaimLink(alice, ClaimLinkArgs{Link: "gone"})
	require.NoError(t, err)
	require.NoError(t, r.Clear())

	links, err := r.GetLinks(alice)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = r.ClaimLink(bob, ClaimLinkArgs{Link: "gone"})
	require.NoError(t, err)
}
