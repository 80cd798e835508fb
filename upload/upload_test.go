package upload

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/errs"
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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(cfg Config) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(cfg, clock.Now), clock
}

func TestIdsComeFromOneCounter(t *testing.T) {
	m, _ := newManager(DefaultConfig())

	b1, err := m.CreateBatch()
	require.NoError(t, err)
	c1, err := m.CreateChunk(b1, []byte("A"))
	require.NoError(t, err)
	b2, err := m.CreateBatch()
	require.NoError(t, err)
	c2, err := m.CreateChunk(b2, []byte("B"))
	require.NoError(t, err)

	ids := map[uint64]bool{b1: true, c1: true, b2: true, c2: true}
	assert.Len(t, ids, 4)
	assert.Less(t, b1, c1)
	assert.Less(t, c1, b2)
	assert.Less(t, b2, c2)
}

func TestChunksRejectForeignIds(t *testing.T) {
	m, _ := newManager(DefaultConfig())

	b1, _ := m.CreateBatch()
	b2, _ := m.CreateBatch()
	c1, err := m.CreateChunk(b1, []byte("one"))
	require.NoError(t, err)
	c2, err := m.CreateChunk(b2, []byte("two"))
	require.NoError(t, err)

	chunks, err := m.Chunks(b1, []uint64{c1, c1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	_, err = m.Chunks(b1, []uint64{c1, c2})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)

	// A batch id is never a chunk id
	_, err = m.Chunks(b1, []uint64{b1})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)

	_, err = m.Chunks(999, []uint64{c1})
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
}

func TestOwner(t *testing.T) {
	m, _ := newManager(DefaultConfig())

	b1, _ := m.CreateBatch()
	b2, _ := m.CreateBatch()
	c1, _ := m.CreateChunk(b1, []byte("a"))
	c2, _ := m.CreateChunk(b1, []byte("b"))
	c3, _ := m.CreateChunk(b2, []byte("c"))

	owner, err := m.Owner([]uint64{c2, c1})
	require.NoError(t, err)
	assert.Equal(t, b1, owner)

	_, err = m.Owner([]uint64{c1, c3})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)

	_, err = m.Owner(nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestChunkLimits(t *testing.T) {
	m, _ := newManager(Config{MaxChunkSize: 4, MaxBatchBytes: 6})

	b, _ := m.CreateBatch()

	_, err := m.CreateChunk(b, nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = m.CreateChunk(b, []byte("12345"))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = m.CreateChunk(b, []byte("1234"))
	require.NoError(t, err)
	_, err = m.CreateChunk(b, []byte("123"))
	require.ErrorIs(t, err, errs.ErrResourceExhausted)
	_, err = m.CreateChunk(b, []byte("12"))
	require.NoError(t, err)

	_, err = m.CreateChunk(12345, []byte("1"))
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
}

func TestChunkDataIsCopied(t *testing.T) {
	m, _ := newManager(DefaultConfig())
	b, _ := m.CreateBatch()

	buf := []byte("abc")
	id, err := m.CreateChunk(b, buf)
	require.NoError(t, err)
	buf[0] = 'X'

	chunks, err := m.Chunks(b, []uint64{id})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), chunks[0].Data)
}

func TestMaxBatches(t *testing.T) {
	m, clock := newManager(Config{MaxBatches: 2, BatchTTL: time.Minute})

	_, err := m.CreateBatch()
	require.NoError(t, err)
	_, err = m.CreateBatch()
	require.NoError(t, err)
	_, err = m.CreateBatch()
	require.ErrorIs(t, err, errs.ErrResourceExhausted)

	// Creating a batch reaps abandoned ones before checking the cap
	clock.Advance(time.Minute)
	_, err = m.CreateBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Live())
}

func TestReapKeepsActiveBatches(t *testing.T) {
	m, clock := newManager(Config{BatchTTL: time.Minute})

	idle, _ := m.CreateBatch()
	busy, _ := m.CreateBatch()

	clock.Advance(50 * time.Second)
	_, err := m.CreateChunk(busy, []byte("still here"))
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, m.Reap())
	assert.False(t, m.Has(idle))
	assert.True(t, m.Has(busy))

	_, err = m.CreateChunk(idle, []byte("late"))
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
}

func TestIdleBatchExpiresBeforeReap(t *testing.T) {
	m, clock := newManager(Config{BatchTTL: time.Minute})

	b, _ := m.CreateBatch()
	c, err := m.CreateChunk(b, []byte("x"))
	require.NoError(t, err)

	clock.Advance(time.Minute - time.Nanosecond)
	_, err = m.Chunks(b, []uint64{c})
	require.NoError(t, err)

	// No reaper tick in between
	clock.Advance(time.Nanosecond)
	_, err = m.CreateChunk(b, []byte("late"))
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
	_, err = m.Chunks(b, []uint64{c})
	require.ErrorIs(t, err, errs.ErrUnknownBatch)
	assert.False(t, m.Has(b))
	assert.Equal(t, 0, m.Live())
}

func TestDiscardAndClear(t *testing.T) {
	m, _ := newManager(DefaultConfig())

	b1, _ := m.CreateBatch()
	c1, _ := m.CreateChunk(b1, []byte("x"))
	b2, _ := m.CreateBatch()

	m.Discard(b1)
	m.Discard(b1)
	assert.False(t, m.Has(b1))
	_, err := m.Owner([]uint64{c1})
	require.ErrorIs(t, err, errs.ErrUnknownChunk)

	m.Clear()
	assert.False(t, m.Has(b2))
	assert.Equal(t, 0, m.Live())

	b3, err := m.CreateBatch()
	require.NoError(t, err)
	assert.Greater(t, b3, b2, "ids are not reused after clear")
}
