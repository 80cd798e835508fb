// Package upload keeps the chunks of batches that have not been committed
// yet. Batch and chunk ids come from one counter, so an id names at most one
// object of either kind.
package upload

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"notary/errs"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultBatchTTL      = 5 * time.Minute
	DefaultMaxBatches    = 1024
	DefaultMaxBatchBytes = 64 << 20
	DefaultMaxChunkSize  = 1900 * 1024
)

type Config struct {
	BatchTTL      time.Duration
	MaxBatches    int
	MaxBatchBytes int
	MaxChunkSize  int
}

func DefaultConfig() Config {
	return Config{
		BatchTTL:      DefaultBatchTTL,
		MaxBatches:    DefaultMaxBatches,
		MaxBatchBytes: DefaultMaxBatchBytes,
		MaxChunkSize:  DefaultMaxChunkSize,
	}
}

type Chunk struct {
	ID      uint64
	BatchID uint64
	Data    []byte
}

type Batch struct {
	ID           uint64
	ChunkIDs     []uint64
	Created      time.Time
	LastActivity time.Time
	Bytes        int
}

type Manager struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	next    uint64
	batches map[uint64]*Batch
	chunks  map[uint64]*Chunk
}

// New returns an empty manager. A nil clock uses time.Now.
func New(cfg Config, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = DefaultBatchTTL
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = DefaultMaxBatches
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	return &Manager{
		cfg:     cfg,
		now:     now,
		next:    1,
		batches: make(map[uint64]*Batch),
		chunks:  make(map[uint64]*Chunk),
	}
}

func (m *Manager) MaxChunkSize() int {
	return m.cfg.MaxChunkSize
}

func (m *Manager) nextID() uint64 {
	id := m.next
	m.next++
	return id
}

func (m *Manager) CreateBatch() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.reapLocked(now)

	if len(m.batches) >= m.cfg.MaxBatches {
		return 0, fmt.Errorf("%w: %d batches in progress", errs.ErrResourceExhausted, len(m.batches))
	}

	b := &Batch{
		ID:           m.nextID(),
		Created:      now,
		LastActivity: now,
	}
	m.batches[b.ID] = b

	log.Debugf("Created batch %d", b.ID)
	return b.ID, nil
}

func (m *Manager) CreateChunk(batchID uint64, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.liveLocked(batchID)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty chunk", errs.ErrInvalidArgument)
	}
	if len(data) > m.cfg.MaxChunkSize {
		return 0, fmt.Errorf("%w: chunk of %d bytes exceeds %d", errs.ErrInvalidArgument, len(data), m.cfg.MaxChunkSize)
	}
	if b.Bytes+len(data) > m.cfg.MaxBatchBytes {
		return 0, fmt.Errorf("%w: batch %d would exceed %d bytes", errs.ErrResourceExhausted, batchID, m.cfg.MaxBatchBytes)
	}

	c := &Chunk{
		ID:      m.nextID(),
		BatchID: batchID,
		Data:    append([]byte(nil), data...),
	}
	m.chunks[c.ID] = c

	b.ChunkIDs = append(b.ChunkIDs, c.ID)
	b.Bytes += len(data)
	b.LastActivity = m.now()

	return c.ID, nil
}

// liveLocked returns the batch unless it is unknown or idle for BatchTTL.
// An idle batch is dropped on the spot, so the TTL holds between reaper
// ticks.
func (m *Manager) liveLocked(batchID uint64) (*Batch, error) {
	b, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnknownBatch, batchID)
	}
	if m.now().Sub(b.LastActivity) >= m.cfg.BatchTTL {
		m.discardLocked(batchID)
		log.Debugf("Batch %d expired", batchID)
		return nil, fmt.Errorf("%w: %d expired", errs.ErrUnknownBatch, batchID)
	}
	return b, nil
}

// Has reports whether batchID names a live batch.
func (m *Manager) Has(batchID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.liveLocked(batchID)
	return err == nil
}

// Chunks resolves ids in order. Every id must be a chunk of batchID.
func (m *Manager) Chunks(batchID uint64, ids []uint64) ([]*Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.liveLocked(batchID); err != nil {
		return nil, err
	}

	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		c, ok := m.chunks[id]
		if !ok || c.BatchID != batchID {
			return nil, fmt.Errorf("%w: %d in batch %d", errs.ErrUnknownChunk, id, batchID)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Owner returns the batch that holds every chunk in ids.
func (m *Manager) Owner(ids []uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no chunks", errs.ErrInvalidArgument)
	}

	var owner uint64
	for i, id := range ids {
		c, ok := m.chunks[id]
		if !ok {
			return 0, fmt.Errorf("%w: %d", errs.ErrUnknownChunk, id)
		}
		if i == 0 {
			owner = c.BatchID
		} else if c.BatchID != owner {
			return 0, fmt.Errorf("%w: %d belongs to batch %d, not %d", errs.ErrUnknownChunk, id, c.BatchID, owner)
		}
	}
	return owner, nil
}

// Discard drops a batch and its chunks. Unknown batches are ignored.
func (m *Manager) Discard(batchID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardLocked(batchID)
}

func (m *Manager) discardLocked(batchID uint64) {
	b, ok := m.batches[batchID]
	if !ok {
		return
	}
	for _, id := range b.ChunkIDs {
		delete(m.chunks, id)
	}
	delete(m.batches, batchID)
}

// Clear drops every batch. Ids are never reused.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[uint64]*Batch)
	m.chunks = make(map[uint64]*Chunk)
}

// Reap discards batches that saw no activity for the configured TTL and
// returns how many were dropped.
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reapLocked(m.now())
}

func (m *Manager) reapLocked(now time.Time) int {
	var expired []uint64
	for id, b := range m.batches {
		if now.Sub(b.LastActivity) >= m.cfg.BatchTTL {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	for _, id := range expired {
		m.discardLocked(id)
	}
	if len(expired) > 0 {
		log.Infof("Reaped %d abandoned batches: %v", len(expired), expired)
	}
	return len(expired)
}

// Live returns the number of open batches.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
