package override

import (
	"context"
	"sync"
)

// Store persists price overrides keyed by fingerprint.
type Store interface {
	// GetByFingerprint returns ErrNotFound when no record exists.
	GetByFingerprint(ctx context.Context, fingerprint string) (*PriceOverride, error)
	// InsertIfAbsent atomically stores po unless a record with the same
	// fingerprint exists. It always returns the stored record.
	InsertIfAbsent(ctx context.Context, po *PriceOverride) (created bool, stored *PriceOverride, err error)
}

// MemoryStore keeps overrides in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]PriceOverride
	inserts int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]PriceOverride)}
}

func (m *MemoryStore) GetByFingerprint(_ context.Context, fingerprint string) (*PriceOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.records[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePriceOverride(po), nil
}

func (m *MemoryStore) InsertIfAbsent(_ context.Context, po *PriceOverride) (bool, *PriceOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[po.Fingerprint]; ok {
		return false, clonePriceOverride(existing), nil
	}
	m.records[po.Fingerprint] = *clonePriceOverride(*po)
	m.inserts++
	return true, clonePriceOverride(*po), nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Inserts returns how many records were created.
func (m *MemoryStore) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

func clonePriceOverride(po PriceOverride) *PriceOverride {
	po.Overrides = append([]OverridePoint(nil), po.Overrides...)
	return &po
}
