package catalog

import (
	"context"
	"sync"
)

// MemorySource is a SnapshotSource kept in process memory.
type MemorySource struct {
	mu        sync.RWMutex
	snapshots map[string][]*Snapshot
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{snapshots: make(map[string][]*Snapshot)}
}

// Add appends snapshots for their tenants.
func (m *MemorySource) Add(snapshots ...*Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snapshots {
		m.snapshots[s.Tenant] = append(m.snapshots[s.Tenant], s)
	}
}

// LoadSnapshots implements SnapshotSource.
func (m *MemorySource) LoadSnapshots(_ context.Context, tenant string) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Snapshot(nil), m.snapshots[tenant]...), nil
}
