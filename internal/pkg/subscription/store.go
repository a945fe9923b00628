package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions. The cancellation methods are conditional
// updates so concurrent calls cannot both succeed.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// MarkCancelled sets the cancelled date unless one is already set.
	MarkCancelled(ctx context.Context, id uuid.UUID, date time.Time) (bool, error)
	// ClearCancellation removes a cancelled date that is still after now.
	ClearCancellation(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// SwapPlanChanges stores next as the plan history if the stored history
	// still equals prev. It reports false when another change won the race.
	SwapPlanChanges(ctx context.Context, id uuid.UUID, prev, next []PlanChange) (bool, error)
}

// MemoryStore keeps subscriptions in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) MarkCancelled(_ context.Context, id uuid.UUID, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.CancelledDate != nil {
		return false, nil
	}
	s.CancelledDate = &date
	s.UpdatedAt = m.now().UTC()
	return true, nil
}

func (m *MemoryStore) ClearCancellation(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !s.PendingCancellation(now) {
		return false, nil
	}
	s.CancelledDate = nil
	s.UpdatedAt = m.now().UTC()
	return true, nil
}

func (m *MemoryStore) SwapPlanChanges(_ context.Context, id uuid.UUID, prev, next []PlanChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !samePlanChanges(s.PlanChanges, prev) {
		return false, nil
	}
	s.PlanChanges = append([]PlanChange(nil), next...)
	s.UpdatedAt = m.now().UTC()
	return true, nil
}

func samePlanChanges(a, b []PlanChange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].PlanName != b[i].PlanName || !a[i].EffectiveDate.Equal(b[i].EffectiveDate) {
			return false
		}
	}
	return true
}
