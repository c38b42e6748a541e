package repository

import (
	"context"
	"sync"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store with the same lease semantics as the
// Postgres repository. It backs tests and single-node demos.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	orders  map[uuid.UUID]domain.Order
	leases  map[uuid.UUID]domain.UpdateLease
	intents []domain.UpdateIntent
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:    now,
		orders: make(map[uuid.UUID]domain.Order),
		leases: make(map[uuid.UUID]domain.UpdateLease),
	}
}

// PutOrder inserts or replaces an order.
func (m *MemoryStore) PutOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// Intents returns a copy of every recorded intent in insertion order.
func (m *MemoryStore) Intents() []domain.UpdateIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UpdateIntent, len(m.intents))
	copy(out, m.intents)
	return out
}

// ActiveLeaseCount returns how many active leases exist for targetID.
// The table is keyed by target so the answer is 0 or 1.
func (m *MemoryStore) ActiveLeaseCount(targetID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[targetID]; ok && l.IsActive(m.now()) {
		return 1
	}
	return 0
}

func (m *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, apperr.NotFound(orderNotFoundMsg)
	}
	return o, nil
}

func (m *MemoryStore) AcquireLease(_ context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (domain.UpdateLease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.orders[targetID]; !ok {
		return domain.UpdateLease{}, false, apperr.NotFound(orderNotFoundMsg)
	}

	current, exists := m.leases[targetID]
	if exists && current.IsActive(now) && current.HolderID != actorID {
		return current, false, nil
	}
	acquiredAt := now
	if exists && current.IsActive(now) {
		acquiredAt = current.AcquiredAt
	}
	lease := domain.UpdateLease{TargetID: targetID, HolderID: actorID, AcquiredAt: acquiredAt, ExpiresAt: now.Add(ttl)}
	m.leases[targetID] = lease
	m.setInProgress(targetID, true)
	return lease, true, nil
}

func (m *MemoryStore) ForceAcquireLease(_ context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (domain.UpdateLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[targetID]; !ok {
		return domain.UpdateLease{}, apperr.NotFound(orderNotFoundMsg)
	}
	now := m.now()
	lease := domain.UpdateLease{TargetID: targetID, HolderID: actorID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	m.leases[targetID] = lease
	m.setInProgress(targetID, true)
	return lease, nil
}

func (m *MemoryStore) ActiveLease(_ context.Context, targetID uuid.UUID) (*domain.UpdateLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[targetID]
	if !ok || !l.IsActive(m.now()) {
		return nil, nil
	}
	return &l, nil
}

func (m *MemoryStore) ReleaseLease(_ context.Context, targetID, holderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[targetID]
	if !ok || l.HolderID != holderID || l.ReleasedAt != nil {
		return nil
	}
	now := m.now()
	l.ReleasedAt = &now
	m.leases[targetID] = l
	m.setInProgress(targetID, false)
	return nil
}

func (m *MemoryStore) ApplyStatus(_ context.Context, p ApplyParams) (ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	o, ok := m.orders[p.TargetID]
	if !ok {
		return ApplyResult{}, apperr.NotFound(orderNotFoundMsg)
	}
	if p.ReplayWindow > 0 && m.appliedIntent(p.TargetID, p.IdempotencyKey, p.ReplayWindow) != nil {
		return ApplyResult{PreviousStatus: o.Status, Status: o.Status, Replayed: true}, nil
	}
	l, ok := m.leases[p.TargetID]
	if !ok || !l.IsActive(now) || l.HolderID != p.ActorID {
		return ApplyResult{}, apperr.LeaseConflict(leaseLostMsg)
	}
	old := o.Status
	o.Status = p.DesiredState
	o.UpdatedAt = now
	m.orders[p.TargetID] = o
	m.intents = append(m.intents, domain.UpdateIntent{
		ID:             int64(len(m.intents) + 1),
		TargetID:       p.TargetID,
		DesiredState:   p.DesiredState,
		ActorID:        p.ActorID,
		IdempotencyKey: p.IdempotencyKey,
		AuditNonce:     p.AuditNonce,
		SubmittedAt:    now,
		Outcome:        domain.OutcomeSuccess,
	})
	return ApplyResult{PreviousStatus: old, Status: p.DesiredState}, nil
}

func (m *MemoryStore) AppliedIntent(_ context.Context, targetID uuid.UUID, key string, window time.Duration) (*domain.UpdateIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appliedIntent(targetID, key, window), nil
}

func (m *MemoryStore) appliedIntent(targetID uuid.UUID, key string, window time.Duration) *domain.UpdateIntent {
	since := m.now().Add(-window)
	for i := len(m.intents) - 1; i >= 0; i-- {
		in := m.intents[i]
		if in.TargetID == targetID && in.IdempotencyKey == key && in.Outcome == domain.OutcomeSuccess && in.SubmittedAt.After(since) {
			return &in
		}
	}
	return nil
}

func (m *MemoryStore) RecordIntent(_ context.Context, in domain.UpdateIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in.ID = int64(len(m.intents) + 1)
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = m.now()
	}
	m.intents = append(m.intents, in)
	return nil
}

func (m *MemoryStore) ReapExpired(_ context.Context) ([]domain.UpdateLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var reaped []domain.UpdateLease
	for id, l := range m.leases {
		if l.ReleasedAt == nil && !l.ExpiresAt.After(now) {
			released := now
			l.ReleasedAt = &released
			m.leases[id] = l
			m.setInProgress(id, false)
			reaped = append(reaped, l)
		}
	}
	return reaped, nil
}

// SetInProgress overrides the in-progress marker, simulating an abandoned update.
func (m *MemoryStore) SetInProgress(targetID uuid.UUID, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setInProgress(targetID, v)
}

func (m *MemoryStore) setInProgress(targetID uuid.UUID, v bool) {
	if o, ok := m.orders[targetID]; ok {
		o.UpdateInProgress = v
		m.orders[targetID] = o
	}
}

var _ Store = (*MemoryStore)(nil)
