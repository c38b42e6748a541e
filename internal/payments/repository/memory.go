// Package repository persists payment sessions.
package repository

import (
	"context"
	"sync"
	"time"

	"storefront_backend/internal/payments/domain"
	"storefront_backend/platform/apperr"
)

// MemoryStore is a process-local Store for tests and single-node demos.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.Session)}
}

func (m *MemoryStore) Create(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Reference]; ok {
		return apperr.Conflict("payment session already exists")
	}
	m.sessions[s.Reference] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, reference string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok {
		return domain.Session{}, apperr.NotFound(sessionNotFoundMsg)
	}
	return s, nil
}

func (m *MemoryStore) Settle(_ context.Context, reference string, status domain.VerifyStatus, reason string, at time.Time) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[reference]
	if !ok {
		return domain.Session{}, false, apperr.NotFound(sessionNotFoundMsg)
	}
	if s.Status != domain.VerifyPending {
		return s, false, nil
	}
	s.Status = status
	s.FailureReason = reason
	settledAt := at
	s.SettledAt = &settledAt
	m.sessions[reference] = s
	return s, true, nil
}
