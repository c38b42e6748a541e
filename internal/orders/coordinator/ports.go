// Package coordinator is the client half of order status coordination. It
// coalesces rapid intents per order, submits them with deterministic
// idempotency keys, recovers from lease conflicts and clears abandoned
// operations. All backend errors are expected to carry apperr kinds.
package coordinator

import (
	"context"

	"storefront_backend/internal/orders/domain"

	"github.com/google/uuid"
)

// UpdateRequest is one status intent sent to the backend.
type UpdateRequest struct {
	TargetID       uuid.UUID
	ActorID        uuid.UUID
	DesiredState   string
	IdempotencyKey string
	AuditNonce     string
}

// Backend is the order RPC surface.
type Backend interface {
	SubmitUpdate(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error)
	InspectLease(ctx context.Context, targetID, actorID uuid.UUID) (domain.LeaseState, error)
	BypassUpdate(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error)
}

// StateObserver reads the backend's in-progress marker for a target.
type StateObserver interface {
	UpdateInProgress(ctx context.Context, targetID uuid.UUID) (bool, error)
}

// Invalidator is told when cached views of a target are stale.
type Invalidator interface {
	Invalidate(targetID uuid.UUID, reason string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(targetID uuid.UUID, reason string)

func (f InvalidatorFunc) Invalidate(targetID uuid.UUID, reason string) { f(targetID, reason) }

// ContentionSignal reports whether a monitoring alert is firing.
type ContentionSignal interface {
	IsFiring(ruleID string) bool
}
