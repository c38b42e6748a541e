package transport

import (
	"time"

	"github.com/google/uuid"
)

// SubmitStatusRequest asks for one status mutation. IdempotencyKey must be the
// deterministic key of (actor, order, status).
type SubmitStatusRequest struct {
	Status         string `json:"status" validate:"required,max=32"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,startswith=upd_,len=68"`
	AuditNonce     string `json:"auditNonce,omitempty" validate:"omitempty,max=64"`
}

// BypassStatusRequest asks for a privileged status mutation that clears cached
// lease state and takes the lease regardless of holder.
type BypassStatusRequest struct {
	Status     string `json:"status" validate:"required,max=32"`
	AuditNonce string `json:"auditNonce,omitempty" validate:"omitempty,max=64"`
}

// UpdateResponse reports the outcome of a submit or bypass.
type UpdateResponse struct {
	OrderID        uuid.UUID `json:"orderId"`
	Status         string    `json:"status"`
	Outcome        string    `json:"outcome"`
	Cached         bool      `json:"cached"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// LeaseResponse is the read-only lease view for the calling actor.
type LeaseResponse struct {
	IsLocked  bool       `json:"isLocked"`
	IsHolder  bool       `json:"isHolder"`
	HolderID  *uuid.UUID `json:"holderId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// OrderResponse exposes the status and the in-progress marker of an order.
type OrderResponse struct {
	ID               uuid.UUID `json:"id"`
	CustomerID       uuid.UUID `json:"customerId"`
	Status           string    `json:"status"`
	UpdateInProgress bool      `json:"updateInProgress"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// LeaseConflictDetails is attached to LEASE_CONFLICT errors.
type LeaseConflictDetails struct {
	HolderID  uuid.UUID `json:"holderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
