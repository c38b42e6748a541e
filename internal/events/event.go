// Package events defines the coordination and payment events published on the
// platform bus.
package events

import (
	"time"

	"storefront_backend/platform/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Orders Domain Events
// =============================================================================

// OrderStatusChanged is published after a status update has been applied.
type OrderStatusChanged struct {
	BaseEvent
	OrderID        uuid.UUID `json:"orderId"`
	ActorID        uuid.UUID `json:"actorId"`
	OldStatus      string    `json:"oldStatus"`
	NewStatus      string    `json:"newStatus"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Bypass         bool      `json:"bypass"`
}

func (e OrderStatusChanged) EventName() string { return "orders.status.changed" }

// TargetInvalidated tells subscribers that cached views of a target are stale.
type TargetInvalidated struct {
	BaseEvent
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
}

func (e TargetInvalidated) EventName() string { return "cache.target.invalidated" }

// LeaseReaped is published when an expired lease is released by the reaper.
type LeaseReaped struct {
	BaseEvent
	OrderID  uuid.UUID `json:"orderId"`
	HolderID uuid.UUID `json:"holderId"`
}

func (e LeaseReaped) EventName() string { return "orders.lease.reaped" }

// =============================================================================
// Payments Domain Events
// =============================================================================

// PaymentSettled is published once per session when it reaches a terminal status.
type PaymentSettled struct {
	BaseEvent
	Reference string          `json:"reference"`
	OrderID   uuid.UUID       `json:"orderId"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	SettledAt time.Time       `json:"settledAt"`
}

func (e PaymentSettled) EventName() string { return "payments.session.settled" }

// =============================================================================
// Monitoring Events
// =============================================================================

// AlertFired is published when an alert rule transitions into the firing state.
type AlertFired struct {
	BaseEvent
	RuleID    string  `json:"ruleId"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func (e AlertFired) EventName() string { return "monitoring.alert.fired" }
