package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the recorded result of one UpdateIntent.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
	OutcomeCached   Outcome = "cached"
)

// UpdateIntent is one attempted status mutation. Later intents on the same
// target supersede earlier ones; rows are never deleted.
type UpdateIntent struct {
	ID             int64
	TargetID       uuid.UUID
	DesiredState   string
	ActorID        uuid.UUID
	IdempotencyKey string
	AuditNonce     string
	SubmittedAt    time.Time
	Outcome        Outcome
}

// UpdateResult is what a submit or bypass call reports back.
type UpdateResult struct {
	TargetID       uuid.UUID
	Status         string
	Outcome        Outcome
	IdempotencyKey string
}

// Cached reports whether the result is a replay of an already applied intent.
func (r UpdateResult) Cached() bool {
	return r.Outcome == OutcomeCached
}

// Order is the slice of an order that the coordination core reads.
type Order struct {
	ID               uuid.UUID
	CustomerID       uuid.UUID
	Status           string
	UpdateInProgress bool
	UpdatedAt        time.Time
}
