package domain

import (
	"time"

	"github.com/google/uuid"
)

// UpdateLease is the time-bounded right of one actor to mutate a target.
type UpdateLease struct {
	TargetID   uuid.UUID
	HolderID   uuid.UUID
	AcquiredAt time.Time
	ExpiresAt  time.Time
	ReleasedAt *time.Time
}

// IsActive reports whether the lease still excludes other actors at now.
func (l UpdateLease) IsActive(now time.Time) bool {
	return l.ReleasedAt == nil && l.ExpiresAt.After(now)
}

// Remaining is the time left before the lease lapses, or zero.
func (l UpdateLease) Remaining(now time.Time) time.Duration {
	if !l.IsActive(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// LeaseState is the read-only view returned by lease inspection.
type LeaseState struct {
	IsLocked  bool
	IsHolder  bool
	HolderID  *uuid.UUID
	ExpiresAt *time.Time
}

// StateFor projects a lease onto the view seen by actorID.
func StateFor(lease *UpdateLease, actorID uuid.UUID, now time.Time) LeaseState {
	if lease == nil || !lease.IsActive(now) {
		return LeaseState{}
	}
	holder := lease.HolderID
	expires := lease.ExpiresAt
	return LeaseState{
		IsLocked:  true,
		IsHolder:  holder == actorID,
		HolderID:  &holder,
		ExpiresAt: &expires,
	}
}
