// Package monitoring derives operational signals from the order coordination
// and payment flows: Prometheus collectors, a rolling-window aggregate and
// threshold alert rules. Nothing here is required for correctness.
package monitoring

import "time"

// Update outcomes, lease cache results, resolution actions and payment channels
// used as label values.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
	OutcomeCached   = "cached"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"

	ActionBypass     = "bypass"
	ActionFailFast   = "fail_fast"
	ActionRetry      = "retry"
	ActionSuppressed = "suppressed"

	ChannelPush     = "push"
	ChannelPoll     = "poll"
	ChannelManual   = "manual"
	ChannelCallback = "callback"
	ChannelExpiry   = "expiry"
)

// Recorder receives coordination signals.
type Recorder interface {
	UpdateAttempt(outcome string, latency time.Duration)
	ConflictResolved(action string)
	LockInspected(locked bool)
	CacheLookup(result string)
	StuckDetected(reason string)
	PaymentSettled(status, channel string)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) UpdateAttempt(string, time.Duration) {}
func (Nop) ConflictResolved(string)             {}
func (Nop) LockInspected(bool)                  {}
func (Nop) CacheLookup(string)                  {}
func (Nop) StuckDetected(string)                {}
func (Nop) PaymentSettled(string, string)       {}

var _ Recorder = Nop{}
