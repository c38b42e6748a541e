package coordinator

import (
	"context"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"

	"github.com/google/uuid"
)

// Action is what the resolver tells the coordinator to do after a conflict.
type Action int

const (
	// ActionRetry submits again with a fresh lease acquisition.
	ActionRetry Action = iota
	// ActionBypass invalidates the backend lease cache and applies.
	ActionBypass
	// ActionFailFast surfaces the conflict without retrying.
	ActionFailFast
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return monitoring.ActionRetry
	case ActionBypass:
		return monitoring.ActionBypass
	case ActionFailFast:
		return monitoring.ActionFailFast
	default:
		return "unknown"
	}
}

// Decision is the resolver's verdict for one conflict.
type Decision struct {
	Action Action
	State  domain.LeaseState
	// Suppressed is set when a bypass was warranted but held back because
	// lock contention is alerting.
	Suppressed bool
}

// Resolver maps lease state onto a recovery action.
//
//	is_holder              -> bypass
//	locked, not holder     -> fail fast
//	not locked             -> retry
type Resolver struct {
	inspector  *LockInspector
	contention ContentionSignal
	recorder   monitoring.Recorder
}

// NewResolver creates a resolver. contention may be nil.
func NewResolver(inspector *LockInspector, contention ContentionSignal, recorder monitoring.Recorder) *Resolver {
	return &Resolver{inspector: inspector, contention: contention, recorder: recorder}
}

// Decide inspects targetID and picks the next action for actorID.
func (r *Resolver) Decide(ctx context.Context, targetID, actorID uuid.UUID) (Decision, error) {
	state, err := r.inspector.Inspect(ctx, targetID, actorID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{State: state}
	switch {
	case state.IsHolder:
		d.Action = ActionBypass
		if r.contention != nil && r.contention.IsFiring(monitoring.RuleHighLockContention) {
			d.Action = ActionFailFast
			d.Suppressed = true
		}
	case state.IsLocked:
		d.Action = ActionFailFast
	default:
		d.Action = ActionRetry
	}

	if d.Suppressed {
		r.recorder.ConflictResolved(monitoring.ActionSuppressed)
	} else {
		r.recorder.ConflictResolved(d.Action.String())
	}
	return d, nil
}
