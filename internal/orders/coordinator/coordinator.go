package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/retry"

	"github.com/google/uuid"
)

const (
	defaultTransientAttempts = 3
	minSweepInterval         = time.Second
)

var defaultTransientBackoff = retry.Backoff{
	Base:   300 * time.Millisecond,
	Factor: 2,
	Max:    2 * time.Second,
	Jitter: 200 * time.Millisecond,
}

// ConflictDetails accompanies a surfaced lease conflict.
type ConflictDetails struct {
	HolderID  *uuid.UUID `json:"holderId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// ManualBypass is always true: an operator may force the update.
	ManualBypass bool `json:"manualBypass"`
	// Suppressed is set when automatic bypass was held back by a contention alert.
	Suppressed bool `json:"suppressed,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Backend     Backend
	Observer    StateObserver
	Invalidator Invalidator
	Contention  ContentionSignal
	Recorder    monitoring.Recorder
	Config      config.CoordinationConfig
	Log         *logger.Logger
	Now         func() time.Time

	// TransientAttempts bounds backend calls per step when failures are transient.
	TransientAttempts int
	TransientBackoff  *retry.Backoff
}

// Coordinator turns status intents into lease-guarded backend updates.
type Coordinator struct {
	backend     Backend
	debouncer   *Debouncer
	resolver    *Resolver
	detector    *Detector
	invalidator Invalidator
	recorder    monitoring.Recorder
	log         *logger.Logger
	now         func() time.Time

	autoRecovery  bool
	maxRecoveries int
	attempts      int
	backoff       retry.Backoff
	sweepEvery    time.Duration

	mu      sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// New wires a coordinator from opts.
func New(opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = monitoring.Nop{}
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	attempts := opts.TransientAttempts
	if attempts <= 0 {
		attempts = defaultTransientAttempts
	}
	backoff := defaultTransientBackoff
	if opts.TransientBackoff != nil {
		backoff = *opts.TransientBackoff
	}

	cfg := opts.Config
	debouncer := NewDebouncer(DebounceConfig{
		Grace:    cfg.GetDebounceGrace(),
		Standard: cfg.GetDebounceStandard(),
		Recency:  cfg.GetLeaseDuration() + cfg.GetLeaseBuffer(),
	}, now)
	inspector := NewLockInspector(opts.Backend, recorder, log)

	sweep := cfg.GetStuckSubmitThreshold() / 3
	if sweep < minSweepInterval {
		sweep = minSweepInterval
	}

	return &Coordinator{
		backend:   opts.Backend,
		debouncer: debouncer,
		resolver:  NewResolver(inspector, opts.Contention, recorder),
		detector: NewDetector(debouncer, opts.Observer, opts.Invalidator, recorder, DetectorConfig{
			SubmitThreshold: cfg.GetStuckSubmitThreshold(),
			StaleThreshold:  cfg.GetStuckStaleThreshold(),
		}, log, now),
		invalidator:   opts.Invalidator,
		recorder:      recorder,
		log:           log,
		now:           now,
		autoRecovery:  cfg.GetAutoRecoveryEnabled(),
		maxRecoveries: cfg.GetMaxConflictRecoveries(),
		attempts:      attempts,
		backoff:       backoff,
		sweepEvery:    sweep,
	}
}

// Start runs the stuck-state sweep in the background until Close.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRun != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.stopRun = cancel
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		c.detector.Run(runCtx, c.sweepEvery)
	}()
}

// Close stops the sweep and cancels every outstanding operation.
func (c *Coordinator) Close() {
	c.mu.Lock()
	stop, done := c.stopRun, c.runDone
	c.stopRun = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	c.debouncer.Close()
}

// Phase reports where the latest intent on targetID stands.
func (c *Coordinator) Phase(targetID uuid.UUID) domain.Phase {
	return c.debouncer.Phase(targetID)
}

// Reset cancels any pending intent on targetID and forgets its history.
func (c *Coordinator) Reset(targetID uuid.UUID) {
	c.debouncer.Reset(targetID)
}

// Submit asks the backend to move targetID to desiredState on behalf of
// actorID. Concurrent submits on one target share a single backend call.
// Conflicts are recovered automatically when possible; anything surfaced
// carries a user-facing message.
func (c *Coordinator) Submit(ctx context.Context, actorID, targetID uuid.UUID, desiredState string) (domain.UpdateResult, error) {
	req, err := c.newRequest(actorID, targetID, desiredState)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	c.detector.Check(ctx, targetID)

	return c.debouncer.Schedule(ctx, targetID, actorID, func(opCtx context.Context, setPhase func(domain.Phase)) (domain.UpdateResult, error) {
		return c.execute(opCtx, req, setPhase)
	})
}

// ForceUpdate is the manual escape hatch: it drops any pending intent on
// targetID and issues a privileged bypass immediately.
func (c *Coordinator) ForceUpdate(ctx context.Context, actorID, targetID uuid.UUID, desiredState string) (domain.UpdateResult, error) {
	req, err := c.newRequest(actorID, targetID, desiredState)
	if err != nil {
		return domain.UpdateResult{}, err
	}

	return c.debouncer.Force(ctx, targetID, actorID, func(opCtx context.Context, _ func(domain.Phase)) (domain.UpdateResult, error) {
		start := c.now()
		res, err := c.call(opCtx, req, c.backend.BypassUpdate)
		if err != nil {
			c.recorder.UpdateAttempt(monitoring.OutcomeFailed, c.now().Sub(start))
			return domain.UpdateResult{}, surface(err)
		}
		c.log.LeaseEvent("manual_bypass", targetID.String(), actorID.String(), string(res.Outcome))
		c.settled(req, res, start)
		return res, nil
	})
}

func (c *Coordinator) newRequest(actorID, targetID uuid.UUID, desiredState string) (UpdateRequest, error) {
	if actorID == uuid.Nil || targetID == uuid.Nil {
		return UpdateRequest{}, apperr.Validation("actor and order are required")
	}
	if !domain.IsKnownStatus(desiredState) {
		return UpdateRequest{}, apperr.Validation("unknown order status: " + desiredState)
	}
	return UpdateRequest{
		TargetID:       targetID,
		ActorID:        actorID,
		DesiredState:   desiredState,
		IdempotencyKey: domain.IdempotencyKey(actorID, targetID, desiredState),
		AuditNonce:     domain.AuditNonce(),
	}, nil
}

func (c *Coordinator) execute(ctx context.Context, req UpdateRequest, setPhase func(domain.Phase)) (domain.UpdateResult, error) {
	start := c.now()
	recoveries := 0

	for {
		res, err := c.call(ctx, req, c.backend.SubmitUpdate)
		if err == nil {
			c.settled(req, res, start)
			return res, nil
		}
		if !apperr.Is(err, apperr.KindLeaseConflict) {
			c.recorder.UpdateAttempt(monitoring.OutcomeFailed, c.now().Sub(start))
			return domain.UpdateResult{}, surface(err)
		}

		c.recorder.UpdateAttempt(monitoring.OutcomeConflict, c.now().Sub(start))
		setPhase(domain.PhaseConflicted)
		if !c.autoRecovery || recoveries >= c.maxRecoveries {
			return domain.UpdateResult{}, conflictError(err, Decision{})
		}
		recoveries++

		decision, derr := c.resolver.Decide(ctx, req.TargetID, req.ActorID)
		if derr != nil {
			return domain.UpdateResult{}, surface(derr)
		}
		c.log.LeaseEvent("conflict_resolution", req.TargetID.String(), req.ActorID.String(), decision.Action.String())

		switch decision.Action {
		case ActionFailFast:
			return domain.UpdateResult{}, conflictError(err, decision)

		case ActionBypass:
			setPhase(domain.PhaseSubmitting)
			res, berr := c.call(ctx, req, c.backend.BypassUpdate)
			if berr == nil {
				c.settled(req, res, start)
				return res, nil
			}
			if apperr.Is(berr, apperr.KindAuthExpired) || ctx.Err() != nil {
				return domain.UpdateResult{}, surface(berr)
			}
			// Fall through to one more plain submit.
			c.log.Warn("bypass failed, resubmitting",
				"target_id", req.TargetID.String(),
				"error", berr,
			)

		case ActionRetry:
			setPhase(domain.PhaseSubmitting)
		}
	}
}

// call runs one backend step with bounded retries on transient failures.
func (c *Coordinator) call(ctx context.Context, req UpdateRequest, fn func(context.Context, UpdateRequest) (domain.UpdateResult, error)) (domain.UpdateResult, error) {
	var res domain.UpdateResult
	err := retry.Do(ctx, c.attempts, c.backoff, apperr.Retryable, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx, req)
		return err
	})
	return res, err
}

func (c *Coordinator) settled(req UpdateRequest, res domain.UpdateResult, start time.Time) {
	outcome := monitoring.OutcomeSuccess
	if res.Cached() {
		outcome = monitoring.OutcomeCached
	}
	c.recorder.UpdateAttempt(outcome, c.now().Sub(start))
	if c.invalidator != nil {
		c.invalidator.Invalidate(req.TargetID, "status_changed")
	}
}

// surface rewrites err with a message fit for an end user while keeping its
// kind, details and chain.
func surface(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	out := &apperr.Error{Kind: apperr.GetKind(err), Message: apperr.UserMessage(err), Err: err}
	if out.Kind == apperr.KindUnknown {
		out.Kind = apperr.KindInternal
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		out.Details = ae.Details
	}
	return out
}

func conflictError(err error, d Decision) error {
	details := ConflictDetails{ManualBypass: true, Suppressed: d.Suppressed}
	state := d.State
	var ae *apperr.Error
	if state.HolderID == nil && errors.As(err, &ae) {
		if s, ok := ae.Details.(domain.LeaseState); ok {
			state = s
		}
	}
	details.HolderID = state.HolderID
	details.ExpiresAt = state.ExpiresAt

	return &apperr.Error{
		Kind:    apperr.KindLeaseConflict,
		Message: apperr.UserMessage(err),
		Err:     err,
		Details: details,
	}
}
