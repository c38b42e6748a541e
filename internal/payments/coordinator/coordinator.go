package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/payments/domain"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/retry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// TimeoutGuidance is shown when verification gives up without an outcome.
const TimeoutGuidance = "We could not confirm your payment yet. Please contact support with your payment reference before trying again."

var manualBackoff = retry.Backoff{
	Base:   time.Second,
	Factor: 2,
	Jitter: 500 * time.Millisecond,
}

// Session is the client view of one checkout attempt.
type Session struct {
	Reference   string
	RedirectURL string
	Status      domain.Status
	Reason      string
	// Guidance is set on Timeout.
	Guidance   string
	PollCount  int
	NextPollIn time.Duration
	PaidAt     *time.Time
	// Channel names the channel that produced the terminal status.
	Channel string
}

// Options configures a Coordinator.
type Options struct {
	Backend  Backend
	Push     PushSource
	Recorder monitoring.Recorder
	Config   config.PaymentConfig
	Log      *logger.Logger
	// ManualBackoff overrides the manual verification retry schedule.
	ManualBackoff *retry.Backoff
}

// Coordinator drives payment sessions.
type Coordinator struct {
	backend  Backend
	push     PushSource
	recorder monitoring.Recorder
	log      *logger.Logger

	initialDelay   time.Duration
	pollBase       time.Duration
	pollMax        time.Duration
	maxPolls       int
	maxWait        time.Duration
	manualAttempts int
	manualBackoff  retry.Backoff

	flight singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	root     context.Context
	cancel   context.CancelFunc
}

// New wires a coordinator from opts. Push may be nil, in which case only
// the poll channel runs.
func New(opts Options) *Coordinator {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = monitoring.Nop{}
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	backoff := manualBackoff
	if opts.ManualBackoff != nil {
		backoff = *opts.ManualBackoff
	}

	cfg := opts.Config
	root, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend:        opts.Backend,
		push:           opts.Push,
		recorder:       recorder,
		log:            log,
		initialDelay:   cfg.GetPaymentInitialPollDelay(),
		pollBase:       cfg.GetPaymentPollBaseInterval(),
		pollMax:        cfg.GetPaymentPollMaxInterval(),
		maxPolls:       cfg.GetPaymentMaxPolls(),
		maxWait:        cfg.GetPaymentMaxPollWait(),
		manualAttempts: cfg.GetManualVerifyAttempts(),
		manualBackoff:  backoff,
		sessions:       make(map[string]*Session),
		root:           root,
		cancel:         cancel,
	}
}

// Close cancels every outstanding verification.
func (c *Coordinator) Close() {
	c.cancel()
}

// Session returns a copy of the tracked state of reference.
func (c *Coordinator) Session(reference string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[reference]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Forget drops a session once its terminal state has been shown.
func (c *Coordinator) Forget(reference string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[reference]; ok && s.Status.IsTerminal() {
		delete(c.sessions, reference)
	}
}

// Initiate starts a checkout and returns the backend-issued reference and
// redirect.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	out, err := c.backend.InitiatePayment(ctx, req)
	if err != nil {
		return Session{}, err
	}
	if !domain.IsServerReference(out.Reference) {
		return Session{}, apperr.Fatal("backend returned a malformed payment reference", nil)
	}

	s := Session{Reference: out.Reference, RedirectURL: out.RedirectURL, Status: domain.StatusInitiated}
	c.mu.Lock()
	c.sessions[out.Reference] = &s
	c.mu.Unlock()
	c.log.PaymentEvent("initiate", out.Reference, string(s.Status), "")
	return s, nil
}

// verdict is the first terminal answer of an Await race.
type verdict struct {
	mu      sync.Mutex
	decided bool
	result  domain.Verification
	status  domain.Status
	channel string
}

// offer records v if nothing was decided yet and reports whether it won.
func (v *verdict) offer(res domain.Verification, status domain.Status, channel string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.decided {
		return false
	}
	v.decided = true
	v.result, v.status, v.channel = res, status, channel
	return true
}

// Await reconciles reference until a terminal status. The push listener and
// the poll loop race; the first terminal status wins and the other channel is
// torn down before Await returns. When polls run out, the session ends in
// Timeout with support guidance.
func (c *Coordinator) Await(ctx context.Context, reference string) (Session, error) {
	if err := domain.ValidateServerReference(reference); err != nil {
		return Session{}, err
	}
	if s := c.snapshot(reference); s.Status.IsTerminal() {
		return s, nil
	}
	c.track(reference, func(s *Session) { s.Status = domain.StatusPending })

	raceCtx, stop := context.WithCancel(ctx)
	defer stop()
	stopRoot := context.AfterFunc(c.root, stop)
	defer stopRoot()

	var v verdict
	g, gctx := errgroup.WithContext(raceCtx)
	if c.push != nil {
		g.Go(func() error {
			c.listen(gctx, reference, &v, stop)
			return nil
		})
	}
	g.Go(func() error {
		return c.poll(gctx, reference, &v, stop)
	})
	err := g.Wait()

	v.mu.Lock()
	decided, result, status, channel := v.decided, v.result, v.status, v.channel
	v.mu.Unlock()

	if !decided {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = context.Canceled
		}
		return c.snapshot(reference), err
	}

	applied := c.track(reference, func(s *Session) {
		s.Status = status
		s.Reason = result.Reason
		s.PaidAt = result.PaidAt
		s.Channel = channel
		s.NextPollIn = 0
		if status == domain.StatusTimeout {
			s.Guidance = TimeoutGuidance
		}
	})
	if applied {
		c.recorder.PaymentSettled(string(status), channel)
		c.log.PaymentEvent("settle", reference, string(status), channel)
	}
	return c.snapshot(reference), nil
}

func (c *Coordinator) listen(ctx context.Context, reference string, v *verdict, stop context.CancelFunc) {
	updates, err := c.push.Subscribe(ctx, reference)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("payment push unavailable, polling only", "reference", reference, "error", err)
		}
		return
	}
	for u := range updates {
		status := u.ClientStatus()
		if !status.IsTerminal() {
			continue
		}
		if v.offer(u, status, monitoring.ChannelPush) {
			stop()
		}
		return
	}
}

func (c *Coordinator) poll(ctx context.Context, reference string, v *verdict, stop context.CancelFunc) error {
	deadline := time.Now().Add(c.maxWait)
	wait := c.initialDelay

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		if c.maxWait > 0 && time.Now().Add(wait).After(deadline) {
			break
		}
		c.track(reference, func(s *Session) { s.NextPollIn = wait })
		if err := retry.Sleep(ctx, wait); err != nil {
			return nil
		}

		res, err := c.backend.VerifyPayment(ctx, reference)
		c.track(reference, func(s *Session) { s.PollCount++ })
		switch {
		case err == nil:
			if status := res.ClientStatus(); status.IsTerminal() {
				if v.offer(res, status, monitoring.ChannelPoll) {
					stop()
				}
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case apperr.Retryable(err):
			c.log.Debug("payment poll failed", "reference", reference, "attempt", attempt+1, "error", err)
		default:
			return err
		}
		wait = c.nextInterval(attempt, res.NextPollIn)
	}

	if v.offer(domain.Verification{Reference: reference}, domain.StatusTimeout, monitoring.ChannelPoll) {
		stop()
	}
	return nil
}

// nextInterval prefers the backend hint and otherwise doubles from the base.
func (c *Coordinator) nextInterval(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if c.pollMax > 0 && hint > c.pollMax {
			return c.pollMax
		}
		return hint
	}
	return retry.Backoff{Base: c.pollBase, Factor: 2, Max: c.pollMax}.Delay(attempt)
}

// VerifyManual checks reference once on demand, such as from the payment
// return page. Transient failures are retried with jittered backoff;
// definitive answers are not. Concurrent calls for one reference share a
// single verification.
func (c *Coordinator) VerifyManual(ctx context.Context, reference string) (Session, error) {
	if err := domain.ValidateServerReference(reference); err != nil {
		return Session{}, err
	}

	ch := c.flight.DoChan(reference, func() (interface{}, error) {
		return c.verifyWithRetry(reference)
	})
	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Session{}, r.Err
		}
		return r.Val.(Session), nil
	}
}

func (c *Coordinator) verifyWithRetry(reference string) (Session, error) {
	var prior domain.Status
	c.track(reference, func(s *Session) {
		prior = s.Status
		if !s.Status.IsTerminal() {
			s.Status = domain.StatusVerifying
		}
	})
	if prior.IsTerminal() {
		return c.snapshot(reference), nil
	}

	var res domain.Verification
	err := retry.Do(c.root, c.manualAttempts, c.manualBackoff, apperr.Retryable, func(ctx context.Context) error {
		var err error
		res, err = c.backend.VerifyPayment(ctx, reference)
		return err
	})
	if err != nil {
		c.track(reference, func(s *Session) {
			if s.Status == domain.StatusVerifying {
				s.Status = domain.StatusPending
			}
		})
		if errors.Is(err, context.Canceled) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("verify payment %s: %w", reference, err)
	}

	status := res.ClientStatus()
	applied := c.track(reference, func(s *Session) {
		s.Status = status
		s.Reason = res.Reason
		s.PaidAt = res.PaidAt
		if status.IsTerminal() {
			s.Channel = monitoring.ChannelManual
		}
		if status == domain.StatusTimeout {
			s.Guidance = TimeoutGuidance
		}
	})
	if applied && status.IsTerminal() {
		c.recorder.PaymentSettled(string(status), monitoring.ChannelManual)
		c.log.PaymentEvent("settle", reference, string(status), monitoring.ChannelManual)
	}
	return c.snapshot(reference), nil
}

// track mutates the tracked session of reference, creating it when absent,
// and reports whether fn ran. Terminal sessions only change through Forget.
func (c *Coordinator) track(reference string, fn func(*Session)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[reference]
	if !ok {
		s = &Session{Reference: reference, Status: domain.StatusIdle}
		c.sessions[reference] = s
	}
	if s.Status.IsTerminal() {
		return false
	}
	fn(s)
	return true
}

func (c *Coordinator) snapshot(reference string) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[reference]; ok {
		return *s
	}
	return Session{Reference: reference}
}
