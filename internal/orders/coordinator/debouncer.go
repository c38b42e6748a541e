package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/retry"

	"github.com/google/uuid"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("coordinator closed")

// Operation is the work a Debouncer runs for one target. setPhase reports
// progress through Submitting and Conflicted.
type Operation func(ctx context.Context, setPhase func(domain.Phase)) (domain.UpdateResult, error)

// pendingOp is the live entry for one target.
type pendingOp struct {
	actorID      uuid.UUID
	createdAt    time.Time
	submittingAt time.Time
	phase        domain.Phase
	waiters      int
	cancel       context.CancelFunc

	once   sync.Once
	done   chan struct{}
	result domain.UpdateResult
	err    error
}

func (p *pendingOp) finish(res domain.UpdateResult, err error) bool {
	finished := false
	p.once.Do(func() {
		p.result, p.err = res, err
		close(p.done)
		finished = true
	})
	return finished
}

type settleRecord struct {
	at      time.Time
	actorID uuid.UUID
	phase   domain.Phase
}

// PendingInfo describes the live operation of a target.
type PendingInfo struct {
	ActorID      uuid.UUID
	Phase        domain.Phase
	CreatedAt    time.Time
	SubmittingAt time.Time
}

// SettleInfo describes the last settled operation of a target.
type SettleInfo struct {
	At      time.Time
	ActorID uuid.UUID
	Phase   domain.Phase
}

// DebounceConfig holds the two recognised debounce windows. An actor whose own
// update succeeded within Recency gets Grace, everyone else gets Standard.
type DebounceConfig struct {
	Grace    time.Duration
	Standard time.Duration
	Recency  time.Duration
}

// Debouncer keeps at most one live operation per target and spaces operations
// on the same target by the debounce window. It owns the pending-operation
// and last-settle tables; nothing else holds references to them.
type Debouncer struct {
	cfg DebounceConfig
	now func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingOp
	settles map[uuid.UUID]settleRecord
	closed  bool

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDebouncer creates a debouncer. now may be nil.
func NewDebouncer(cfg DebounceConfig, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	root, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		cfg:     cfg,
		now:     now,
		pending: make(map[uuid.UUID]*pendingOp),
		settles: make(map[uuid.UUID]settleRecord),
		root:    root,
		cancel:  cancel,
	}
}

// Schedule runs op for targetID once the debounce window allows it. A caller
// arriving while an operation is live for targetID receives that operation's
// result instead of starting another one. ctx only bounds the wait; the
// operation itself runs until it settles, is reset, or the debouncer closes.
func (d *Debouncer) Schedule(ctx context.Context, targetID, actorID uuid.UUID, op Operation) (domain.UpdateResult, error) {
	return d.schedule(ctx, targetID, actorID, op, false)
}

// Force runs op immediately, replacing any live operation for targetID. The
// replaced operation's waiters receive context.Canceled.
func (d *Debouncer) Force(ctx context.Context, targetID, actorID uuid.UUID, op Operation) (domain.UpdateResult, error) {
	return d.schedule(ctx, targetID, actorID, op, true)
}

func (d *Debouncer) schedule(ctx context.Context, targetID, actorID uuid.UUID, op Operation, force bool) (domain.UpdateResult, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.UpdateResult{}, ErrClosed
	}
	cur, live := d.pending[targetID]
	if live && !force {
		cur.waiters++
		d.mu.Unlock()
		return d.wait(ctx, targetID, cur)
	}

	now := d.now()
	var delay time.Duration
	if force {
		delete(d.settles, targetID)
	} else {
		delay = d.remainingLocked(targetID, actorID, now)
	}
	opCtx, cancel := context.WithCancel(d.root)
	p := &pendingOp{
		actorID:   actorID,
		createdAt: now,
		phase:     domain.PhaseDebounced,
		waiters:   1,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	d.pending[targetID] = p
	d.wg.Add(1)
	d.mu.Unlock()

	if live {
		cur.cancel()
		cur.finish(domain.UpdateResult{}, context.Canceled)
	}
	go d.run(opCtx, targetID, p, delay, op)
	return d.wait(ctx, targetID, p)
}

// remainingLocked returns how long a new operation must wait.
func (d *Debouncer) remainingLocked(targetID, actorID uuid.UUID, now time.Time) time.Duration {
	s, ok := d.settles[targetID]
	if !ok {
		return 0
	}
	since := now.Sub(s.at)
	window := d.cfg.Standard
	// Heuristic: a recent successful settle by the same actor suggests it still
	// holds or just released the lease. Nothing authoritative backs this.
	if s.phase == domain.PhaseSucceeded && s.actorID == actorID && since < d.cfg.Recency {
		window = d.cfg.Grace
	}
	if remaining := window - since; remaining > 0 {
		return remaining
	}
	return 0
}

func (d *Debouncer) run(ctx context.Context, targetID uuid.UUID, p *pendingOp, delay time.Duration, op Operation) {
	defer d.wg.Done()
	defer p.cancel()

	if err := retry.Sleep(ctx, delay); err != nil {
		d.settle(targetID, p, domain.UpdateResult{}, err)
		return
	}
	d.setPhase(p, domain.PhaseSubmitting)
	res, err := op(ctx, func(ph domain.Phase) { d.setPhase(p, ph) })
	d.settle(targetID, p, res, err)
}

func (d *Debouncer) setPhase(p *pendingOp, ph domain.Phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ph == domain.PhaseSubmitting && p.phase != domain.PhaseSubmitting {
		p.submittingAt = d.now()
	}
	p.phase = ph
}

func (d *Debouncer) settle(targetID uuid.UUID, p *pendingOp, res domain.UpdateResult, err error) {
	d.mu.Lock()
	if cur, ok := d.pending[targetID]; ok && cur == p {
		delete(d.pending, targetID)
		if !errors.Is(err, context.Canceled) {
			d.settles[targetID] = settleRecord{at: d.now(), actorID: p.actorID, phase: finalPhase(err)}
		}
	}
	d.mu.Unlock()
	p.finish(res, err)
}

func (d *Debouncer) wait(ctx context.Context, targetID uuid.UUID, p *pendingOp) (domain.UpdateResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		d.mu.Lock()
		p.waiters--
		// Nobody is waiting and nothing has been sent yet: drop the timer.
		abandon := p.waiters == 0 && p.phase == domain.PhaseDebounced
		if abandon {
			if cur, ok := d.pending[targetID]; ok && cur == p {
				delete(d.pending, targetID)
			}
		}
		d.mu.Unlock()
		if abandon {
			p.cancel()
		}
		return domain.UpdateResult{}, ctx.Err()
	}
}

func finalPhase(err error) domain.Phase {
	switch {
	case err == nil:
		return domain.PhaseSucceeded
	case apperr.Is(err, apperr.KindLeaseConflict):
		return domain.PhaseConflicted
	default:
		return domain.PhaseFailed
	}
}

// Phase returns the current phase of targetID.
func (d *Debouncer) Phase(targetID uuid.UUID) domain.Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[targetID]; ok {
		return p.phase
	}
	if s, ok := d.settles[targetID]; ok {
		return s.phase
	}
	return domain.PhaseIdle
}

// Pending returns the live operation of targetID.
func (d *Debouncer) Pending(targetID uuid.UUID) (PendingInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[targetID]
	if !ok {
		return PendingInfo{}, false
	}
	return PendingInfo{ActorID: p.actorID, Phase: p.phase, CreatedAt: p.createdAt, SubmittingAt: p.submittingAt}, true
}

// LastSettle returns the last settled operation of targetID.
func (d *Debouncer) LastSettle(targetID uuid.UUID) (SettleInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.settles[targetID]
	if !ok {
		return SettleInfo{}, false
	}
	return SettleInfo{At: s.at, ActorID: s.actorID, Phase: s.phase}, true
}

// Targets lists every target with a live or settled operation.
func (d *Debouncer) Targets() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[uuid.UUID]struct{}, len(d.pending)+len(d.settles))
	out := make([]uuid.UUID, 0, len(d.pending)+len(d.settles))
	for id := range d.pending {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for id := range d.settles {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ForceClear drops both records of targetID and fails the live operation, if
// any, with a transient error so its waiters may retry. Reports whether a live
// operation was cleared.
func (d *Debouncer) ForceClear(targetID uuid.UUID) bool {
	d.mu.Lock()
	p, ok := d.pending[targetID]
	delete(d.pending, targetID)
	delete(d.settles, targetID)
	d.mu.Unlock()

	if !ok {
		return false
	}
	p.cancel()
	p.finish(domain.UpdateResult{}, apperr.Transient("update abandoned after exceeding its time budget", nil))
	return true
}

// Reset cancels the live operation of targetID and forgets its history.
func (d *Debouncer) Reset(targetID uuid.UUID) {
	d.mu.Lock()
	p, ok := d.pending[targetID]
	delete(d.pending, targetID)
	delete(d.settles, targetID)
	d.mu.Unlock()

	if ok {
		p.cancel()
		p.finish(domain.UpdateResult{}, context.Canceled)
	}
}

// Close cancels every live operation and waits for their goroutines.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
