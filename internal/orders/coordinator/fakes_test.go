package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/config"

	"github.com/google/uuid"
)

type fakeBackend struct {
	submit  func(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error)
	inspect func(ctx context.Context, targetID, actorID uuid.UUID) (domain.LeaseState, error)
	bypass  func(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error)

	submits  atomic.Int32
	inspects atomic.Int32
	bypasses atomic.Int32
}

func (f *fakeBackend) SubmitUpdate(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error) {
	f.submits.Add(1)
	if f.submit == nil {
		return applied(req), nil
	}
	return f.submit(ctx, req)
}

func (f *fakeBackend) InspectLease(ctx context.Context, targetID, actorID uuid.UUID) (domain.LeaseState, error) {
	f.inspects.Add(1)
	if f.inspect == nil {
		return domain.LeaseState{}, nil
	}
	return f.inspect(ctx, targetID, actorID)
}

func (f *fakeBackend) BypassUpdate(ctx context.Context, req UpdateRequest) (domain.UpdateResult, error) {
	f.bypasses.Add(1)
	if f.bypass == nil {
		return applied(req), nil
	}
	return f.bypass(ctx, req)
}

func applied(req UpdateRequest) domain.UpdateResult {
	return domain.UpdateResult{
		TargetID:       req.TargetID,
		Status:         req.DesiredState,
		Outcome:        domain.OutcomeSuccess,
		IdempotencyKey: req.IdempotencyKey,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingInvalidator struct {
	mu      sync.Mutex
	reasons map[uuid.UUID][]string
}

func (r *recordingInvalidator) Invalidate(targetID uuid.UUID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reasons == nil {
		r.reasons = make(map[uuid.UUID][]string)
	}
	r.reasons[targetID] = append(r.reasons[targetID], reason)
}

func (r *recordingInvalidator) For(targetID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons[targetID]...)
}

type staticSignal map[string]bool

func (s staticSignal) IsFiring(ruleID string) bool { return s[ruleID] }

func testConfig() *config.Config {
	return &config.Config{
		LeaseDuration:         35 * time.Second,
		LeaseBuffer:           5 * time.Second,
		DebounceGrace:         10 * time.Millisecond,
		DebounceStandard:      40 * time.Millisecond,
		StuckSubmitThreshold:  30 * time.Second,
		StuckStaleThreshold:   2 * time.Minute,
		MaxConflictRecoveries: 2,
		AutoRecoveryEnabled:   true,
	}
}
