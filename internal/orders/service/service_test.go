package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/internal/orders/leasecache"
	"storefront_backend/internal/orders/repository"
	"storefront_backend/internal/orders/transport"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leaseTTL    = 35 * time.Second
	leaseBuffer = 5 * time.Second
)

type fixture struct {
	svc    *Service
	store  *repository.MemoryStore
	cache  *leasecache.Cache
	target uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureAt(t, nil)
}

// newFixtureAt builds a fixture whose store and service share the clock now.
func newFixtureAt(t *testing.T, now func() time.Time) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repository.NewMemoryStore(now)
	target := uuid.New()
	store.PutOrder(domain.Order{ID: target, CustomerID: uuid.New(), Status: domain.StatusPending})

	cache := leasecache.New(rdb)
	svc := New(store, cache, nil, nil, &config.Config{LeaseDuration: leaseTTL, LeaseBuffer: leaseBuffer}, logger.Discard())
	if now != nil {
		svc.now = now
	}
	return fixture{svc: svc, store: store, cache: cache, target: target}
}

func submitReq(actor, target uuid.UUID, status string) transport.SubmitStatusRequest {
	return transport.SubmitStatusRequest{Status: status, IdempotencyKey: domain.IdempotencyKey(actor, target, status)}
}

func successIntents(store *repository.MemoryStore) int {
	n := 0
	for _, in := range store.Intents() {
		if in.Outcome == domain.OutcomeSuccess {
			n++
		}
	}
	return n
}

func TestSubmitUpdateReplayIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	first, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, domain.StatusReady))
	if err != nil || first.Cached {
		t.Fatalf("expected first submit to apply, got %+v err=%v", first, err)
	}
	second, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, domain.StatusReady))
	if err != nil || !second.Cached || second.Outcome != string(domain.OutcomeCached) {
		t.Fatalf("expected cached replay, got %+v err=%v", second, err)
	}
	if got := successIntents(f.store); got != 1 {
		t.Fatalf("expected one recorded effect, got %d", got)
	}
}

func TestSubmitUpdateSameActorCanReturnToEarlierState(t *testing.T) {
	now := time.Now()
	f := newFixtureAt(t, func() time.Time { return now })
	ctx := context.Background()
	actor := uuid.New()

	for _, status := range []string{domain.StatusReady, domain.StatusProcessing, domain.StatusReady} {
		resp, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, status))
		if err != nil || resp.Cached {
			t.Fatalf("expected %s to apply, got %+v err=%v", status, resp, err)
		}
		now = now.Add(leaseTTL + leaseBuffer + time.Second)
	}
	if got := successIntents(f.store); got != 3 {
		t.Fatalf("expected three effects, got %d", got)
	}
}

func TestSubmitUpdateRejectsForeignKey(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	req := transport.SubmitStatusRequest{Status: domain.StatusReady, IdempotencyKey: domain.IdempotencyKey(uuid.New(), f.target, domain.StatusReady)}

	_, err := f.svc.SubmitUpdate(context.Background(), actor, f.target, req)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitUpdateRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()

	_, err := f.svc.SubmitUpdate(context.Background(), actor, f.target, submitReq(actor, f.target, "teleported"))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitUpdateConflictCarriesHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	holder, other := uuid.New(), uuid.New()

	if _, ok, _ := f.store.AcquireLease(ctx, f.target, holder, leaseTTL); !ok {
		t.Fatalf("expected holder to acquire")
	}

	_, err := f.svc.SubmitUpdate(ctx, other, f.target, submitReq(other, f.target, domain.StatusCancelled))
	if !apperr.Is(err, apperr.KindLeaseConflict) {
		t.Fatalf("expected lease conflict, got %v", err)
	}
	var domainErr *apperr.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected typed error, got %T", err)
	}
	details, ok := domainErr.Details.(transport.LeaseConflictDetails)
	if !ok || details.HolderID != holder {
		t.Fatalf("expected conflict details naming holder, got %+v", domainErr.Details)
	}
	o, _ := f.store.GetOrder(ctx, f.target)
	if o.Status != domain.StatusPending {
		t.Fatalf("expected status untouched, got %s", o.Status)
	}
}

func TestConcurrentSubmitsKeepMutualExclusion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := map[string]bool{}
	statuses := []string{domain.StatusReady, domain.StatusCancelled, domain.StatusShipped, domain.StatusProcessing}
	for _, status := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			actor := uuid.New()
			resp, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, status))
			if err != nil {
				if !apperr.Is(err, apperr.KindLeaseConflict) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			applied[resp.Status] = true
			mu.Unlock()
		}(status)
	}
	wg.Wait()

	if len(applied) == 0 {
		t.Fatalf("expected at least one update to win")
	}
	o, _ := f.store.GetOrder(ctx, f.target)
	if !applied[o.Status] {
		t.Fatalf("final status %s was not applied by any winner", o.Status)
	}
	if f.store.ActiveLeaseCount(f.target) != 0 {
		t.Fatalf("expected all leases released")
	}
}

func TestStaleCacheIsRepairedByInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := uuid.New()
	now := time.Now()

	ghost := domain.UpdateLease{TargetID: f.target, HolderID: uuid.New(), AcquiredAt: now, ExpiresAt: now.Add(leaseTTL)}
	if err := f.cache.Set(ctx, ghost, now); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	_, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, domain.StatusReady))
	if !apperr.Is(err, apperr.KindLeaseConflict) {
		t.Fatalf("expected cached conflict, got %v", err)
	}

	state, err := f.svc.InspectLease(ctx, actor, f.target)
	if err != nil || state.IsLocked {
		t.Fatalf("expected authoritative unlocked state, got %+v err=%v", state, err)
	}

	if _, err := f.svc.SubmitUpdate(ctx, actor, f.target, submitReq(actor, f.target, domain.StatusReady)); err != nil {
		t.Fatalf("expected retry after repair to succeed, got %v", err)
	}
}

func TestBypassTakesForeignLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	holder, admin := uuid.New(), uuid.New()

	if _, ok, _ := f.store.AcquireLease(ctx, f.target, holder, leaseTTL); !ok {
		t.Fatalf("expected holder to acquire")
	}

	resp, err := f.svc.BypassUpdate(ctx, admin, f.target, transport.BypassStatusRequest{Status: domain.StatusCancelled})
	if err != nil || resp.Status != domain.StatusCancelled {
		t.Fatalf("expected bypass to apply, got %+v err=%v", resp, err)
	}
	if f.store.ActiveLeaseCount(f.target) != 0 {
		t.Fatalf("expected bypass to release its lease")
	}
}

func TestInspectLeaseHolderView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	holder := uuid.New()

	if _, ok, _ := f.store.AcquireLease(ctx, f.target, holder, leaseTTL); !ok {
		t.Fatalf("expected holder to acquire")
	}

	own, err := f.svc.InspectLease(ctx, holder, f.target)
	if err != nil || !own.IsLocked || !own.IsHolder {
		t.Fatalf("expected holder view, got %+v err=%v", own, err)
	}
	other, _ := f.svc.InspectLease(ctx, uuid.New(), f.target)
	if !other.IsLocked || other.IsHolder || other.HolderID == nil || *other.HolderID != holder {
		t.Fatalf("expected foreign view naming holder, got %+v", other)
	}
}

func TestReapExpiredLeases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.store.AcquireLease(ctx, f.target, uuid.New(), -time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	n, err := f.svc.ReapExpiredLeases(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one reaped lease, got %d err=%v", n, err)
	}
}

// barrierStore lets every caller read the replay record before any of them
// continues, so duplicates race into the lease and apply path together.
type barrierStore struct {
	*repository.MemoryStore
	arrived sync.WaitGroup
}

func (b *barrierStore) AppliedIntent(ctx context.Context, targetID uuid.UUID, key string, window time.Duration) (*domain.UpdateIntent, error) {
	in, err := b.MemoryStore.AppliedIntent(ctx, targetID, key, window)
	b.arrived.Done()
	b.arrived.Wait()
	return in, err
}

func TestConcurrentDuplicateSubmitsApplyOnce(t *testing.T) {
	mem := repository.NewMemoryStore(nil)
	target := uuid.New()
	mem.PutOrder(domain.Order{ID: target, CustomerID: uuid.New(), Status: domain.StatusPending})
	store := &barrierStore{MemoryStore: mem}
	store.arrived.Add(2)
	svc := New(store, nil, nil, nil, &config.Config{LeaseDuration: leaseTTL, LeaseBuffer: leaseBuffer}, logger.Discard())

	ctx := context.Background()
	actor := uuid.New()
	req := submitReq(actor, target, domain.StatusReady)

	var wg sync.WaitGroup
	responses := make([]transport.UpdateResponse, 2)
	errs := make([]error, 2)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = svc.SubmitUpdate(ctx, actor, target, req)
		}(i)
	}
	wg.Wait()

	cached := 0
	for i := range responses {
		if errs[i] != nil {
			t.Fatalf("unexpected error: %v", errs[i])
		}
		if responses[i].Status != domain.StatusReady {
			t.Fatalf("expected both callers to see ready, got %s", responses[i].Status)
		}
		if responses[i].Cached {
			cached++
		}
	}
	if got := successIntents(mem); got != 1 {
		t.Fatalf("expected one recorded effect, got %d", got)
	}
	if cached != 1 {
		t.Fatalf("expected one cached response, got %d", cached)
	}
	if mem.ActiveLeaseCount(target) != 0 {
		t.Fatalf("expected the shared lease released")
	}
}

func TestDelayedRetryDoesNotOverwriteLaterUpdate(t *testing.T) {
	now := time.Now()
	f := newFixtureAt(t, func() time.Time { return now })
	ctx := context.Background()
	actorA, actorB := uuid.New(), uuid.New()

	if _, err := f.svc.SubmitUpdate(ctx, actorA, f.target, submitReq(actorA, f.target, domain.StatusReady)); err != nil {
		t.Fatalf("A submit: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := f.svc.SubmitUpdate(ctx, actorB, f.target, submitReq(actorB, f.target, domain.StatusCancelled)); err != nil {
		t.Fatalf("B submit: %v", err)
	}
	now = now.Add(time.Second)

	retry, err := f.svc.SubmitUpdate(ctx, actorA, f.target, submitReq(actorA, f.target, domain.StatusReady))
	if err != nil || !retry.Cached {
		t.Fatalf("expected A's retry to be cached, got %+v err=%v", retry, err)
	}
	if retry.Status != domain.StatusCancelled {
		t.Fatalf("expected the cached answer to report the current status, got %s", retry.Status)
	}
	o, _ := f.store.GetOrder(ctx, f.target)
	if o.Status != domain.StatusCancelled {
		t.Fatalf("expected B's update to stand, got %s", o.Status)
	}
	if got := successIntents(f.store); got != 2 {
		t.Fatalf("expected two effects, got %d", got)
	}

	now = now.Add(leaseTTL + leaseBuffer)
	fresh, err := f.svc.SubmitUpdate(ctx, actorA, f.target, submitReq(actorA, f.target, domain.StatusReady))
	if err != nil || fresh.Cached {
		t.Fatalf("expected a new effect after the replay window, got %+v err=%v", fresh, err)
	}
}
