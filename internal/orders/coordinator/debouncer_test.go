package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
)

func okOp(calls *atomic.Int32) Operation {
	return func(ctx context.Context, _ func(domain.Phase)) (domain.UpdateResult, error) {
		calls.Add(1)
		return domain.UpdateResult{Outcome: domain.OutcomeSuccess}, nil
	}
}

func TestDebouncerRunsImmediatelyWithoutHistory(t *testing.T) {
	d := NewDebouncer(DebounceConfig{Grace: time.Second, Standard: 5 * time.Second, Recency: time.Minute}, nil)
	defer d.Close()

	var calls atomic.Int32
	start := time.Now()
	if _, err := d.Schedule(context.Background(), uuid.New(), uuid.New(), okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected immediate execution, took %v", elapsed)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestDebouncerGraceWindowForRecentHolder(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(DebounceConfig{Grace: 20 * time.Millisecond, Standard: 300 * time.Millisecond, Recency: time.Minute}, clock.Now)
	defer d.Close()

	target, holder, other := uuid.New(), uuid.New(), uuid.New()
	var calls atomic.Int32
	if _, err := d.Schedule(context.Background(), target, holder, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if _, err := d.Schedule(context.Background(), target, holder, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 250*time.Millisecond {
		t.Fatalf("expected grace window for the recent holder, waited %v", elapsed)
	}

	start = time.Now()
	if _, err := d.Schedule(context.Background(), target, other, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("expected standard window for another actor, waited %v", elapsed)
	}
}

func TestDebouncerCallerCancelDropsTimer(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(DebounceConfig{Grace: time.Hour, Standard: time.Hour, Recency: time.Minute}, clock.Now)
	defer d.Close()

	target, actor := uuid.New(), uuid.New()
	var calls atomic.Int32
	if _, err := d.Schedule(context.Background(), target, actor, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Schedule(ctx, target, actor, okOp(&calls)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, ok := d.Pending(target); ok {
		t.Fatalf("expected pending entry to be dropped")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the debounced op never to run, calls=%d", calls.Load())
	}
}

func TestDebouncerResetCancelsWaiters(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(DebounceConfig{Grace: time.Hour, Standard: time.Hour, Recency: time.Minute}, clock.Now)
	defer d.Close()

	target, actor := uuid.New(), uuid.New()
	var calls atomic.Int32
	_, _ = d.Schedule(context.Background(), target, actor, okOp(&calls))

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Schedule(context.Background(), target, actor, okOp(&calls))
		errCh <- err
	}()
	waitFor(t, func() bool { _, ok := d.Pending(target); return ok })

	d.Reset(target)
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("reset did not release the waiter")
	}
	if d.Phase(target) != domain.PhaseIdle {
		t.Fatalf("expected idle after reset, got %s", d.Phase(target))
	}
}

func TestDebouncerForceClearFailsTransient(t *testing.T) {
	d := NewDebouncer(DebounceConfig{}, nil)
	defer d.Close()

	target := uuid.New()
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Schedule(context.Background(), target, uuid.New(), func(ctx context.Context, _ func(domain.Phase)) (domain.UpdateResult, error) {
			close(started)
			<-ctx.Done()
			return domain.UpdateResult{}, ctx.Err()
		})
		errCh <- err
	}()
	<-started

	if !d.ForceClear(target) {
		t.Fatalf("expected a live entry to be cleared")
	}
	if err := <-errCh; !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDebouncerCloseRejectsNewWork(t *testing.T) {
	d := NewDebouncer(DebounceConfig{}, nil)
	d.Close()

	var calls atomic.Int32
	if _, err := d.Schedule(context.Background(), uuid.New(), uuid.New(), okOp(&calls)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestDebouncerForceAlwaysRunsItsOwnOperation(t *testing.T) {
	d := NewDebouncer(DebounceConfig{Grace: time.Millisecond, Standard: time.Millisecond, Recency: time.Minute}, nil)
	defer d.Close()

	plain := func(ctx context.Context, _ func(domain.Phase)) (domain.UpdateResult, error) {
		select {
		case <-ctx.Done():
			return domain.UpdateResult{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return domain.UpdateResult{Status: domain.StatusReady, Outcome: domain.OutcomeSuccess}, nil
		}
	}
	var forced atomic.Int32
	bypass := func(context.Context, func(domain.Phase)) (domain.UpdateResult, error) {
		forced.Add(1)
		return domain.UpdateResult{Status: domain.StatusCancelled, Outcome: domain.OutcomeSuccess}, nil
	}

	const rounds = 50
	for i := 0; i < rounds; i++ {
		target, actor := uuid.New(), uuid.New()
		plainDone := make(chan struct{})
		go func() {
			defer close(plainDone)
			_, _ = d.Schedule(context.Background(), target, actor, plain)
		}()

		res, err := d.Force(context.Background(), target, actor, bypass)
		if err != nil {
			t.Fatalf("round %d: unexpected error: %v", i, err)
		}
		if res.Status != domain.StatusCancelled {
			t.Fatalf("round %d: expected the forced result, got %+v", i, res)
		}
		<-plainDone
	}
	if got := forced.Load(); got != rounds {
		t.Fatalf("expected %d forced runs, got %d", rounds, got)
	}
}

func TestDebouncerForceCancelsLiveOperation(t *testing.T) {
	d := NewDebouncer(DebounceConfig{Grace: time.Millisecond, Standard: time.Millisecond, Recency: time.Minute}, nil)
	defer d.Close()

	target, actor := uuid.New(), uuid.New()
	started := make(chan struct{})
	plainErr := make(chan error, 1)
	go func() {
		_, err := d.Schedule(context.Background(), target, actor, func(ctx context.Context, _ func(domain.Phase)) (domain.UpdateResult, error) {
			close(started)
			<-ctx.Done()
			return domain.UpdateResult{}, ctx.Err()
		})
		plainErr <- err
	}()
	<-started

	var calls atomic.Int32
	if _, err := d.Force(context.Background(), target, actor, okOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the forced operation to run once, got %d", calls.Load())
	}
	select {
	case err := <-plainErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the replaced caller to be cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the replaced caller to return")
	}
}
