package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/logger"

	"github.com/google/uuid"
)

type markerObserver struct{ inProgress bool }

func (m markerObserver) UpdateInProgress(context.Context, uuid.UUID) (bool, error) {
	return m.inProgress, nil
}

type stuckCounter struct {
	monitoring.Nop
	reasons []string
}

func (s *stuckCounter) StuckDetected(reason string) { s.reasons = append(s.reasons, reason) }

func TestDetectorClearsLongSubmit(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(DebounceConfig{}, clock.Now)
	defer d.Close()
	inv := &recordingInvalidator{}
	rec := &stuckCounter{}
	det := NewDetector(d, nil, inv, rec, DetectorConfig{SubmitThreshold: 30 * time.Second, StaleThreshold: 2 * time.Minute}, logger.Discard(), clock.Now)

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

	if reason := det.Check(context.Background(), target); reason != "" {
		t.Fatalf("expected a fresh submit not to be stuck, got %q", reason)
	}
	clock.Advance(31 * time.Second)
	if reason := det.Check(context.Background(), target); reason != StuckSubmitTimeout {
		t.Fatalf("expected submit timeout, got %q", reason)
	}
	if err := <-errCh; !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected waiter to be released with a transient error, got %v", err)
	}
	if _, ok := d.Pending(target); ok {
		t.Fatalf("expected pending entry cleared")
	}
	if reasons := inv.For(target); len(reasons) != 1 || reasons[0] != "stuck_"+StuckSubmitTimeout {
		t.Fatalf("expected proactive invalidation, got %v", reasons)
	}
	if len(rec.reasons) != 1 {
		t.Fatalf("expected one stuck signal, got %v", rec.reasons)
	}
}

func TestDetectorStaleMarker(t *testing.T) {
	cases := []struct {
		name       string
		age        time.Duration
		inProgress bool
		want       string
	}{
		{"recent settle", time.Minute, true, ""},
		{"old settle without marker", 3 * time.Minute, false, ""},
		{"old settle with marker", 3 * time.Minute, true, StuckStaleMarker},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			d := NewDebouncer(DebounceConfig{}, clock.Now)
			defer d.Close()
			det := NewDetector(d, markerObserver{inProgress: tc.inProgress}, nil, monitoring.Nop{},
				DetectorConfig{SubmitThreshold: 30 * time.Second, StaleThreshold: 2 * time.Minute}, logger.Discard(), clock.Now)

			target := uuid.New()
			if _, err := d.Schedule(context.Background(), target, uuid.New(), okOp(new(atomic.Int32))); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			clock.Advance(tc.age)

			if got := det.Check(context.Background(), target); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if tc.want != "" {
				if _, ok := d.LastSettle(target); ok {
					t.Fatalf("expected settle record cleared")
				}
			}
		})
	}
}

func TestDetectorSweepCountsCleared(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(DebounceConfig{}, clock.Now)
	defer d.Close()
	det := NewDetector(d, markerObserver{inProgress: true}, nil, monitoring.Nop{},
		DetectorConfig{SubmitThreshold: 30 * time.Second, StaleThreshold: 2 * time.Minute}, logger.Discard(), clock.Now)

	for i := 0; i < 3; i++ {
		if _, err := d.Schedule(context.Background(), uuid.New(), uuid.New(), okOp(new(atomic.Int32))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	clock.Advance(5 * time.Minute)
	if got := det.Sweep(context.Background()); got != 3 {
		t.Fatalf("expected 3 cleared, got %d", got)
	}
}
