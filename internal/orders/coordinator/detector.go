package coordinator

import (
	"context"
	"time"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/logger"

	"github.com/google/uuid"
)

// Stuck reasons.
const (
	StuckSubmitTimeout = "submit_timeout"
	StuckStaleMarker   = "stale_marker"
)

// pendingView is the slice of the operation tables the detector needs.
type pendingView interface {
	Pending(targetID uuid.UUID) (PendingInfo, bool)
	LastSettle(targetID uuid.UUID) (SettleInfo, bool)
	ForceClear(targetID uuid.UUID) bool
	Targets() []uuid.UUID
}

// DetectorConfig holds the two stuck thresholds.
type DetectorConfig struct {
	SubmitThreshold time.Duration
	StaleThreshold  time.Duration
}

// Detector clears operations that are abandoned so that they do not block
// later updates on the same target.
type Detector struct {
	view        pendingView
	observer    StateObserver
	invalidator Invalidator
	recorder    monitoring.Recorder
	cfg         DetectorConfig
	log         *logger.Logger
	now         func() time.Time
}

// NewDetector creates a detector. observer and invalidator may be nil.
func NewDetector(view pendingView, observer StateObserver, invalidator Invalidator, recorder monitoring.Recorder, cfg DetectorConfig, log *logger.Logger, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{
		view:        view,
		observer:    observer,
		invalidator: invalidator,
		recorder:    recorder,
		cfg:         cfg,
		log:         log,
		now:         now,
	}
}

// Check remediates targetID if it is stuck and returns the reason, or "".
func (d *Detector) Check(ctx context.Context, targetID uuid.UUID) string {
	reason := d.diagnose(ctx, targetID)
	if reason == "" {
		return ""
	}

	cleared := d.view.ForceClear(targetID)
	if d.invalidator != nil {
		d.invalidator.Invalidate(targetID, "stuck_"+reason)
	}
	d.recorder.StuckDetected(reason)
	d.log.Warn("stuck update cleared",
		"target_id", targetID.String(),
		"reason", reason,
		"cleared_pending", cleared,
	)
	return reason
}

func (d *Detector) diagnose(ctx context.Context, targetID uuid.UUID) string {
	now := d.now()
	if p, ok := d.view.Pending(targetID); ok {
		if p.Phase == domain.PhaseSubmitting && !p.SubmittingAt.IsZero() && now.Sub(p.SubmittingAt) > d.cfg.SubmitThreshold {
			return StuckSubmitTimeout
		}
		return ""
	}

	s, ok := d.view.LastSettle(targetID)
	if !ok || s.Phase != domain.PhaseSucceeded || now.Sub(s.At) <= d.cfg.StaleThreshold || d.observer == nil {
		return ""
	}
	inProgress, err := d.observer.UpdateInProgress(ctx, targetID)
	if err != nil {
		d.log.Debug("in-progress marker unavailable", "target_id", targetID.String(), "error", err)
		return ""
	}
	if inProgress {
		return StuckStaleMarker
	}
	return ""
}

// Sweep checks every known target once and returns how many were cleared.
func (d *Detector) Sweep(ctx context.Context) int {
	cleared := 0
	for _, id := range d.view.Targets() {
		if ctx.Err() != nil {
			break
		}
		if d.Check(ctx, id) != "" {
			cleared++
		}
	}
	return cleared
}

// Run sweeps on every tick until ctx is done.
func (d *Detector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}
