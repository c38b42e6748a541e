package scheduler

import (
	"context"
	"time"

	"storefront_backend/platform/logger"
)

const defaultLeaseReapInterval = 30 * time.Second

// PeriodicLeaseReaper releases expired order leases on a fixed interval.
type PeriodicLeaseReaper struct {
	leases   LeaseReaper
	log      *logger.Logger
	interval time.Duration
}

func NewPeriodicLeaseReaper(leases LeaseReaper, log *logger.Logger, interval time.Duration) *PeriodicLeaseReaper {
	if interval <= 0 {
		interval = defaultLeaseReapInterval
	}

	return &PeriodicLeaseReaper{
		leases:   leases,
		log:      log,
		interval: interval,
	}
}

func (r *PeriodicLeaseReaper) Run(ctx context.Context) {
	if r == nil || r.leases == nil {
		return
	}

	r.reap(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *PeriodicLeaseReaper) reap(ctx context.Context) {
	reaped, err := r.leases.ReapExpiredLeases(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("lease reap failed", "error", err)
		}
		return
	}

	if reaped > 0 {
		r.log.Info("lease reaper released expired leases", "reaped", reaped)
	}
}
