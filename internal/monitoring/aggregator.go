package monitoring

import (
	"context"
	"sync"
	"time"

	"storefront_backend/internal/events"
	"storefront_backend/platform/logger"
)

const bucketWidth = 10 * time.Second

type counters struct {
	attempts, conflicts     int
	inspections, locked     int
	cacheLookups, cacheHits int
	stuck                   int
	payments, timeouts      int
}

type bucket struct {
	start time.Time
	c     counters
}

// Snapshot is the rolling-window view of the coordination signals.
type Snapshot struct {
	At                 time.Time `json:"at"`
	WindowSeconds      int       `json:"windowSeconds"`
	UpdateAttempts     int       `json:"updateAttempts"`
	ConflictRate       float64   `json:"conflictRate"`
	Inspections        int       `json:"inspections"`
	LockContention     float64   `json:"lockContention"`
	CacheLookups       int       `json:"cacheLookups"`
	CacheHitRatio      float64   `json:"cacheHitRatio"`
	StuckCount         int       `json:"stuckCount"`
	Payments           int       `json:"payments"`
	PaymentTimeoutRate float64   `json:"paymentTimeoutRate"`
}

// value returns the metric and the sample count it was derived from.
func (s Snapshot) value(metric string) (float64, int) {
	switch metric {
	case MetricConflictRate:
		return s.ConflictRate, s.UpdateAttempts
	case MetricLockContention:
		return s.LockContention, s.Inspections
	case MetricCacheHitRatio:
		return s.CacheHitRatio, s.CacheLookups
	case MetricStuckCount:
		return float64(s.StuckCount), s.StuckCount
	case MetricPaymentTimeoutRate:
		return s.PaymentTimeoutRate, s.Payments
	}
	return 0, 0
}

// AlertStatus is the evaluated state of one rule.
type AlertStatus struct {
	Rule   AlertRule  `json:"rule"`
	Value  float64    `json:"value"`
	Firing bool       `json:"firing"`
	Since  *time.Time `json:"since,omitempty"`
}

// Options configures an Aggregator.
type Options struct {
	Window       time.Duration
	EvalInterval time.Duration
	Rules        []AlertRule
	Metrics      *Metrics
	Bus          events.Bus
	Log          *logger.Logger
	Now          func() time.Time
}

// Aggregator keeps rolling-window counters, forwards signals to Prometheus and
// evaluates alert rules. Start and Stop bound its background evaluation.
type Aggregator struct {
	mu      sync.Mutex
	buckets []bucket
	firing  map[string]time.Time
	last    map[string]float64

	window   time.Duration
	interval time.Duration
	rules    []AlertRule
	metrics  *Metrics
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAggregator creates an aggregator. It does not evaluate rules until Start.
func NewAggregator(opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	if opts.EvalInterval <= 0 {
		opts.EvalInterval = 15 * time.Second
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	return &Aggregator{
		firing:   make(map[string]time.Time),
		last:     make(map[string]float64),
		window:   opts.Window,
		interval: opts.EvalInterval,
		rules:    opts.Rules,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		log:      opts.Log,
		now:      opts.Now,
	}
}

func (a *Aggregator) add(fn func(c *counters)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	start := now.Truncate(bucketWidth)
	if n := len(a.buckets); n == 0 || !a.buckets[n-1].start.Equal(start) {
		a.buckets = append(a.buckets, bucket{start: start})
	}
	fn(&a.buckets[len(a.buckets)-1].c)
	a.pruneLocked(now)
}

func (a *Aggregator) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.buckets) && a.buckets[i].start.Add(bucketWidth).Before(cutoff) {
		i++
	}
	if i > 0 {
		a.buckets = append(a.buckets[:0], a.buckets[i:]...)
	}
}

func (a *Aggregator) UpdateAttempt(outcome string, latency time.Duration) {
	a.add(func(c *counters) {
		c.attempts++
		if outcome == OutcomeConflict {
			c.conflicts++
		}
	})
	if a.metrics != nil {
		a.metrics.UpdateAttempt(outcome, latency)
	}
}

func (a *Aggregator) ConflictResolved(action string) {
	if a.metrics != nil {
		a.metrics.ConflictResolved(action)
	}
}

func (a *Aggregator) LockInspected(locked bool) {
	a.add(func(c *counters) {
		c.inspections++
		if locked {
			c.locked++
		}
	})
	if a.metrics != nil {
		a.metrics.LockInspected(locked)
	}
}

func (a *Aggregator) CacheLookup(result string) {
	a.add(func(c *counters) {
		c.cacheLookups++
		if result == CacheHit {
			c.cacheHits++
		}
	})
	if a.metrics != nil {
		a.metrics.CacheLookup(result)
	}
}

func (a *Aggregator) StuckDetected(reason string) {
	a.add(func(c *counters) { c.stuck++ })
	if a.metrics != nil {
		a.metrics.StuckDetected(reason)
	}
}

func (a *Aggregator) PaymentSettled(status, channel string) {
	a.add(func(c *counters) {
		c.payments++
		if status == "timeout" {
			c.timeouts++
		}
	})
	if a.metrics != nil {
		a.metrics.PaymentSettled(status, channel)
	}
}

// Snapshot sums the buckets inside the window.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.pruneLocked(now)

	var sum counters
	for _, b := range a.buckets {
		sum.attempts += b.c.attempts
		sum.conflicts += b.c.conflicts
		sum.inspections += b.c.inspections
		sum.locked += b.c.locked
		sum.cacheLookups += b.c.cacheLookups
		sum.cacheHits += b.c.cacheHits
		sum.stuck += b.c.stuck
		sum.payments += b.c.payments
		sum.timeouts += b.c.timeouts
	}
	return Snapshot{
		At:                 now,
		WindowSeconds:      int(a.window.Seconds()),
		UpdateAttempts:     sum.attempts,
		ConflictRate:       ratio(sum.conflicts, sum.attempts),
		Inspections:        sum.inspections,
		LockContention:     ratio(sum.locked, sum.inspections),
		CacheLookups:       sum.cacheLookups,
		CacheHitRatio:      ratio(sum.cacheHits, sum.cacheLookups),
		StuckCount:         sum.stuck,
		Payments:           sum.payments,
		PaymentTimeoutRate: ratio(sum.timeouts, sum.payments),
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Evaluate checks every enabled rule against the current snapshot and
// publishes AlertFired for rules that start firing.
func (a *Aggregator) Evaluate(ctx context.Context) []AlertStatus {
	snap := a.Snapshot()

	a.mu.Lock()
	statuses := make([]AlertStatus, 0, len(a.rules))
	var started []AlertStatus
	for _, rule := range a.rules {
		metric, _, err := parseCondition(rule.Condition)
		if err != nil || !rule.Enabled {
			delete(a.firing, rule.ID)
			statuses = append(statuses, AlertStatus{Rule: rule})
			continue
		}
		value, samples := snap.value(metric)
		a.last[rule.ID] = value
		firing := samples >= rule.MinSamples && rule.breached(value)

		st := AlertStatus{Rule: rule, Value: value, Firing: firing}
		if firing {
			since, already := a.firing[rule.ID]
			if !already {
				since = snap.At
				a.firing[rule.ID] = since
				started = append(started, st)
			}
			st.Since = &since
		} else {
			delete(a.firing, rule.ID)
		}
		if a.metrics != nil {
			g := 0.0
			if firing {
				g = 1
			}
			a.metrics.AlertsFiring.WithLabelValues(rule.ID).Set(g)
		}
		statuses = append(statuses, st)
	}
	a.mu.Unlock()

	for _, st := range started {
		a.log.Warn("alert firing", "rule", st.Rule.ID, "severity", st.Rule.Severity, "value", st.Value, "threshold", st.Rule.Threshold)
		if a.bus != nil {
			a.bus.Publish(ctx, events.AlertFired{
				BaseEvent: events.NewBaseEvent(),
				RuleID:    st.Rule.ID,
				Severity:  st.Rule.Severity,
				Value:     st.Value,
				Threshold: st.Rule.Threshold,
			})
		}
	}
	return statuses
}

// IsFiring reports whether ruleID fired at the last evaluation.
func (a *Aggregator) IsFiring(ruleID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.firing[ruleID]
	return ok
}

// Start launches periodic evaluation. Calling Start twice is a no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		t := time.NewTicker(a.interval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				a.Evaluate(runCtx)
			}
		}
	}(a.done)
}

// Stop halts evaluation and waits for the loop to exit. Firing state is cleared.
func (a *Aggregator) Stop() {
	a.lifecycle.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	a.mu.Lock()
	a.firing = make(map[string]time.Time)
	a.mu.Unlock()
}

var _ Recorder = (*Aggregator)(nil)
