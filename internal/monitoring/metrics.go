package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors fed by the Aggregator.
type Metrics struct {
	UpdateTotal      *prometheus.CounterVec // outcome=success|conflict|failed|cached
	UpdateLatencyMS  prometheus.Histogram   // submit round trip including recovery
	ResolutionTotal  *prometheus.CounterVec // action=bypass|fail_fast|retry|suppressed
	InspectionTotal  *prometheus.CounterVec // locked=true|false
	CacheLookupTotal *prometheus.CounterVec // result=hit|miss|stale
	StuckTotal       *prometheus.CounterVec // reason=submit_timeout|stale_marker
	PaymentTotal     *prometheus.CounterVec // status, channel
	AlertsFiring     *prometheus.GaugeVec   // rule
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_status_update_total",
				Help: "Status update attempts by outcome",
			},
			[]string{"outcome"},
		),
		UpdateLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_status_update_latency_ms",
			Help:    "Latency of status updates including conflict recovery (ms)",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms .. ~10s
		}),
		ResolutionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_conflict_resolution_total",
				Help: "Conflict resolver decisions by action",
			},
			[]string{"action"},
		),
		InspectionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_lease_inspection_total",
				Help: "Lease inspections by observed lock state",
			},
			[]string{"locked"},
		),
		CacheLookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_lease_cache_lookup_total",
				Help: "Backend lease cache lookups by result",
			},
			[]string{"result"},
		),
		StuckTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_stuck_operation_total",
				Help: "Stuck pending operations cleared by reason",
			},
			[]string{"reason"},
		),
		PaymentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_settled_total",
				Help: "Terminal payment outcomes by status and winning channel",
			},
			[]string{"status", "channel"},
		),
		AlertsFiring: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitoring_alert_firing",
				Help: "1 while the alert rule is firing",
			},
			[]string{"rule"},
		),
	}

	reg.MustRegister(
		m.UpdateTotal,
		m.UpdateLatencyMS,
		m.ResolutionTotal,
		m.InspectionTotal,
		m.CacheLookupTotal,
		m.StuckTotal,
		m.PaymentTotal,
		m.AlertsFiring,
	)
	return m
}

func (m *Metrics) UpdateAttempt(outcome string, latency time.Duration) {
	m.UpdateTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		m.UpdateLatencyMS.Observe(float64(latency.Milliseconds()))
	}
}

func (m *Metrics) ConflictResolved(action string) { m.ResolutionTotal.WithLabelValues(action).Inc() }

func (m *Metrics) LockInspected(locked bool) {
	label := "false"
	if locked {
		label = "true"
	}
	m.InspectionTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) CacheLookup(result string)   { m.CacheLookupTotal.WithLabelValues(result).Inc() }
func (m *Metrics) StuckDetected(reason string) { m.StuckTotal.WithLabelValues(reason).Inc() }

func (m *Metrics) PaymentSettled(status, channel string) {
	m.PaymentTotal.WithLabelValues(status, channel).Inc()
}

var _ Recorder = (*Metrics)(nil)
