package monitoring

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metric names usable in an AlertRule condition.
const (
	MetricConflictRate       = "conflict_rate"
	MetricLockContention     = "lock_contention"
	MetricCacheHitRatio      = "cache_hit_ratio"
	MetricStuckCount         = "stuck_count"
	MetricPaymentTimeoutRate = "payment_timeout_rate"
)

// RuleHighLockContention suppresses automatic bypass while firing.
const RuleHighLockContention = "high_lock_contention"

// AlertRule is a threshold over one snapshot metric. Condition is
// "<metric> <op>" where op is one of > >= < <= (default >).
type AlertRule struct {
	ID         string  `yaml:"id" json:"id"`
	Condition  string  `yaml:"condition" json:"condition"`
	Threshold  float64 `yaml:"threshold" json:"threshold"`
	Severity   string  `yaml:"severity" json:"severity"`
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	MinSamples int     `yaml:"min_samples" json:"minSamples"`
}

type ruleFile struct {
	Rules []AlertRule `yaml:"rules"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{ID: "high_conflict_rate", Condition: MetricConflictRate + " >", Threshold: 0.3, Severity: "warning", Enabled: true, MinSamples: 10},
		{ID: RuleHighLockContention, Condition: MetricLockContention + " >", Threshold: 0.5, Severity: "warning", Enabled: true, MinSamples: 5},
		{ID: "low_cache_hit_ratio", Condition: MetricCacheHitRatio + " <", Threshold: 0.5, Severity: "info", Enabled: true, MinSamples: 20},
		{ID: "stuck_operations", Condition: MetricStuckCount + " >=", Threshold: 3, Severity: "critical", Enabled: true},
		{ID: "payment_timeouts", Condition: MetricPaymentTimeoutRate + " >", Threshold: 0.1, Severity: "critical", Enabled: true, MinSamples: 10},
	}
}

// LoadRules reads rules from a YAML file. An empty path yields DefaultRules.
func LoadRules(path string) ([]AlertRule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(raw []byte) ([]AlertRule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode alert rules: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Rules))
	for _, r := range file.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("alert rule without id")
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate alert rule %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, _, err := parseCondition(r.Condition); err != nil {
			return nil, fmt.Errorf("alert rule %q: %w", r.ID, err)
		}
	}
	return file.Rules, nil
}

func parseCondition(cond string) (metric, op string, err error) {
	fields := strings.Fields(cond)
	if len(fields) == 0 || len(fields) > 2 {
		return "", "", fmt.Errorf("invalid condition %q", cond)
	}
	metric = fields[0]
	switch metric {
	case MetricConflictRate, MetricLockContention, MetricCacheHitRatio, MetricStuckCount, MetricPaymentTimeoutRate:
	default:
		return "", "", fmt.Errorf("unknown metric %q", metric)
	}
	op = ">"
	if len(fields) == 2 {
		op = fields[1]
	}
	switch op {
	case ">", ">=", "<", "<=":
	default:
		return "", "", fmt.Errorf("unknown operator %q", op)
	}
	return metric, op, nil
}

func (r AlertRule) breached(value float64) bool {
	_, op, err := parseCondition(r.Condition)
	if err != nil {
		return false
	}
	switch op {
	case ">":
		return value > r.Threshold
	case ">=":
		return value >= r.Threshold
	case "<":
		return value < r.Threshold
	default:
		return value <= r.Threshold
	}
}
