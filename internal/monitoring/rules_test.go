package monitoring

import (
	"os"
	"path/filepath"
	"testing"
)

const ruleYAML = `
rules:
  - id: high_conflict_rate
    condition: conflict_rate >
    threshold: 0.25
    severity: warning
    enabled: true
    min_samples: 4
  - id: cache
    condition: cache_hit_ratio <
    threshold: 0.4
    severity: info
    enabled: false
`

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(ruleYAML), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rules) != 2 || rules[0].Threshold != 0.25 || rules[0].MinSamples != 4 || rules[1].Enabled {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestLoadRulesDefaultsWithoutPath(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil || len(rules) != len(DefaultRules()) {
		t.Fatalf("expected default rules, got %d err=%v", len(rules), err)
	}
}

func TestParseRulesRejectsUnknownMetric(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - id: x\n    condition: nope >\n    threshold: 1\n"))
	if err == nil {
		t.Fatalf("expected unknown metric to be rejected")
	}
}

func TestParseRulesRejectsDuplicates(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - id: x\n    condition: stuck_count\n  - id: x\n    condition: stuck_count\n"))
	if err == nil {
		t.Fatalf("expected duplicate ids to be rejected")
	}
}

func TestBreachedOperators(t *testing.T) {
	cases := []struct {
		cond  string
		value float64
		want  bool
	}{
		{"conflict_rate >", 0.5, false},
		{"conflict_rate >=", 0.5, true},
		{"cache_hit_ratio <", 0.4, true},
		{"cache_hit_ratio <=", 0.6, false},
		{"stuck_count", 0.6, true},
	}
	for _, tc := range cases {
		r := AlertRule{Condition: tc.cond, Threshold: 0.5}
		if got := r.breached(tc.value); got != tc.want {
			t.Fatalf("%q with %v: expected %v, got %v", tc.cond, tc.value, tc.want, got)
		}
	}
}
