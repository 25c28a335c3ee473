package models

import (
	"sort"
	"time"
)

// MetricCheck records a single threshold comparison performed by the classic
// detector, in threshold-table order.
type MetricCheck struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
	Breached bool    `json:"breached"`
}

// AnomalyResult is the outcome of analysing one MetricSnapshot.
// Results are immutable after creation and reference their snapshot by ID.
type AnomalyResult struct {
	ID         string    `json:"id"`
	SnapshotID string    `json:"snapshot_id"`
	DetectedAt time.Time `json:"detected_at"`

	// Flags holds the per-metric breach verdicts keyed by metric name.
	Flags map[string]bool `json:"flags"`
	// Checks is only populated on the classic path, where every evaluated
	// threshold comparison is recorded.
	Checks []MetricCheck `json:"checks,omitempty"`

	DegradedServices []string `json:"degraded_services,omitempty"`

	// SeverityScore is in [0,10], rounded to one decimal.
	SeverityScore float64 `json:"severity_score"`
	// Confidence is only reported by the LLM path.
	Confidence float64 `json:"confidence,omitempty"`

	Summary string `json:"summary"`
	Method  Method `json:"method"`
}

// BreachedMetrics returns the names of flagged metrics sorted for
// deterministic output.
func (r AnomalyResult) BreachedMetrics() []string {
	if len(r.Flags) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Flags))
	for name, breached := range r.Flags {
		if breached {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return names
}

// CheckFor returns the recorded comparison for a metric, if any.
func (r AnomalyResult) CheckFor(metric string) (MetricCheck, bool) {
	for _, check := range r.Checks {
		if check.Metric == metric {
			return check, true
		}
	}
	return MetricCheck{}, false
}
