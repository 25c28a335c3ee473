package models

import "time"

// Priority grades a recommendation or report.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether the value is a known priority tier.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// PriorityForSeverity maps an aggregate severity score to a report priority.
func PriorityForSeverity(score float64) Priority {
	switch {
	case score >= 7:
		return PriorityHigh
	case score >= 3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// RecommendationItem is a single actionable remediation step.
type RecommendationItem struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority"`
	Category        string   `json:"category"`
	EstimatedImpact string   `json:"estimated_impact"`
	Timeframe       string   `json:"timeframe"`
}

// RecommendationReport is the ordered remediation output for one
// AnomalyResult. Reports are immutable after creation.
type RecommendationReport struct {
	ID          string    `json:"id"`
	AnomalyID   string    `json:"anomaly_id"`
	GeneratedAt time.Time `json:"generated_at"`

	ExecutiveSummary string               `json:"executive_summary"`
	DetailedAnalysis string               `json:"detailed_analysis"`
	Items            []RecommendationItem `json:"items"`

	Priority                Priority `json:"priority"`
	EstimatedImpact         string   `json:"estimated_impact"`
	ImplementationTimeframe string   `json:"implementation_timeframe"`
	Method                  Method   `json:"method"`
}
