package models

import "time"

// AnalyzeRequest selects a stored snapshot and a detection method.
type AnalyzeRequest struct {
	SnapshotID string `json:"snapshot_id"`
	Method     string `json:"method"`
}

// GenerateRequest selects a stored anomaly result and a generation method.
type GenerateRequest struct {
	AnomalyID string `json:"anomaly_id"`
	Method    string `json:"method"`
}

// ListParams bounds read queries over stored records.
type ListParams struct {
	Limit  int
	Offset int
	Since  time.Time
	Until  time.Time
}

// Clamp normalises pagination bounds.
func (p ListParams) Clamp() ListParams {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// BreachPattern aggregates how often a metric breached its threshold across
// stored anomaly results.
type BreachPattern struct {
	Metric      string    `json:"metric"`
	Count       int       `json:"count"`
	Prevalence  float64   `json:"prevalence"`
	AvgSeverity float64   `json:"avg_severity"`
	LastSeen    time.Time `json:"last_seen"`
}
