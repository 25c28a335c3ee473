package insights

import (
	"math"
	"sort"

	"github.com/miradorstack/infra-optimizer/internal/models"
)

// Aggregator mines stored anomaly results for recurring breach patterns.
type Aggregator struct{}

// NewAggregator constructs the pattern miner.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// BreachPatterns summarises how often each metric was flagged across the
// given results. Prevalence is the fraction of results flagging the metric;
// average severity covers only the results where the metric was flagged.
// Output is sorted by count descending, then metric name for stability.
func (a *Aggregator) BreachPatterns(results []models.AnomalyResult) []models.BreachPattern {
	if len(results) == 0 {
		return nil
	}

	byMetric := map[string]*models.BreachPattern{}

	for _, res := range results {
		for metric, breached := range res.Flags {
			if !breached {
				continue
			}
			pattern, ok := byMetric[metric]
			if !ok {
				pattern = &models.BreachPattern{Metric: metric}
				byMetric[metric] = pattern
			}
			pattern.Count++
			pattern.AvgSeverity += res.SeverityScore
			if res.DetectedAt.After(pattern.LastSeen) {
				pattern.LastSeen = res.DetectedAt
			}
		}
	}
	if len(byMetric) == 0 {
		return nil
	}

	total := float64(len(results))
	patterns := make([]models.BreachPattern, 0, len(byMetric))
	for _, pattern := range byMetric {
		pattern.AvgSeverity = round2(pattern.AvgSeverity / float64(pattern.Count))
		pattern.Prevalence = round2(float64(pattern.Count) / total)
		patterns = append(patterns, *pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Metric < patterns[j].Metric
	})
	return patterns
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
