package detector

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// ClassicDetector flags metrics breaching their configured thresholds.
// Detection is a pure function of the snapshot and the rule table; identical
// input yields byte-identical output.
type ClassicDetector struct {
	rules []ThresholdRule
}

// NewClassicDetector constructs a detector over the given rule table.
// A nil table falls back to the built-in defaults.
func NewClassicDetector(rules []ThresholdRule) *ClassicDetector {
	if len(rules) == 0 {
		rules = DefaultThresholds()
	}
	return &ClassicDetector{rules: rules}
}

// Method reports the provenance tag for results of this detector.
func (d *ClassicDetector) Method() models.Method {
	return models.MethodClassic
}

// Detect evaluates every rule whose metric the snapshot carries and
// aggregates the breaches into an AnomalyResult. Identifier and timestamps
// are assigned by the caller on persistence.
func (d *ClassicDetector) Detect(_ context.Context, snap models.MetricSnapshot) (models.AnomalyResult, error) {
	if snap.ID == "" {
		return models.AnomalyResult{}, utils.E(utils.KindValidation, "detector.classic", "snapshot has no identifier", nil)
	}

	checks := make([]models.MetricCheck, 0, len(d.rules))
	flags := make(map[string]bool, len(d.rules))
	breached := 0
	for _, rule := range d.rules {
		value, ok := snap.Value(rule.Metric)
		if !ok {
			continue
		}
		hit := rule.Breached(value)
		checks = append(checks, models.MetricCheck{
			Metric:   rule.Metric,
			Value:    value,
			Limit:    rule.Limit,
			Breached: hit,
		})
		flags[rule.Metric] = hit
		if hit {
			breached++
		}
	}

	severity := 0.0
	if len(checks) > 0 {
		severity = roundOneDecimal(float64(breached) / float64(len(checks)) * 10)
	}

	degraded := snap.DegradedServices()

	return models.AnomalyResult{
		SnapshotID:       snap.ID,
		Flags:            flags,
		Checks:           checks,
		DegradedServices: degraded,
		SeverityScore:    severity,
		Summary:          d.summarise(checks, degraded),
		Method:           models.MethodClassic,
	}, nil
}

// summarise names each breached metric with its observed value versus limit,
// in rule-table order.
func (d *ClassicDetector) summarise(checks []models.MetricCheck, degraded []string) string {
	parts := make([]string, 0, len(checks))
	for _, check := range checks {
		if !check.Breached {
			continue
		}
		rule := d.ruleFor(check.Metric)
		parts = append(parts, fmt.Sprintf("%s %s %s %s",
			check.Metric, formatValue(check.Value), rule.symbol(), formatValue(check.Limit)))
	}

	var summary string
	if len(parts) == 0 {
		summary = "no anomalies detected"
	} else {
		summary = "thresholds exceeded: " + strings.Join(parts, "; ")
	}
	if len(degraded) > 0 {
		summary += "; degraded services: " + strings.Join(degraded, ", ")
	}
	return summary
}

func (d *ClassicDetector) ruleFor(metric string) ThresholdRule {
	for _, rule := range d.rules {
		if rule.Metric == metric {
			return rule
		}
	}
	return ThresholdRule{Metric: metric}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
