package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// actionRule maps a breached metric to its canned remediation advice.
type actionRule struct {
	Metric      string
	Title       string
	Description string
	Priority    models.Priority
	Category    string
	Impact      string
	Timeframe   string
}

// actionRules is evaluated in order so report items come out deterministic.
var actionRules = []actionRule{
	{
		Metric:      "cpu_usage",
		Title:       "Scale out compute capacity",
		Description: "CPU usage exceeded its threshold. Add instances or raise the CPU allocation, and profile hot code paths to remove avoidable work.",
		Priority:    models.PriorityHigh,
		Category:    "compute",
		Impact:      "Restores headroom for request spikes and lowers latency",
		Timeframe:   "1-3 days",
	},
	{
		Metric:      "memory_usage",
		Title:       "Increase memory or fix leaks",
		Description: "Memory usage exceeded its threshold. Raise the memory allocation and inspect long-lived allocations for leaks or unbounded caches.",
		Priority:    models.PriorityHigh,
		Category:    "memory",
		Impact:      "Prevents out-of-memory restarts and swap-induced stalls",
		Timeframe:   "1-3 days",
	},
	{
		Metric:      "latency_ms",
		Title:       "Investigate request latency",
		Description: "Average latency exceeded its threshold. Trace the slowest endpoints, check downstream dependencies and add caching where reads repeat.",
		Priority:    models.PriorityHigh,
		Category:    "performance",
		Impact:      "Improves user-facing response times",
		Timeframe:   "1-3 days",
	},
	{
		Metric:      "disk_usage",
		Title:       "Reclaim or extend disk space",
		Description: "Disk usage exceeded its threshold. Rotate logs, prune stale artifacts and extend the volume before writes start failing.",
		Priority:    models.PriorityCritical,
		Category:    "storage",
		Impact:      "Avoids write failures and service outages from a full disk",
		Timeframe:   "1-3 days",
	},
	{
		Metric:      "io_wait",
		Title:       "Reduce I/O contention",
		Description: "I/O wait exceeded its threshold. Move hot data to faster storage, batch small writes and review queries causing full scans.",
		Priority:    models.PriorityMedium,
		Category:    "storage",
		Impact:      "Frees CPU cycles currently stalled on I/O",
		Timeframe:   "1-2 weeks",
	},
	{
		Metric:      "error_rate",
		Title:       "Drive down the error rate",
		Description: "The error rate exceeded its threshold. Group errors by type, fix the dominant failure mode and add retries with backoff around flaky dependencies.",
		Priority:    models.PriorityCritical,
		Category:    "reliability",
		Impact:      "Directly reduces failed user requests",
		Timeframe:   "1-3 days",
	},
	{
		Metric:      "temperature_celsius",
		Title:       "Address thermal load",
		Description: "Hardware temperature exceeded its threshold. Verify cooling and airflow, and redistribute load away from the hot node.",
		Priority:    models.PriorityMedium,
		Category:    "hardware",
		Impact:      "Prevents thermal throttling and hardware degradation",
		Timeframe:   "1-2 weeks",
	},
	{
		Metric:      "power_consumption_watts",
		Title:       "Review power consumption",
		Description: "Power draw exceeded its threshold. Check for runaway workloads and consolidate underutilised machines onto fewer hosts.",
		Priority:    models.PriorityLow,
		Category:    "efficiency",
		Impact:      "Lowers operating cost and thermal load",
		Timeframe:   "1 month",
	},
}

// ClassicGenerator derives a remediation report from an anomaly result using
// the fixed rule table. Generation is deterministic for a given result.
type ClassicGenerator struct{}

// NewClassicGenerator constructs the rule-based generator.
func NewClassicGenerator() *ClassicGenerator {
	return &ClassicGenerator{}
}

func (g *ClassicGenerator) Method() models.Method {
	return models.MethodClassic
}

// Generate builds the report. Identifier and timestamps are assigned by the
// caller on persistence.
func (g *ClassicGenerator) Generate(_ context.Context, res models.AnomalyResult) (models.RecommendationReport, error) {
	if res.ID == "" {
		return models.RecommendationReport{}, utils.E(utils.KindValidation, "recommend.classic", "anomaly result has no identifier", nil)
	}

	items := make([]models.RecommendationItem, 0, len(actionRules)+2)
	for _, rule := range actionRules {
		if !res.Flags[rule.Metric] {
			continue
		}
		desc := rule.Description
		if check, ok := res.CheckFor(rule.Metric); ok {
			desc = fmt.Sprintf("%s Observed %g against a limit of %g.", desc, check.Value, check.Limit)
		}
		items = append(items, models.RecommendationItem{
			Title:           rule.Title,
			Description:     desc,
			Priority:        rule.Priority,
			Category:        rule.Category,
			EstimatedImpact: rule.Impact,
			Timeframe:       rule.Timeframe,
		})
	}

	if len(res.DegradedServices) > 0 {
		items = append(items, models.RecommendationItem{
			Title:           "Recover degraded services",
			Description:     "The following services are not reporting healthy: " + strings.Join(res.DegradedServices, ", ") + ". Restart or fail them over and confirm their dependencies are reachable.",
			Priority:        models.PriorityHigh,
			Category:        "reliability",
			EstimatedImpact: "Restores full service availability",
			Timeframe:       "1-3 days",
		})
	}

	if len(items) == 0 {
		items = append(items, models.RecommendationItem{
			Title:           "Maintain monitoring baseline",
			Description:     "No thresholds are currently breached. Keep collecting telemetry and review alert thresholds quarterly.",
			Priority:        models.PriorityLow,
			Category:        "monitoring",
			EstimatedImpact: "Sustains early detection of regressions",
			Timeframe:       "1 month",
		})
	}

	priority := models.PriorityForSeverity(res.SeverityScore)

	return models.RecommendationReport{
		AnomalyID:               res.ID,
		ExecutiveSummary:        executiveSummary(res, priority),
		DetailedAnalysis:        detailedAnalysis(res),
		Items:                   items,
		Priority:                priority,
		EstimatedImpact:         impactFor(priority),
		ImplementationTimeframe: timeframeFor(priority),
		Method:                  models.MethodClassic,
	}, nil
}

func executiveSummary(res models.AnomalyResult, priority models.Priority) string {
	breached := res.BreachedMetrics()
	if len(breached) == 0 && len(res.DegradedServices) == 0 {
		return "Infrastructure is operating within all configured thresholds. No remediation is required."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Severity %.1f (%s priority).", res.SeverityScore, priority)
	if len(breached) > 0 {
		fmt.Fprintf(&b, " %d metric(s) breached thresholds: %s.", len(breached), strings.Join(breached, ", "))
	}
	if len(res.DegradedServices) > 0 {
		fmt.Fprintf(&b, " %d service(s) degraded: %s.", len(res.DegradedServices), strings.Join(res.DegradedServices, ", "))
	}
	return b.String()
}

func detailedAnalysis(res models.AnomalyResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of result %s (method %s): %s", res.ID, res.Method, res.Summary)
	if len(res.Checks) > 0 {
		b.WriteString(" Evaluated checks:")
		for _, check := range res.Checks {
			state := "ok"
			if check.Breached {
				state = "breached"
			}
			fmt.Fprintf(&b, " %s=%g/%g %s;", check.Metric, check.Value, check.Limit, state)
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

func impactFor(p models.Priority) string {
	switch p {
	case models.PriorityHigh, models.PriorityCritical:
		return "High: addressing these issues should measurably improve stability and performance"
	case models.PriorityMedium:
		return "Moderate: addressing these issues reduces the risk of escalation"
	default:
		return "Low: preventive improvements with no immediate risk"
	}
}

func timeframeFor(p models.Priority) string {
	switch p {
	case models.PriorityHigh, models.PriorityCritical:
		return "1-3 days"
	case models.PriorityMedium:
		return "1-2 weeks"
	default:
		return "1 month"
	}
}
