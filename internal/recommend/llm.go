package recommend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/miradorstack/infra-optimizer/internal/llm"
	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// CompletionClient is the narrow slice of the LLM client the generator needs.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMGenerator asks a hosted completion service for remediation advice.
// Failures surface as errors; there is no silent fallback to the rule table.
type LLMGenerator struct {
	client CompletionClient
}

// NewLLMGenerator wraps a completion client. A nil client yields a generator
// that reports the capability as unavailable.
func NewLLMGenerator(client CompletionClient) *LLMGenerator {
	return &LLMGenerator{client: client}
}

func (g *LLMGenerator) Method() models.Method {
	return models.MethodLLM
}

const generateSystemPrompt = `You are an infrastructure optimization expert. Given an anomaly analysis, respond with ONLY a JSON object of this exact shape:
{"executive_summary": "<2-3 sentences>", "detailed_analysis": "<paragraph>", "recommendations": [{"title": "...", "description": "...", "priority": "low|medium|high|critical", "category": "..."}], "priority_level": "low|medium|high|critical", "estimated_impact": "<sentence>", "implementation_timeframe": "<e.g. 1-3 days>"}
Order recommendations from most to least urgent.`

type llmReport struct {
	ExecutiveSummary string `json:"executive_summary"`
	DetailedAnalysis string `json:"detailed_analysis"`
	Recommendations  []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
		Category    string `json:"category"`
	} `json:"recommendations"`
	PriorityLevel           string `json:"priority_level"`
	EstimatedImpact         string `json:"estimated_impact"`
	ImplementationTimeframe string `json:"implementation_timeframe"`
}

// Generate sends the anomaly result to the completion service and parses the
// report it returns.
func (g *LLMGenerator) Generate(ctx context.Context, res models.AnomalyResult) (models.RecommendationReport, error) {
	const op = "recommend.llm"

	if g.client == nil {
		return models.RecommendationReport{}, utils.E(utils.KindUnavailable, op, "llm recommendations are not configured", nil)
	}
	if res.ID == "" {
		return models.RecommendationReport{}, utils.E(utils.KindValidation, op, "anomaly result has no identifier", nil)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return models.RecommendationReport{}, utils.E(utils.KindInternal, op, "marshal anomaly result", err)
	}
	user := fmt.Sprintf("Anomaly analysis:\n%s", payload)

	raw, err := g.client.Complete(ctx, generateSystemPrompt, user)
	if err != nil {
		return models.RecommendationReport{}, err
	}

	cleaned, err := llm.ExtractJSON(raw)
	if err != nil {
		return models.RecommendationReport{}, utils.EDetail(utils.KindParse, op, "llm reply is not JSON", raw, err)
	}
	var parsed llmReport
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return models.RecommendationReport{}, utils.EDetail(utils.KindParse, op, "llm reply does not match report shape", raw, err)
	}
	if parsed.ExecutiveSummary == "" || len(parsed.Recommendations) == 0 {
		return models.RecommendationReport{}, utils.EDetail(utils.KindParse, op, "llm reply missing summary or recommendations", raw, nil)
	}

	items := make([]models.RecommendationItem, 0, len(parsed.Recommendations))
	for _, rec := range parsed.Recommendations {
		items = append(items, models.RecommendationItem{
			Title:       rec.Title,
			Description: rec.Description,
			Priority:    normalisePriority(rec.Priority),
			Category:    rec.Category,
		})
	}

	return models.RecommendationReport{
		AnomalyID:               res.ID,
		ExecutiveSummary:        parsed.ExecutiveSummary,
		DetailedAnalysis:        parsed.DetailedAnalysis,
		Items:                   items,
		Priority:                normalisePriority(parsed.PriorityLevel),
		EstimatedImpact:         parsed.EstimatedImpact,
		ImplementationTimeframe: parsed.ImplementationTimeframe,
		Method:                  models.MethodLLM,
	}, nil
}

// normalisePriority defaults unknown tiers to medium rather than rejecting
// the whole report.
func normalisePriority(v string) models.Priority {
	p := models.Priority(v)
	if models.ValidPriority(p) {
		return p
	}
	return models.PriorityMedium
}
