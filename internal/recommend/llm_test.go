package recommend

import (
	"context"
	"testing"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Complete(context.Context, string, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func TestLLMGenerateParsesReply(t *testing.T) {
	stub := &stubClient{reply: "```json\n" + `{
		"executive_summary": "CPU pressure is degrading latency.",
		"detailed_analysis": "Sustained CPU saturation correlates with elevated latency.",
		"recommendations": [
			{"title": "Add capacity", "description": "Scale out the web tier.", "priority": "high", "category": "compute"},
			{"title": "Tune GC", "description": "Reduce allocation churn.", "priority": "weird", "category": "performance"}
		],
		"priority_level": "high",
		"estimated_impact": "Latency should return to baseline.",
		"implementation_timeframe": "1-3 days"
	}` + "\n```"}

	report, err := NewLLMGenerator(stub).Generate(context.Background(), anomalyFixture(7.5, "cpu_usage"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Priority != models.PriorityHigh {
		t.Fatalf("unexpected priority %q", report.Priority)
	}
	if len(report.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(report.Items))
	}
	// Unknown tiers fall back to medium.
	if report.Items[1].Priority != models.PriorityMedium {
		t.Fatalf("expected medium fallback, got %q", report.Items[1].Priority)
	}
	if report.Method != models.MethodLLM {
		t.Fatalf("unexpected method %q", report.Method)
	}
	if report.AnomalyID != "anom-1" {
		t.Fatalf("unexpected anomaly id %q", report.AnomalyID)
	}
}

func TestLLMGenerateBadReply(t *testing.T) {
	stub := &stubClient{reply: "no recommendations today"}
	_, err := NewLLMGenerator(stub).Generate(context.Background(), anomalyFixture(5, "cpu_usage"))
	if err == nil {
		t.Fatal("expected error")
	}
	if utils.KindOf(err) != utils.KindParse {
		t.Fatalf("unexpected kind %q", utils.KindOf(err))
	}
}

func TestLLMGenerateMissingRecommendations(t *testing.T) {
	stub := &stubClient{reply: `{"executive_summary":"fine","recommendations":[]}`}
	_, err := NewLLMGenerator(stub).Generate(context.Background(), anomalyFixture(5, "cpu_usage"))
	if err == nil {
		t.Fatal("expected error")
	}
	if utils.KindOf(err) != utils.KindParse {
		t.Fatalf("unexpected kind %q", utils.KindOf(err))
	}
}

func TestLLMGenerateUnconfigured(t *testing.T) {
	_, err := NewLLMGenerator(nil).Generate(context.Background(), anomalyFixture(5, "cpu_usage"))
	if err == nil {
		t.Fatal("expected error")
	}
	if utils.KindOf(err) != utils.KindUnavailable {
		t.Fatalf("unexpected kind %q", utils.KindOf(err))
	}
}
