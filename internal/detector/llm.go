package detector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/miradorstack/infra-optimizer/internal/llm"
	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// CompletionClient is the narrow slice of the LLM client the detector needs.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMDetector delegates anomaly judgement to a hosted completion service.
// A failed or unparseable call surfaces as an error; there is no silent
// fallback to the classic path.
type LLMDetector struct {
	client CompletionClient
}

// NewLLMDetector wraps a completion client. A nil client yields a detector
// that reports the capability as unavailable.
func NewLLMDetector(client CompletionClient) *LLMDetector {
	return &LLMDetector{client: client}
}

func (d *LLMDetector) Method() models.Method {
	return models.MethodLLM
}

const detectSystemPrompt = `You are an infrastructure monitoring expert. Analyze the telemetry snapshot and respond with ONLY a JSON object of this exact shape:
{"anomalies": {"<metric_name>": true|false, ...}, "severity_score": <number 0-10>, "confidence": <number 0-1>, "summary": "<one sentence>"}
Flag a metric true only when its value indicates a problem. Consider cpu_usage, memory_usage, latency_ms, disk_usage, io_wait, error_rate, temperature_celsius and power_consumption_watts, plus any degraded services.`

type llmDetection struct {
	Anomalies     map[string]bool `json:"anomalies"`
	SeverityScore float64         `json:"severity_score"`
	Confidence    float64         `json:"confidence"`
	Summary       string          `json:"summary"`
}

// Detect sends the snapshot to the completion service and parses its verdict.
func (d *LLMDetector) Detect(ctx context.Context, snap models.MetricSnapshot) (models.AnomalyResult, error) {
	const op = "detector.llm"

	if d.client == nil {
		return models.AnomalyResult{}, utils.E(utils.KindUnavailable, op, "llm detection is not configured", nil)
	}
	if snap.ID == "" {
		return models.AnomalyResult{}, utils.E(utils.KindValidation, op, "snapshot has no identifier", nil)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return models.AnomalyResult{}, utils.E(utils.KindInternal, op, "marshal snapshot", err)
	}
	user := fmt.Sprintf("Telemetry snapshot:\n%s", payload)

	raw, err := d.client.Complete(ctx, detectSystemPrompt, user)
	if err != nil {
		return models.AnomalyResult{}, err
	}

	cleaned, err := llm.ExtractJSON(raw)
	if err != nil {
		return models.AnomalyResult{}, utils.EDetail(utils.KindParse, op, "llm reply is not JSON", raw, err)
	}
	var parsed llmDetection
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return models.AnomalyResult{}, utils.EDetail(utils.KindParse, op, "llm reply does not match detection shape", raw, err)
	}
	if parsed.Summary == "" {
		return models.AnomalyResult{}, utils.EDetail(utils.KindParse, op, "llm reply missing summary", raw, nil)
	}

	flags := parsed.Anomalies
	if flags == nil {
		flags = map[string]bool{}
	}

	return models.AnomalyResult{
		SnapshotID:       snap.ID,
		Flags:            flags,
		DegradedServices: snap.DegradedServices(),
		SeverityScore:    clampSeverity(parsed.SeverityScore),
		Confidence:       clampUnit(parsed.Confidence),
		Summary:          parsed.Summary,
		Method:           models.MethodLLM,
	}, nil
}

func clampSeverity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return roundOneDecimal(v)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
