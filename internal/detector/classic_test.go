package detector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/infra-optimizer/internal/models"
)

func healthySnapshot() models.MetricSnapshot {
	return models.MetricSnapshot{
		ID:                    "snap-1",
		Timestamp:             time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CPUUsage:              40,
		MemoryUsage:           50,
		LatencyMs:             120,
		DiskUsage:             60,
		NetworkInKbps:         800,
		NetworkOutKbps:        600,
		IOWait:                5,
		ThreadCount:           120,
		ActiveConnections:     40,
		ErrorRate:             0.01,
		UptimeSeconds:         86400,
		TemperatureCelsius:    55,
		PowerConsumptionWatts: 250,
	}
}

func TestDetectSingleBreach(t *testing.T) {
	snap := healthySnapshot()
	snap.CPUUsage = 85

	det := NewClassicDetector(nil)
	res, err := det.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if !res.Flags["cpu_usage"] {
		t.Fatal("cpu_usage should be flagged")
	}
	for metric, breached := range res.Flags {
		if metric != "cpu_usage" && breached {
			t.Fatalf("unexpected flag on %s", metric)
		}
	}
	// One breach out of eight evaluated rules.
	if res.SeverityScore != 1.3 {
		t.Fatalf("expected severity 1.3, got %v", res.SeverityScore)
	}
	if !strings.Contains(res.Summary, "cpu_usage 85 > 80") {
		t.Fatalf("summary missing breach detail: %q", res.Summary)
	}
	if res.Method != models.MethodClassic {
		t.Fatalf("unexpected method %q", res.Method)
	}
	if res.SnapshotID != "snap-1" {
		t.Fatalf("unexpected snapshot id %q", res.SnapshotID)
	}
	if res.ID != "" || !res.DetectedAt.IsZero() {
		t.Fatal("detector must leave identity fields unset")
	}
}

func TestDetectNoBreaches(t *testing.T) {
	det := NewClassicDetector(nil)
	res, err := det.Detect(context.Background(), healthySnapshot())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SeverityScore != 0 {
		t.Fatalf("expected severity 0, got %v", res.SeverityScore)
	}
	if res.Summary != "no anomalies detected" {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
	if len(res.BreachedMetrics()) != 0 {
		t.Fatalf("expected no breached metrics, got %v", res.BreachedMetrics())
	}
}

func TestDetectAllBreaches(t *testing.T) {
	snap := healthySnapshot()
	snap.CPUUsage = 95
	snap.MemoryUsage = 96
	snap.LatencyMs = 900
	snap.DiskUsage = 97
	snap.IOWait = 45
	snap.ErrorRate = 0.2
	snap.TemperatureCelsius = 90
	snap.PowerConsumptionWatts = 600

	det := NewClassicDetector(nil)
	res, err := det.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SeverityScore != 10 {
		t.Fatalf("expected severity 10, got %v", res.SeverityScore)
	}
	if len(res.BreachedMetrics()) != 8 {
		t.Fatalf("expected 8 breached metrics, got %v", res.BreachedMetrics())
	}
}

func TestDetectDeterministic(t *testing.T) {
	snap := healthySnapshot()
	snap.CPUUsage = 85
	snap.ErrorRate = 0.1
	snap.ServiceStatus = map[string]models.ServiceState{
		"db":    models.ServiceDegraded,
		"cache": models.ServiceOffline,
		"web":   models.ServiceOnline,
	}

	det := NewClassicDetector(nil)
	first, err := det.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	second, err := det.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("detection not deterministic:\n%s\n%s", a, b)
	}
	if !strings.Contains(first.Summary, "degraded services: cache, db") {
		t.Fatalf("summary missing degraded services: %q", first.Summary)
	}
	// Degraded services never count toward the severity ratio.
	if first.SeverityScore != 2.5 {
		t.Fatalf("expected severity 2.5, got %v", first.SeverityScore)
	}
}

func TestDetectSeverityMonotonic(t *testing.T) {
	det := NewClassicDetector(nil)
	snap := healthySnapshot()

	prev := -1.0
	breach := []func(*models.MetricSnapshot){
		func(s *models.MetricSnapshot) { s.CPUUsage = 99 },
		func(s *models.MetricSnapshot) { s.MemoryUsage = 99 },
		func(s *models.MetricSnapshot) { s.LatencyMs = 999 },
		func(s *models.MetricSnapshot) { s.DiskUsage = 99 },
		func(s *models.MetricSnapshot) { s.IOWait = 99 },
	}
	for i, apply := range breach {
		apply(&snap)
		res, err := det.Detect(context.Background(), snap)
		if err != nil {
			t.Fatalf("detect %d: %v", i, err)
		}
		if res.SeverityScore <= prev {
			t.Fatalf("severity not increasing at step %d: %v <= %v", i, res.SeverityScore, prev)
		}
		prev = res.SeverityScore
	}
}

func TestDetectCustomLessThanRule(t *testing.T) {
	rules := []ThresholdRule{
		{Metric: "uptime_seconds", Limit: 3600, Direction: LessThan},
		{Metric: "cpu_usage", Limit: 80},
	}
	snap := healthySnapshot()
	snap.UptimeSeconds = 120

	det := NewClassicDetector(rules)
	res, err := det.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.Flags["uptime_seconds"] {
		t.Fatal("uptime_seconds should be flagged below its floor")
	}
	if res.SeverityScore != 5 {
		t.Fatalf("expected severity 5, got %v", res.SeverityScore)
	}
	if !strings.Contains(res.Summary, "uptime_seconds 120 < 3600") {
		t.Fatalf("summary missing less-than detail: %q", res.Summary)
	}
}

func TestDetectRejectsUnidentifiedSnapshot(t *testing.T) {
	snap := healthySnapshot()
	snap.ID = ""
	if _, err := NewClassicDetector(nil).Detect(context.Background(), snap); err == nil {
		t.Fatal("expected error for snapshot without id")
	}
}

func TestLoadThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	data := []byte(`thresholds:
  - metric: cpu_usage
    limit: 70
  - metric: uptime_seconds
    limit: 600
    direction: lt
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write thresholds: %v", err)
	}

	rules, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Metric != "cpu_usage" || rules[0].Limit != 70 {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Direction != LessThan {
		t.Fatalf("unexpected direction: %q", rules[1].Direction)
	}
}

func TestLoadThresholdsMissingFileFallsBack(t *testing.T) {
	rules, err := LoadThresholds(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != len(DefaultThresholds()) {
		t.Fatalf("expected default table, got %d rules", len(rules))
	}
}

func TestLoadThresholdsRejectsUnknownDirection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	data := []byte(`thresholds:
  - metric: cpu_usage
    limit: 70
    direction: sideways
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write thresholds: %v", err)
	}
	if _, err := LoadThresholds(path); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}
