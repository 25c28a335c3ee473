package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshotFixture(id string, created time.Time) models.MetricSnapshot {
	return models.MetricSnapshot{
		ID:                    id,
		Timestamp:             created.Add(-time.Minute),
		CreatedAt:             created,
		CPUUsage:              85.5,
		MemoryUsage:           70,
		LatencyMs:             320,
		DiskUsage:             55,
		NetworkInKbps:         1200,
		NetworkOutKbps:        900,
		IOWait:                12.5,
		ThreadCount:           240,
		ActiveConnections:     87,
		ErrorRate:             0.02,
		UptimeSeconds:         360000,
		TemperatureCelsius:    61,
		PowerConsumptionWatts: 310,
		ServiceStatus: map[string]models.ServiceState{
			"web": models.ServiceOnline,
			"db":  models.ServiceDegraded,
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	want := snapshotFixture("snap-1", now)
	if err := store.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CPUUsage != want.CPUUsage || got.ThreadCount != want.ThreadCount {
		t.Fatalf("numeric fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at mismatch: got %s, want %s", got.CreatedAt, want.CreatedAt)
	}
	if got.ServiceStatus["db"] != models.ServiceDegraded {
		t.Fatalf("service status mismatch: %v", got.ServiceStatus)
	}
}

func TestSaveSnapshotsAllOrNothing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.MetricSnapshot{
		snapshotFixture("a", now),
		snapshotFixture("b", now),
		snapshotFixture("a", now), // duplicate id fails the insert
	}
	if err := store.SaveSnapshots(ctx, batch); err == nil {
		t.Fatal("expected error for duplicate id in batch")
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expected empty store after failed batch, got %d rows", len(snaps))
	}
}

func TestSaveSnapshotsBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.MetricSnapshot{
		snapshotFixture("a", now),
		snapshotFixture("b", now.Add(time.Second)),
	}
	if err := store.SaveSnapshots(ctx, batch); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetSnapshot(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if utils.KindOf(err) != utils.KindNotFound {
		t.Fatalf("unexpected kind %q", utils.KindOf(err))
	}
}

func TestListSnapshotsOrderAndPaging(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 5; i++ {
		snap := snapshotFixture(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	// Newest first.
	if snaps[0].ID != "e" || snaps[2].ID != "c" {
		t.Fatalf("unexpected order: %s, %s, %s", snaps[0].ID, snaps[1].ID, snaps[2].ID)
	}

	page2, err := store.ListSnapshots(ctx, models.ListParams{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "b" {
		t.Fatalf("unexpected second page: %+v", page2)
	}
}

func TestListSnapshotsTimeWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 4; i++ {
		snap := snapshotFixture(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{
		Since: base.Add(30 * time.Minute),
		Until: base.Add(150 * time.Minute),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots in window, got %d", len(snaps))
	}
}

func TestListSnapshotsSinceIncludesFractionalSeconds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	bound := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Created half a second after a whole-second bound; a variable-width
	// timestamp encoding would sort this before the bound and drop it.
	if err := store.SaveSnapshot(ctx, snapshotFixture("frac", bound.Add(500*time.Millisecond))); err != nil {
		t.Fatalf("save: %v", err)
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{Since: bound})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "frac" {
		t.Fatalf("expected fractional-second snapshot within since bound, got %+v", snaps)
	}
}

func TestListSnapshotsOrderWithVariableFractions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SaveSnapshot(ctx, snapshotFixture("older", base.Add(120*time.Millisecond))); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := store.SaveSnapshot(ctx, snapshotFixture("newer", base.Add(123*time.Millisecond))); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	snaps, err := store.ListSnapshots(ctx, models.ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "newer" || snaps[1].ID != "older" {
		t.Fatalf("newest-first violated: %+v", snaps)
	}
}

func TestAnomalyResultRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := store.SaveSnapshot(ctx, snapshotFixture("snap-1", now)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	want := models.AnomalyResult{
		ID:         "anom-1",
		SnapshotID: "snap-1",
		DetectedAt: now,
		Flags:      map[string]bool{"cpu_usage": true, "memory_usage": false},
		Checks: []models.MetricCheck{
			{Metric: "cpu_usage", Value: 85.5, Limit: 80, Breached: true},
		},
		DegradedServices: []string{"db"},
		SeverityScore:    1.3,
		Summary:          "thresholds exceeded: cpu_usage 85.5 > 80",
		Method:           models.MethodClassic,
	}
	if err := store.SaveAnomalyResult(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetAnomalyResult(ctx, "anom-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SeverityScore != 1.3 || !got.Flags["cpu_usage"] {
		t.Fatalf("result mismatch: %+v", got)
	}
	if len(got.Checks) != 1 || got.Checks[0].Metric != "cpu_usage" {
		t.Fatalf("checks mismatch: %+v", got.Checks)
	}
	if len(got.DegradedServices) != 1 || got.DegradedServices[0] != "db" {
		t.Fatalf("degraded services mismatch: %+v", got.DegradedServices)
	}
}

func TestAnomalyResultRequiresSnapshot(t *testing.T) {
	store := openTestStore(t)
	err := store.SaveAnomalyResult(context.Background(), models.AnomalyResult{
		ID:         "anom-1",
		SnapshotID: "missing",
		DetectedAt: time.Now().UTC(),
		Flags:      map[string]bool{},
		Summary:    "x",
		Method:     models.MethodClassic,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestReportRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := store.SaveSnapshot(ctx, snapshotFixture("snap-1", now)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := store.SaveAnomalyResult(ctx, models.AnomalyResult{
		ID: "anom-1", SnapshotID: "snap-1", DetectedAt: now,
		Flags: map[string]bool{"cpu_usage": true}, Summary: "x", Method: models.MethodClassic,
	}); err != nil {
		t.Fatalf("save anomaly: %v", err)
	}

	want := models.RecommendationReport{
		ID:               "rep-1",
		AnomalyID:        "anom-1",
		GeneratedAt:      now,
		ExecutiveSummary: "CPU pressure detected.",
		DetailedAnalysis: "Sustained CPU saturation.",
		Items: []models.RecommendationItem{
			{Title: "Scale out", Description: "Add instances.", Priority: models.PriorityHigh, Category: "compute"},
		},
		Priority:                models.PriorityHigh,
		EstimatedImpact:         "High",
		ImplementationTimeframe: "1-3 days",
		Method:                  models.MethodClassic,
	}
	if err := store.SaveReport(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetReport(ctx, "rep-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Priority != models.PriorityHigh || len(got.Items) != 1 {
		t.Fatalf("report mismatch: %+v", got)
	}
	if got.Items[0].Title != "Scale out" {
		t.Fatalf("items mismatch: %+v", got.Items)
	}

	reports, err := store.ListReports(ctx, models.ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
}

func TestReportRequiresAnomaly(t *testing.T) {
	store := openTestStore(t)
	err := store.SaveReport(context.Background(), models.RecommendationReport{
		ID: "rep-1", AnomalyID: "missing", GeneratedAt: time.Now().UTC(),
		ExecutiveSummary: "x", DetailedAnalysis: "y",
		Priority: models.PriorityLow, Method: models.MethodClassic,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}
