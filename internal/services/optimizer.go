package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/infra-optimizer/internal/cache"
	"github.com/miradorstack/infra-optimizer/internal/insights"
	"github.com/miradorstack/infra-optimizer/internal/metrics"
	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

const breachPatternsKey = "insights:breach_patterns"

// Store defines the persistence operations the service requires.
type Store interface {
	SaveSnapshot(ctx context.Context, snap models.MetricSnapshot) error
	SaveSnapshots(ctx context.Context, snaps []models.MetricSnapshot) error
	GetSnapshot(ctx context.Context, id string) (models.MetricSnapshot, error)
	ListSnapshots(ctx context.Context, params models.ListParams) ([]models.MetricSnapshot, error)

	SaveAnomalyResult(ctx context.Context, res models.AnomalyResult) error
	GetAnomalyResult(ctx context.Context, id string) (models.AnomalyResult, error)
	ListAnomalyResults(ctx context.Context, params models.ListParams) ([]models.AnomalyResult, error)

	SaveReport(ctx context.Context, report models.RecommendationReport) error
	GetReport(ctx context.Context, id string) (models.RecommendationReport, error)
	ListReports(ctx context.Context, params models.ListParams) ([]models.RecommendationReport, error)
}

// Detector is one anomaly detection strategy.
type Detector interface {
	Method() models.Method
	Detect(ctx context.Context, snap models.MetricSnapshot) (models.AnomalyResult, error)
}

// Generator is one recommendation strategy.
type Generator interface {
	Method() models.Method
	Generate(ctx context.Context, res models.AnomalyResult) (models.RecommendationReport, error)
}

// OptimizerService orchestrates ingestion, analysis and recommendation.
// Analysis and recommendation never persist partial records: storage happens
// only after the chosen strategy has fully succeeded.
type OptimizerService struct {
	logger      *slog.Logger
	store       Store
	cache       cache.Provider
	aggregator  *insights.Aggregator
	insightsTTL time.Duration

	detectors  map[models.Method]Detector
	generators map[models.Method]Generator
	latencies  *utils.LatencyTracker
}

// NewOptimizerService wires the service facade. Absent strategies surface as
// unavailable at call time rather than at construction.
func NewOptimizerService(logger *slog.Logger, store Store, cacheProvider cache.Provider, detectors []Detector, generators []Generator, insightsTTL time.Duration) *OptimizerService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewMemoryProvider()
	}
	if insightsTTL <= 0 {
		insightsTTL = 5 * time.Minute
	}

	detectorMap := make(map[models.Method]Detector, len(detectors))
	for _, d := range detectors {
		detectorMap[d.Method()] = d
	}
	generatorMap := make(map[models.Method]Generator, len(generators))
	for _, g := range generators {
		generatorMap[g.Method()] = g
	}

	return &OptimizerService{
		logger:      logger,
		store:       store,
		cache:       cacheProvider,
		aggregator:  insights.NewAggregator(),
		insightsTTL: insightsTTL,
		detectors:   detectorMap,
		generators:  generatorMap,
		latencies:   utils.NewLatencyTracker(1024),
	}
}

// Ingest stamps and stores a validated snapshot.
func (s *OptimizerService) Ingest(ctx context.Context, snap models.MetricSnapshot) (models.MetricSnapshot, error) {
	snap.ID = uuid.NewString()
	snap.CreatedAt = time.Now().UTC()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = snap.CreatedAt
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return models.MetricSnapshot{}, err
	}
	metrics.ObserveIngest()
	s.logger.Debug("snapshot ingested", slog.String("snapshot_id", snap.ID))
	return snap, nil
}

// IngestBatch stamps and stores multiple snapshots in one transaction; a
// failure anywhere persists nothing.
func (s *OptimizerService) IngestBatch(ctx context.Context, snaps []models.MetricSnapshot) ([]models.MetricSnapshot, error) {
	now := time.Now().UTC()
	out := make([]models.MetricSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		snap.ID = uuid.NewString()
		snap.CreatedAt = now
		if snap.Timestamp.IsZero() {
			snap.Timestamp = now
		}
		out = append(out, snap)
	}

	if err := s.store.SaveSnapshots(ctx, out); err != nil {
		return nil, err
	}
	for range out {
		metrics.ObserveIngest()
	}
	s.logger.Debug("snapshot batch ingested", slog.Int("count", len(out)))
	return out, nil
}

// GetSnapshot returns one stored snapshot.
func (s *OptimizerService) GetSnapshot(ctx context.Context, id string) (models.MetricSnapshot, error) {
	return s.store.GetSnapshot(ctx, id)
}

// ListSnapshots returns stored snapshots newest first.
func (s *OptimizerService) ListSnapshots(ctx context.Context, params models.ListParams) ([]models.MetricSnapshot, error) {
	return s.store.ListSnapshots(ctx, params)
}

// Analyze runs the requested detection strategy over a stored snapshot and
// persists the result.
func (s *OptimizerService) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnomalyResult, error) {
	const op = "service.analyze"

	method, ok := models.ParseMethod(req.Method)
	if !ok {
		return models.AnomalyResult{}, utils.E(utils.KindValidation, op, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
	detector, ok := s.detectors[method]
	if !ok {
		return models.AnomalyResult{}, utils.E(utils.KindUnavailable, op, fmt.Sprintf("method %q is not configured", method), nil)
	}

	snap, err := s.store.GetSnapshot(ctx, req.SnapshotID)
	if err != nil {
		return models.AnomalyResult{}, err
	}

	start := time.Now()
	result, err := detector.Detect(ctx, snap)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(string(method), duration, metrics.OutcomeError)
		s.logger.Error("analysis failed",
			slog.String("snapshot_id", snap.ID),
			slog.String("method", string(method)),
			slog.Any("error", err))
		return models.AnomalyResult{}, err
	}

	result.ID = uuid.NewString()
	result.SnapshotID = snap.ID
	result.DetectedAt = time.Now().UTC()
	if err := s.store.SaveAnomalyResult(ctx, result); err != nil {
		metrics.ObserveAnalysis(string(method), duration, metrics.OutcomeError)
		return models.AnomalyResult{}, err
	}

	s.invalidateInsights(ctx)
	s.latencies.Observe(duration)
	metrics.ObserveAnalysis(string(method), duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Int("samples", count),
			slog.Duration("p95", s.latencies.Percentile(95)))
	}
	s.logger.Debug("analysis stored",
		slog.String("result_id", result.ID),
		slog.String("method", string(method)),
		slog.Float64("severity", result.SeverityScore))
	return result, nil
}

// GetAnalysis returns one stored anomaly result.
func (s *OptimizerService) GetAnalysis(ctx context.Context, id string) (models.AnomalyResult, error) {
	return s.store.GetAnomalyResult(ctx, id)
}

// ListAnalyses returns stored anomaly results newest first.
func (s *OptimizerService) ListAnalyses(ctx context.Context, params models.ListParams) ([]models.AnomalyResult, error) {
	return s.store.ListAnomalyResults(ctx, params)
}

// Recommend runs the requested generation strategy over a stored anomaly
// result and persists the report.
func (s *OptimizerService) Recommend(ctx context.Context, req models.GenerateRequest) (models.RecommendationReport, error) {
	const op = "service.recommend"

	method, ok := models.ParseMethod(req.Method)
	if !ok {
		return models.RecommendationReport{}, utils.E(utils.KindValidation, op, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
	generator, ok := s.generators[method]
	if !ok {
		return models.RecommendationReport{}, utils.E(utils.KindUnavailable, op, fmt.Sprintf("method %q is not configured", method), nil)
	}

	result, err := s.store.GetAnomalyResult(ctx, req.AnomalyID)
	if err != nil {
		return models.RecommendationReport{}, err
	}

	report, err := generator.Generate(ctx, result)
	if err != nil {
		metrics.ObserveReport(string(method), metrics.OutcomeError)
		s.logger.Error("recommendation failed",
			slog.String("anomaly_id", result.ID),
			slog.String("method", string(method)),
			slog.Any("error", err))
		return models.RecommendationReport{}, err
	}

	report.ID = uuid.NewString()
	report.AnomalyID = result.ID
	report.GeneratedAt = time.Now().UTC()
	if err := s.store.SaveReport(ctx, report); err != nil {
		metrics.ObserveReport(string(method), metrics.OutcomeError)
		return models.RecommendationReport{}, err
	}

	metrics.ObserveReport(string(method), metrics.OutcomeSuccess)
	s.logger.Debug("report stored",
		slog.String("report_id", report.ID),
		slog.String("priority", string(report.Priority)))
	return report, nil
}

// GetReport returns one stored recommendation report.
func (s *OptimizerService) GetReport(ctx context.Context, id string) (models.RecommendationReport, error) {
	return s.store.GetReport(ctx, id)
}

// ListReports returns stored reports newest first.
func (s *OptimizerService) ListReports(ctx context.Context, params models.ListParams) ([]models.RecommendationReport, error) {
	return s.store.ListReports(ctx, params)
}

// BreachPatterns mines recent anomaly results for recurring breaches. Results
// are cached and invalidated whenever a new analysis is stored.
func (s *OptimizerService) BreachPatterns(ctx context.Context) ([]models.BreachPattern, error) {
	if data, err := s.cache.Get(ctx, breachPatternsKey); err == nil {
		var patterns []models.BreachPattern
		if err := json.Unmarshal(data, &patterns); err == nil {
			return patterns, nil
		}
	}

	results, err := s.store.ListAnomalyResults(ctx, models.ListParams{Limit: 500})
	if err != nil {
		return nil, err
	}
	patterns := s.aggregator.BreachPatterns(results)

	if data, err := json.Marshal(patterns); err == nil {
		if err := s.cache.Set(ctx, breachPatternsKey, data, s.insightsTTL); err != nil {
			s.logger.Warn("insights cache write failed", slog.Any("error", err))
		}
	}
	return patterns, nil
}

func (s *OptimizerService) invalidateInsights(ctx context.Context) {
	if err := s.cache.Del(ctx, breachPatternsKey); err != nil {
		s.logger.Warn("insights cache invalidation failed", slog.Any("error", err))
	}
}
