package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// Store persists snapshots, anomaly results and recommendation reports in a
// local SQLite database. A single connection is used so writes serialise
// without SQLITE_BUSY errors.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	const op = "storage.open"

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, utils.E(utils.KindInternal, op, "create data directory", err)
		}
	}

	db, err := sqlx.Connect("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, utils.E(utils.KindInternal, op, "open database", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, utils.E(utils.KindInternal, op, "apply schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	created_at TEXT NOT NULL,
	cpu_usage REAL NOT NULL,
	memory_usage REAL NOT NULL,
	latency_ms REAL NOT NULL,
	disk_usage REAL NOT NULL,
	network_in_kbps REAL NOT NULL,
	network_out_kbps REAL NOT NULL,
	io_wait REAL NOT NULL,
	thread_count INTEGER NOT NULL,
	active_connections INTEGER NOT NULL,
	error_rate REAL NOT NULL,
	uptime_seconds INTEGER NOT NULL,
	temperature_celsius REAL NOT NULL,
	power_consumption_watts REAL NOT NULL,
	service_status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);

CREATE TABLE IF NOT EXISTS anomaly_results (
	id TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
	detected_at TEXT NOT NULL,
	flags TEXT NOT NULL,
	checks TEXT,
	degraded_services TEXT,
	severity_score REAL NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	summary TEXT NOT NULL,
	method TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomaly_detected ON anomaly_results(detected_at);

CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	anomaly_id TEXT NOT NULL REFERENCES anomaly_results(id),
	generated_at TEXT NOT NULL,
	executive_summary TEXT NOT NULL,
	detailed_analysis TEXT NOT NULL,
	items TEXT NOT NULL,
	priority TEXT NOT NULL,
	estimated_impact TEXT NOT NULL,
	implementation_timeframe TEXT NOT NULL,
	method TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at);
`
	_, err := db.Exec(schema)
	return err
}

type snapshotRow struct {
	ID                    string  `db:"id"`
	TS                    string  `db:"ts"`
	CreatedAt             string  `db:"created_at"`
	CPUUsage              float64 `db:"cpu_usage"`
	MemoryUsage           float64 `db:"memory_usage"`
	LatencyMs             float64 `db:"latency_ms"`
	DiskUsage             float64 `db:"disk_usage"`
	NetworkInKbps         float64 `db:"network_in_kbps"`
	NetworkOutKbps        float64 `db:"network_out_kbps"`
	IOWait                float64 `db:"io_wait"`
	ThreadCount           int     `db:"thread_count"`
	ActiveConnections     int     `db:"active_connections"`
	ErrorRate             float64 `db:"error_rate"`
	UptimeSeconds         int64   `db:"uptime_seconds"`
	TemperatureCelsius    float64 `db:"temperature_celsius"`
	PowerConsumptionWatts float64 `db:"power_consumption_watts"`
	ServiceStatus         string  `db:"service_status"`
}

func toSnapshotRow(snap models.MetricSnapshot) (snapshotRow, error) {
	status, err := json.Marshal(snap.ServiceStatus)
	if err != nil {
		return snapshotRow{}, err
	}
	return snapshotRow{
		ID:                    snap.ID,
		TS:                    formatTime(snap.Timestamp),
		CreatedAt:             formatTime(snap.CreatedAt),
		CPUUsage:              snap.CPUUsage,
		MemoryUsage:           snap.MemoryUsage,
		LatencyMs:             snap.LatencyMs,
		DiskUsage:             snap.DiskUsage,
		NetworkInKbps:         snap.NetworkInKbps,
		NetworkOutKbps:        snap.NetworkOutKbps,
		IOWait:                snap.IOWait,
		ThreadCount:           snap.ThreadCount,
		ActiveConnections:     snap.ActiveConnections,
		ErrorRate:             snap.ErrorRate,
		UptimeSeconds:         snap.UptimeSeconds,
		TemperatureCelsius:    snap.TemperatureCelsius,
		PowerConsumptionWatts: snap.PowerConsumptionWatts,
		ServiceStatus:         string(status),
	}, nil
}

func (r snapshotRow) toModel() (models.MetricSnapshot, error) {
	ts, err := parseTime(r.TS)
	if err != nil {
		return models.MetricSnapshot{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return models.MetricSnapshot{}, err
	}
	var status map[string]models.ServiceState
	if r.ServiceStatus != "" {
		if err := json.Unmarshal([]byte(r.ServiceStatus), &status); err != nil {
			return models.MetricSnapshot{}, err
		}
	}
	return models.MetricSnapshot{
		ID:                    r.ID,
		Timestamp:             ts,
		CreatedAt:             created,
		CPUUsage:              r.CPUUsage,
		MemoryUsage:           r.MemoryUsage,
		LatencyMs:             r.LatencyMs,
		DiskUsage:             r.DiskUsage,
		NetworkInKbps:         r.NetworkInKbps,
		NetworkOutKbps:        r.NetworkOutKbps,
		IOWait:                r.IOWait,
		ThreadCount:           r.ThreadCount,
		ActiveConnections:     r.ActiveConnections,
		ErrorRate:             r.ErrorRate,
		UptimeSeconds:         r.UptimeSeconds,
		TemperatureCelsius:    r.TemperatureCelsius,
		PowerConsumptionWatts: r.PowerConsumptionWatts,
		ServiceStatus:         status,
	}, nil
}

const insertSnapshotSQL = `
INSERT INTO snapshots (
	id, ts, created_at, cpu_usage, memory_usage, latency_ms, disk_usage,
	network_in_kbps, network_out_kbps, io_wait, thread_count, active_connections,
	error_rate, uptime_seconds, temperature_celsius, power_consumption_watts, service_status
) VALUES (
	:id, :ts, :created_at, :cpu_usage, :memory_usage, :latency_ms, :disk_usage,
	:network_in_kbps, :network_out_kbps, :io_wait, :thread_count, :active_connections,
	:error_rate, :uptime_seconds, :temperature_celsius, :power_consumption_watts, :service_status
)`

// SaveSnapshot inserts a validated snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.MetricSnapshot) error {
	const op = "storage.save_snapshot"

	row, err := toSnapshotRow(snap)
	if err != nil {
		return utils.E(utils.KindInternal, op, "encode snapshot", err)
	}
	if _, err := s.db.NamedExecContext(ctx, insertSnapshotSQL, row); err != nil {
		return utils.E(utils.KindInternal, op, "insert snapshot", err)
	}
	return nil
}

// SaveSnapshots inserts a batch in one transaction; either every snapshot is
// stored or none is.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []models.MetricSnapshot) error {
	const op = "storage.save_snapshots"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.E(utils.KindInternal, op, "begin transaction", err)
	}
	for i, snap := range snaps {
		row, err := toSnapshotRow(snap)
		if err != nil {
			tx.Rollback()
			return utils.E(utils.KindInternal, op, fmt.Sprintf("encode snapshot %d", i), err)
		}
		if _, err := tx.NamedExecContext(ctx, insertSnapshotSQL, row); err != nil {
			tx.Rollback()
			return utils.E(utils.KindInternal, op, fmt.Sprintf("insert snapshot %d", i), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.E(utils.KindInternal, op, "commit transaction", err)
	}
	return nil
}

// GetSnapshot fetches one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (models.MetricSnapshot, error) {
	const op = "storage.get_snapshot"

	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricSnapshot{}, utils.E(utils.KindNotFound, op, fmt.Sprintf("snapshot %s not found", id), err)
	}
	if err != nil {
		return models.MetricSnapshot{}, utils.E(utils.KindInternal, op, "query snapshot", err)
	}
	snap, err := row.toModel()
	if err != nil {
		return models.MetricSnapshot{}, utils.E(utils.KindInternal, op, "decode snapshot", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshots ordered newest first.
func (s *Store) ListSnapshots(ctx context.Context, params models.ListParams) ([]models.MetricSnapshot, error) {
	const op = "storage.list_snapshots"
	params = params.Clamp()

	query := `SELECT * FROM snapshots`
	var args []any
	query, args = appendTimeFilter(query, args, "created_at", params)
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, params.Limit, params.Offset)

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.E(utils.KindInternal, op, "query snapshots", err)
	}
	out := make([]models.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toModel()
		if err != nil {
			return nil, utils.E(utils.KindInternal, op, "decode snapshot", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

type anomalyRow struct {
	ID               string  `db:"id"`
	SnapshotID       string  `db:"snapshot_id"`
	DetectedAt       string  `db:"detected_at"`
	Flags            string  `db:"flags"`
	Checks           *string `db:"checks"`
	DegradedServices *string `db:"degraded_services"`
	SeverityScore    float64 `db:"severity_score"`
	Confidence       float64 `db:"confidence"`
	Summary          string  `db:"summary"`
	Method           string  `db:"method"`
}

func toAnomalyRow(res models.AnomalyResult) (anomalyRow, error) {
	flags, err := json.Marshal(res.Flags)
	if err != nil {
		return anomalyRow{}, err
	}
	row := anomalyRow{
		ID:            res.ID,
		SnapshotID:    res.SnapshotID,
		DetectedAt:    formatTime(res.DetectedAt),
		Flags:         string(flags),
		SeverityScore: res.SeverityScore,
		Confidence:    res.Confidence,
		Summary:       res.Summary,
		Method:        string(res.Method),
	}
	if len(res.Checks) > 0 {
		data, err := json.Marshal(res.Checks)
		if err != nil {
			return anomalyRow{}, err
		}
		s := string(data)
		row.Checks = &s
	}
	if len(res.DegradedServices) > 0 {
		data, err := json.Marshal(res.DegradedServices)
		if err != nil {
			return anomalyRow{}, err
		}
		s := string(data)
		row.DegradedServices = &s
	}
	return row, nil
}

func (r anomalyRow) toModel() (models.AnomalyResult, error) {
	detected, err := parseTime(r.DetectedAt)
	if err != nil {
		return models.AnomalyResult{}, err
	}
	var flags map[string]bool
	if err := json.Unmarshal([]byte(r.Flags), &flags); err != nil {
		return models.AnomalyResult{}, err
	}
	res := models.AnomalyResult{
		ID:            r.ID,
		SnapshotID:    r.SnapshotID,
		DetectedAt:    detected,
		Flags:         flags,
		SeverityScore: r.SeverityScore,
		Confidence:    r.Confidence,
		Summary:       r.Summary,
		Method:        models.Method(r.Method),
	}
	if r.Checks != nil {
		if err := json.Unmarshal([]byte(*r.Checks), &res.Checks); err != nil {
			return models.AnomalyResult{}, err
		}
	}
	if r.DegradedServices != nil {
		if err := json.Unmarshal([]byte(*r.DegradedServices), &res.DegradedServices); err != nil {
			return models.AnomalyResult{}, err
		}
	}
	return res, nil
}

// SaveAnomalyResult inserts a completed analysis. The referenced snapshot
// must exist; foreign keys are enforced.
func (s *Store) SaveAnomalyResult(ctx context.Context, res models.AnomalyResult) error {
	const op = "storage.save_anomaly"

	row, err := toAnomalyRow(res)
	if err != nil {
		return utils.E(utils.KindInternal, op, "encode anomaly result", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
INSERT INTO anomaly_results (
	id, snapshot_id, detected_at, flags, checks, degraded_services,
	severity_score, confidence, summary, method
) VALUES (
	:id, :snapshot_id, :detected_at, :flags, :checks, :degraded_services,
	:severity_score, :confidence, :summary, :method
)`, row)
	if err != nil {
		return utils.E(utils.KindInternal, op, "insert anomaly result", err)
	}
	return nil
}

// GetAnomalyResult fetches one analysis by id.
func (s *Store) GetAnomalyResult(ctx context.Context, id string) (models.AnomalyResult, error) {
	const op = "storage.get_anomaly"

	var row anomalyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM anomaly_results WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnomalyResult{}, utils.E(utils.KindNotFound, op, fmt.Sprintf("anomaly result %s not found", id), err)
	}
	if err != nil {
		return models.AnomalyResult{}, utils.E(utils.KindInternal, op, "query anomaly result", err)
	}
	res, err := row.toModel()
	if err != nil {
		return models.AnomalyResult{}, utils.E(utils.KindInternal, op, "decode anomaly result", err)
	}
	return res, nil
}

// ListAnomalyResults returns analyses ordered newest first.
func (s *Store) ListAnomalyResults(ctx context.Context, params models.ListParams) ([]models.AnomalyResult, error) {
	const op = "storage.list_anomalies"
	params = params.Clamp()

	query := `SELECT * FROM anomaly_results`
	var args []any
	query, args = appendTimeFilter(query, args, "detected_at", params)
	query += ` ORDER BY detected_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, params.Limit, params.Offset)

	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.E(utils.KindInternal, op, "query anomaly results", err)
	}
	out := make([]models.AnomalyResult, 0, len(rows))
	for _, row := range rows {
		res, err := row.toModel()
		if err != nil {
			return nil, utils.E(utils.KindInternal, op, "decode anomaly result", err)
		}
		out = append(out, res)
	}
	return out, nil
}

type reportRow struct {
	ID                      string `db:"id"`
	AnomalyID               string `db:"anomaly_id"`
	GeneratedAt             string `db:"generated_at"`
	ExecutiveSummary        string `db:"executive_summary"`
	DetailedAnalysis        string `db:"detailed_analysis"`
	Items                   string `db:"items"`
	Priority                string `db:"priority"`
	EstimatedImpact         string `db:"estimated_impact"`
	ImplementationTimeframe string `db:"implementation_timeframe"`
	Method                  string `db:"method"`
}

func toReportRow(report models.RecommendationReport) (reportRow, error) {
	items, err := json.Marshal(report.Items)
	if err != nil {
		return reportRow{}, err
	}
	return reportRow{
		ID:                      report.ID,
		AnomalyID:               report.AnomalyID,
		GeneratedAt:             formatTime(report.GeneratedAt),
		ExecutiveSummary:        report.ExecutiveSummary,
		DetailedAnalysis:        report.DetailedAnalysis,
		Items:                   string(items),
		Priority:                string(report.Priority),
		EstimatedImpact:         report.EstimatedImpact,
		ImplementationTimeframe: report.ImplementationTimeframe,
		Method:                  string(report.Method),
	}, nil
}

func (r reportRow) toModel() (models.RecommendationReport, error) {
	generated, err := parseTime(r.GeneratedAt)
	if err != nil {
		return models.RecommendationReport{}, err
	}
	var items []models.RecommendationItem
	if err := json.Unmarshal([]byte(r.Items), &items); err != nil {
		return models.RecommendationReport{}, err
	}
	return models.RecommendationReport{
		ID:                      r.ID,
		AnomalyID:               r.AnomalyID,
		GeneratedAt:             generated,
		ExecutiveSummary:        r.ExecutiveSummary,
		DetailedAnalysis:        r.DetailedAnalysis,
		Items:                   items,
		Priority:                models.Priority(r.Priority),
		EstimatedImpact:         r.EstimatedImpact,
		ImplementationTimeframe: r.ImplementationTimeframe,
		Method:                  models.Method(r.Method),
	}, nil
}

// SaveReport inserts a completed recommendation report. The referenced
// anomaly result must exist.
func (s *Store) SaveReport(ctx context.Context, report models.RecommendationReport) error {
	const op = "storage.save_report"

	row, err := toReportRow(report)
	if err != nil {
		return utils.E(utils.KindInternal, op, "encode report", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
INSERT INTO reports (
	id, anomaly_id, generated_at, executive_summary, detailed_analysis,
	items, priority, estimated_impact, implementation_timeframe, method
) VALUES (
	:id, :anomaly_id, :generated_at, :executive_summary, :detailed_analysis,
	:items, :priority, :estimated_impact, :implementation_timeframe, :method
)`, row)
	if err != nil {
		return utils.E(utils.KindInternal, op, "insert report", err)
	}
	return nil
}

// GetReport fetches one report by id.
func (s *Store) GetReport(ctx context.Context, id string) (models.RecommendationReport, error) {
	const op = "storage.get_report"

	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RecommendationReport{}, utils.E(utils.KindNotFound, op, fmt.Sprintf("report %s not found", id), err)
	}
	if err != nil {
		return models.RecommendationReport{}, utils.E(utils.KindInternal, op, "query report", err)
	}
	report, err := row.toModel()
	if err != nil {
		return models.RecommendationReport{}, utils.E(utils.KindInternal, op, "decode report", err)
	}
	return report, nil
}

// ListReports returns reports ordered newest first.
func (s *Store) ListReports(ctx context.Context, params models.ListParams) ([]models.RecommendationReport, error) {
	const op = "storage.list_reports"
	params = params.Clamp()

	query := `SELECT * FROM reports`
	var args []any
	query, args = appendTimeFilter(query, args, "generated_at", params)
	query += ` ORDER BY generated_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, params.Limit, params.Offset)

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.E(utils.KindInternal, op, "query reports", err)
	}
	out := make([]models.RecommendationReport, 0, len(rows))
	for _, row := range rows {
		report, err := row.toModel()
		if err != nil {
			return nil, utils.E(utils.KindInternal, op, "decode report", err)
		}
		out = append(out, report)
	}
	return out, nil
}

func appendTimeFilter(query string, args []any, column string, params models.ListParams) (string, []any) {
	clauses := ""
	if !params.Since.IsZero() {
		clauses += column + " >= ?"
		args = append(args, formatTime(params.Since))
	}
	if !params.Until.IsZero() {
		if clauses != "" {
			clauses += " AND "
		}
		clauses += column + " <= ?"
		args = append(args, formatTime(params.Until))
	}
	if clauses != "" {
		query += " WHERE " + clauses
	}
	return query, args
}

// Timestamps are stored as fixed-width UTC strings so lexicographic SQL
// comparison matches chronological order. RFC3339Nano would trim trailing
// fractional zeros and break ORDER BY and the since/until bounds.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
