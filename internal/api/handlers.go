package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/miradorstack/infra-optimizer/internal/models"
	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// Service is the application surface the HTTP layer exposes.
type Service interface {
	Ingest(ctx context.Context, snap models.MetricSnapshot) (models.MetricSnapshot, error)
	IngestBatch(ctx context.Context, snaps []models.MetricSnapshot) ([]models.MetricSnapshot, error)
	GetSnapshot(ctx context.Context, id string) (models.MetricSnapshot, error)
	ListSnapshots(ctx context.Context, params models.ListParams) ([]models.MetricSnapshot, error)

	Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnomalyResult, error)
	GetAnalysis(ctx context.Context, id string) (models.AnomalyResult, error)
	ListAnalyses(ctx context.Context, params models.ListParams) ([]models.AnomalyResult, error)

	Recommend(ctx context.Context, req models.GenerateRequest) (models.RecommendationReport, error)
	GetReport(ctx context.Context, id string) (models.RecommendationReport, error)
	ListReports(ctx context.Context, params models.ListParams) ([]models.RecommendationReport, error)

	BreachPatterns(ctx context.Context) ([]models.BreachPattern, error)
}

// Handler routes HTTP requests to the optimizer service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes builds the router with CORS applied. An empty origin list allows
// same-origin traffic only.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/metrics/ingest", h.handleIngest).Methods(http.MethodPost)
	v1.HandleFunc("/metrics", h.handleListSnapshots).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/{id}", h.handleGetSnapshot).Methods(http.MethodGet)

	v1.HandleFunc("/analysis/analyze", h.handleAnalyze).Methods(http.MethodPost)
	v1.HandleFunc("/analysis/results", h.handleListAnalyses).Methods(http.MethodGet)
	v1.HandleFunc("/analysis/results/{id}", h.handleGetAnalysis).Methods(http.MethodGet)

	v1.HandleFunc("/recommendations/generate", h.handleRecommend).Methods(http.MethodPost)
	v1.HandleFunc("/recommendations/reports", h.handleListReports).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations/reports/{id}", h.handleGetReport).Methods(http.MethodGet)

	v1.HandleFunc("/insights/breach-patterns", h.handleBreachPatterns).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshotPayload mirrors MetricSnapshot with pointer fields so absent and
// zero values can be told apart during validation.
type snapshotPayload struct {
	Timestamp             *time.Time                     `json:"timestamp"`
	CPUUsage              *float64                       `json:"cpu_usage"`
	MemoryUsage           *float64                       `json:"memory_usage"`
	LatencyMs             *float64                       `json:"latency_ms"`
	DiskUsage             *float64                       `json:"disk_usage"`
	NetworkInKbps         *float64                       `json:"network_in_kbps"`
	NetworkOutKbps        *float64                       `json:"network_out_kbps"`
	IOWait                *float64                       `json:"io_wait"`
	ThreadCount           *int                           `json:"thread_count"`
	ActiveConnections     *int                           `json:"active_connections"`
	ErrorRate             *float64                       `json:"error_rate"`
	UptimeSeconds         *int64                         `json:"uptime_seconds"`
	TemperatureCelsius    *float64                       `json:"temperature_celsius"`
	PowerConsumptionWatts *float64                       `json:"power_consumption_watts"`
	ServiceStatus         map[string]models.ServiceState `json:"service_status"`
}

func (p snapshotPayload) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"cpu_usage", p.CPUUsage != nil},
		{"memory_usage", p.MemoryUsage != nil},
		{"latency_ms", p.LatencyMs != nil},
		{"disk_usage", p.DiskUsage != nil},
		{"network_in_kbps", p.NetworkInKbps != nil},
		{"network_out_kbps", p.NetworkOutKbps != nil},
		{"io_wait", p.IOWait != nil},
		{"thread_count", p.ThreadCount != nil},
		{"active_connections", p.ActiveConnections != nil},
		{"error_rate", p.ErrorRate != nil},
		{"uptime_seconds", p.UptimeSeconds != nil},
		{"temperature_celsius", p.TemperatureCelsius != nil},
		{"power_consumption_watts", p.PowerConsumptionWatts != nil},
	}
	var missing []string
	for _, field := range required {
		if !field.ok {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	percent := []struct {
		name  string
		value float64
	}{
		{"cpu_usage", *p.CPUUsage},
		{"memory_usage", *p.MemoryUsage},
		{"disk_usage", *p.DiskUsage},
		{"io_wait", *p.IOWait},
	}
	for _, field := range percent {
		if field.value < 0 || field.value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", field.name)
		}
	}
	if *p.ErrorRate < 0 || *p.ErrorRate > 1 {
		return fmt.Errorf("error_rate must be between 0 and 1")
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"latency_ms", *p.LatencyMs},
		{"network_in_kbps", *p.NetworkInKbps},
		{"network_out_kbps", *p.NetworkOutKbps},
		{"thread_count", float64(*p.ThreadCount)},
		{"active_connections", float64(*p.ActiveConnections)},
		{"uptime_seconds", float64(*p.UptimeSeconds)},
		{"power_consumption_watts", *p.PowerConsumptionWatts},
	}
	for _, field := range nonNegative {
		if field.value < 0 {
			return fmt.Errorf("%s must not be negative", field.name)
		}
	}
	for name, state := range p.ServiceStatus {
		if !models.ValidServiceState(state) {
			return fmt.Errorf("service %s has unknown state %q", name, state)
		}
	}
	return nil
}

func (p snapshotPayload) toModel() models.MetricSnapshot {
	snap := models.MetricSnapshot{
		CPUUsage:              *p.CPUUsage,
		MemoryUsage:           *p.MemoryUsage,
		LatencyMs:             *p.LatencyMs,
		DiskUsage:             *p.DiskUsage,
		NetworkInKbps:         *p.NetworkInKbps,
		NetworkOutKbps:        *p.NetworkOutKbps,
		IOWait:                *p.IOWait,
		ThreadCount:           *p.ThreadCount,
		ActiveConnections:     *p.ActiveConnections,
		ErrorRate:             *p.ErrorRate,
		UptimeSeconds:         *p.UptimeSeconds,
		TemperatureCelsius:    *p.TemperatureCelsius,
		PowerConsumptionWatts: *p.PowerConsumptionWatts,
		ServiceStatus:         p.ServiceStatus,
	}
	if p.Timestamp != nil {
		snap.Timestamp = *p.Timestamp
	}
	return snap
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, utils.E(utils.KindValidation, "api.ingest", "unreadable request body", err))
		return
	}

	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var payloads []snapshotPayload
		if err := json.Unmarshal(body, &payloads); err != nil {
			h.writeError(w, utils.E(utils.KindValidation, "api.ingest", "malformed JSON body", err))
			return
		}
		snaps := make([]models.MetricSnapshot, 0, len(payloads))
		for i, payload := range payloads {
			if err := payload.validate(); err != nil {
				h.writeError(w, utils.E(utils.KindValidation, "api.ingest", fmt.Sprintf("snapshot %d: %v", i, err), nil))
				return
			}
			snaps = append(snaps, payload.toModel())
		}
		stored, err := h.service.IngestBatch(r.Context(), snaps)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"snapshots": stored})
		return
	}

	var payload snapshotPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, utils.E(utils.KindValidation, "api.ingest", "malformed JSON body", err))
		return
	}
	if err := payload.validate(); err != nil {
		h.writeError(w, utils.E(utils.KindValidation, "api.ingest", err.Error(), nil))
		return
	}
	stored, err := h.service.Ingest(r.Context(), payload.toModel())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	params, err := listParamsFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snaps, err := h.service.ListSnapshots(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, utils.E(utils.KindValidation, "api.analyze", "malformed JSON body", err))
		return
	}
	if req.SnapshotID == "" {
		h.writeError(w, utils.E(utils.KindValidation, "api.analyze", "snapshot_id is required", nil))
		return
	}
	if req.Method == "" {
		req.Method = string(models.MethodClassic)
	}
	result, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	params, err := listParamsFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	results, err := h.service.ListAnalyses(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetAnalysis(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, utils.E(utils.KindValidation, "api.recommend", "malformed JSON body", err))
		return
	}
	if req.AnomalyID == "" {
		h.writeError(w, utils.E(utils.KindValidation, "api.recommend", "anomaly_id is required", nil))
		return
	}
	if req.Method == "" {
		req.Method = string(models.MethodClassic)
	}
	report, err := h.service.Recommend(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	params, err := listParamsFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	reports, err := h.service.ListReports(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleBreachPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.service.BreachPatterns(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if patterns == nil {
		patterns = []models.BreachPattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func listParamsFromQuery(r *http.Request) (models.ListParams, error) {
	const op = "api.list"
	q := r.URL.Query()
	var params models.ListParams

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return params, utils.E(utils.KindValidation, op, "limit must be an integer", err)
		}
		params.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return params, utils.E(utils.KindValidation, op, "offset must be an integer", err)
		}
		params.Offset = offset
	}
	if v := q.Get("since"); v != "" {
		since, err := utils.ParseRFC3339(v)
		if err != nil {
			return params, utils.E(utils.KindValidation, op, "since must be RFC3339", err)
		}
		params.Since = since
	}
	if v := q.Get("until"); v != "" {
		until, err := utils.ParseRFC3339(v)
		if err != nil {
			return params, utils.E(utils.KindValidation, op, "until must be RFC3339", err)
		}
		params.Until = until
	}
	return params, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForKind(utils.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: utils.MessageOf(err), Detail: utils.DetailOf(err)})
}

func statusForKind(kind utils.Kind) int {
	switch kind {
	case utils.KindValidation:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindExternal, utils.KindParse:
		return http.StatusBadGateway
	case utils.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
