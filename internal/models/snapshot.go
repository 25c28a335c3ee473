package models

import (
	"sort"
	"time"
)

// ServiceState enumerates the health states a monitored service can report.
type ServiceState string

const (
	ServiceOnline   ServiceState = "online"
	ServiceDegraded ServiceState = "degraded"
	ServiceOffline  ServiceState = "offline"
)

// ValidServiceState reports whether the given state is one of the known values.
func ValidServiceState(s ServiceState) bool {
	switch s {
	case ServiceOnline, ServiceDegraded, ServiceOffline:
		return true
	}
	return false
}

// Method tags which generation path produced a result or report.
type Method string

const (
	MethodClassic Method = "classic"
	MethodLLM     Method = "llm"
)

// ParseMethod validates a method selector supplied by a client.
func ParseMethod(v string) (Method, bool) {
	switch Method(v) {
	case MethodClassic:
		return MethodClassic, true
	case MethodLLM:
		return MethodLLM, true
	}
	return "", false
}

// MetricSnapshot is one validated infrastructure telemetry sample.
// Snapshots are immutable once stored; downstream anomaly results reference
// them by ID and never modify them.
type MetricSnapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`

	CPUUsage              float64 `json:"cpu_usage"`
	MemoryUsage           float64 `json:"memory_usage"`
	LatencyMs             float64 `json:"latency_ms"`
	DiskUsage             float64 `json:"disk_usage"`
	NetworkInKbps         float64 `json:"network_in_kbps"`
	NetworkOutKbps        float64 `json:"network_out_kbps"`
	IOWait                float64 `json:"io_wait"`
	ThreadCount           int     `json:"thread_count"`
	ActiveConnections     int     `json:"active_connections"`
	ErrorRate             float64 `json:"error_rate"`
	UptimeSeconds         int64   `json:"uptime_seconds"`
	TemperatureCelsius    float64 `json:"temperature_celsius"`
	PowerConsumptionWatts float64 `json:"power_consumption_watts"`

	ServiceStatus map[string]ServiceState `json:"service_status"`
}

// Value resolves a threshold-table metric name to the observed value.
// The second return is false for names the snapshot does not carry.
func (s MetricSnapshot) Value(metric string) (float64, bool) {
	switch metric {
	case "cpu_usage":
		return s.CPUUsage, true
	case "memory_usage":
		return s.MemoryUsage, true
	case "latency_ms":
		return s.LatencyMs, true
	case "disk_usage":
		return s.DiskUsage, true
	case "network_in_kbps":
		return s.NetworkInKbps, true
	case "network_out_kbps":
		return s.NetworkOutKbps, true
	case "io_wait":
		return s.IOWait, true
	case "thread_count":
		return float64(s.ThreadCount), true
	case "active_connections":
		return float64(s.ActiveConnections), true
	case "error_rate":
		return s.ErrorRate, true
	case "uptime_seconds":
		return float64(s.UptimeSeconds), true
	case "temperature_celsius":
		return s.TemperatureCelsius, true
	case "power_consumption_watts":
		return s.PowerConsumptionWatts, true
	}
	return 0, false
}

// DegradedServices returns the names of services not reporting online,
// sorted for deterministic output.
func (s MetricSnapshot) DegradedServices() []string {
	if len(s.ServiceStatus) == 0 {
		return nil
	}
	degraded := make([]string, 0, len(s.ServiceStatus))
	for name, state := range s.ServiceStatus {
		if state == ServiceDegraded || state == ServiceOffline {
			degraded = append(degraded, name)
		}
	}
	if len(degraded) == 0 {
		return nil
	}
	sort.Strings(degraded)
	return degraded
}
