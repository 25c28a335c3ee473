package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed.
	OutcomeError = "error"
)

var (
	snapshotsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "infra_optimizer",
			Name:      "snapshots_ingested_total",
			Help:      "Total number of telemetry snapshots accepted.",
		},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infra_optimizer",
			Name:      "analyses_total",
			Help:      "Total number of anomaly analyses, partitioned by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infra_optimizer",
			Name:      "reports_total",
			Help:      "Total number of recommendation reports, partitioned by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "infra_optimizer",
			Name:      "analysis_seconds",
			Help:      "Anomaly analysis latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method"},
	)
)

// Register attaches optimizer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		snapshotsIngestedTotal,
		analysesTotal,
		reportsTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest counts an accepted snapshot.
func ObserveIngest() {
	snapshotsIngestedTotal.Inc()
}

// ObserveAnalysis records an analysis duration, method and outcome.
func ObserveAnalysis(method string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(method, label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveReport counts a recommendation report by method and outcome.
func ObserveReport(method string, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	reportsTotal.WithLabelValues(method, label).Inc()
}
