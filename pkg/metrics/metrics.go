package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the send pipeline. promauto registers everything
// with the default registry, exposed by the ops server.
var (
	// --- Send Metrics ---

	// SendsTotal counts terminal send outcomes by status.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "send",
			Name:      "total",
			Help:      "Total terminal send outcomes by status",
		},
		[]string{"status", "platform", "job"},
	)

	// SendDuration tracks sender latency, in seconds.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmbot",
			Subsystem: "send",
			Name:      "duration_seconds",
			Help:      "Sender dispatch latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"job", "platform"},
	)

	// PermitDenied counts admission denials by reason.
	PermitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "permit",
			Name:      "denied_total",
			Help:      "Total permit denials by reason",
		},
		[]string{"reason", "job"},
	)

	// SkipsTotal counts cooldown and duplicate skips.
	SkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "send",
			Name:      "skips_total",
			Help:      "Total requests dropped by cooldown or dedupe gates",
		},
		[]string{"kind", "job"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between slot time and factory invocation;
	// RecordDispatch also observes each batch's age at dispatch into it.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "llmbot",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled slot and factory invocation, and between batch open and dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	// BatchesDispatched counts batches forwarded to the orchestrator.
	BatchesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "scheduler",
			Name:      "batches_dispatched_total",
			Help:      "Total batches forwarded to the orchestrator",
		},
	)

	// FactoryErrors counts job factory failures.
	FactoryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "scheduler",
			Name:      "factory_errors_total",
			Help:      "Total job factory invocations that returned an error",
		},
		[]string{"job"},
	)

	// ShutdownAbandoned counts batches abandoned at shutdown.
	ShutdownAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmbot",
			Subsystem: "scheduler",
			Name:      "shutdown_abandoned_total",
			Help:      "Batches abandoned when the grace window expired",
		},
	)

	// --- Queue Metrics ---

	// QueueOpenBatches tracks batches currently coalescing.
	QueueOpenBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llmbot",
			Subsystem: "queue",
			Name:      "open_batches",
			Help:      "Batches currently open in the coalesce queue",
		},
	)
)

// RecordOutcome mirrors a terminal outcome to Prometheus.
func RecordOutcome(status, platform, job string) {
	SendsTotal.WithLabelValues(status, platform, job).Inc()
}

// RecordSendDuration mirrors a dispatch latency sample to Prometheus.
func RecordSendDuration(job, platform string, seconds float64) {
	SendDuration.WithLabelValues(job, platform).Observe(seconds)
}

// RecordDispatch records a batch handoff with its scheduling lag.
func RecordDispatch(lagSeconds float64) {
	BatchesDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}
