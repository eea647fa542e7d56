package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upload metrics
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echonote_uploads_total",
		Help: "Total number of audio uploads processed",
	}, []string{"result"}) // result: "created", "duplicate", "rejected"

	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echonote_transcription_requests_total",
		Help: "Total number of ASR sidecar requests",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echonote_transcription_latency_seconds",
		Help:    "ASR sidecar request latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// Diarization metrics
	detectedSpeakers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echonote_detected_speakers",
		Help:    "Number of speaker clusters detected per transcript",
		Buckets: []float64{1, 2, 3, 4},
	})

	// Reconciliation metrics
	reconcileAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echonote_reconcile_attempts_total",
		Help: "Total number of fetch-and-persist attempts per trigger path",
	}, []string{"trigger", "status"}) // trigger: "webhook" or "poll"; status: "persisted", "already_fetched", "retryable", "unknown_job"

	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echonote_poll_ticks_total",
		Help: "Total number of completed poll ticks",
	})

	pendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echonote_pending_jobs",
		Help: "Number of bot jobs not yet fetched or failed",
	})

	// Bot service metrics
	botRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echonote_bot_requests_total",
		Help: "Total number of meeting bot service requests",
	}, []string{"operation", "status"}) // operation: "launch", "status", "fetch"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echonote_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "echonote_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// RecordUpload records the outcome of an upload request
func RecordUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}

// RecordTranscription records an ASR sidecar call and its latency
func RecordTranscription(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	transcriptionRequests.WithLabelValues(status).Inc()
	if success {
		transcriptionLatency.Observe(seconds)
	}
}

// RecordDetectedSpeakers records the speaker count of a diarized transcript
func RecordDetectedSpeakers(n int) {
	detectedSpeakers.Observe(float64(n))
}

// RecordReconcileAttempt records one fetch-and-persist attempt
func RecordReconcileAttempt(trigger, status string) {
	reconcileAttempts.WithLabelValues(trigger, status).Inc()
}

// RecordPollTick records a completed poll tick and the remaining pending jobs
func RecordPollTick(pending int) {
	pollTicks.Inc()
	pendingJobs.Set(float64(pending))
}

// RecordBotRequest records a meeting bot service call
func RecordBotRequest(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	botRequests.WithLabelValues(operation, status).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
