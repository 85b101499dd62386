// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// RecognitionBatchSize tracks the number of images in BatchRecognize calls
	RecognitionBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocr_batch_size",
			Help:    "Histogram of image counts per batch recognition request.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// RecognitionLatencySeconds covers preprocess, inference and postprocess.
	RecognitionLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocr_recognition_latency_seconds",
			Help:    "Histogram of end-to-end recognition latency (seconds) excluding gRPC overhead.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// StageLatencySeconds is the latency of the encoder pass and of the whole
	// decode loop.
	StageLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_stage_latency_seconds",
			Help:    "Histogram of model stage latency (seconds).",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"stage"},
	)

	// DecodeSteps is the number of decoder invocations per request
	DecodeSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocr_decode_steps",
			Help:    "Histogram of decoder invocations per recognition.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 300},
		},
	)

	// DecodeOutcomes counts finished decodes by terminal state
	DecodeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_decode_outcomes_total",
			Help: "Count of decode requests by terminal state.",
		},
		[]string{"state"},
	)

	// LatencyBudgetExceeded counts stages that ran past the advisory budget
	LatencyBudgetExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_latency_budget_exceeded_total",
			Help: "Count of model stages that exceeded the advisory latency budget.",
		},
		[]string{"stage"},
	)

	// CacheRequests counts result cache lookups by tier and result
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_cache_requests_total",
			Help: "Count of result cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// SessionReady is 1 while the model session accepts requests
	SessionReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocr_session_ready",
			Help: "Whether the OCR session is initialized (1) or not (0).",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordBatch records the size of a batch recognition request
func RecordBatch(size int) {
	RecognitionBatchSize.Observe(float64(size))
}

// RecordRecognitionLatency records the latency of one recognition
func RecordRecognitionLatency(seconds float64) {
	RecognitionLatencySeconds.Observe(seconds)
}

// RecordStageLatency records the latency of a model stage ("encoder" or "decoder")
func RecordStageLatency(stage string, seconds float64) {
	StageLatencySeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordDecode records the terminal state and decoder step count of one decode
func RecordDecode(state string, steps int) {
	DecodeOutcomes.WithLabelValues(state).Inc()
	DecodeSteps.Observe(float64(steps))
}

// RecordBudgetExceeded counts a stage that ran over the latency budget
func RecordBudgetExceeded(stage string) {
	LatencyBudgetExceeded.WithLabelValues(stage).Inc()
}

// RecordCacheLookup records a hit or miss against a cache tier
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(tier, result).Inc()
}

// SetSessionReady updates the session readiness gauge
func SetSessionReady(ready bool) {
	if ready {
		SessionReady.Set(1)
		return
	}
	SessionReady.Set(0)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
