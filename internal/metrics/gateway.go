package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gateway Prometheus metrics.
var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to the inference service",
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmgate",
			Name:      "upstream_request_duration_seconds",
			Help:      "Time until the inference service answered (headers for streams)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	RelayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "relay_events_total",
			Help:      "Server-sent events produced by the streaming relay",
		},
		[]string{"model", "kind"}, // kind: response, error, skipped
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmgate",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model"},
	)

	DocQADuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmgate",
			Name:      "docqa_duration_seconds",
			Help:      "Document question answering duration by outcome",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"}, // ok, upstream_down, failed
	)

	DocQAChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "llmgate",
			Name:      "docqa_index_chunks",
			Help:      "Chunks indexed per uploaded document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

var gatewayMetricsRegistered bool

// RegisterGatewayMetrics registers the gateway metrics. Must be called once from main.
func RegisterGatewayMetrics() {
	if gatewayMetricsRegistered {
		return
	}
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(RelayEventsTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingTokensTotal)
	prometheus.MustRegister(DocQADuration)
	prometheus.MustRegister(DocQAChunks)
	gatewayMetricsRegistered = true
}
