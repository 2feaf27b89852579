// Package metrics collapses the enabled/disabled metrics split into one
// Sink interface: a PrometheusSink backed by the teacher's counter/gauge/
// histogram set, or a NoopSink when metrics are turned off, so callers never
// branch on whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestOutcome is what a finished request reports to the sink.
type RequestOutcome struct {
	Provider         string
	Model            string
	Status           string // "success", "error"
	IsStreaming      bool
	DurationSeconds  float64
	InputTokens      int
	OutputTokens     int
	CacheReadTokens     int
	CacheCreationTokens int
	ToolCallCount    int
	ErrorType        string // gwerrors.Kind, empty on success
}

// Sink receives request lifecycle events. Implementations must be safe for
// concurrent use; RecordRequest runs on every request's hot path.
type Sink interface {
	RequestStarted()
	RequestFinished()
	RecordRequest(o RequestOutcome)
}

// NoopSink discards everything; used when metrics collection is disabled so
// the orchestrator never has to branch on an enabled flag.
type NoopSink struct{}

func (NoopSink) RequestStarted()             {}
func (NoopSink) RequestFinished()            {}
func (NoopSink) RecordRequest(RequestOutcome) {}

// PrometheusSink is grounded on the teacher's ai_gateway_* metric set,
// generalized from per-client_id labels to per-provider labels since the
// gateway's unit of attribution is the upstream provider, not a dashboard
// client id.
type PrometheusSink struct {
	requestsTotal      *prometheus.CounterVec
	requestsInProgress prometheus.Gauge
	inputTokensTotal   *prometheus.CounterVec
	outputTokensTotal  *prometheus.CounterVec
	cacheReadTokensTotal     *prometheus.CounterVec
	cacheCreationTokensTotal *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	upstreamErrors     *prometheus.CounterVec
	toolCallsTotal     *prometheus.CounterVec
}

func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_requests_total",
			Help: "Total number of gateway requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		requestsInProgress: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "llm_gateway_requests_in_progress",
			Help: "Number of requests currently being served.",
		}),
		inputTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_input_tokens_total",
			Help: "Total input tokens billed upstream by provider and model.",
		}, []string{"provider", "model"}),
		outputTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_output_tokens_total",
			Help: "Total output tokens billed upstream by provider and model.",
		}, []string{"provider", "model"}),
		cacheReadTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_cache_read_tokens_total",
			Help: "Total cache-read input tokens reported upstream by provider and model.",
		}, []string{"provider", "model"}),
		cacheCreationTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_cache_creation_tokens_total",
			Help: "Total cache-creation input tokens reported upstream by provider and model.",
		}, []string{"provider", "model"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_gateway_request_duration_seconds",
			Help:    "Request duration in seconds by provider and model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		upstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_upstream_errors_total",
			Help: "Total upstream errors by provider, model and error kind.",
		}, []string{"provider", "model", "error_type"}),
		toolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_gateway_tool_calls_total",
			Help: "Total tool calls observed in responses, by provider and model.",
		}, []string{"provider", "model"}),
	}
}

func (s *PrometheusSink) RequestStarted()  { s.requestsInProgress.Inc() }
func (s *PrometheusSink) RequestFinished() { s.requestsInProgress.Dec() }

func (s *PrometheusSink) RecordRequest(o RequestOutcome) {
	s.requestsTotal.WithLabelValues(o.Provider, o.Model, o.Status).Inc()
	s.inputTokensTotal.WithLabelValues(o.Provider, o.Model).Add(float64(o.InputTokens))
	s.outputTokensTotal.WithLabelValues(o.Provider, o.Model).Add(float64(o.OutputTokens))
	if o.CacheReadTokens > 0 {
		s.cacheReadTokensTotal.WithLabelValues(o.Provider, o.Model).Add(float64(o.CacheReadTokens))
	}
	if o.CacheCreationTokens > 0 {
		s.cacheCreationTokensTotal.WithLabelValues(o.Provider, o.Model).Add(float64(o.CacheCreationTokens))
	}
	s.requestDuration.WithLabelValues(o.Provider, o.Model).Observe(o.DurationSeconds)
	if o.ToolCallCount > 0 {
		s.toolCallsTotal.WithLabelValues(o.Provider, o.Model).Add(float64(o.ToolCallCount))
	}
	if o.ErrorType != "" {
		s.upstreamErrors.WithLabelValues(o.Provider, o.Model, o.ErrorType).Inc()
	}
}
