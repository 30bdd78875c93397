package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for runtime metrics.
//
// Tracked series:
//   - LLM request latency, counts, and token consumption per provider/model
//   - Tool execution counts and latencies per tool
//   - Delegation outcomes per specialist agent
//   - Active background session gauge
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DelegationCounter counts sub-agent delegations.
	// Labels: agent_id, mode (inline|background), outcome
	DelegationCounter *prometheus.CounterVec

	// ActiveBackgroundSessions tracks currently running background sub-agents.
	ActiveBackgroundSessions prometheus.Gauge

	// TransportRetries counts HTTP retry attempts by reason.
	// Labels: reason (status|network)
	TransportRetries *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer. Pass prometheus.DefaultRegisterer for production use or a
// fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nuvin_llm_request_duration_seconds",
				Help:    "LLM API request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuvin_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuvin_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuvin_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nuvin_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		DelegationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuvin_delegations_total",
				Help: "Total sub-agent delegations by agent, mode, and outcome",
			},
			[]string{"agent_id", "mode", "outcome"},
		),
		ActiveBackgroundSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nuvin_background_sessions_active",
				Help: "Number of currently running background sub-agent sessions",
			},
		),
		TransportRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuvin_transport_retries_total",
				Help: "HTTP transport retry attempts by reason",
			},
			[]string{"reason"},
		),
	}
}
