package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the pipeline's Prometheus metrics: provider request
// performance, token consumption, tool execution, session concurrency, and
// errors by component.
type Metrics struct {
	// LLMRequestDuration measures one provider stream, creation to final
	// event. Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider streams.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveSessions gauges in-flight streaming sessions.
	ActiveSessions prometheus.Gauge

	// CompressionCounter counts history compressions.
	// Labels: strategy (llm|heuristic).
	CompressionCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (session|provider|tool|workflow|store), error_type.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers all pipeline metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against a caller-owned registry. Tests
// use this to avoid duplicate-registration panics on the global registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_llm_request_duration_seconds",
				Help:    "Duration of provider streams in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_llm_requests_total",
				Help: "Provider streams by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_llm_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_tool_executions_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "anvil_active_sessions",
				Help: "In-flight streaming sessions",
			},
		),
		CompressionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_history_compressions_total",
				Help: "History compressions by strategy",
			},
			[]string{"strategy"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}

	factory(m.LLMRequestDuration)
	factory(m.LLMRequestCounter)
	factory(m.LLMTokensUsed)
	factory(m.ToolExecutionCounter)
	factory(m.ToolExecutionDuration)
	factory(m.ActiveSessions)
	factory(m.CompressionCounter)
	factory(m.ErrorCounter)
	return m
}

// ObserveLLMRequest records one finished provider stream.
func (m *Metrics) ObserveLLMRequest(provider, model string, duration time.Duration, promptTokens, completionTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// ObserveToolExecution records one tool invocation.
func (m *Metrics) ObserveToolExecution(toolName string, duration time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordError counts one error.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
