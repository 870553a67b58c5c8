package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func TestObserveLLMRequest(t *testing.T) {
	m := newTestMetrics()

	m.ObserveLLMRequest("anthropic", "claude-sonnet-4", 2*time.Second, 120, 45, nil)
	m.ObserveLLMRequest("anthropic", "claude-sonnet-4", time.Second, 0, 0, errors.New("rate limit"))

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "prompt")); got != 120 {
		t.Errorf("prompt tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "completion")); got != 45 {
		t.Errorf("completion tokens = %v, want 45", got)
	}
}

func TestObserveLLMRequestSkipsZeroTokens(t *testing.T) {
	m := newTestMetrics()

	m.ObserveLLMRequest("openai", "gpt-4o", time.Second, 0, 0, nil)

	if got := testutil.CollectAndCount(m.LLMTokensUsed); got != 0 {
		t.Errorf("token series = %d, want 0", got)
	}
}

func TestObserveToolExecution(t *testing.T) {
	m := newTestMetrics()

	m.ObserveToolExecution("read_file", 50*time.Millisecond, false)
	m.ObserveToolExecution("read_file", 10*time.Millisecond, false)
	m.ObserveToolExecution("terminal", time.Second, true)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_file", "success")); got != 2 {
		t.Errorf("read_file success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("terminal", "error")); got != 1 {
		t.Errorf("terminal error = %v, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m := newTestMetrics()

	m.ActiveSessions.Inc()
	m.ActiveSessions.Inc()
	m.ActiveSessions.Dec()

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics()

	m.RecordError("provider", "rate_limit")
	m.RecordError("provider", "rate_limit")
	m.RecordError("workflow", "timeout")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("provider", "rate_limit")); got != 2 {
		t.Errorf("provider rate_limit = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("workflow", "timeout")); got != 1 {
		t.Errorf("workflow timeout = %v, want 1", got)
	}
}

func TestMetricsRegisterOnDedicatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetricsWithRegistry(reg)

	// Registering the same set twice must panic on duplicates.
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration panic")
		}
	}()
	NewMetricsWithRegistry(reg)
}
