package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

type slowTool struct {
	delay time.Duration
}

func (t slowTool) Name() string            { return "slow" }
func (t slowTool) Description() string     { return "Sleeps before answering." }
func (t slowTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t slowTool) Execute(ctx context.Context, _ json.RawMessage) (*ToolOutput, error) {
	select {
	case <-time.After(t.delay):
		return &ToolOutput{Content: "finally"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestDispatcher(t *testing.T, config DispatcherConfig) (*Dispatcher, *store.MemoryStore) {
	t.Helper()
	registry := NewToolRegistry()
	registry.MustRegister(echoTool{})
	registry.MustRegister(slowTool{delay: 5 * time.Second})
	st := store.NewMemoryStore()
	return NewDispatcher(registry, st, config, testLogger()), st
}

func TestDispatchPreservesOrder(t *testing.T) {
	d, st := newTestDispatcher(t, DispatcherConfig{Concurrency: 2})
	calls := []models.ToolCall{
		{ID: "o1", MessageID: "m", ThreadID: "t", ToolName: "echo", Input: json.RawMessage(`{"text":"first"}`)},
		{ID: "o2", MessageID: "m", ThreadID: "t", ToolName: "echo", Input: json.RawMessage(`{"text":"second"}`)},
		{ID: "o3", MessageID: "m", ThreadID: "t", ToolName: "echo", Input: json.RawMessage(`{"text":"third"}`)},
	}

	results := d.Dispatch(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	want := []string{"first", "second", "third"}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d id = %q, want %q", i, r.ToolCallID, calls[i].ID)
		}
		if r.Content != want[i] {
			t.Errorf("result %d = %q, want %q", i, r.Content, want[i])
		}
	}

	for _, c := range calls {
		stored, err := st.GetToolCall(context.Background(), c.ID)
		if err != nil {
			t.Fatalf("get %s: %v", c.ID, err)
		}
		if stored.Status != models.ToolCallCompleted {
			t.Errorf("%s status = %q, want completed", c.ID, stored.Status)
		}
	}
}

func TestDispatchTimeoutFailsCall(t *testing.T) {
	d, st := newTestDispatcher(t, DispatcherConfig{PerToolTimeout: 30 * time.Millisecond})
	calls := []models.ToolCall{
		{ID: "timeout1", MessageID: "m", ThreadID: "t", ToolName: "slow", Input: json.RawMessage(`{}`)},
	}

	results := d.Dispatch(context.Background(), calls)
	if !results[0].IsError {
		t.Fatal("timed-out call reported success")
	}
	if !strings.Contains(results[0].Content, "timed out") {
		t.Errorf("content = %q", results[0].Content)
	}

	stored, err := st.GetToolCall(context.Background(), "timeout1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.ToolCallFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
	if stored.Error == "" {
		t.Error("failure reason not persisted")
	}
}

func TestDispatchDuplicateIDSkipsExecution(t *testing.T) {
	d, st := newTestDispatcher(t, DispatcherConfig{})
	ctx := context.Background()

	original := &models.ToolCall{ID: "dup_d", MessageID: "m", ThreadID: "t", ToolName: "echo"}
	if err := st.Record(ctx, original); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.Complete(ctx, "dup_d", "original result"); err != nil {
		t.Fatalf("complete seed: %v", err)
	}

	results := d.Dispatch(ctx, []models.ToolCall{
		{ID: "dup_d", MessageID: "m", ThreadID: "t", ToolName: "echo", Input: json.RawMessage(`{"text":"replay"}`)},
	})
	if !results[0].IsError {
		t.Error("duplicate id executed")
	}

	stored, _ := st.GetToolCall(ctx, "dup_d")
	if stored.Result != "original result" {
		t.Errorf("original result clobbered: %q", stored.Result)
	}
}

func TestDispatchUnknownToolIsErrorResult(t *testing.T) {
	d, st := newTestDispatcher(t, DispatcherConfig{})
	results := d.Dispatch(context.Background(), []models.ToolCall{
		{ID: "u1", MessageID: "m", ThreadID: "t", ToolName: "missing", Input: json.RawMessage(`{}`)},
	})
	if !results[0].IsError {
		t.Error("unknown tool reported success")
	}

	stored, err := st.GetToolCall(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.ToolCallFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
}

func TestDispatchCanceledContext(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherConfig{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Dispatch(ctx, []models.ToolCall{
		{ID: "c1", MessageID: "m", ThreadID: "t", ToolName: "slow", Input: json.RawMessage(`{}`)},
		{ID: "c2", MessageID: "m", ThreadID: "t", ToolName: "slow", Input: json.RawMessage(`{}`)},
	})
	for i, r := range results {
		if !r.IsError {
			t.Errorf("result %d succeeded under canceled context", i)
		}
	}
}
