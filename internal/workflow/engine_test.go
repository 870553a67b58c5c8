package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

// fakeClient streams a fixed two-delta response, or fails stream creation.
type fakeClient struct {
	calls     int
	streamErr error
}

func (c *fakeClient) Name() string        { return "fake" }
func (c *fakeClient) SupportsTools() bool { return false }

func (c *fakeClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	c.calls++
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	events := make(chan *agent.StreamEvent, 3)
	events <- &agent.StreamEvent{Text: "hello "}
	events <- &agent.StreamEvent{Text: "world"}
	events <- &agent.StreamEvent{
		Done:         true,
		FinishReason: models.FinishStop,
		Usage:        models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
	close(events)
	return events, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, client agent.StreamingClient, durable bool) (*Engine, store.Store, string) {
	t.Helper()
	st := store.NewMemoryStore()
	thread := &models.Thread{ID: "thread-1", Title: "test"}
	if err := st.CreateThread(context.Background(), thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	var runner Runner = DirectRunner{}
	if durable {
		runner = NewDurableRunner(st)
	}
	mgr := agent.NewManager(client, st, nil, nil, agent.DefaultSessionConfig(), testLogger())
	return NewEngine(mgr, st, runner, testLogger()), st, thread.ID
}

func TestExecuteCompletesRun(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	engine, st, threadID := newTestEngine(t, client, false)

	var streamed strings.Builder
	result, err := engine.Execute(ctx, RunRequest{
		RunID:    "run-1",
		ThreadID: threadID,
		Prompt:   "say hello",
		Model:    "test-model",
		OnChunk: func(chunk *agent.ResponseChunk) {
			streamed.WriteString(chunk.Delta)
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.RunID != "run-1" || result.FinishReason != models.FinishStop {
		t.Errorf("result = %+v", result)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want 15 total tokens", result.Usage)
	}
	if streamed.String() != "hello world" {
		t.Errorf("streamed %q, want %q", streamed.String(), "hello world")
	}

	history, err := st.History(ctx, threadID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "say hello" {
		t.Errorf("prompt turn = %+v", history[0])
	}
	assistant := history[1]
	if assistant.ID != result.MessageID || assistant.Content != "hello world" {
		t.Errorf("assistant turn = %+v", assistant)
	}
	if assistant.Status != models.MessageDone || assistant.PromptMessageID != history[0].ID {
		t.Errorf("assistant status/backref = %s/%s", assistant.Status, assistant.PromptMessageID)
	}

	trace, err := st.GetTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if trace.Status != models.TraceCompleted {
		t.Errorf("trace status = %s, want completed", trace.Status)
	}
	if trace.Usage.TotalTokens != 15 || trace.ToolCallCount != 0 {
		t.Errorf("trace accounting = %+v", trace)
	}
}

func TestExecuteReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	engine, _, threadID := newTestEngine(t, client, true)

	req := RunRequest{RunID: "run-1", ThreadID: threadID, Prompt: "say hello"}
	first, err := engine.Execute(ctx, req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := engine.Execute(ctx, req)
	if err != nil {
		t.Fatalf("replay execute: %v", err)
	}

	if client.calls != 1 {
		t.Errorf("provider called %d times, want 1", client.calls)
	}
	if second.MessageID != first.MessageID || second.Usage != first.Usage {
		t.Errorf("replay result %+v differs from first %+v", second, first)
	}
}

func TestExecuteResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	engine, st, threadID := newTestEngine(t, client, true)

	// Simulate a process that died right before run-pipeline: the first
	// three steps ran and their checkpoints landed.
	trace := &models.WorkflowTrace{
		ID: "run-1", ThreadID: threadID, Kind: models.WorkflowAgentRun,
		Status: models.TraceRunning, StartedAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := st.StartTrace(ctx, trace); err != nil {
		t.Fatalf("start trace: %v", err)
	}
	putCheckpoint(t, st, "run-1", stepStartTrace, traceCheckpoint{StartedAt: trace.StartedAt})

	prompt := &models.Message{ThreadID: threadID, Role: models.RoleUser, Content: "say hello", Status: models.MessageDone}
	if err := st.AppendMessage(ctx, prompt); err != nil {
		t.Fatalf("append prompt: %v", err)
	}
	putCheckpoint(t, st, "run-1", stepPersistPrompt, messageCheckpoint{MessageID: prompt.ID})

	placeholder, err := st.StartPlaceholder(ctx, threadID, models.RoleAssistant, prompt.ID)
	if err != nil {
		t.Fatalf("start placeholder: %v", err)
	}
	putCheckpoint(t, st, "run-1", stepCreatePlaceholder, messageCheckpoint{MessageID: placeholder.ID})

	result, err := engine.Execute(ctx, RunRequest{RunID: "run-1", ThreadID: threadID, Prompt: "say hello"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	// Resume streamed into the existing placeholder instead of creating
	// new rows.
	if result.MessageID != placeholder.ID {
		t.Errorf("resumed into %q, want %q", result.MessageID, placeholder.ID)
	}
	history, err := st.History(ctx, threadID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history has %d messages after resume, want 2", len(history))
	}

	got, err := st.GetMessage(ctx, placeholder.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Status != models.MessageDone || got.Content != "hello world" {
		t.Errorf("resumed message = %+v", got)
	}

	resumed, err := st.GetTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if resumed.Status != models.TraceCompleted {
		t.Errorf("trace status = %s, want completed", resumed.Status)
	}
	if resumed.Duration < time.Minute {
		t.Errorf("duration = %v, want measured from the original start", resumed.Duration)
	}
}

func TestExecuteFailureFailsTraceAndMessage(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{streamErr: errors.New("rate limit exceeded")}
	engine, st, threadID := newTestEngine(t, client, false)

	_, err := engine.Execute(ctx, RunRequest{RunID: "run-1", ThreadID: threadID, Prompt: "say hello"})
	if err == nil {
		t.Fatal("expected failure")
	}

	trace, terr := st.GetTrace(ctx, "run-1")
	if terr != nil {
		t.Fatalf("get trace: %v", terr)
	}
	if trace.Status != models.TraceFailed {
		t.Errorf("trace status = %s, want failed", trace.Status)
	}
	if trace.ErrorType != "rate_limit" {
		t.Errorf("error type = %q, want rate_limit", trace.ErrorType)
	}

	history, herr := st.History(ctx, threadID, 10)
	if herr != nil {
		t.Fatalf("history: %v", herr)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want prompt and errored placeholder", len(history))
	}
	if history[1].Status != models.MessageError {
		t.Errorf("placeholder status = %s, want error", history[1].Status)
	}
}

func TestExecuteRequiresThread(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeClient{}, false)
	if _, err := engine.Execute(context.Background(), RunRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error for missing thread id")
	}
}

func putCheckpoint(t *testing.T, st store.StepStore, runID, name string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	if err := st.PutStepResult(context.Background(), runID, name, raw); err != nil {
		t.Fatalf("put checkpoint: %v", err)
	}
}
