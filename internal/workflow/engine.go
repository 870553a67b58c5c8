package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/agent/providers"
	"github.com/forgeworks/anvil/internal/observability"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

// Step names, in execution order.
const (
	stepStartTrace        = "start-trace"
	stepPersistPrompt     = "persist-prompt"
	stepCreatePlaceholder = "create-placeholder"
	stepRunPipeline       = "run-pipeline"
	stepCompleteTrace     = "complete-trace"
)

// RunRequest describes one pipeline execution.
type RunRequest struct {
	// RunID identifies the run for checkpointing and tracing. Empty
	// generates a new id; pass an existing id to resume a crashed run.
	RunID string

	// ThreadID is the conversation to run against.
	ThreadID string

	// Prompt is the user turn to append.
	Prompt string

	// Model is recorded on the trace. Informational; the session manager
	// owns model selection.
	Model string

	// OnChunk receives streamed output as the pipeline produces it.
	// Optional; nil discards the stream.
	OnChunk func(*agent.ResponseChunk)
}

// RunResult is the terminal state of a pipeline execution.
type RunResult struct {
	RunID        string              `json:"run_id"`
	MessageID    string              `json:"message_id"`
	Usage        models.Usage        `json:"usage"`
	FinishReason models.FinishReason `json:"finish_reason"`
	ToolCalls    int                 `json:"tool_calls"`
}

// Engine executes the agent pipeline through a step runner. Every run is
// traced; with a durable runner the run also survives crashes, resuming from
// the last persisted step.
//
// The pipeline body is the session manager's shared streaming path, so a
// checkpointed run and a direct run produce identical thread state for
// identical inputs.
type Engine struct {
	manager *agent.Manager
	store   store.Store
	runner  Runner
	logger  *slog.Logger
}

// NewEngine creates a workflow engine. A nil runner defaults to DirectRunner.
func NewEngine(manager *agent.Manager, st store.Store, runner Runner, logger *slog.Logger) *Engine {
	if runner == nil {
		runner = DirectRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{manager: manager, store: st, runner: runner, logger: logger}
}

type traceCheckpoint struct {
	StartedAt time.Time `json:"started_at"`
}

type messageCheckpoint struct {
	MessageID string `json:"message_id"`
}

// Execute runs the pipeline to completion and returns its terminal state.
// A step failure fails the trace, marks the placeholder message errored when
// one exists, and returns the step error.
func (e *Engine) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.ThreadID == "" {
		return nil, errors.New("workflow: thread id is required")
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = observability.WithRunID(ctx, runID)

	var placeholderID string
	result, err := e.execute(ctx, runID, req, &placeholderID)
	if err != nil {
		e.failRun(ctx, runID, placeholderID, err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) execute(ctx context.Context, runID string, req RunRequest, placeholderID *string) (*RunResult, error) {
	traceRaw, err := e.runner.Step(ctx, runID, stepStartTrace, func(ctx context.Context) ([]byte, error) {
		trace := &models.WorkflowTrace{
			ID:        runID,
			ThreadID:  req.ThreadID,
			Kind:      models.WorkflowAgentRun,
			Model:     req.Model,
			Status:    models.TraceRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := e.store.StartTrace(ctx, trace); err != nil {
			return nil, err
		}
		return json.Marshal(traceCheckpoint{StartedAt: trace.StartedAt})
	})
	if err != nil {
		return nil, err
	}
	var traceCp traceCheckpoint
	if err := json.Unmarshal(traceRaw, &traceCp); err != nil {
		return nil, fmt.Errorf("decode %s checkpoint: %w", stepStartTrace, err)
	}

	promptRaw, err := e.runner.Step(ctx, runID, stepPersistPrompt, func(ctx context.Context) ([]byte, error) {
		msg := &models.Message{
			ThreadID: req.ThreadID,
			Role:     models.RoleUser,
			Content:  req.Prompt,
			Status:   models.MessageDone,
		}
		if err := e.store.AppendMessage(ctx, msg); err != nil {
			return nil, err
		}
		return json.Marshal(messageCheckpoint{MessageID: msg.ID})
	})
	if err != nil {
		return nil, err
	}
	var promptCp messageCheckpoint
	if err := json.Unmarshal(promptRaw, &promptCp); err != nil {
		return nil, fmt.Errorf("decode %s checkpoint: %w", stepPersistPrompt, err)
	}

	placeholderRaw, err := e.runner.Step(ctx, runID, stepCreatePlaceholder, func(ctx context.Context) ([]byte, error) {
		placeholder, err := e.store.StartPlaceholder(ctx, req.ThreadID, models.RoleAssistant, promptCp.MessageID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(messageCheckpoint{MessageID: placeholder.ID})
	})
	if err != nil {
		return nil, err
	}
	var placeholderCp messageCheckpoint
	if err := json.Unmarshal(placeholderRaw, &placeholderCp); err != nil {
		return nil, fmt.Errorf("decode %s checkpoint: %w", stepCreatePlaceholder, err)
	}
	*placeholderID = placeholderCp.MessageID

	pipelineRaw, err := e.runner.Step(ctx, runID, stepRunPipeline, func(ctx context.Context) ([]byte, error) {
		result, err := e.runPipeline(ctx, placeholderCp.MessageID, req.OnChunk)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}
	var result RunResult
	if err := json.Unmarshal(pipelineRaw, &result); err != nil {
		return nil, fmt.Errorf("decode %s checkpoint: %w", stepRunPipeline, err)
	}
	result.RunID = runID
	result.MessageID = placeholderCp.MessageID

	_, err = e.runner.Step(ctx, runID, stepCompleteTrace, func(ctx context.Context) ([]byte, error) {
		duration := time.Since(traceCp.StartedAt)
		if err := e.store.CompleteTrace(ctx, runID, result.Usage, duration, result.ToolCalls); err != nil {
			return nil, err
		}
		return []byte(`{}`), nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow run completed",
		"run_id", runID,
		"thread_id", req.ThreadID,
		"message_id", result.MessageID,
		"finish_reason", result.FinishReason,
		"total_tokens", result.Usage.TotalTokens,
		"tool_calls", result.ToolCalls)
	return &result, nil
}

// runPipeline streams into the placeholder and drains to completion,
// aggregating the terminal state the trace records.
func (e *Engine) runPipeline(ctx context.Context, placeholderID string, onChunk func(*agent.ResponseChunk)) (*RunResult, error) {
	placeholder, err := e.store.GetMessage(ctx, placeholderID)
	if err != nil {
		return nil, fmt.Errorf("load placeholder: %w", err)
	}

	chunks, err := e.manager.StreamTo(ctx, placeholder)
	if err != nil {
		return nil, err
	}

	result := &RunResult{MessageID: placeholderID}
	for chunk := range chunks {
		if onChunk != nil {
			onChunk(chunk)
		}
		switch {
		case chunk.Error != nil:
			return nil, chunk.Error
		case chunk.ToolCall != nil:
			result.ToolCalls++
		case chunk.Done:
			result.Usage = chunk.Usage
			result.FinishReason = chunk.FinishReason
		}
	}
	return result, nil
}

// failRun records the failure on the trace and the placeholder. Persistence
// uses a detached context so cancellation-driven failures still land.
func (e *Engine) failRun(ctx context.Context, runID, placeholderID string, cause error) {
	bg := context.WithoutCancel(ctx)

	errType := string(providers.Classify(cause))
	if err := e.store.FailTrace(bg, runID, errType, cause.Error()); err != nil {
		e.logger.Error("failed to fail trace", "run_id", runID, "error", err)
	}

	if placeholderID != "" {
		msg, err := e.store.GetMessage(bg, placeholderID)
		if err == nil && !msg.Terminal() {
			if err := e.store.MarkError(bg, placeholderID, cause.Error()); err != nil {
				e.logger.Error("failed to mark message errored",
					"message_id", placeholderID, "error", err)
			}
		}
	}

	e.logger.Error("workflow run failed",
		"run_id", runID, "error_type", errType, "error", cause)
}
