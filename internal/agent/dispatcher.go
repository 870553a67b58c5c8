package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

// DispatcherConfig configures tool dispatch behavior: concurrency and
// per-call timeouts.
type DispatcherConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout bounds individual tool executions. Default: 30 seconds.
	PerToolTimeout time.Duration
}

// DefaultDispatcherConfig returns defaults of 4 concurrent tools and a
// 30 second timeout.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
	}
}

// Dispatcher executes tool calls against the registry with bounded
// concurrency, recording every state transition in the tool-call store.
// Each call moves forward-only through pending, running, and a terminal
// state; the store rejects reused call ids.
type Dispatcher struct {
	registry *ToolRegistry
	calls    store.ToolCallStore
	config   DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Zero config fields get defaults.
func NewDispatcher(registry *ToolRegistry, calls store.ToolCallStore, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		calls:    calls,
		config:   config,
		logger:   logger,
	}
}

// Dispatch executes the tool calls concurrently and returns results in the
// same order as the input. A failed execution becomes an error result fed
// back to the model, never a Go error: the stream must survive bad tools.
func (d *Dispatcher) Dispatch(ctx context.Context, toolCalls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(toolCalls))

	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{
					ToolCallID: call.ID,
					Content:    "tool execution canceled",
					IsError:    true,
				}
				return
			}

			results[idx] = d.dispatchOne(ctx, call)
		}(i, tc)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	if err := d.calls.Record(ctx, &call); err != nil {
		if errors.Is(err, store.ErrDuplicateCallID) {
			// Replayed stream chunk; the original call owns the id.
			d.logger.Warn("duplicate tool call id, skipping execution",
				"tool", call.ToolName,
				"tool_call_id", call.ID)
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("duplicate tool call id %q", call.ID),
				IsError:    true,
			}
		}
		d.logger.Error("failed to record tool call",
			"tool", call.ToolName,
			"tool_call_id", call.ID,
			"error", err)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "failed to record tool call: " + err.Error(),
			IsError:    true,
		}
	}

	if err := d.calls.MarkRunning(ctx, call.ID); err != nil {
		d.logger.Warn("failed to mark tool call running",
			"tool_call_id", call.ID,
			"error", err)
	}

	start := time.Now()
	result, timedOut := d.executeWithTimeout(ctx, call)

	if result.IsError {
		if err := d.calls.Fail(ctx, call.ID, result.Content); err != nil {
			d.logger.Warn("failed to persist tool failure",
				"tool_call_id", call.ID,
				"error", err)
		}
	} else {
		if err := d.calls.Complete(ctx, call.ID, result.Content); err != nil {
			d.logger.Warn("failed to persist tool result",
				"tool_call_id", call.ID,
				"error", err)
		}
	}

	d.logger.Debug("tool call finished",
		"tool", call.ToolName,
		"tool_call_id", call.ID,
		"is_error", result.IsError,
		"timed_out", timedOut,
		"duration_ms", time.Since(start).Milliseconds())

	return result
}

// executeWithTimeout runs a single call under the per-tool timeout. The
// second return value reports whether the deadline expired.
func (d *Dispatcher) executeWithTimeout(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	toolCtx, cancel := context.WithTimeout(ctx, d.config.PerToolTimeout)
	defer cancel()

	type execResult struct {
		output *ToolOutput
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		output, err := d.registry.Execute(toolCtx, call.ToolName, call.Input)
		select {
		case resultChan <- execResult{output: output, err: err}:
		default:
			// Timed out before execution finished; the result is discarded
			// but must not leak the goroutine.
			d.logger.Warn("tool execution completed after timeout, result discarded",
				"tool", call.ToolName,
				"tool_call_id", call.ID)
		}
	}()

	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("tool execution timed out after %v", d.config.PerToolTimeout),
				IsError:    true,
			}, true
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool execution canceled",
			IsError:    true,
		}, false
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    res.err.Error(),
				IsError:    true,
			}, false
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.output.Content,
			IsError:    res.output.IsError,
		}, false
	}
}
