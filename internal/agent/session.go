package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

// chunkBufferSize is the consumer channel buffer. Consumers slower than the
// provider apply backpressure rather than dropping chunks.
const chunkBufferSize = 64

// SessionConfig configures streaming session behavior.
type SessionConfig struct {
	// MaxIterations limits tool-use round trips per session. Default: 10.
	MaxIterations int

	// MaxTokens caps each completion response. Default: 4096.
	MaxTokens int

	// HistoryLimit is how many recent turns load into context. Default: 50.
	HistoryLimit int

	// Model is the default model id when a run does not specify one.
	Model string

	// SystemPrompt is the default system prompt.
	SystemPrompt string
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
		HistoryLimit:  50,
	}
}

func sanitizeSessionConfig(config SessionConfig) SessionConfig {
	defaults := DefaultSessionConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	return config
}

// ResponseChunk is one unit of streamed session output.
type ResponseChunk struct {
	// MessageID identifies the assistant message being streamed.
	MessageID string `json:"message_id,omitempty"`

	// Delta is an incremental text fragment.
	Delta string `json:"delta,omitempty"`

	// ToolCall reports a tool invocation requested by the model.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// ToolResult reports a finished tool execution.
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`

	// Done marks normal completion. FinishReason and Usage are set.
	Done         bool                `json:"done,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
	Usage        models.Usage        `json:"usage,omitempty"`

	// Error terminates the stream abnormally.
	Error error `json:"-"`
}

// Manager drives streaming sessions: it owns the loop that streams from the
// provider, persists deltas, dispatches tool calls, and finalizes the
// assistant message. One Manager serves many concurrent sessions; per-session
// state lives on the stack of each Run goroutine.
//
// The session moves through a fixed phase order: stream, execute tools,
// continue, repeating until the model stops requesting tools or the
// iteration limit is hit. Every exit path finalizes the placeholder message
// and sweeps unfinished tool calls exactly once.
type Manager struct {
	client     StreamingClient
	store      store.Store
	registry   *ToolRegistry
	dispatcher *Dispatcher
	compressor *Compressor
	sessions   *SessionRegistry
	config     SessionConfig
	logger     *slog.Logger
}

// NewManager creates a session manager. The dispatcher is built over the
// registry and the store's tool-call tracker.
func NewManager(client StreamingClient, st store.Store, registry *ToolRegistry, compressor *Compressor, config SessionConfig, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if compressor == nil {
		compressor = NewCompressor(DefaultCompressorConfig(), nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:     client,
		store:      st,
		registry:   registry,
		dispatcher: NewDispatcher(registry, st, DefaultDispatcherConfig(), logger),
		compressor: compressor,
		sessions:   NewSessionRegistry(),
		config:     sanitizeSessionConfig(config),
		logger:     logger,
	}
}

// Sessions exposes the registry for cancellation.
func (m *Manager) Sessions() *SessionRegistry { return m.sessions }

// Registry exposes the tool registry.
func (m *Manager) Registry() *ToolRegistry { return m.registry }

// Run executes the direct (non-checkpointed) path: persist the user prompt,
// create the assistant placeholder, and stream into it.
func (m *Manager) Run(ctx context.Context, threadID, prompt string) (<-chan *ResponseChunk, error) {
	if m.client == nil {
		return nil, ErrNoClient
	}
	if _, err := m.store.GetThread(ctx, threadID); err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	userMsg := &models.Message{
		ThreadID: threadID,
		Role:     models.RoleUser,
		Content:  prompt,
		Status:   models.MessageDone,
	}
	if err := m.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist prompt: %w", err)
	}

	placeholder, err := m.store.StartPlaceholder(ctx, threadID, models.RoleAssistant, userMsg.ID)
	if err != nil {
		return nil, fmt.Errorf("create placeholder: %w", err)
	}

	return m.StreamTo(ctx, placeholder)
}

// StreamTo streams a completion into an existing placeholder message. It is
// the single pipeline shared by the direct path and the workflow engine:
// both converge here after prompt persistence and placeholder creation.
func (m *Manager) StreamTo(ctx context.Context, placeholder *models.Message) (<-chan *ResponseChunk, error) {
	if m.client == nil {
		return nil, ErrNoClient
	}
	if placeholder == nil {
		return nil, errors.New("placeholder message is nil")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.sessions.register(placeholder.ID, cancel); err != nil {
		cancel()
		return nil, err
	}

	msgs, err := m.loadHistory(runCtx, placeholder)
	if err != nil {
		m.sessions.deregister(placeholder.ID)
		cancel()
		return nil, err
	}

	chunks := make(chan *ResponseChunk, chunkBufferSize)
	go func() {
		defer close(chunks)
		defer cancel()
		defer m.sessions.deregister(placeholder.ID)
		m.runLoop(runCtx, placeholder, msgs, chunks)
	}()

	return chunks, nil
}

// loadHistory builds the completion message list from persisted turns,
// excluding the placeholder itself.
func (m *Manager) loadHistory(ctx context.Context, placeholder *models.Message) ([]CompletionMessage, error) {
	history, err := m.store.History(ctx, placeholder.ThreadID, m.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]CompletionMessage, 0, len(history))
	for _, h := range history {
		if h.ID == placeholder.ID || h.Status == models.MessageError {
			continue
		}
		msgs = append(msgs, CompletionMessage{
			Role:    string(h.Role),
			Content: h.Content,
		})
	}
	return msgs, nil
}

// runLoop is the session state machine. All persistence failures and
// provider errors fail only the owning message; the store sweep guarantees
// no tool call outlives the stream in a non-terminal state.
func (m *Manager) runLoop(ctx context.Context, placeholder *models.Message, msgs []CompletionMessage, chunks chan<- *ResponseChunk) {
	var totalUsage models.Usage
	start := time.Now()

	finish := func(reason models.FinishReason, status models.MessageStatus, cause error) {
		bg := context.WithoutCancel(ctx)
		if cause != nil && status == models.MessageError {
			if err := m.store.MarkError(bg, placeholder.ID, cause.Error()); err != nil {
				m.logger.Error("failed to mark message errored",
					"message_id", placeholder.ID, "error", err)
			}
		} else {
			if err := m.store.Finalize(bg, placeholder.ID, totalUsage, reason, status); err != nil && !errors.Is(err, store.ErrFinalized) {
				m.logger.Error("failed to finalize message",
					"message_id", placeholder.ID, "error", err)
			}
		}
		swept, err := m.store.SweepStale(bg, placeholder.ID)
		if err != nil {
			m.logger.Error("tool call sweep failed",
				"message_id", placeholder.ID, "error", err)
		} else if swept > 0 {
			m.logger.Warn("swept unfinished tool calls",
				"message_id", placeholder.ID, "count", swept)
		}
		m.logger.Info("session finished",
			"message_id", placeholder.ID,
			"thread_id", placeholder.ThreadID,
			"finish_reason", reason,
			"status", status,
			"total_tokens", totalUsage.TotalTokens,
			"duration_ms", time.Since(start).Milliseconds())

		if cause != nil {
			chunks <- &ResponseChunk{MessageID: placeholder.ID, Error: cause}
			return
		}
		chunks <- &ResponseChunk{
			MessageID:    placeholder.ID,
			Done:         true,
			FinishReason: reason,
			Usage:        totalUsage,
		}
	}

	for iteration := 0; iteration < m.config.MaxIterations; iteration++ {
		shaped := m.compressor.Shape(ctx, msgs, iteration+1)

		req := &CompletionRequest{
			Model:     m.config.Model,
			System:    m.config.SystemPrompt,
			Messages:  shaped,
			MaxTokens: m.config.MaxTokens,
		}
		if m.client.SupportsTools() {
			req.Tools = m.registry.List()
		}

		events, err := m.client.Stream(ctx, req)
		if err != nil {
			// Cancellation can land between iterations, surfacing here as a
			// stream-creation failure. It is still a normal stop.
			if isCanceled(err) || isCanceled(ctx.Err()) {
				finish(models.FinishStop, models.MessageDone, nil)
				return
			}
			finish(models.FinishError, models.MessageError, &StreamError{Provider: m.client.Name(), Cause: err})
			return
		}

		text, toolCalls, usage, reason, streamErr := m.consumeStream(ctx, placeholder, events, chunks)
		totalUsage.Add(usage)

		if streamErr != nil {
			if isCanceled(streamErr) {
				// Cancellation is a normal stop: partial deltas stay.
				finish(models.FinishStop, models.MessageDone, nil)
				return
			}
			finish(models.FinishError, models.MessageError, streamErr)
			return
		}

		if len(toolCalls) == 0 {
			if reason == "" {
				reason = models.FinishStop
			}
			finish(reason, models.MessageDone, nil)
			return
		}

		// Execute tools and feed results back as the next turn.
		results := m.dispatcher.Dispatch(ctx, toolCalls)
		for i := range results {
			chunks <- &ResponseChunk{MessageID: placeholder.ID, ToolResult: &results[i]}
		}

		msgs = append(msgs, CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   text,
			ToolCalls: toolCalls,
		})
		msgs = append(msgs, CompletionMessage{
			Role:        string(models.RoleTool),
			ToolResults: results,
		})
	}

	finish(models.FinishMaxTokens, models.MessageDone, nil)
}

// consumeStream drains one provider stream, persisting deltas as they
// arrive and collecting complete tool calls.
func (m *Manager) consumeStream(ctx context.Context, placeholder *models.Message, events <-chan *StreamEvent, chunks chan<- *ResponseChunk) (text string, toolCalls []models.ToolCall, usage models.Usage, reason models.FinishReason, err error) {
	var accumulated string

	for event := range events {
		select {
		case <-ctx.Done():
			return accumulated, toolCalls, usage, reason, ctx.Err()
		default:
		}

		switch {
		case event == nil:
			continue

		case event.Error != nil:
			return accumulated, toolCalls, usage, reason,
				&StreamError{Provider: m.client.Name(), Cause: event.Error}

		case event.Text != "":
			if perr := m.store.AppendDelta(ctx, placeholder.ID, event.Text, false); perr != nil {
				return accumulated, toolCalls, usage, reason,
					fmt.Errorf("persist delta: %w", perr)
			}
			accumulated += event.Text
			chunks <- &ResponseChunk{MessageID: placeholder.ID, Delta: event.Text}

		case event.ToolCall != nil:
			call := *event.ToolCall
			call.MessageID = placeholder.ID
			call.ThreadID = placeholder.ThreadID
			toolCalls = append(toolCalls, call)
			chunks <- &ResponseChunk{MessageID: placeholder.ID, ToolCall: &call}

		case event.ToolResult != nil:
			// Provider-side tool result: persisted on the call record,
			// never appended to message text.
			m.recordProviderResult(ctx, placeholder, event.ToolResult)
			chunks <- &ResponseChunk{MessageID: placeholder.ID, ToolResult: event.ToolResult}

		case event.Done:
			usage = event.Usage
			reason = event.FinishReason
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		return accumulated, toolCalls, usage, reason, cerr
	}
	return accumulated, toolCalls, usage, reason, nil
}

func (m *Manager) recordProviderResult(ctx context.Context, placeholder *models.Message, result *models.ToolResult) {
	call := &models.ToolCall{
		ID:        result.ToolCallID,
		MessageID: placeholder.ID,
		ThreadID:  placeholder.ThreadID,
		ToolName:  "provider",
		Status:    models.ToolCallPending,
	}
	if err := m.store.Record(ctx, call); err != nil && !errors.Is(err, store.ErrDuplicateCallID) {
		m.logger.Warn("failed to record provider tool result",
			"tool_call_id", result.ToolCallID, "error", err)
		return
	}
	if result.IsError {
		if err := m.store.Fail(ctx, result.ToolCallID, result.Content); err != nil {
			m.logger.Warn("failed to persist provider tool failure",
				"tool_call_id", result.ToolCallID, "error", err)
		}
		return
	}
	if err := m.store.Complete(ctx, result.ToolCallID, result.Content); err != nil {
		m.logger.Warn("failed to persist provider tool result",
			"tool_call_id", result.ToolCallID, "error", err)
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
