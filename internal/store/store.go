// Package store implements conversation persistence for the orchestration
// core: threads, messages with streaming lifecycle, tool call state, workflow
// traces with checkpointed step results, and the data-tool tables.
//
// Two implementations share the same semantics: a sqlite-backed store for
// durable deployments and an in-memory store for tests and scratchpad use.
// Append ordering within a message is strictly sequential; the session
// manager's single-active-stream invariant guarantees a single writer.
package store

import (
	"context"
	"time"

	"github.com/forgeworks/anvil/pkg/models"
)

// MessageStore is the message/thread persistence surface consumed by the
// session manager and the workflow engine.
type MessageStore interface {
	// CreateThread persists a new thread.
	CreateThread(ctx context.Context, thread *models.Thread) error

	// GetThread returns a thread by id.
	GetThread(ctx context.Context, id string) (*models.Thread, error)

	// ListThreads returns the most recently updated threads.
	ListThreads(ctx context.Context, limit int) ([]models.Thread, error)

	// AppendMessage persists a complete turn (for example the user prompt)
	// with status done, assigning the next sequence number.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// StartPlaceholder creates a pending message for an incoming stream and
	// assigns the next sequence number. promptMessageID links an assistant
	// placeholder back to the user message that triggered it.
	StartPlaceholder(ctx context.Context, threadID string, role models.Role, promptMessageID string) (*models.Message, error)

	// AppendDelta appends streamed text to the message content. Each delta
	// is persisted individually so subscribers see partial output. isFinal
	// marks the last delta of the stream.
	AppendDelta(ctx context.Context, messageID, text string, isFinal bool) error

	// Finalize writes usage and finish reason and moves the message to a
	// terminal status. Content is immutable afterwards.
	Finalize(ctx context.Context, messageID string, usage models.Usage, reason models.FinishReason, status models.MessageStatus) error

	// MarkError is the corrective post-hoc transition to status error, used
	// when a workflow step fails after (or instead of) normal finalization.
	MarkError(ctx context.Context, messageID, errMsg string) error

	// GetMessage returns a message by id.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// History returns up to limit most recent turns in ascending seq order.
	History(ctx context.Context, threadID string, limit int) ([]models.Message, error)

	// RemoveAfterSequence discards every turn with seq > seq, used to resume
	// a thread from an earlier point. Returns the number removed.
	RemoveAfterSequence(ctx context.Context, threadID string, seq int64) (int, error)
}

// ToolCallStore is the tool-call state tracker. Status transitions are
// forward-only; terminal states never regress.
type ToolCallStore interface {
	// Record persists a new call in pending state. A reused call id fails
	// with ErrDuplicateCallID, guarding against replayed streams.
	Record(ctx context.Context, call *models.ToolCall) error

	// MarkRunning moves a pending call to running.
	MarkRunning(ctx context.Context, id string) error

	// Complete stores the result and moves the call to completed.
	// A call already in a terminal state is left untouched.
	Complete(ctx context.Context, id, result string) error

	// Fail stores the error and moves the call to failed.
	// A call already in a terminal state is left untouched.
	Fail(ctx context.Context, id, errMsg string) error

	// SweepStale fails every call of the message still pending or running,
	// with the fixed models.SweepFailureReason diagnostic. Invoked exactly
	// once per finalized message. Returns the number swept.
	SweepStale(ctx context.Context, messageID string) (int, error)

	// GetToolCall returns a call by id.
	GetToolCall(ctx context.Context, id string) (*models.ToolCall, error)

	// ListToolCallsByMessage returns the calls owned by a message.
	ListToolCallsByMessage(ctx context.Context, messageID string) ([]models.ToolCall, error)

	// PruneToolCalls removes terminal calls older than the cutoff.
	PruneToolCalls(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TraceStore persists workflow traces.
type TraceStore interface {
	// StartTrace records a running trace. Re-entering an existing run id is
	// a no-op so crash resumption does not duplicate the row.
	StartTrace(ctx context.Context, trace *models.WorkflowTrace) error

	// CompleteTrace finishes a trace with aggregated usage, duration and
	// tool-call count.
	CompleteTrace(ctx context.Context, id string, usage models.Usage, duration time.Duration, toolCalls int) error

	// FailTrace marks a trace failed with an error type and message.
	FailTrace(ctx context.Context, id, errType, errMsg string) error

	// GetTrace returns a trace by id.
	GetTrace(ctx context.Context, id string) (*models.WorkflowTrace, error)

	// PruneTraces removes finished traces older than the cutoff.
	PruneTraces(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StepStore persists checkpointed step results for the durable runner.
// A step's result is written before the next step starts; replaying a run
// skips every step with a persisted result.
type StepStore interface {
	// GetStepResult returns the persisted result for (runID, name), if any.
	GetStepResult(ctx context.Context, runID, name string) ([]byte, bool, error)

	// PutStepResult persists a step result. Overwriting is permitted only
	// for the same payload; steps are idempotent by contract.
	PutStepResult(ctx context.Context, runID, name string, result []byte) error
}

// TodoItem is one entry of a thread's working todo list.
type TodoItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// MemoryNote is a durable note saved by the memory data tool.
type MemoryNote struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DataStore backs the data tools (todos, memories).
type DataStore interface {
	// PutTodos replaces the thread's todo list.
	PutTodos(ctx context.Context, threadID string, items []TodoItem) error

	// GetTodos returns the thread's todo list in order.
	GetTodos(ctx context.Context, threadID string) ([]TodoItem, error)

	// SaveMemory persists a memory note.
	SaveMemory(ctx context.Context, note *MemoryNote) error

	// SearchMemories returns notes whose content matches the query substring,
	// most recent first.
	SearchMemories(ctx context.Context, query string, limit int) ([]MemoryNote, error)
}

// Store is the full persistence surface.
type Store interface {
	MessageStore
	ToolCallStore
	TraceStore
	StepStore
	DataStore

	// Close releases the underlying resources.
	Close() error
}
