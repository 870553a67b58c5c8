package agent

import (
	"errors"
	"fmt"
)

// ErrSessionActive is returned when a second stream is started for a message
// id that still has a registered cancellation handle. The caller raced
// itself; the existing session is untouched.
var ErrSessionActive = errors.New("streaming session already active for message")

// ErrNoClient is returned when a session is started without a streaming client.
var ErrNoClient = errors.New("no streaming client configured")

// StreamError wraps a provider failure that occurred mid-stream. It is
// terminal for the owning message but never corrupts other sessions: the
// message finalizes with an error annotation, stale tool calls are swept,
// and the workflow step fails when running under the checkpoint engine.
type StreamError struct {
	Provider string
	Cause    error
}

func (e *StreamError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider stream failed (%s): %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("provider stream failed: %v", e.Cause)
}

func (e *StreamError) Unwrap() error { return e.Cause }

// ToolExecutionError describes a tool that failed or timed out. It is
// recorded on the ToolCall as failed and does not abort the stream.
type ToolExecutionError struct {
	ToolName string
	CallID   string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.ToolName, e.CallID, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// SchemaViolationError reports tool arguments rejected by the registered
// schema before the tool ran.
type SchemaViolationError struct {
	ToolName string
	Cause    error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("arguments for tool %s rejected by schema: %v", e.ToolName, e.Cause)
}

func (e *SchemaViolationError) Unwrap() error { return e.Cause }
