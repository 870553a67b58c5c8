package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus tracks the lifecycle of one tool invocation.
//
// Transitions are forward-only: pending -> running -> completed|failed.
// A call that is still pending or running when its owning message finalizes
// is swept to failed by the session manager.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// SweepFailureReason is the fixed diagnostic recorded on tool calls swept to
// failed because their owning stream ended first.
const SweepFailureReason = "tool call did not complete before streaming ended"

// ToolCall is one tool invocation requested by the model.
//
// ID is assigned by the provider and is unique within a run; the store
// rejects a second Record for the same id.
type ToolCall struct {
	ID          string          `json:"id"`
	MessageID   string          `json:"message_id"`
	ThreadID    string          `json:"thread_id"`
	ToolName    string          `json:"tool_name"`
	Input       json.RawMessage `json:"input"`
	Status      ToolCallStatus  `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// ToolResult is the outcome of a tool execution as seen by the model.
// Errors travel as data (IsError=true) so the model can recover
// conversationally instead of the stream aborting.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
