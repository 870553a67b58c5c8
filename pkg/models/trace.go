package models

import "time"

// TraceStatus tracks the lifecycle of one durable workflow run.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "running"
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
)

// WorkflowKind names the workflow that produced a trace.
type WorkflowKind string

const (
	// WorkflowAgentRun is the checkpointed prompt-to-response pipeline.
	WorkflowAgentRun WorkflowKind = "agent_run"
)

// WorkflowTrace is one durable execution of the orchestration pipeline.
//
// A trace owns an ordered sequence of checkpointed steps; each step result is
// persisted before the next step starts, so re-entering the workflow after a
// crash replays from the first step without a persisted result.
type WorkflowTrace struct {
	ID            string        `json:"id"`
	ThreadID      string        `json:"thread_id"`
	Kind          WorkflowKind  `json:"kind"`
	Model         string        `json:"model"`
	Status        TraceStatus   `json:"status"`
	Usage         Usage         `json:"usage"`
	Duration      time.Duration `json:"duration"`
	ToolCallCount int           `json:"tool_call_count"`
	ErrorType     string        `json:"error_type,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
}
