package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageStatus tracks the streaming lifecycle of a message.
//
// Status moves pending -> streaming -> done|error. Once a message reaches a
// terminal status its content is immutable; the only permitted later
// transition is a corrective done -> error (for example when a workflow step
// fails after the stream already finalized).
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageStreaming MessageStatus = "streaming"
	MessageDone      MessageStatus = "done"
	MessageError     MessageStatus = "error"
)

// FinishReason records why a stream ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolUse   FinishReason = "tool_use"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// Usage aggregates token counts for one message or one workflow run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens = u.InputTokens + u.OutputTokens
}

// Message is one conversation turn within a thread.
//
// Seq is assigned by the store and is monotonic per thread. Assistant
// messages carry PromptMessageID, a back-reference to the user message that
// triggered them, so a thread can be replayed or resumed from any turn.
type Message struct {
	ID              string        `json:"id"`
	ThreadID        string        `json:"thread_id"`
	Role            Role          `json:"role"`
	Content         string        `json:"content"`
	Status          MessageStatus `json:"status"`
	Usage           Usage         `json:"usage"`
	FinishReason    FinishReason  `json:"finish_reason,omitempty"`
	Seq             int64         `json:"seq"`
	PromptMessageID string        `json:"prompt_message_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Terminal reports whether the message reached a final status.
func (m *Message) Terminal() bool {
	return m.Status == MessageDone || m.Status == MessageError
}

// Thread is the addressable conversation container a message belongs to.
// It owns sequence ordering and is the unit of resume/continue.
//
// A thread with an empty WorkspaceID runs in scratchpad mode: remote tools
// are registered but answer with a structured "not available" result.
type Thread struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasWorkspace reports whether the thread has an attached sandbox workspace.
func (t *Thread) HasWorkspace() bool {
	return t != nil && t.WorkspaceID != ""
}
