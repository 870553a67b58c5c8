package agent

import (
	"context"
	"encoding/json"

	"github.com/forgeworks/anvil/pkg/models"
)

// StreamingClient is the LLM provider boundary.
//
// Implementations translate a vendor streaming API (Anthropic, OpenAI,
// Bedrock) into the ordered StreamEvent sequence the session manager
// consumes. The core tolerates any provider that emits at least this event
// shape: text deltas, tool calls, optional provider-side tool results, and a
// terminal Done event carrying usage and a finish reason.
//
// Implementations must be safe for concurrent use; multiple sessions may
// call Stream simultaneously.
type StreamingClient interface {
	// Stream sends a completion request and returns the event sequence.
	// The returned channel is closed when the stream ends. Cancelling ctx
	// aborts the underlying request; the abort surfaces as the stream ending.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *StreamEvent, error)

	// Name returns the provider name ("anthropic", "openai", "bedrock").
	Name() string

	// SupportsTools reports whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for one LLM streaming call.
type CompletionRequest struct {
	// Model is the provider model id. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the shaped conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tool catalog offered to the model.
	Tools []Tool `json:"-"`

	// MaxTokens caps the generated response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature adjusts sampling. Zero value means provider default.
	Temperature float32 `json:"temperature,omitempty"`
}

// CompletionMessage is a single turn handed to a provider.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// StreamEvent is one event in a provider's response sequence.
//
// Exactly one of Text, ToolCall, ToolResult, Done, or Error is meaningful
// per event. Done carries the final usage counters and finish reason.
type StreamEvent struct {
	// Text is an incremental text delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request from the model.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// ToolResult is a provider-executed tool result (server-side tools).
	// It is persisted onto the tool call record, never appended to message text.
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`

	// Done signals successful stream completion.
	Done bool `json:"done,omitempty"`

	// FinishReason is set on the Done event.
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`

	// Usage is set on the Done event.
	Usage models.Usage `json:"usage,omitempty"`

	// Error terminates the stream abnormally.
	Error error `json:"-"`
}

// Tool defines an executable, schema-validated agent tool.
//
// Schema returns the JSON Schema for the tool's arguments; the registry
// compiles it at registration and validates every invocation before Execute
// runs, so implementations may trust the argument shape.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool with validated JSON arguments.
	Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is the outcome of a tool execution.
//
// Failures travel as data (IsError=true) so the model sees them as a tool
// result and can retry with a different approach; only infrastructure
// problems (registry lookup, schema violation) surface as Go errors.
type ToolOutput struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
