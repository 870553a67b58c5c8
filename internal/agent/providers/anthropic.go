// Package providers implements the LLM streaming clients behind the
// agent.StreamingClient interface: Anthropic's Claude API, OpenAI's chat
// completions, and AWS Bedrock's Converse API. Each client translates the
// vendor stream into the ordered StreamEvent sequence the session manager
// consumes, with retry on transient stream-creation failures and classified
// errors for the failover chain.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// declared malformed.
const maxEmptyStreamEvents = 100

// AnthropicClient implements agent.StreamingClient over Anthropic's
// Messages streaming API. Safe for concurrent use.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	retry        retryer
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint (optional, for proxies).
	BaseURL string

	// DefaultModel is used when a request does not specify a model.
	// Default: "claude-sonnet-4-20250514".
	DefaultModel string

	// MaxRetries bounds stream-creation attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff between attempts. Default: 1s.
	RetryDelay time.Duration
}

// NewAnthropicClient creates an Anthropic streaming client.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		retry:        newRetryer(config.MaxRetries, config.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (c *AnthropicClient) Name() string { return "anthropic" }

// SupportsTools reports tool use support.
func (c *AnthropicClient) SupportsTools() bool { return true }

// Stream sends a completion request and returns the event sequence.
func (c *AnthropicClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params, err := c.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = c.retry.do(ctx, func() error {
		stream = c.client.Messages.NewStreaming(ctx, params)
		if serr := stream.Err(); serr != nil {
			return WrapError("anthropic", model, serr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make(chan *agent.StreamEvent)
	go c.processStream(stream, model, events)
	return events, nil
}

func (c *AnthropicClient) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	system := make([]anthropic.TextBlockParam, 0, 2)
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Type: "text", Text: req.System})
	}
	// System-role turns (the compression summary) ride the system parameter;
	// the message array only carries user and assistant roles.
	for _, text := range systemTurns(req.Messages) {
		system = append(system, anthropic.TextBlockParam{Type: "text", Text: text})
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, terr := convertAnthropicTools(req.Tools)
		if terr != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", terr)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream walks the SSE event sequence, assembling tool calls across
// content_block events and emitting usage on the final Done.
func (c *AnthropicClient) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, events chan<- *agent.StreamEvent) {
	defer close(events)

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage
	reason := models.FinishStop
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:       toolUse.ID,
					ToolName: toolUse.Name,
				}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					events <- &agent.StreamEvent{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				events <- &agent.StreamEvent{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(msgDelta.Usage.OutputTokens)
			}
			reason = mapAnthropicStopReason(string(msgDelta.Delta.StopReason))
			processed = true

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			events <- &agent.StreamEvent{
				Done:         true,
				FinishReason: reason,
				Usage:        usage,
			}
			return

		case "error":
			events <- &agent.StreamEvent{
				Error: WrapError("anthropic", model, errors.New("stream error event")),
			}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				events <- &agent.StreamEvent{
					Error: WrapError("anthropic", model,
						fmt.Errorf("malformed stream: %d consecutive empty events", emptyEvents)),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		events <- &agent.StreamEvent{Error: WrapError("anthropic", model, err)}
	}
}

func mapAnthropicStopReason(reason string) models.FinishReason {
	switch reason {
	case "tool_use":
		return models.FinishToolUse
	case "max_tokens":
		return models.FinishMaxTokens
	default:
		return models.FinishStop
	}
}

// convertAnthropicMessages maps conversation turns into Anthropic message
// params. System turns are excluded here; buildParams folds them into the
// top-level system parameter alongside the configured prompt. Tool-role
// turns fold into user messages carrying tool result blocks.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.ToolName, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.ToolName))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}
	return result, nil
}
