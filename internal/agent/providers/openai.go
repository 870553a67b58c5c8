package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/pkg/models"
)

// OpenAIClient implements agent.StreamingClient over OpenAI chat
// completions. Safe for concurrent use.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	retry        retryer
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint (optional, for compatible proxies).
	BaseURL string

	// DefaultModel is used when a request does not specify a model.
	// Default: "gpt-4o".
	DefaultModel string

	// MaxRetries bounds stream-creation attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff between attempts. Default: 1s.
	RetryDelay time.Duration
}

// NewOpenAIClient creates an OpenAI streaming client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		retry:        newRetryer(config.MaxRetries, config.RetryDelay),
	}, nil
}

// Name returns "openai".
func (c *OpenAIClient) Name() string { return "openai" }

// SupportsTools reports tool use support.
func (c *OpenAIClient) SupportsTools() bool { return true }

// Stream sends a completion request and returns the event sequence.
func (c *OpenAIClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := c.retry.do(ctx, func() error {
		var serr error
		stream, serr = c.client.CreateChatCompletionStream(ctx, chatReq)
		if serr != nil {
			return WrapError("openai", model, serr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make(chan *agent.StreamEvent)
	go c.processStream(ctx, stream, model, events)
	return events, nil
}

// processStream accumulates tool call fragments by index across chunks: the
// first fragment carries id and name, later fragments append argument JSON.
func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, events chan<- *agent.StreamEvent) {
	defer close(events)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	var usage models.Usage
	reason := models.FinishStop

	flushToolCalls := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc.ID == "" || tc.ToolName == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage("{}")
			}
			events <- &agent.StreamEvent{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			events <- &agent.StreamEvent{Error: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				events <- &agent.StreamEvent{
					Done:         true,
					FinishReason: reason,
					Usage:        usage,
				}
				return
			}
			events <- &agent.StreamEvent{Error: WrapError("openai", model, err)}
			return
		}

		if response.Usage != nil {
			usage = models.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
				TotalTokens:  response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			events <- &agent.StreamEvent{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].ToolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			reason = models.FinishToolUse
			flushToolCalls()
		case openai.FinishReasonLength:
			reason = models.FinishMaxTokens
		case openai.FinishReasonStop:
			reason = models.FinishStop
		}
	}
}

// convertOpenAIMessages maps conversation turns to OpenAI chat messages.
// Unlike Anthropic, the system prompt rides in the message array and each
// tool result becomes its own tool-role message.
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolName,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
