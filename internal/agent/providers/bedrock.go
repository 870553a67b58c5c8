package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/pkg/models"
)

// BedrockClient implements agent.StreamingClient over the AWS Bedrock
// Converse streaming API. Authentication rides the standard AWS credential
// chain; no vendor API key is involved. Safe for concurrent use.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
	retry        retryer
}

// BedrockConfig configures the Bedrock client.
type BedrockConfig struct {
	// Region is the AWS region. Default: "us-east-1".
	Region string

	// DefaultModel is used when a request does not specify a model.
	// Default: Claude Sonnet on Bedrock.
	DefaultModel string

	// MaxRetries bounds stream-creation attempts. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff between attempts. Default: 1s.
	RetryDelay time.Duration
}

// NewBedrockClient creates a Bedrock streaming client using the default AWS
// credential chain (environment, shared config, IAM role).
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-sonnet-4-20250514-v1:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
		retry:        newRetryer(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "bedrock".
func (c *BedrockClient) Name() string { return "bedrock" }

// SupportsTools reports tool use support via the Converse API.
func (c *BedrockClient) SupportsTools() bool { return true }

// Stream sends a completion request and returns the event sequence.
func (c *BedrockClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	input := c.buildInput(req, model)

	var stream *bedrockruntime.ConverseStreamOutput
	err := c.retry.do(ctx, func() error {
		var serr error
		stream, serr = c.client.ConverseStream(ctx, input)
		if serr != nil {
			return WrapError("bedrock", model, serr)
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

func (c *BedrockClient) buildInput(req *agent.CompletionRequest, model string) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockMessages(req.Messages),
	}
	var system []types.SystemContentBlock
	if req.System != "" {
		system = append(system, &types.SystemContentBlockMemberText{Value: req.System})
	}
	// System-role turns (the compression summary) ride the Converse system
	// field; the message array only carries user and assistant roles.
	for _, text := range systemTurns(req.Messages) {
		system = append(system, &types.SystemContentBlockMemberText{Value: text})
	}
	if len(system) > 0 {
		input.System = system
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertBedrockTools(req.Tools)
	}
	return input
}

func (c *BedrockClient) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, model string, events chan<- *agent.StreamEvent) {
	defer close(events)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage
	reason := models.FinishStop

	emitPendingToolCall := func() {
		if currentToolCall == nil || currentToolCall.ID == "" {
			return
		}
		input := toolInput.String()
		if input == "" {
			input = "{}"
		}
		currentToolCall.Input = json.RawMessage(input)
		events <- &agent.StreamEvent{ToolCall: currentToolCall}
		currentToolCall = nil
		toolInput.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			events <- &agent.StreamEvent{Error: ctx.Err()}
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				emitPendingToolCall()
				if err := eventStream.Err(); err != nil {
					events <- &agent.StreamEvent{Error: WrapError("bedrock", model, err)}
					return
				}
				events <- &agent.StreamEvent{Done: true, FinishReason: reason, Usage: usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:       aws.ToString(toolUse.Value.ToolUseId),
						ToolName: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						events <- &agent.StreamEvent{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				emitPendingToolCall()

			case *types.ConverseStreamOutputMemberMessageStop:
				reason = mapBedrockStopReason(ev.Value.StopReason)

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.InputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.OutputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
					usage.TotalTokens = int(aws.ToInt32(ev.Value.Usage.TotalTokens))
				}
			}
		}
	}
}

func mapBedrockStopReason(reason types.StopReason) models.FinishReason {
	switch reason {
	case types.StopReasonToolUse:
		return models.FinishToolUse
	case types.StopReasonMaxTokens:
		return models.FinishMaxTokens
	default:
		return models.FinishStop
	}
}

// convertBedrockMessages maps conversation turns to Converse messages.
// System turns are excluded here; buildInput folds them into the request's
// system field. Tool results become tool-result content blocks on user
// messages.
func convertBedrockMessages(messages []agent.CompletionMessage) []types.Message {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.ToolName),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
		for _, tr := range msg.ToolResults {
			status := types.ToolResultStatusSuccess
			if tr.IsError {
				status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: tr.Content},
					},
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result
}

func convertBedrockTools(tools []agent.Tool) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name()),
				Description: aws.String(tool.Description()),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
