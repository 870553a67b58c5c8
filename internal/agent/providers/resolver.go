package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/forgeworks/anvil/internal/agent"
)

// ErrNoCredentials is returned when no provider credentials can be found.
var ErrNoCredentials = errors.New("providers: no credentials found (set AnthropicKey, OpenAIKey, ANTHROPIC_API_KEY, OPENAI_API_KEY, or configure AWS credentials)")

// ResolverConfig carries explicit credentials and per-provider overrides.
// Empty fields fall back to the environment.
type ResolverConfig struct {
	// AnthropicKey selects Anthropic when set.
	AnthropicKey string

	// OpenAIKey selects OpenAI when set and no Anthropic key is present.
	OpenAIKey string

	// OpenAIBaseURL points OpenAI-compatible requests at another endpoint.
	OpenAIBaseURL string

	// AWSRegion is used when resolution lands on Bedrock.
	AWSRegion string

	// Model overrides each provider's default model.
	Model string
}

// Resolve picks a streaming client from available credentials, in order:
// explicit Anthropic key, explicit OpenAI key, ANTHROPIC_API_KEY,
// OPENAI_API_KEY, then the AWS default credential chain via Bedrock.
// Returns ErrNoCredentials when nothing is configured.
func Resolve(ctx context.Context, cfg ResolverConfig) (agent.StreamingClient, error) {
	if cfg.AnthropicKey != "" {
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicKey, DefaultModel: cfg.Model})
	}
	if cfg.OpenAIKey != "" {
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL, DefaultModel: cfg.Model})
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicClient(AnthropicConfig{APIKey: key, DefaultModel: cfg.Model})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAIClient(OpenAIConfig{APIKey: key, BaseURL: cfg.OpenAIBaseURL, DefaultModel: cfg.Model})
	}

	if hasAWSCredentials(ctx) {
		client, err := NewBedrockClient(ctx, BedrockConfig{Region: cfg.AWSRegion, DefaultModel: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("resolve bedrock: %w", err)
		}
		return client, nil
	}

	return nil, ErrNoCredentials
}

func hasAWSCredentials(ctx context.Context) bool {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return false
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}
