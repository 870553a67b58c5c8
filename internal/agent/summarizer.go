package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/pkg/models"
)

// summaryMaxTokens caps the summary completion. Summaries that need more
// room than this are doing the history's job, not compressing it.
const summaryMaxTokens = 1024

// ClientSummarizer generates compression summaries through a streaming
// client: one plain completion call with no tools, text deltas joined into
// the summary. Errors propagate to the compressor, which falls back to the
// heuristic.
type ClientSummarizer struct {
	client StreamingClient
	model  string
}

// NewClientSummarizer creates a summarizer over the given client. An empty
// model selects the client's default.
func NewClientSummarizer(client StreamingClient, model string) *ClientSummarizer {
	return &ClientSummarizer{client: client, model: model}
}

// Summarize runs the summarization prompt as a single-turn completion.
func (s *ClientSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if s.client == nil {
		return "", ErrNoClient
	}

	events, err := s.client.Stream(ctx, &CompletionRequest{
		Model: s.model,
		Messages: []CompletionMessage{
			{Role: string(models.RoleUser), Content: prompt},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var sb strings.Builder
	for event := range events {
		if event == nil {
			continue
		}
		if event.Error != nil {
			return "", fmt.Errorf("summarize: %w", event.Error)
		}
		sb.WriteString(event.Text)
	}
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	return strings.TrimSpace(sb.String()), nil
}
