package providers

import (
	"context"
	"time"

	"github.com/forgeworks/anvil/internal/agent"
)

// systemTurns collects the content of system-role turns in order. The
// compressor injects its summary as a system turn; providers whose APIs take
// the system prompt out of band must carry these turns there or lose the
// summarized history.
func systemTurns(messages []agent.CompletionMessage) []string {
	var texts []string
	for _, msg := range messages {
		if msg.Role == "system" && msg.Content != "" {
			texts = append(texts, msg.Content)
		}
	}
	return texts
}

// retryer holds shared retry parameters for provider stream creation.
type retryer struct {
	maxRetries int
	delay      time.Duration
}

func newRetryer(maxRetries int, delay time.Duration) retryer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if delay <= 0 {
		delay = time.Second
	}
	return retryer{maxRetries: maxRetries, delay: delay}
}

// do runs op with linear backoff while Retryable approves. Only stream
// creation retries; an established stream that breaks mid-flight is
// surfaced to the caller.
func (r retryer) do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) || attempt >= r.maxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay * time.Duration(attempt)):
		}
	}
	return lastErr
}
