package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func makeHistory(turns int, charsPerTurn int) []CompletionMessage {
	msgs := make([]CompletionMessage, 0, turns)
	for i := 0; i < turns; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, CompletionMessage{
			Role:    role,
			Content: strings.Repeat("w", charsPerTurn),
		})
	}
	return msgs
}

func TestShapeBelowThresholdIsIdentity(t *testing.T) {
	c := NewCompressor(CompressorConfig{TokenBudget: 1000}, nil, testLogger())
	history := makeHistory(10, 40) // 100 tokens, far under 800 threshold

	shaped := c.Shape(context.Background(), history, 10)
	if len(shaped) != len(history) {
		t.Fatalf("len(shaped) = %d, want %d", len(shaped), len(history))
	}
	for i := range shaped {
		if shaped[i].Content != history[i].Content {
			t.Errorf("turn %d mutated", i)
		}
	}
}

func TestShapeSkipsEarlySteps(t *testing.T) {
	c := NewCompressor(CompressorConfig{TokenBudget: 10}, nil, testLogger())
	history := makeHistory(10, 400) // well over any threshold

	for step := 1; step <= 3; step++ {
		shaped := c.Shape(context.Background(), history, step)
		if len(shaped) != len(history) {
			t.Errorf("step %d: compressed despite early-step guard", step)
		}
	}
	if shaped := c.Shape(context.Background(), history, 4); len(shaped) >= len(history) {
		t.Errorf("step 4: no compression, len = %d", len(shaped))
	}
}

func TestShapeKeepsRecentTurnsVerbatim(t *testing.T) {
	c := NewCompressor(CompressorConfig{TokenBudget: 100, KeepRecentTurns: 4}, nil, testLogger())
	history := makeHistory(12, 100)

	shaped := c.Shape(context.Background(), history, 10)
	if len(shaped) != 5 {
		t.Fatalf("len(shaped) = %d, want 5 (summary + 4 recent)", len(shaped))
	}
	if shaped[0].Role != "system" {
		t.Errorf("first turn role = %q, want system", shaped[0].Role)
	}
	for i := 0; i < 4; i++ {
		want := history[len(history)-4+i]
		got := shaped[i+1]
		if got.Content != want.Content || got.Role != want.Role {
			t.Errorf("recent turn %d altered", i)
		}
	}
}

// Shaping already-shaped history shrinks nothing further while it fits the
// budget: compression is idempotent at a fixed point.
func TestShapeIdempotent(t *testing.T) {
	sum := &fixedSummarizer{summary: "earlier work recap"}
	c := NewCompressor(CompressorConfig{TokenBudget: 1000, KeepRecentTurns: 4}, sum, testLogger())
	history := makeHistory(30, 200)

	once := c.Shape(context.Background(), history, 10)
	twice := c.Shape(context.Background(), once, 10)
	if len(twice) != len(once) {
		t.Fatalf("second pass changed shape: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Errorf("turn %d changed on second pass", i)
		}
	}
}

type fixedSummarizer struct {
	summary string
	err     error
	prompts []string
}

func (f *fixedSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.summary, f.err
}

func TestShapeUsesSummarizer(t *testing.T) {
	sum := &fixedSummarizer{summary: "they discussed the build"}
	c := NewCompressor(CompressorConfig{TokenBudget: 100}, sum, testLogger())
	history := makeHistory(10, 100)

	shaped := c.Shape(context.Background(), history, 10)
	if !strings.Contains(shaped[0].Content, "they discussed the build") {
		t.Errorf("summary turn = %q", shaped[0].Content)
	}
	if len(sum.prompts) != 1 {
		t.Fatalf("summarizer called %d times, want 1", len(sum.prompts))
	}
}

func TestShapeFallsBackOnSummarizerError(t *testing.T) {
	sum := &fixedSummarizer{err: errors.New("model unavailable")}
	c := NewCompressor(CompressorConfig{TokenBudget: 100}, sum, testLogger())
	history := makeHistory(10, 100)

	shaped := c.Shape(context.Background(), history, 10)
	if len(shaped) >= len(history) {
		t.Fatal("no compression happened")
	}
	if !strings.Contains(shaped[0].Content, "earlier turns elided") {
		t.Errorf("fallback summary = %q", shaped[0].Content)
	}
}

func TestSummarizationPromptCapsTurns(t *testing.T) {
	sum := &fixedSummarizer{summary: "s"}
	c := NewCompressor(CompressorConfig{TokenBudget: 100, MaxTurnChars: 50}, sum, testLogger())
	history := makeHistory(10, 5000)

	c.Shape(context.Background(), history, 10)
	if len(sum.prompts) != 1 {
		t.Fatalf("summarizer called %d times", len(sum.prompts))
	}
	// Six older turns at 5000 chars each would exceed 30000; the cap keeps
	// the prompt near the per-turn limit times the turn count.
	if len(sum.prompts[0]) > 2000 {
		t.Errorf("prompt length = %d, cap not applied", len(sum.prompts[0]))
	}
}
