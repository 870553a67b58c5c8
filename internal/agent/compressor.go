package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgeworks/anvil/pkg/models"
)

// CompressorConfig configures conversation compression.
type CompressorConfig struct {
	// TokenBudget is the context window budget in estimated tokens.
	// Default: 100000.
	TokenBudget int

	// ThresholdRatio is the fraction of the budget at which compression
	// kicks in. Default: 0.8.
	ThresholdRatio float64

	// KeepRecentTurns is how many recent turns survive verbatim.
	// Default: 4.
	KeepRecentTurns int

	// MinSteps is the loop step count below which compression is skipped:
	// short runs never pay the summarization cost. Default: 3.
	MinSteps int

	// MaxTurnChars caps each turn's contribution to the summarization
	// prompt. Default: 2000.
	MaxTurnChars int
}

// DefaultCompressorConfig returns sensible defaults.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		TokenBudget:     100000,
		ThresholdRatio:  0.8,
		KeepRecentTurns: 4,
		MinSteps:        3,
		MaxTurnChars:    2000,
	}
}

// Summarizer generates a summary of older conversation turns. LLM-backed
// implementations may fail; the compressor then falls back to the heuristic.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Compressor shapes conversation history to fit the token budget. Recent
// turns pass through verbatim; older turns collapse into a single system
// summary turn. Shaping is read-only with respect to the store: persisted
// history is never rewritten.
type Compressor struct {
	config     CompressorConfig
	summarizer Summarizer
	logger     *slog.Logger
}

// NewCompressor creates a compressor. A nil summarizer selects the pure
// heuristic strategy. Zero config fields get defaults.
func NewCompressor(config CompressorConfig, summarizer Summarizer, logger *slog.Logger) *Compressor {
	if config.TokenBudget <= 0 {
		config.TokenBudget = 100000
	}
	if config.ThresholdRatio <= 0 || config.ThresholdRatio > 1 {
		config.ThresholdRatio = 0.8
	}
	if config.KeepRecentTurns <= 0 {
		config.KeepRecentTurns = 4
	}
	if config.MinSteps <= 0 {
		config.MinSteps = 3
	}
	if config.MaxTurnChars <= 0 {
		config.MaxTurnChars = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		config:     config,
		summarizer: summarizer,
		logger:     logger,
	}
}

// EstimateTokens approximates the token count of text as ceil(len/4).
// Crude but monotone, which is all threshold math needs.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// estimateHistoryTokens sums the estimate across all turns, including tool
// call payloads and results.
func estimateHistoryTokens(history []CompletionMessage) int {
	total := 0
	for _, msg := range history {
		total += EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += EstimateTokens(string(tc.Input))
		}
		for _, tr := range msg.ToolResults {
			total += EstimateTokens(tr.Content)
		}
	}
	return total
}

// NeedsCompression reports whether history exceeds the compression
// threshold at the given loop step.
func (c *Compressor) NeedsCompression(history []CompletionMessage, step int) bool {
	if step <= c.config.MinSteps {
		return false
	}
	if len(history) <= c.config.KeepRecentTurns {
		return false
	}
	threshold := int(float64(c.config.TokenBudget) * c.config.ThresholdRatio)
	return estimateHistoryTokens(history) >= threshold
}

// Shape returns history fit for the next completion request. Under the
// threshold it returns the input unchanged. Over it, turns older than the
// recent window collapse into one system summary turn. Shape never fails:
// a summarizer error falls back to the heuristic summary.
func (c *Compressor) Shape(ctx context.Context, history []CompletionMessage, step int) []CompletionMessage {
	if !c.NeedsCompression(history, step) {
		return history
	}

	cut := len(history) - c.config.KeepRecentTurns
	older := history[:cut]
	recent := history[cut:]

	summary := c.summarize(ctx, older)

	shaped := make([]CompletionMessage, 0, len(recent)+1)
	shaped = append(shaped, CompletionMessage{
		Role:    string(models.RoleSystem),
		Content: "Summary of the earlier conversation:\n\n" + summary,
	})
	shaped = append(shaped, recent...)

	c.logger.Debug("compressed conversation history",
		"turns_in", len(history),
		"turns_out", len(shaped),
		"tokens_in", estimateHistoryTokens(history),
		"tokens_out", estimateHistoryTokens(shaped))

	return shaped
}

func (c *Compressor) summarize(ctx context.Context, older []CompletionMessage) string {
	if c.summarizer != nil {
		prompt := c.buildSummarizationPrompt(older)
		summary, err := c.summarizer.Summarize(ctx, prompt)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			c.logger.Warn("summarizer failed, falling back to heuristic",
				"error", err)
		}
	}
	return heuristicSummary(older)
}

// buildSummarizationPrompt renders older turns into a summarization request.
// Each turn is capped so one oversized tool result cannot dominate.
func (c *Compressor) buildSummarizationPrompt(older []CompletionMessage) string {
	var sb strings.Builder

	sb.WriteString("Summarize the following conversation concisely. Focus on:\n")
	sb.WriteString("- Key decisions and conclusions\n")
	sb.WriteString("- Files and resources touched\n")
	sb.WriteString("- Pending tasks and open questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")
	sb.WriteString("Conversation:\n\n")

	for _, msg := range older {
		sb.WriteString(fmt.Sprintf("[%s]: ", msg.Role))
		sb.WriteString(capText(msg.Content, c.config.MaxTurnChars))
		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [called tool: %s]", tc.ToolName))
		}
		for _, tr := range msg.ToolResults {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			sb.WriteString(fmt.Sprintf("\n  [tool result (%s): %s]", status, capText(tr.Content, 200)))
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\nProvide a concise summary:")
	return sb.String()
}

// heuristicSummary builds a deterministic stand-in summary with no model
// call: a per-turn digest of roles, leading content, and tool activity.
func heuristicSummary(older []CompletionMessage) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d earlier turns elided.\n", len(older)))
	for _, msg := range older {
		line := strings.TrimSpace(msg.Content)
		if line != "" {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", msg.Role, capText(firstLine(line), 120)))
		}
		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf("- tool %s was invoked\n", tc.ToolName))
		}
	}
	return strings.TrimSpace(sb.String())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func capText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
