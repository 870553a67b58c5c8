// Package observability provides the structured logger, Prometheus metrics,
// and OpenTelemetry tracing shared by the orchestration pipeline.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	// Default: "info".
	Level string

	// Format is "json" or "text". Default: "json".
	Format string

	// Output is the log writer. Default: os.Stdout.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool

	// RedactPatterns are additional regexes applied on top of the default
	// secret patterns.
	RedactPatterns []string
}

type contextKey string

const (
	// RunIDKey carries the workflow run id.
	RunIDKey contextKey = "run_id"

	// ThreadIDKey carries the conversation thread id.
	ThreadIDKey contextKey = "thread_id"

	// MessageIDKey carries the streaming message id.
	MessageIDKey contextKey = "message_id"
)

// WithRunID attaches a run id for log correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithThreadID attaches a thread id for log correlation.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithMessageID attaches a message id for log correlation.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// defaultRedactPatterns cover the secrets this system actually handles:
// vendor API keys, bearer tokens, and generic key/secret assignments.
var defaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{16,}`,
	`sk-[a-zA-Z0-9]{20,}`,
	`(?i)(bearer|token)[\s:]+[a-zA-Z0-9_\-\.]{16,}`,
	`(?i)(api[_-]?key|secret|password)[\s:=]+["']?[^\s"']{8,}["']?`,
}

// NewLogger builds a slog.Logger whose handler redacts secrets and injects
// correlation ids (run, thread, message) from the context.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var inner slog.Handler
	if strings.ToLower(config.Format) == "text" {
		inner = slog.NewTextHandler(config.Output, opts)
	} else {
		inner = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, defaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&pipelineHandler{inner: inner, redacts: redacts})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pipelineHandler decorates a slog handler with secret redaction and
// context-based correlation attributes.
type pipelineHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *pipelineHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *pipelineHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)

	for _, key := range []contextKey{RunIDKey, ThreadIDKey, MessageIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(key), v))
		}
	}

	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *pipelineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &pipelineHandler{inner: h.inner.WithAttrs(redacted), redacts: h.redacts}
}

func (h *pipelineHandler) WithGroup(name string) slog.Handler {
	return &pipelineHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *pipelineHandler) redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		attr.Value = slog.StringValue(h.redact(attr.Value.String()))
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			attr.Value = slog.StringValue(h.redact(err.Error()))
		}
	}
	return attr
}

func (h *pipelineHandler) redact(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
