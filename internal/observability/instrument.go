package observability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeworks/anvil/internal/agent"
)

// InstrumentClient decorates a streaming client with metrics and a span per
// stream. The span covers stream creation through the final event; the
// request counter and token counters are recorded when the stream ends.
func InstrumentClient(client agent.StreamingClient, metrics *Metrics, tracer *Tracer) agent.StreamingClient {
	if metrics == nil && tracer == nil {
		return client
	}
	return &instrumentedClient{client: client, metrics: metrics, tracer: tracer}
}

type instrumentedClient struct {
	client  agent.StreamingClient
	metrics *Metrics
	tracer  *Tracer
}

func (c *instrumentedClient) Name() string        { return c.client.Name() }
func (c *instrumentedClient) SupportsTools() bool { return c.client.SupportsTools() }

func (c *instrumentedClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	start := time.Now()
	streamCtx := ctx
	endSpan := func(error) {}
	if c.tracer != nil {
		spanCtx, span := c.tracer.TraceLLMStream(ctx, c.client.Name(), req.Model)
		streamCtx = spanCtx
		endSpan = func(err error) {
			c.tracer.RecordError(span, err)
			span.End()
		}
	}

	events, err := c.client.Stream(streamCtx, req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveLLMRequest(c.client.Name(), req.Model, time.Since(start), 0, 0, err)
		}
		endSpan(err)
		return nil, err
	}

	out := make(chan *agent.StreamEvent)
	go func() {
		defer close(out)
		var usage struct{ prompt, completion int }
		var streamErr error
		for event := range events {
			if event.Done {
				usage.prompt = event.Usage.InputTokens
				usage.completion = event.Usage.OutputTokens
			}
			if event.Error != nil {
				streamErr = event.Error
			}
			select {
			case out <- event:
			case <-streamCtx.Done():
				if streamErr == nil {
					streamErr = streamCtx.Err()
				}
				if c.metrics != nil {
					c.metrics.ObserveLLMRequest(c.client.Name(), req.Model, time.Since(start), usage.prompt, usage.completion, streamErr)
				}
				endSpan(streamErr)
				return
			}
		}
		if c.metrics != nil {
			c.metrics.ObserveLLMRequest(c.client.Name(), req.Model, time.Since(start), usage.prompt, usage.completion, streamErr)
		}
		endSpan(streamErr)
	}()
	return out, nil
}

// InstrumentTool decorates a tool with execution metrics and a span per call.
func InstrumentTool(tool agent.Tool, metrics *Metrics, tracer *Tracer) agent.Tool {
	if metrics == nil && tracer == nil {
		return tool
	}
	return &instrumentedTool{tool: tool, metrics: metrics, tracer: tracer}
}

type instrumentedTool struct {
	tool    agent.Tool
	metrics *Metrics
	tracer  *Tracer
}

func (t *instrumentedTool) Name() string            { return t.tool.Name() }
func (t *instrumentedTool) Description() string     { return t.tool.Description() }
func (t *instrumentedTool) Schema() json.RawMessage { return t.tool.Schema() }

func (t *instrumentedTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	start := time.Now()
	execCtx := ctx
	endSpan := func(error) {}
	if t.tracer != nil {
		spanCtx, span := t.tracer.TraceToolExecution(ctx, t.tool.Name(), "")
		execCtx = spanCtx
		endSpan = func(err error) {
			t.tracer.RecordError(span, err)
			span.End()
		}
	}

	out, err := t.tool.Execute(execCtx, params)
	failed := err != nil || (out != nil && out.IsError)
	if t.metrics != nil {
		t.metrics.ObserveToolExecution(t.tool.Name(), time.Since(start), failed)
	}
	endSpan(err)
	return out, err
}
