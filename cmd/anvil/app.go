package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/agent/providers"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/maintenance"
	"github.com/forgeworks/anvil/internal/observability"
	"github.com/forgeworks/anvil/internal/sandbox"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/internal/tools"
	"github.com/forgeworks/anvil/internal/workflow"
	"github.com/forgeworks/anvil/pkg/models"
)

// app holds everything a command handler needs: config, logger, the store,
// and the lazily-built optional collaborators (sandbox, metrics, tracer).
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	sandbox *sandbox.Client
	metrics *observability.Metrics
	tracer  *observability.Tracer

	traceShutdown func(context.Context) error
}

// newApp loads configuration and opens the store. A missing config file at
// the default path falls back to built-in defaults; an explicit --config
// that does not exist is an error.
func newApp(configPath string, explicit bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         os.Stderr,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(logger)

	tracer, traceShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "anvil",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})

	st, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// The sandbox is optional; without one the remote tools degrade to a
	// structured "not available" result.
	var sandboxClient *sandbox.Client
	if client, err := sandbox.NewClient(sandbox.Config{
		BaseURL:        cfg.Sandbox.BaseURL,
		APIKey:         cfg.Sandbox.APIKey,
		RequestTimeout: cfg.Sandbox.RequestTimeout.Std(),
	}); err == nil {
		sandboxClient = client
	}

	return &app{
		cfg:           cfg,
		logger:        logger,
		store:         st,
		sandbox:       sandboxClient,
		metrics:       observability.NewMetrics(),
		tracer:        tracer,
		traceShutdown: traceShutdown,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.traceShutdown(ctx); err != nil {
		a.logger.Warn("trace shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "error", err)
	}
}

// providerClient builds the streaming client selected by configuration,
// falling back to environment credentials when the config has none.
func (a *app) providerClient(ctx context.Context) (agent.StreamingClient, error) {
	p := a.cfg.Providers
	resolver := providers.ResolverConfig{
		AWSRegion: p.Bedrock.Region,
		Model:     a.cfg.Session.Model,
	}

	switch p.Default {
	case "openai":
		resolver.OpenAIKey = p.OpenAI.APIKey
		resolver.OpenAIBaseURL = p.OpenAI.BaseURL
		if resolver.Model == "" {
			resolver.Model = p.OpenAI.Model
		}
	case "bedrock":
		if p.Bedrock.Enabled {
			model := resolver.Model
			if model == "" {
				model = p.Bedrock.Model
			}
			client, err := providers.NewBedrockClient(ctx, providers.BedrockConfig{
				Region:       p.Bedrock.Region,
				DefaultModel: model,
				MaxRetries:   p.MaxRetries,
				RetryDelay:   p.RetryDelay.Std(),
			})
			if err != nil {
				return nil, err
			}
			return observability.InstrumentClient(client, a.metrics, a.tracer), nil
		}
	default:
		resolver.AnthropicKey = p.Anthropic.APIKey
		if resolver.Model == "" {
			resolver.Model = p.Anthropic.Model
		}
	}

	client, err := providers.Resolve(ctx, resolver)
	if err != nil {
		return nil, err
	}
	return observability.InstrumentClient(client, a.metrics, a.tracer), nil
}

// engineForThread wires the full pipeline for one thread: provider client,
// per-thread tool catalog, compressor, session manager, and the durable
// checkpoint engine.
func (a *app) engineForThread(ctx context.Context, thread *models.Thread) (*workflow.Engine, error) {
	client, err := a.providerClient(ctx)
	if err != nil {
		return nil, err
	}

	registry := agent.NewToolRegistry()
	for _, tool := range tools.ForThread(a.store, a.sandbox, thread) {
		if err := registry.Register(observability.InstrumentTool(tool, a.metrics, a.tracer)); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}

	// Summaries go through the same provider client; a failed summary call
	// degrades to the compressor's heuristic.
	summarizer := agent.NewClientSummarizer(client, a.cfg.Session.Model)
	compressor := agent.NewCompressor(agent.CompressorConfig{
		TokenBudget: a.cfg.Session.ContextBudget,
	}, summarizer, a.logger)

	manager := agent.NewManager(client, a.store, registry, compressor, agent.SessionConfig{
		MaxIterations: a.cfg.Session.MaxIterations,
		MaxTokens:     a.cfg.Session.MaxTokens,
		HistoryLimit:  a.cfg.Session.HistoryLimit,
		Model:         a.cfg.Session.Model,
	}, a.logger)

	return workflow.NewEngine(manager, a.store, workflow.NewDurableRunner(a.store), a.logger), nil
}

// startMaintenance launches the background pruner when enabled. The returned
// stop function is safe to call either way.
func (a *app) startMaintenance(ctx context.Context) func() {
	if !a.cfg.Maintenance.Enabled {
		return func() {}
	}
	pruner := maintenance.NewPruner(a.store, maintenance.PrunerConfig{
		Interval:  a.cfg.Maintenance.Interval.Std(),
		Retention: a.cfg.Maintenance.Retention.Std(),
	}, a.logger)
	pruner.Start(ctx)
	return pruner.Stop
}
