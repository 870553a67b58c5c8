// Package maintenance runs periodic cleanup of aged pipeline state.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PrunableStore is the slice of the store the pruner needs.
type PrunableStore interface {
	PruneToolCalls(ctx context.Context, olderThan time.Duration) (int64, error)
	PruneTraces(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PrunerConfig configures the cleanup schedule.
type PrunerConfig struct {
	// Interval between sweeps. Default: 1h.
	Interval time.Duration

	// Retention is how long terminal tool calls and finished traces are
	// kept. Default: 30 days.
	Retention time.Duration
}

func (c PrunerConfig) sanitize() PrunerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}

// Pruner deletes terminal tool calls and finished traces past the retention
// window on a fixed schedule. It is eventually-consistent cleanup; nothing
// in the pipeline depends on rows being pruned.
type Pruner struct {
	store  PrunableStore
	config PrunerConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPruner creates a pruner. A nil logger falls back to slog.Default.
func NewPruner(store PrunableStore, config PrunerConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:  store,
		config: config.sanitize(),
		logger: logger,
	}
}

// Start launches the sweep loop. Calling Start on a running pruner is a
// no-op.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.loop(ctx, stopCh, doneCh)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}

func (p *Pruner) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass immediately. Errors are logged, not returned
// to the schedule; a failed sweep retries at the next tick.
func (p *Pruner) Sweep(ctx context.Context) {
	calls, err := p.store.PruneToolCalls(ctx, p.config.Retention)
	if err != nil {
		p.logger.ErrorContext(ctx, "prune tool calls", "error", err)
	}
	traces, err := p.store.PruneTraces(ctx, p.config.Retention)
	if err != nil {
		p.logger.ErrorContext(ctx, "prune traces", "error", err)
	}
	if calls > 0 || traces > 0 {
		p.logger.InfoContext(ctx, "maintenance sweep",
			"tool_calls_pruned", calls,
			"traces_pruned", traces,
			"retention", p.config.Retention.String())
	}
}
