package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgeworks/anvil/internal/agent"
)

// ErrNoProviders is returned when a failover chain has no usable provider.
var ErrNoProviders = errors.New("providers: no available providers")

// FailoverConfig tunes the failover chain.
type FailoverConfig struct {
	// CircuitThreshold is the consecutive-failure count that opens a
	// provider's circuit. Default: 3.
	CircuitThreshold int

	// CircuitTimeout is how long an open circuit excludes a provider
	// before it is tried again. Default: 30s.
	CircuitTimeout time.Duration
}

func (c FailoverConfig) sanitize() FailoverConfig {
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 3
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 30 * time.Second
	}
	return c
}

type providerState struct {
	failures    int
	circuitOpen bool
	openedAt    time.Time
}

// FailoverClient chains multiple streaming clients in priority order. A
// request goes to the first available provider; failover-worthy errors at
// stream creation move it down the chain. Repeated failures open a
// per-provider circuit that excludes the provider until the timeout lapses.
//
// Failover applies only to stream creation. Once a stream is open, mid-stream
// errors surface to the caller as error events; replaying a partly consumed
// stream against another provider would duplicate side effects.
type FailoverClient struct {
	clients []agent.StreamingClient
	config  FailoverConfig

	mu     sync.Mutex
	states map[string]*providerState
}

// NewFailoverClient builds a chain from the given clients, tried in order.
func NewFailoverClient(config FailoverConfig, clients ...agent.StreamingClient) *FailoverClient {
	return &FailoverClient{
		clients: clients,
		config:  config.sanitize(),
		states:  make(map[string]*providerState),
	}
}

// Name identifies the chain by its member providers.
func (f *FailoverClient) Name() string {
	names := make([]string, len(f.clients))
	for i, c := range f.clients {
		names[i] = c.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// SupportsTools reports whether every member supports tools. A chain with a
// tool-less member cannot promise tool delivery on failover.
func (f *FailoverClient) SupportsTools() bool {
	for _, c := range f.clients {
		if !c.SupportsTools() {
			return false
		}
	}
	return len(f.clients) > 0
}

// Stream tries each available provider in order until one yields a stream.
func (f *FailoverClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	var lastErr error

	for _, client := range f.clients {
		if !f.available(client.Name()) {
			continue
		}

		events, err := client.Stream(ctx, req)
		if err == nil {
			f.recordSuccess(client.Name())
			return events, nil
		}
		lastErr = err
		f.recordFailure(client.Name())

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ShouldFailover(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (f *FailoverClient) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.states[name]
	if !ok || !state.circuitOpen {
		return true
	}
	if time.Since(state.openedAt) > f.config.CircuitTimeout {
		// Half-open: allow one probe through.
		state.circuitOpen = false
		state.failures = f.config.CircuitThreshold - 1
		return true
	}
	return false
}

func (f *FailoverClient) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, name)
}

func (f *FailoverClient) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.states[name]
	if !ok {
		state = &providerState{}
		f.states[name] = state
	}
	state.failures++
	if state.failures >= f.config.CircuitThreshold {
		state.circuitOpen = true
		state.openedAt = time.Now()
	}
}
