package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/pkg/models"
)

// stubClient returns a canned stream or error and counts calls.
type stubClient struct {
	name  string
	err   error
	calls int
}

func (s *stubClient) Name() string        { return s.name }
func (s *stubClient) SupportsTools() bool { return true }

func (s *stubClient) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamEvent, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	events := make(chan *agent.StreamEvent, 2)
	events <- &agent.StreamEvent{Text: "from " + s.name}
	events <- &agent.StreamEvent{Done: true, FinishReason: models.FinishStop}
	close(events)
	return events, nil
}

func authError(provider string) error {
	return &ProviderError{Reason: ReasonAuth, Provider: provider}
}

func TestFailoverMovesToNextProvider(t *testing.T) {
	primary := &stubClient{name: "primary", err: authError("primary")}
	backup := &stubClient{name: "backup"}
	chain := NewFailoverClient(FailoverConfig{}, primary, backup)

	events, err := chain.Stream(context.Background(), &agent.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	first := <-events
	if first.Text != "from backup" {
		t.Errorf("served by %q, want backup", first.Text)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestFailoverStopsOnNonFailoverError(t *testing.T) {
	primary := &stubClient{name: "primary", err: &ProviderError{Reason: ReasonInvalidRequest, Provider: "primary"}}
	backup := &stubClient{name: "backup"}
	chain := NewFailoverClient(FailoverConfig{}, primary, backup)

	_, err := chain.Stream(context.Background(), &agent.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if backup.calls != 0 {
		t.Error("invalid request must not cascade to the backup provider")
	}
}

func TestFailoverCircuitOpensAfterThreshold(t *testing.T) {
	primary := &stubClient{name: "primary", err: authError("primary")}
	backup := &stubClient{name: "backup"}
	chain := NewFailoverClient(FailoverConfig{CircuitThreshold: 2, CircuitTimeout: time.Hour}, primary, backup)

	for i := 0; i < 3; i++ {
		if _, err := chain.Stream(context.Background(), &agent.CompletionRequest{}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	// Two failures open the circuit; the third request skips primary.
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2", primary.calls)
	}
	if backup.calls != 3 {
		t.Errorf("backup calls = %d, want 3", backup.calls)
	}
}

func TestFailoverAllProvidersDown(t *testing.T) {
	a := &stubClient{name: "a", err: authError("a")}
	b := &stubClient{name: "b", err: authError("b")}
	chain := NewFailoverClient(FailoverConfig{}, a, b)

	_, err := chain.Stream(context.Background(), &agent.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
	if !strings.Contains(err.Error(), "all providers failed") {
		t.Errorf("err = %v", err)
	}
}

func TestFailoverEmptyChain(t *testing.T) {
	chain := NewFailoverClient(FailoverConfig{})

	_, err := chain.Stream(context.Background(), &agent.CompletionRequest{})
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
	if chain.SupportsTools() {
		t.Error("empty chain must not claim tool support")
	}
}

func TestFailoverName(t *testing.T) {
	chain := NewFailoverClient(FailoverConfig{}, &stubClient{name: "a"}, &stubClient{name: "b"})
	if got := chain.Name(); got != "failover(a,b)" {
		t.Errorf("Name() = %q", got)
	}
}
