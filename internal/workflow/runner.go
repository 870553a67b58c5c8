// Package workflow runs the prompt-to-response pipeline as a sequence of
// named, checkpointed steps. The durable runner persists each step result
// before the next step starts, so a run interrupted by a crash resumes from
// the first step without a persisted result instead of repeating work.
package workflow

import (
	"context"
	"fmt"

	"github.com/forgeworks/anvil/internal/store"
)

// StepFunc executes one step and returns its serialized result.
type StepFunc func(ctx context.Context) ([]byte, error)

// Runner executes named steps within a run. Implementations decide whether
// step results are checkpointed.
//
// Step contract: fn runs only when no persisted result exists for
// (runID, name); otherwise the persisted result is returned and fn is
// skipped. Step functions must be idempotent with respect to their inputs
// because a crash between fn and persistence replays them.
type Runner interface {
	Step(ctx context.Context, runID, name string, fn StepFunc) ([]byte, error)
}

// DirectRunner executes every step unconditionally with no persistence.
// It is the single-pass mode: cheaper, but a crash loses the run.
type DirectRunner struct{}

// Step runs fn and returns its result.
func (DirectRunner) Step(ctx context.Context, runID, name string, fn StepFunc) ([]byte, error) {
	result, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	return result, nil
}

// DurableRunner checkpoints step results in the store. Replaying a run skips
// every step that already has a result.
type DurableRunner struct {
	steps store.StepStore
}

// NewDurableRunner creates a runner backed by the given step store.
func NewDurableRunner(steps store.StepStore) *DurableRunner {
	return &DurableRunner{steps: steps}
}

// Step returns the persisted result for (runID, name) when one exists;
// otherwise it runs fn and persists the result before returning.
func (r *DurableRunner) Step(ctx context.Context, runID, name string, fn StepFunc) ([]byte, error) {
	existing, ok, err := r.steps.GetStepResult(ctx, runID, name)
	if err != nil {
		return nil, fmt.Errorf("step %s: load checkpoint: %w", name, err)
	}
	if ok {
		return existing, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	if err := r.steps.PutStepResult(ctx, runID, name, result); err != nil {
		return nil, fmt.Errorf("step %s: persist checkpoint: %w", name, err)
	}
	return result, nil
}
