// Package pipeline runs ordered prompt-templated model steps and checkpoints
// their documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/coursegen-core/server/internal/agent/model"
	"github.com/coursegen-core/server/internal/agent/observers"
	"github.com/coursegen-core/server/internal/agent/providers"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

// Renderer renders a prompt template with variables.
type Renderer interface {
	Render(ctx context.Context, key string, vars model.Variables) (string, error)
}

// ErrCheckpointMismatch is returned when a stored run does not fit the
// definition it is resumed with.
var ErrCheckpointMismatch = errors.New("checkpoint does not match pipeline definition")

// Config holds the collaborators of a Sequencer.
type Config struct {
	Prompts     Renderer
	Requester   providers.Requester
	Choice      providers.Choice
	Credentials model.Credentials
	// Checkpoints is optional; without it runs are not persisted.
	Checkpoints model.CheckpointStore
	Retry       model.RetryConfig
	// Concurrency limits RunAll. Zero means unlimited.
	Concurrency int
	// Callbacks default to the logging observers.
	Callbacks []callbacks.Handler
}

// Sequencer executes pipeline definitions step by step.
type Sequencer struct {
	prompts     Renderer
	requester   providers.Requester
	choice      providers.Choice
	credentials model.Credentials
	checkpoints model.CheckpointStore
	retry       model.RetryConfig
	concurrency int
	callbacks   []callbacks.Handler

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds a Sequencer.
func New(cfg Config) (*Sequencer, error) {
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("sequencer: prompts renderer is nil")
	}
	if cfg.Requester == nil {
		return nil, fmt.Errorf("sequencer: requester is nil")
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	cbs := cfg.Callbacks
	if len(cbs) == 0 {
		cbs = []callbacks.Handler{observers.NewAllCallbacks()}
	}
	return &Sequencer{
		prompts:     cfg.Prompts,
		requester:   cfg.Requester,
		choice:      cfg.Choice,
		credentials: cfg.Credentials,
		checkpoints: cfg.Checkpoints,
		retry:       cfg.Retry,
		concurrency: cfg.Concurrency,
		callbacks:   cbs,
		sleep:       sleepContext,
	}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run executes def from its first step. An empty runID gets a generated one.
// The returned state is never nil once the run has started, including on
// failure.
func (s *Sequencer) Run(ctx context.Context, def *Definition, runID string, inputs model.Variables) (*model.PipelineState, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if runID == "" {
		runID = NewRunID()
	}
	state := model.NewPipelineState(runID, def.Name)
	state.Inputs = inputs.Clone()
	return s.execute(ctx, def, state)
}

// Resume continues a checkpointed run from the step after its last completed
// one. Inputs given here overlay the stored ones. A completed run is returned
// unchanged.
func (s *Sequencer) Resume(ctx context.Context, def *Definition, runID string, inputs model.Variables) (*model.PipelineState, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if s.checkpoints == nil {
		return nil, fmt.Errorf("resume %s: no checkpoint store configured", runID)
	}
	state, err := s.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Status == model.StatusCompleted {
		logx.Info().Str("run_id", runID).Msg("run already completed")
		return state, nil
	}
	if err := checkPrefix(def, state); err != nil {
		return nil, err
	}

	merged := state.Inputs.Clone()
	for k, v := range inputs {
		merged[k] = v
	}
	state.Inputs = merged

	logx.Info().
		Str("run_id", runID).
		Str("pipeline", def.Name).
		Str("last_completed_step", state.LastCompletedStep()).
		Msg("resuming run")
	return s.execute(ctx, def, state)
}

func checkPrefix(def *Definition, state *model.PipelineState) error {
	if state.Pipeline != def.Name {
		return fmt.Errorf("%w: run %s belongs to pipeline %q, not %q", ErrCheckpointMismatch, state.RunID, state.Pipeline, def.Name)
	}
	if len(state.Steps) > len(def.Steps) {
		return fmt.Errorf("%w: run %s has %d steps, definition has %d", ErrCheckpointMismatch, state.RunID, len(state.Steps), len(def.Steps))
	}
	for i, rec := range state.Steps {
		if def.Steps[i].Name != rec.Name {
			return fmt.Errorf("%w: step %d is %q in run %s, %q in definition", ErrCheckpointMismatch, i, rec.Name, state.RunID, def.Steps[i].Name)
		}
	}
	return nil
}

func (s *Sequencer) execute(ctx context.Context, def *Definition, state *model.PipelineState) (*model.PipelineState, error) {
	if err := state.Transition(model.StatusRunning); err != nil {
		return state, err
	}
	if len(def.Steps) > len(state.Steps) {
		if err := s.save(ctx, state); err != nil {
			return s.fail(ctx, state, def.Steps[len(state.Steps)].Name, err)
		}
	}

	started := time.Now()
	for i := len(state.Steps); i < len(def.Steps); i++ {
		step := def.Steps[i]
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, state, step.Name, err)
		}

		rec, err := s.runStep(ctx, state, step)
		if err != nil {
			return s.fail(ctx, state, step.Name, err)
		}
		state.Record(rec)
		if err := s.save(ctx, state); err != nil {
			// the step is redone on resume
			state.DropLast()
			return s.fail(ctx, state, step.Name, err)
		}
	}

	if err := state.Transition(model.StatusCompleted); err != nil {
		return state, err
	}
	if err := s.save(ctx, state); err != nil {
		return state, err
	}
	logx.Info().
		Str("run_id", state.RunID).
		Str("pipeline", state.Pipeline).
		Int("steps", len(state.Steps)).
		Float64("total_cost_usd", state.TotalCostUSD).
		Dur("elapsed", time.Since(started)).
		Msg("run completed")
	return state, nil
}

// runStep invokes one step with the retry policy: up to Retry.MaxRetries
// further attempts with linear backoff, a timeout retried at most once, and
// rate limiting that outlasts the retries reported as ProviderUnavailable.
func (s *Sequencer) runStep(ctx context.Context, state *model.PipelineState, step StepDef) (model.StepRecord, error) {
	var tr attemptTrace
	runnable, err := s.compileStep(ctx, step, &tr)
	if err != nil {
		return model.StepRecord{}, err
	}
	vars := state.Inputs.Clone()
	if !step.SkipPriorOutputs {
		vars = variablesFor(state, state.Inputs)
	}

	var (
		usage    model.TokenUsage
		lastErr  error
		timeouts int
	)
	maxAttempts := 1 + s.retry.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.retry.Backoff*time.Duration(attempt-1)); err != nil {
				return model.StepRecord{}, err
			}
		}

		tr = attemptTrace{}
		out, err := runnable.Invoke(ctx, vars, compose.WithCallbacks(s.callbacks...))
		usage = usage.Add(tr.usage)
		if err == nil {
			return s.record(state, step, out, attempt, usage), nil
		}
		if tr.err != nil {
			err = tr.err
		}
		lastErr = err

		if !errx.Retryable(err) {
			break
		}
		if errors.Is(err, errx.ErrTimeout) {
			timeouts++
			if timeouts > 1 {
				break
			}
		}
		if attempt < maxAttempts {
			logx.Warn().
				Err(err).
				Str("run_id", state.RunID).
				Str("step", step.Name).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Msg("step attempt failed, retrying")
		}
	}

	if errors.Is(lastErr, errx.ErrRateLimited) {
		return model.StepRecord{}, errx.ProviderUnavailable(lastErr)
	}
	return model.StepRecord{}, lastErr
}

func (s *Sequencer) record(state *model.PipelineState, step StepDef, out stepOutput, attempts int, usage model.TokenUsage) model.StepRecord {
	pricing := model.ResolvePricing(out.Model)
	inC, outC, totalC := model.ComputeCost(usage, pricing)
	logx.Debug().
		Str("run_id", state.RunID).
		Str("step", step.Name).
		Str("model", out.Model).
		Str("extract_stage", string(out.Stage)).
		Int("attempts", attempts).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
	logx.Info().
		Str("run_id", state.RunID).
		Str("step", step.Name).
		Int("keys", out.Document.Len()).
		Msg("step completed")

	return model.StepRecord{
		Name:        step.Name,
		Document:    out.Document,
		Attempts:    attempts,
		Usage:       usage,
		CostUSD:     totalC,
		CompletedAt: time.Now().UTC(),
	}
}

// fail marks the run failed at step and persists it even when ctx is done.
func (s *Sequencer) fail(ctx context.Context, state *model.PipelineState, step string, cause error) (*model.PipelineState, error) {
	if err := state.Fail(step, cause); err != nil {
		return state, errors.Join(cause, err)
	}
	logx.Error().
		Err(cause).
		Str("run_id", state.RunID).
		Str("pipeline", state.Pipeline).
		Str("step", step).
		Str("last_completed_step", state.LastCompletedStep()).
		Msg("run failed")
	if err := s.save(context.WithoutCancel(ctx), state); err != nil {
		return state, errors.Join(fmt.Errorf("run %s failed at step %q: %w", state.RunID, step, cause), err)
	}
	return state, fmt.Errorf("run %s failed at step %q: %w", state.RunID, step, cause)
}

func (s *Sequencer) save(ctx context.Context, state *model.PipelineState) error {
	if s.checkpoints == nil {
		return nil
	}
	if err := s.checkpoints.Save(ctx, state); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", state.RunID, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
