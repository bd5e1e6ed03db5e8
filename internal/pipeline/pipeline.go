package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
	"github.com/optiqlabs/optiq/internal/notify"
	"github.com/optiqlabs/optiq/internal/resource"
	"github.com/optiqlabs/optiq/internal/store"
	"github.com/optiqlabs/optiq/policy"
)

// Config tunes retry and failure behavior.
type Config struct {
	// MaxRetries is the number of additional execution attempts per stage
	// after the first one fails transiently.
	MaxRetries int
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
	// HaltOnStageFailure decides whether an exhausted-retry stage failure
	// halts the remainder of the pipeline or is recorded while the run
	// continues to the next stage.
	HaltOnStageFailure bool
}

// Pipeline executes a fixed, ordered set of stages on behalf of one user
// request. Stages are registered once at construction and never
// reordered at runtime.
type Pipeline struct {
	cfg      Config
	stages   []Stage
	bridge   store.Bridge
	notifier *notify.Notifier
	factory  *resource.Factory
	policy   *policy.Engine
}

// New creates a pipeline over the given stage order. policyEngine may be
// nil to disable the deployment-level stage gate.
func New(cfg Config, bridge store.Bridge, notifier *notify.Notifier, factory *resource.Factory, policyEngine *policy.Engine, stages ...Stage) *Pipeline {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Pipeline{
		cfg:      cfg,
		stages:   stages,
		bridge:   bridge,
		notifier: notifier,
		factory:  factory,
		policy:   policyEngine,
	}
}

// Run executes the stage pipeline for one user request. It resumes from
// a persisted snapshot when one exists under runID, otherwise starts
// fresh. The partially-completed state is returned alongside any error.
func (p *Pipeline) Run(ctx context.Context, userRequest, threadID, userID, runID string) (*domain.RequestState, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if threadID == "" {
		return nil, &domain.ValidationError{Field: "thread_id", Reason: "is required"}
	}
	if runID == "" {
		return nil, &domain.ValidationError{Field: "run_id", Reason: "is required"}
	}

	state, err := p.bridge.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	resumed := state != nil
	if !resumed {
		state = domain.NewRequestState(userID, threadID, runID, userRequest)
	}

	state.Status = domain.RunStatusRunning
	p.checkpoint(ctx, state)

	started := time.Now()
	p.emit(state, domain.EventTypeAgentStarted, domain.StartedPayload{
		UserRequest: state.UserRequest,
		StageCount:  len(p.stages),
		Resumed:     resumed,
	})

	toolCalls := 0
	runErr := p.factory.WithHandle(ctx, userID, runID, threadID, func(h *resource.Handle) error {
		rc := &RunContext{
			UserID:   userID,
			ThreadID: threadID,
			RunID:    runID,
			handle:   h,
			notifier: p.notifier,
		}
		err := p.runStages(ctx, rc, state)
		toolCalls = rc.ToolCalls()
		return err
	})

	if runErr != nil {
		state.Status = domain.RunStatusFailed
		p.checkpoint(ctx, state)

		var timeoutErr *domain.TimeoutError
		code := "run_failed"
		if errors.As(runErr, &timeoutErr) {
			code = "timeout"
		}
		p.emit(state, domain.EventTypeError, domain.ErrorPayload{
			Code:    code,
			Message: runErr.Error(),
		})
		return state, runErr
	}

	state.Status = domain.RunStatusCompleted
	p.checkpoint(ctx, state)

	p.emit(state, domain.EventTypeAgentCompleted, domain.CompletedPayload{
		RunID:          runID,
		Status:         state.Status,
		StagesExecuted: state.ExecutionOrder,
		Usage:          usageFor(state, toolCalls, started),
		DurationMs:     time.Since(started).Milliseconds(),
	})

	return state, nil
}

// runStages walks the registered stages in order. state is mutated in
// place by adopting each stage's returned clone; on error the clone is
// discarded so the live state keeps only completed work.
func (p *Pipeline) runStages(ctx context.Context, rc *RunContext, state *domain.RequestState) error {
	for _, stage := range p.stages {
		name := stage.Name()

		if err := ctx.Err(); err != nil {
			return &domain.TimeoutError{RunID: rc.RunID, Err: err}
		}

		// Resumed runs do not re-execute completed stages.
		if state.StageCompleted(name) {
			continue
		}

		if !stage.CheckEntryConditions(state) {
			state.RecordStage(domain.StageResult{
				Stage:       name,
				Status:      domain.StageStatusSkipped,
				CompletedAt: time.Now().UTC(),
			})
			continue
		}

		if p.policy != nil {
			decision, err := p.policy.Evaluate(ctx, map[string]interface{}{
				"stage":        name,
				"user_id":      rc.UserID,
				"user_request": state.UserRequest,
			})
			if err != nil {
				log.Printf("WARN: stage policy evaluation failed for %s: %v", name, err)
			} else if decision == policy.DecisionSkip {
				state.RecordStage(domain.StageResult{
					Stage:       name,
					Status:      domain.StageStatusSkipped,
					CompletedAt: time.Now().UTC(),
				})
				continue
			}
		}

		next, attempts, execErr := p.executeWithRetry(ctx, rc, stage, state)
		if execErr != nil {
			if ctx.Err() != nil {
				return &domain.TimeoutError{RunID: rc.RunID, Err: ctx.Err()}
			}

			stageErr := &domain.StageExecutionError{Stage: name, Attempts: attempts, Err: execErr}
			state.RecordStage(domain.StageResult{
				Stage:       name,
				Status:      domain.StageStatusFailed,
				Error:       execErr.Error(),
				Attempts:    attempts,
				CompletedAt: time.Now().UTC(),
			})
			p.checkpoint(ctx, state)
			p.emit(state, domain.EventTypeError, domain.ErrorPayload{
				Code:    "stage_failed",
				Message: stageErr.Error(),
				Stage:   name,
			})

			if p.cfg.HaltOnStageFailure {
				return stageErr
			}
			continue
		}

		*state = *next
		if r, ok := state.StageResults[name]; ok {
			r.Attempts = attempts
			state.StageResults[name] = r
		} else {
			// Stage returned without recording; keep the ledger complete.
			state.RecordStage(domain.StageResult{
				Stage:       name,
				Status:      domain.StageStatusCompleted,
				Attempts:    attempts,
				CompletedAt: time.Now().UTC(),
			})
		}
		p.checkpoint(ctx, state)
	}

	return nil
}

// executeWithRetry runs one stage on a clone of state, retrying
// transient failures. Validation errors are never retried.
func (p *Pipeline) executeWithRetry(ctx context.Context, rc *RunContext, stage Stage, state *domain.RequestState) (*domain.RequestState, int, error) {
	rc.stage = stage.Name()
	defer func() { rc.stage = "" }()

	var lastErr error
	maxAttempts := 1 + p.cfg.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		next, err := stage.Execute(ctx, rc, state.Clone())
		if err == nil {
			return next, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, err
		}
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return nil, attempt, err
		}

		if attempt < maxAttempts {
			log.Printf("WARN: stage %s attempt %d/%d failed for run %s: %v",
				stage.Name(), attempt, maxAttempts, rc.RunID, err)
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(p.cfg.RetryBackoff):
			}
		}
	}
	return nil, maxAttempts, lastErr
}

// checkpoint persists the state. Persistence failures are logged, not
// fatal: a lost checkpoint only widens the resume window.
func (p *Pipeline) checkpoint(ctx context.Context, state *domain.RequestState) {
	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if _, err := p.bridge.SaveSnapshot(saveCtx, state); err != nil {
		log.Printf("ERROR: failed to checkpoint run %s: %v", state.RunID, err)
	}
}

func (p *Pipeline) emit(state *domain.RequestState, typ domain.EventType, payload any) {
	if err := p.notifier.Emit(state.ThreadID, state.RunID, typ, payload); err != nil {
		log.Printf("WARN: failed to emit %s for run %s: %v", typ, state.RunID, err)
	}
}

// usageFor derives the billing metering payload from the final state.
func usageFor(state *domain.RequestState, toolCalls int, started time.Time) *domain.UsageData {
	prompt := len(state.UserRequest) / 4
	completion := 0
	for _, r := range state.StageResults {
		completion += len(r.Output) / 4
	}
	return &domain.UsageData{
		TotalTokens:      prompt + completion,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		ToolCalls:        toolCalls,
		DurationMs:       int(time.Since(started).Milliseconds()),
	}
}
