// Package pipeline sequences worker stages over a per-run state object,
// streaming lifecycle events and checkpointing state at stage boundaries.
package pipeline

import (
	"context"

	"github.com/optiqlabs/optiq/internal/domain"
)

// Stage is one named unit of business logic invoked by the pipeline in a
// fixed position. Stages are stateless; they receive a clone of the run
// state and return the next state, recording their own result. The
// pipeline is the single writer of the live state.
type Stage interface {
	Name() string

	// CheckEntryConditions reports whether the stage should run for this
	// state. A false result skips the stage; state passes through.
	CheckEntryConditions(state *domain.RequestState) bool

	// Execute runs the stage. Implementations must be safe to retry and
	// to interrupt via ctx; the pipeline discards the returned state on
	// error.
	Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error)
}
