// Package store persists and retrieves run state snapshots.
package store

import (
	"context"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
)

// Bridge is the persistence seam for run state. Load on an unknown run
// id returns (nil, nil) so the orchestrator starts fresh rather than
// failing.
type Bridge interface {
	// SaveSnapshot upserts the state under its run id and returns the
	// snapshot id of the stored record.
	SaveSnapshot(ctx context.Context, state *domain.RequestState) (string, error)

	// LoadSnapshot returns the persisted state for a run, or nil when the
	// run id is unknown.
	LoadSnapshot(ctx context.Context, runID string) (*domain.RequestState, error)

	// ThreadContext returns the most recently saved run state for a
	// thread, or nil when the thread has no persisted runs.
	ThreadContext(ctx context.Context, threadID string) (*domain.ThreadContext, error)

	// PruneExpired deletes snapshots whose TTL elapsed before now and
	// returns the number of rows removed.
	PruneExpired(ctx context.Context, now time.Time) (int, error)

	Close() error
}
