package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
	"github.com/optiqlabs/optiq/internal/store"
	"github.com/optiqlabs/optiq/tests/helpers"
)

func TestSnapshotRoundTripLossless(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)
	ctx := context.Background()

	state := domain.NewRequestState("u1", "t1", "r1", "Optimize my GPU utilization")
	state.Status = domain.RunStatusRunning
	state.RecordStage(domain.StageResult{
		Stage:       "triage",
		Status:      domain.StageStatusCompleted,
		Output:      json.RawMessage(`{"intent":"optimization"}`),
		Attempts:    1,
		CompletedAt: time.Now().UTC(),
	})
	state.RecordStage(domain.StageResult{
		Stage:       "data",
		Status:      domain.StageStatusFailed,
		Error:       "backend unavailable",
		Attempts:    3,
		CompletedAt: time.Now().UTC(),
	})

	snapshotID, err := b.SaveSnapshot(ctx, state)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if snapshotID == "" {
		t.Fatalf("expected snapshot id")
	}

	got, err := b.LoadSnapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got == nil {
		t.Fatalf("expected snapshot")
	}

	want, _ := json.Marshal(state)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Fatalf("round trip not lossless:\nwant %s\nhave %s", want, have)
	}
}

func TestLoadSnapshotUnknownRunReturnsNil(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)

	got, err := b.LoadSnapshot(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state for unknown run, got %+v", got)
	}
}

func TestSaveSnapshotUpsertsByRunID(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)
	ctx := context.Background()

	state := domain.NewRequestState("u1", "t1", "r1", "first")
	if _, err := b.SaveSnapshot(ctx, state); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	state.Status = domain.RunStatusCompleted
	if _, err := b.SaveSnapshot(ctx, state); err != nil {
		t.Fatalf("SaveSnapshot update: %v", err)
	}

	got, err := b.LoadSnapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestSaveSnapshotRejectsMissingRunID(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)

	state := domain.NewRequestState("u1", "t1", "", "text")
	_, err := b.SaveSnapshot(context.Background(), state)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestThreadContextReturnsLatestRun(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)
	ctx := context.Background()

	first := domain.NewRequestState("u1", "t1", "r1", "first request")
	if _, err := b.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot r1: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	second := domain.NewRequestState("u1", "t1", "r2", "second request")
	if _, err := b.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("SaveSnapshot r2: %v", err)
	}

	tc, err := b.ThreadContext(ctx, "t1")
	if err != nil {
		t.Fatalf("ThreadContext: %v", err)
	}
	if tc == nil {
		t.Fatalf("expected thread context")
	}
	if tc.LastRunID != "r2" {
		t.Fatalf("expected latest run r2, got %s", tc.LastRunID)
	}
	if tc.State.UserRequest != "second request" {
		t.Fatalf("unexpected state: %+v", tc.State)
	}
}

func TestThreadContextUnknownThreadReturnsNil(t *testing.T) {
	b := helpers.NewTestSQLiteBridge(t)

	tc, err := b.ThreadContext(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ThreadContext: %v", err)
	}
	if tc != nil {
		t.Fatalf("expected nil context, got %+v", tc)
	}
}

func TestPruneExpiredRemovesOldSnapshots(t *testing.T) {
	b, err := store.NewSQLiteBridge(":memory:", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSQLiteBridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	state := domain.NewRequestState("u1", "t1", "r1", "text")
	if _, err := b.SaveSnapshot(ctx, state); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	n, err := b.PruneExpired(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned snapshot, got %d", n)
	}

	got, err := b.LoadSnapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got != nil {
		t.Fatalf("expected pruned snapshot to be gone")
	}
}
