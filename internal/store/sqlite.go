package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/optiqlabs/optiq/internal/domain"
)

// SQLiteBridge implements Bridge using SQLite.
type SQLiteBridge struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteBridge opens the database, runs migrations and returns a
// bridge whose snapshots expire after ttl.
func NewSQLiteBridge(dsn string, ttl time.Duration) (*SQLiteBridge, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	b := &SQLiteBridge{db: db, ttl: ttl}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return b, nil
}

// migrate runs database migrations.
func (b *SQLiteBridge) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_snapshots (
			run_id TEXT PRIMARY KEY,
			snapshot_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			saved_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_thread ON run_snapshots(thread_id, saved_at)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_expiry ON run_snapshots(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := b.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (b *SQLiteBridge) Close() error {
	return b.db.Close()
}

// SaveSnapshot upserts the state under its run id.
func (b *SQLiteBridge) SaveSnapshot(ctx context.Context, state *domain.RequestState) (string, error) {
	if state == nil || state.RunID == "" {
		return "", &domain.ValidationError{Field: "run_id", Reason: "is required"}
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	snapshotID := "snap_" + uuid.New().String()[:8]
	now := time.Now().UTC()
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO run_snapshots (run_id, snapshot_id, thread_id, user_id, state, saved_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			thread_id = excluded.thread_id,
			user_id = excluded.user_id,
			state = excluded.state,
			saved_at = excluded.saved_at,
			expires_at = excluded.expires_at`,
		state.RunID, snapshotID, state.ThreadID, state.UserID, string(raw), now, now.Add(b.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return snapshotID, nil
}

// LoadSnapshot returns the persisted state for a run, or nil when unknown.
func (b *SQLiteBridge) LoadSnapshot(ctx context.Context, runID string) (*domain.RequestState, error) {
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT state FROM run_snapshots WHERE run_id = ?`, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var state domain.RequestState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// ThreadContext returns the latest persisted run state for a thread.
func (b *SQLiteBridge) ThreadContext(ctx context.Context, threadID string) (*domain.ThreadContext, error) {
	var (
		runID, userID, raw string
		savedAt            time.Time
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT run_id, user_id, state, saved_at FROM run_snapshots
		 WHERE thread_id = ? ORDER BY saved_at DESC LIMIT 1`, threadID).
		Scan(&runID, &userID, &raw, &savedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread context: %w", err)
	}

	var state domain.RequestState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &domain.ThreadContext{
		ThreadID:  threadID,
		LastRunID: runID,
		UserID:    userID,
		State:     &state,
		SavedAt:   savedAt,
	}, nil
}

// PruneExpired deletes snapshots whose TTL elapsed before now.
func (b *SQLiteBridge) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM run_snapshots WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
