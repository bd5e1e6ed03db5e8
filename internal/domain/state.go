package domain

import (
	"encoding/json"
	"time"
)

// RequestState represents one in-flight user request. It is owned by the
// single active run identified by RunID; the orchestrator is the only
// writer of the live value, stages receive clones and return the next
// state. Once persisted it is an immutable snapshot.
type RequestState struct {
	UserID      string    `json:"user_id"`
	ThreadID    string    `json:"thread_id"`
	RunID       string    `json:"run_id"`
	UserRequest string    `json:"user_request"`
	Status      RunStatus `json:"status"`

	// StageResults maps stage name to its most recent result.
	StageResults map[string]StageResult `json:"stage_results"`
	// ExecutionOrder records stage names in the order they were executed
	// (skipped stages are not recorded).
	ExecutionOrder []string `json:"execution_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageResult captures the outcome of one stage execution within a run.
type StageResult struct {
	Stage       string          `json:"stage"`
	Status      StageStatus     `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NewRequestState creates a fresh pending state for a run.
func NewRequestState(userID, threadID, runID, userRequest string) *RequestState {
	now := time.Now().UTC()
	return &RequestState{
		UserID:       userID,
		ThreadID:     threadID,
		RunID:        runID,
		UserRequest:  userRequest,
		Status:       RunStatusPending,
		StageResults: make(map[string]StageResult),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy. Stages operate on clones so that a failed or
// cancelled execution never leaves partial writes in the live state.
func (s *RequestState) Clone() *RequestState {
	out := *s
	out.StageResults = make(map[string]StageResult, len(s.StageResults))
	for k, v := range s.StageResults {
		if v.Output != nil {
			v.Output = append(json.RawMessage(nil), v.Output...)
		}
		out.StageResults[k] = v
	}
	out.ExecutionOrder = append([]string(nil), s.ExecutionOrder...)
	return &out
}

// StageCompleted reports whether the named stage already holds a completed
// result, e.g. from a resumed snapshot.
func (s *RequestState) StageCompleted(stage string) bool {
	r, ok := s.StageResults[stage]
	return ok && r.Status == StageStatusCompleted
}

// RecordStage stores a stage result and appends executed stages to the
// execution order.
func (s *RequestState) RecordStage(r StageResult) {
	s.StageResults[r.Stage] = r
	if r.Status != StageStatusSkipped {
		s.ExecutionOrder = append(s.ExecutionOrder, r.Stage)
	}
	s.UpdatedAt = time.Now().UTC()
}

// ThreadContext is the resumption context for a logical conversation
// thread: the most recently persisted run state under that thread.
type ThreadContext struct {
	ThreadID  string        `json:"thread_id"`
	LastRunID string        `json:"last_run_id"`
	UserID    string        `json:"user_id"`
	State     *RequestState `json:"state"`
	SavedAt   time.Time     `json:"saved_at"`
}
