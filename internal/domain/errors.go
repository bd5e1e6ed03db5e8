package domain

import "fmt"

// ValidationError is returned for malformed orchestrator or factory
// input. It is rejected immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectionError wraps a downstream resource connection failure. It is
// surfaced to the immediate caller only; the handle stays uninitialized
// and the caller may retry.
type ConnectionError struct {
	UserID string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed for user %s: %v", e.UserID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QuotaExceededError is returned when a user already holds the maximum
// number of live resource handles and the idle sweep reclaimed none.
// Retryable after cleanup or TTL expiry.
type QuotaExceededError struct {
	UserID string
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("user %s exceeded handle quota of %d", e.UserID, e.Limit)
}

// StageExecutionError captures a worker stage failure after retries were
// exhausted. It is contained within the run and reaches the client as an
// error event.
type StageExecutionError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// TimeoutError is returned when a run exceeds an externally imposed
// deadline. The run is cancelled and a terminal error event is emitted.
type TimeoutError struct {
	RunID string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s timed out: %v", e.RunID, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
