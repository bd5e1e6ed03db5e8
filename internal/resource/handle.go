package resource

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
)

// Handle is a per-(user, request) scoped lease on an underlying client.
// It is owned exclusively by its creating pair and never shared across
// users.
type Handle struct {
	UserID    string
	RequestID string
	ThreadID  string
	CreatedAt time.Time

	factory *Factory

	mu        sync.Mutex
	client    Client
	lastUsed  time.Time
	opCount   int64
	errCount  int64
	released  bool
}

// Exec performs one operation through the handle. The client is dialed
// and health-probed on first use; a dial or probe failure returns a
// ConnectionError and leaves the handle uninitialized so the next call
// retries.
func (h *Handle) Exec(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, &domain.ValidationError{Field: "handle", Reason: "already released"}
	}
	h.lastUsed = time.Now()

	if h.client == nil {
		client, err := h.factory.dialer.Dial(ctx, h.UserID)
		if err != nil {
			h.errCount++
			return nil, &domain.ConnectionError{UserID: h.UserID, Err: err}
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			h.errCount++
			return nil, &domain.ConnectionError{UserID: h.UserID, Err: err}
		}
		h.client = client
	}

	h.opCount++
	result, err := h.client.Do(ctx, h.UserID, op, args)
	if err != nil {
		h.errCount++
	}
	return result, err
}

// OperationCount returns the number of operations attempted.
func (h *Handle) OperationCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opCount
}

// ErrorCount returns the number of failed operations.
func (h *Handle) ErrorCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errCount
}

// LastUsedAt returns the time of the most recent operation, or the
// creation time when the handle was never used.
func (h *Handle) LastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// close tears down the underlying client. Caller holds no factory lock.
func (h *Handle) close() {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.released = true
	h.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

func (h *Handle) idleSince(cutoff time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed.Before(cutoff)
}
