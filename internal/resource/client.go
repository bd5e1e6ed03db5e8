package resource

import (
	"context"
	"encoding/json"
)

// Client is the underlying per-user data client a handle leases. Every
// data-bearing call carries the owning user id so the backend's own
// access control can enforce isolation independently of the factory's
// bookkeeping.
type Client interface {
	// Ping checks connectivity; used as the health probe on first use.
	Ping(ctx context.Context) error

	// Do performs one named operation on behalf of userID.
	Do(ctx context.Context, userID, op string, args json.RawMessage) (json.RawMessage, error)

	Close() error
}

// Dialer establishes a client for a user. Dial is called lazily, on a
// handle's first use rather than at creation time.
type Dialer interface {
	Dial(ctx context.Context, userID string) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, userID string) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, userID string) (Client, error) {
	return f(ctx, userID)
}
