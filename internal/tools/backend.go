package tools

import (
	"context"
	"encoding/json"

	"github.com/optiqlabs/optiq/internal/resource"
)

// Backend adapts a Registry to the resource client interface so the
// factory can lease per-user handles over the in-process tool executors.
type Backend struct {
	registry *Registry
}

// NewBackend creates a registry-backed client.
func NewBackend(registry *Registry) *Backend {
	return &Backend{registry: registry}
}

// Dialer returns a resource dialer producing backend clients.
func (b *Backend) Dialer() resource.Dialer {
	return resource.DialerFunc(func(ctx context.Context, userID string) (resource.Client, error) {
		return b, nil
	})
}

func (b *Backend) Ping(ctx context.Context) error { return nil }

func (b *Backend) Do(ctx context.Context, userID, op string, args json.RawMessage) (json.RawMessage, error) {
	return b.registry.Execute(ctx, userID, op, args)
}

func (b *Backend) Close() error { return nil }
