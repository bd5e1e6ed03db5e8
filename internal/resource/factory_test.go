package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
)

type recordingClient struct {
	mu      sync.Mutex
	userIDs []string
	pings   int
}

func (c *recordingClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *recordingClient) Do(ctx context.Context, userID, op string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userIDs = append(c.userIDs, userID)
	return json.RawMessage(`{}`), nil
}

func (c *recordingClient) Close() error { return nil }

func okDialer(client Client) Dialer {
	return DialerFunc(func(ctx context.Context, userID string) (Client, error) {
		return client, nil
	})
}

func testFactory(t *testing.T, cfg Config, dialer Dialer) *Factory {
	t.Helper()
	if dialer == nil {
		dialer = okDialer(&recordingClient{})
	}
	return NewFactory(cfg, dialer)
}

func TestQuotaEnforcement(t *testing.T) {
	f := testFactory(t, Config{MaxClientsPerUser: 2, ClientTTL: time.Hour}, nil)

	h1, err := f.Create("u1", "req1", "t1")
	if err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := f.Create("u1", "req2", "t1"); err != nil {
		t.Fatalf("Create 2: %v", err)
	}

	_, err = f.Create("u1", "req3", "t1")
	var quotaErr *domain.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quotaErr.Limit != 2 {
		t.Fatalf("expected limit 2, got %d", quotaErr.Limit)
	}

	// Releasing or cleaning up makes room again.
	if released := f.CleanupUser("u1"); released != 2 {
		t.Fatalf("expected 2 released handles, got %d", released)
	}
	if _, err := f.Create("u1", "req4", "t1"); err != nil {
		t.Fatalf("Create after cleanup: %v", err)
	}

	_ = h1
}

func TestQuotaSweepReclaimsIdleHandles(t *testing.T) {
	f := testFactory(t, Config{MaxClientsPerUser: 2, ClientTTL: time.Millisecond}, nil)

	if _, err := f.Create("u1", "req1", "t1"); err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := f.Create("u1", "req2", "t1"); err != nil {
		t.Fatalf("Create 2: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	// Both handles are idle past the TTL, so the opportunistic sweep
	// makes room instead of rejecting.
	if _, err := f.Create("u1", "req3", "t1"); err != nil {
		t.Fatalf("Create 3 after idle sweep: %v", err)
	}
}

func TestPerUserIsolation(t *testing.T) {
	f := testFactory(t, Config{MaxClientsPerUser: 1, ClientTTL: time.Hour}, nil)

	if _, err := f.Create("u1", "req1", "t1"); err != nil {
		t.Fatalf("Create u1: %v", err)
	}
	// u1 at quota must not affect u2.
	if _, err := f.Create("u2", "req1", "t2"); err != nil {
		t.Fatalf("Create u2: %v", err)
	}
	if got := f.LiveHandles("u1"); got != 1 {
		t.Fatalf("expected 1 live handle for u1, got %d", got)
	}
	if got := f.CleanupUser("u2"); got != 1 {
		t.Fatalf("expected 1 released for u2, got %d", got)
	}
	if got := f.LiveHandles("u1"); got != 1 {
		t.Fatalf("u2 cleanup must not touch u1, got %d", got)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := testFactory(t, Config{}, nil)

	var validationErr *domain.ValidationError
	if _, err := f.Create("", "req1", "t1"); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := f.Create("u1", "", "t1"); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExecLazilyConnectsAndTagsOwner(t *testing.T) {
	client := &recordingClient{}
	f := testFactory(t, Config{}, okDialer(client))

	h, err := f.Create("u1", "req1", "t1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if client.pings != 0 {
		t.Fatalf("client must not be probed at creation time")
	}

	if _, err := h.Exec(context.Background(), "gpu.metrics.query", nil); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if client.pings != 1 {
		t.Fatalf("expected one health probe, got %d", client.pings)
	}
	if len(client.userIDs) != 1 || client.userIDs[0] != "u1" {
		t.Fatalf("expected call tagged with u1, got %v", client.userIDs)
	}
	if h.OperationCount() != 1 {
		t.Fatalf("expected 1 operation, got %d", h.OperationCount())
	}
}

func TestExecConnectionFailureIsRetryable(t *testing.T) {
	calls := 0
	dialer := DialerFunc(func(ctx context.Context, userID string) (Client, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("backend down")
		}
		return &recordingClient{}, nil
	})
	f := testFactory(t, Config{}, dialer)

	h, err := f.Create("u1", "req1", "t1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = h.Exec(context.Background(), "op", nil)
	var connErr *domain.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if h.ErrorCount() != 1 {
		t.Fatalf("expected 1 error, got %d", h.ErrorCount())
	}

	// The handle stayed uninitialized; the next call dials again.
	if _, err := h.Exec(context.Background(), "op", nil); err != nil {
		t.Fatalf("Exec retry: %v", err)
	}
}

func TestBackgroundSweeperReclaimsExpiredHandles(t *testing.T) {
	f := testFactory(t, Config{
		MaxClientsPerUser: 5,
		ClientTTL:         time.Millisecond,
		SweepInterval:     5 * time.Millisecond,
	}, nil)
	f.Start()
	defer f.Stop()

	if _, err := f.Create("u1", "req1", "t1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for f.LiveHandles("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not reclaim idle handle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWithHandleReleasesOnEveryPath(t *testing.T) {
	f := testFactory(t, Config{MaxClientsPerUser: 1, ClientTTL: time.Hour}, nil)
	ctx := context.Background()

	if err := f.WithHandle(ctx, "u1", "req1", "t1", func(h *Handle) error {
		if f.LiveHandles("u1") != 1 {
			t.Fatalf("expected live handle inside fn")
		}
		return nil
	}); err != nil {
		t.Fatalf("WithHandle: %v", err)
	}
	if f.LiveHandles("u1") != 0 {
		t.Fatalf("handle leaked after success")
	}

	wantErr := fmt.Errorf("stage blew up")
	if err := f.WithHandle(ctx, "u1", "req2", "t1", func(h *Handle) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if f.LiveHandles("u1") != 0 {
		t.Fatalf("handle leaked after error")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	called := false
	err := f.WithHandle(cancelled, "u1", "req3", "t1", func(h *Handle) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run after cancellation")
	}
	if f.LiveHandles("u1") != 0 {
		t.Fatalf("handle leaked after cancellation")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := testFactory(t, Config{}, nil)

	h, err := f.Create("u1", "req1", "t1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Release(h)
	f.Release(h)
	if f.LiveHandles("u1") != 0 {
		t.Fatalf("expected 0 live handles")
	}

	if _, err := h.Exec(context.Background(), "op", nil); err == nil {
		t.Fatalf("expected error using released handle")
	}
}
