package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/optiqlabs/optiq/internal/domain"
	"github.com/optiqlabs/optiq/internal/resource"
	"github.com/optiqlabs/optiq/internal/store"
	"github.com/optiqlabs/optiq/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, store.Bridge, *resource.Factory) {
	bridge := helpers.NewTestSQLiteBridge(t)
	factory := resource.NewFactory(resource.Config{
		MaxClientsPerUser: 5,
		ClientTTL:         time.Hour,
	}, resource.DialerFunc(func(ctx context.Context, userID string) (resource.Client, error) {
		return nil, nil
	}))
	return NewHandler(bridge, factory), bridge, factory
}

func seedRun(t *testing.T, bridge store.Bridge, threadID, userID, runID string) *domain.RequestState {
	t.Helper()
	state := domain.NewRequestState(userID, threadID, runID, "optimize things")
	state.Status = domain.RunStatusCompleted
	if _, err := bridge.SaveSnapshot(context.Background(), state); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	return state
}

func TestGetRun(t *testing.T) {
	e := echo.New()
	h, bridge, _ := newTestHandler(t)
	seedRun(t, bridge, "t1", "u1", "r1")

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/r1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("r1")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got domain.RequestState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "r1" || got.UserID != "u1" || got.Status != domain.RunStatusCompleted {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("missing")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetThreadContextReturnsLatestRun(t *testing.T) {
	e := echo.New()
	h, bridge, _ := newTestHandler(t)
	seedRun(t, bridge, "t1", "u1", "r1")
	time.Sleep(10 * time.Millisecond)
	seedRun(t, bridge, "t1", "u1", "r2")

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/t1/context", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("thread_id")
	c.SetParamValues("t1")

	if err := h.GetThreadContext(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got domain.ThreadContext
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.LastRunID != "r2" || got.State == nil || got.State.RunID != "r2" {
		t.Fatalf("expected latest run r2, got %+v", got)
	}
}

func TestGetThreadContextNotFound(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/none/context", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("thread_id")
	c.SetParamValues("none")

	if err := h.GetThreadContext(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCleanupUserReleasesHandles(t *testing.T) {
	e := echo.New()
	h, _, factory := newTestHandler(t)

	if _, err := factory.Create("u1", "r1", "t1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := factory.Create("u1", "r2", "t1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/users/u1/cleanup", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("user_id")
	c.SetParamValues("u1")

	if err := h.CleanupUser(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		UserID   string `json:"user_id"`
		Released int    `json:"released"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Released != 2 {
		t.Fatalf("expected 2 released, got %d", body.Released)
	}
	if n := factory.LiveHandles("u1"); n != 0 {
		t.Fatalf("expected no live handles, got %d", n)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
