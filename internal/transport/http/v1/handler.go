// Package v1 provides HTTP handlers for the read-side API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/optiqlabs/optiq/internal/resource"
	"github.com/optiqlabs/optiq/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	bridge  store.Bridge
	factory *resource.Factory
}

// NewHandler creates a new handler.
func NewHandler(bridge store.Bridge, factory *resource.Factory) *Handler {
	return &Handler{
		bridge:  bridge,
		factory: factory,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/threads/:thread_id/context", h.GetThreadContext)
	e.POST("/v1/users/:user_id/cleanup", h.CleanupUser)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// GetRun returns the persisted state of a run.
func (h *Handler) GetRun(c echo.Context) error {
	runID := c.Param("run_id")
	state, err := h.bridge.LoadSnapshot(c.Request().Context(), runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if state == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, state)
}

// GetThreadContext returns the most recent run state for a thread.
func (h *Handler) GetThreadContext(c echo.Context) error {
	threadID := c.Param("thread_id")
	tc, err := h.bridge.ThreadContext(c.Request().Context(), threadID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if tc == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "thread not found"})
	}
	return c.JSON(http.StatusOK, tc)
}

// CleanupUser forcibly releases every resource handle owned by a user.
// Used at session end.
func (h *Handler) CleanupUser(c echo.Context) error {
	userID := c.Param("user_id")
	released := h.factory.CleanupUser(userID)
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":  userID,
		"released": released,
	})
}
