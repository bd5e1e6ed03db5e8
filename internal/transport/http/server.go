// Package http provides the HTTP server for the orchestration core.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/optiqlabs/optiq/internal/resource"
	"github.com/optiqlabs/optiq/internal/store"
	v1 "github.com/optiqlabs/optiq/internal/transport/http/v1"
)

// NewServer creates and configures the read-side HTTP server. Run state
// and thread context are served from the store bridge; run creation goes
// through the WebSocket channel.
func NewServer(bridge store.Bridge, factory *resource.Factory) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := v1.NewHandler(bridge, factory)
	handler.RegisterRoutes(e)

	return e
}
