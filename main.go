package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/optiqlabs/optiq/internal/config"
	"github.com/optiqlabs/optiq/internal/hub"
	"github.com/optiqlabs/optiq/internal/notify"
	"github.com/optiqlabs/optiq/internal/pipeline"
	"github.com/optiqlabs/optiq/internal/resource"
	"github.com/optiqlabs/optiq/internal/store"
	"github.com/optiqlabs/optiq/internal/tools"
	transporthttp "github.com/optiqlabs/optiq/internal/transport/http"
	"github.com/optiqlabs/optiq/internal/ws"
	"github.com/optiqlabs/optiq/policy"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting orchestration core...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("WS Port: %d", cfg.WSPort)
	log.Printf("Database: %s", cfg.DatabaseURL)

	// State store bridge
	bridge, err := store.NewSQLiteBridge(cfg.DatabaseURL, cfg.SnapshotTTL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer bridge.Close()

	// Connection hub and event notifier
	h := hub.NewHub()
	go h.Run()
	notifier := notify.New(h, cfg.SendRetries)

	// Resource factory over the tool registry backend
	registry := tools.NewBuiltinRegistry()
	backend := tools.NewBackend(registry)
	factory := resource.NewFactory(resource.Config{
		MaxClientsPerUser: cfg.MaxClientsPerUser,
		ClientTTL:         cfg.ClientTTL,
		SweepInterval:     cfg.SweepInterval,
	}, backend.Dialer())
	factory.Start()
	defer factory.Stop()

	// Stage policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Pipeline
	p := pipeline.New(pipeline.Config{
		MaxRetries:         cfg.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff,
		HaltOnStageFailure: cfg.HaltOnStageFailure,
	}, bridge, notifier, factory, policyEngine, pipeline.DefaultStages()...)

	// WebSocket server
	wsServer := ws.NewServer(cfg, h, p)
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.Use(middleware.Recover())
	wsEcho.GET("/ws", wsServer.HandleWebSocket)

	// HTTP read API
	apiServer := transporthttp.NewServer(bridge, factory)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Printf("API started on port %d", cfg.HTTPPort)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		log.Printf("WebSocket server started on port %d", cfg.WSPort)
		if err := wsEcho.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Snapshot garbage collection
	g.Go(func() error {
		ticker := time.NewTicker(cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
				n, err := bridge.PruneExpired(pruneCtx, time.Now())
				cancel()
				if err != nil {
					log.Printf("WARN: snapshot prune failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("pruned %d expired snapshot(s)", n)
				}
			}
		}
	})

	<-gctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown API server gracefully: %v", err)
	}
	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown WebSocket server gracefully: %v", err)
	}

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}

	log.Println("Stopped")
}
