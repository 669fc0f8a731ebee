// Registry Service — the platform's discovery surface: event definitions,
// agent registrations, TTL-based liveness, and the expiry reaper.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soorma-ai/soorma/pkg/config"
	"github.com/soorma-ai/soorma/pkg/database"
	"github.com/soorma-ai/soorma/pkg/registry"
	"github.com/soorma-ai/soorma/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	config.LoadDotenv(*envFile)

	// 1. Load configuration
	cfg, err := config.LoadRegistry()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Registry Service",
		"version", version.Full(),
		"port", cfg.Port,
		"agent_ttl", cfg.AgentTTL(),
		"cleanup_interval", cfg.CleanupInterval())

	ctx := context.Background()

	// 2. Connect to PostgreSQL (runs migrations)
	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Create service and reaper
	service := registry.NewService(dbClient.Pool(), cfg.AgentTTL())
	reaper := registry.NewReaper(service, cfg.CleanupInterval())
	reaper.Start(ctx)
	defer reaper.Stop()

	// 4. Start HTTP server (non-blocking)
	server := registry.NewServer(cfg, service, dbClient.Pool())
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 5. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
