// Event Service — the platform's message backbone: accepts published
// envelopes over HTTP and fans them out to agents over SSE streams.
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

	"github.com/soorma-ai/soorma/pkg/bus"
	"github.com/soorma-ai/soorma/pkg/config"
	"github.com/soorma-ai/soorma/pkg/eventservice"
	"github.com/soorma-ai/soorma/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	config.LoadDotenv(*envFile)

	// 1. Load configuration
	cfg, err := config.LoadEventService()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Event Service",
		"version", version.Full(),
		"port", cfg.Port,
		"adapter", cfg.Adapter)

	ctx := context.Background()

	// 2. Connect the bus adapter
	adapter, err := bus.New(bus.Kind(cfg.Adapter), cfg.NATSURL)
	if err != nil {
		slog.Error("Failed to create bus adapter", "error", err)
		os.Exit(1)
	}
	if err := adapter.Connect(ctx); err != nil {
		slog.Error("Failed to connect bus adapter", "adapter", adapter.Name(), "error", err)
		os.Exit(1)
	}
	slog.Info("Bus adapter connected", "adapter", adapter.Name())

	// 3. Create stream manager and HTTP server
	streams := eventservice.NewStreamManager(adapter, cfg.StreamMaxQueueSize)
	server := eventservice.NewServer(cfg, adapter, streams)
	if cfg.ValidatePayloads {
		server.SetValidator(eventservice.NewRegistryValidator(cfg.RegistryURL))
		slog.Info("Publish-side payload validation enabled", "registry_url", cfg.RegistryURL)
	}

	// 4. Start HTTP server (non-blocking)
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

	// 6. Graceful shutdown: drain HTTP (SSE loops observe their request
	// contexts), then disconnect the bus.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := adapter.Disconnect(shutdownCtx); err != nil {
		slog.Error("Bus adapter disconnect error", "error", err)
	}

	slog.Info("Shutdown complete")
}
