// Browser task engine server — accepts task objectives over HTTP,
// drives the browser extension over the /ws control socket, and runs
// the plan/act/verify loop against the OpenAI API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/agent"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/api"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/config"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/engine"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/llm"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/task"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting "+version.AppName,
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"model", cfg.Model,
		"workers", cfg.WorkerCount)

	ctx := context.Background()

	// Agent link and the typed layers over it.
	link := browser.NewLink(browser.LinkConfig{CallTimeout: cfg.ActionTimeout})
	dispatcher := browser.NewDispatcher(link, cfg.ExtraForbiddenPrefixes...)
	observer := browser.NewObserver(dispatcher)

	// Model policies.
	llmClient := llm.New(cfg.OpenAIAPIKey, llm.Config{Model: cfg.Model})
	planner := agent.NewPlanner(llmClient)
	verifier := agent.NewVerifier(llmClient)

	// Task tracking and execution.
	registry := task.NewRegistry()
	eng := engine.New(dispatcher, observer, planner, verifier, cfg)
	pool := engine.NewPool(eng, cfg.WorkerCount, cfg.QueueSize)
	pool.Start(ctx)

	// HTTP surface.
	httpServer := api.NewServer(registry, pool, link, cfg.HTTPPort)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Server started; waiting for the browser extension to connect on /ws")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: finish or cancel tasks, drop the agent socket,
	// then drain HTTP.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Worker pool shutdown timeout exceeded")
	}

	link.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
