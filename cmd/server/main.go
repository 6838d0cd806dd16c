package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "barterpool-backend/internal/api/http"
	"barterpool-backend/internal/app"
	"barterpool-backend/internal/config"
	"barterpool-backend/internal/jobs"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/scheduler"
	"barterpool-backend/internal/security"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Barter Pool Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Storage configuration", "type", cfg.Storage.Type, "lock", cfg.Lock.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage, locks, collaborators and the engine
	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Jobs run in-process when configured, which the memory store requires
	var cronScheduler *scheduler.Scheduler
	if cfg.Scheduler.Embedded || cfg.Storage.Type == "memory" {
		cronScheduler, err = scheduler.NewScheduler(jobs.NewJobRunner(application.Store, application.Engine, cfg))
		if err != nil {
			log.Fatalf("Failed to initialize scheduler: %v", err)
		}
		cronScheduler.Start()
	}

	// Set up HTTP server
	tokenManager := security.NewTokenManager(cfg.JWT.Secret)
	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           httpapi.NewRouter(application.Engine, tokenManager, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}

	// Graceful shutdown: stop accepting requests, finish jobs and searches, close resources
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if cronScheduler != nil {
		cronScheduler.Stop()
	}
	if err := application.Close(); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}
