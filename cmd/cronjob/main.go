package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"barterpool-backend/internal/app"
	"barterpool-backend/internal/config"
	"barterpool-backend/internal/jobs"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'sweep-expired-pools', 'expire-stalled-matches', 'retry-payment-instructions', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Barter Pool Cronjob Runner...", "log_level", cfg.Log.Level)

	// A separate process cannot see another process's memory store
	if cfg.Storage.Type == "memory" {
		log.Fatalf("The cronjob runner requires postgres storage; enable scheduler.embedded on the server instead")
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	}()

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(application.Store, application.Engine, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !runJobOnce(jobRunner, *runOnce) {
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once; it reports false for an unknown job
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) bool {
	switch jobName {
	case "sweep-expired-pools":
		jobRunner.SweepExpiredPools()
	case "expire-stalled-matches":
		jobRunner.ExpireStalledMatches()
	case "retry-payment-instructions":
		jobRunner.RetryPaymentInstructions()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - sweep-expired-pools\n")
		fmt.Printf("  - expire-stalled-matches\n")
		fmt.Printf("  - retry-payment-instructions\n")
		fmt.Printf("  - all\n")
		return false
	}
	return true
}
