package jobs

import (
	"time"

	"barterpool-backend/internal/config"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/metrics"
	"barterpool-backend/internal/repository"
	"barterpool-backend/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	engine  *service.Engine
	sweeper *DeadlineSweeper
	config  *config.Config
	clock   func() time.Time
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store *repository.Store, engine *service.Engine, cfg *config.Config) *JobRunner {
	return &JobRunner{
		engine:  engine,
		sweeper: NewDeadlineSweeper(store.Pools, engine.Pools, engine.Matching),
		config:  cfg,
		clock:   time.Now,
	}
}

// Config exposes the runner configuration to the scheduler
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func() error) {
	start := time.Now()
	success := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
		metrics.RecordJobRun(jobName, time.Since(start), success)
	}()

	logger.Info("Starting job", "job", jobName)
	if err := jobFunc(); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err)
		return
	}
	success = true
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.SweepExpiredPools()
	jr.ExpireStalledMatches()
	jr.RetryPaymentInstructions()
}
