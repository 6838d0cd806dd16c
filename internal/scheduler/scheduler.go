package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"barterpool-backend/internal/jobs"
	"barterpool-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a scheduler with the provided job runner. It fails when
// a configured schedule does not parse.
func NewScheduler(jobRunner *jobs.JobRunner) (*Scheduler, error) {
	// UTC timezone and seconds precision; a run still in progress skips the next tick
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config().Scheduler

	// Cancel pools whose deadline passed with the threshold unmet
	if _, err := s.cron.AddFunc(cfg.SweepExpiredPools, s.jobs.SweepExpiredPools); err != nil {
		return fmt.Errorf("register SweepExpiredPools job: %w", err)
	}

	// Fail pools whose match search never reported back
	if _, err := s.cron.AddFunc(cfg.ExpireStalledMatches, s.jobs.ExpireStalledMatches); err != nil {
		return fmt.Errorf("register ExpireStalledMatches job: %w", err)
	}

	// Redeliver outstanding payment instructions
	if _, err := s.cron.AddFunc(cfg.RetryPaymentInstructions, s.jobs.RetryPaymentInstructions); err != nil {
		return fmt.Errorf("register RetryPaymentInstructions job: %w", err)
	}

	logger.Info("All cron jobs registered successfully", "count", len(s.cron.Entries()))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler, waiting for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// IsRunning returns true if the scheduler has jobs registered
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
