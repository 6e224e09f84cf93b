/**
 * @description
 * Cron-driven housekeeping: sessions older than the token lifetime are marked logged
 * out, and old idempotency keys are purged.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// MaintenanceRepository defines database operations needed by the jobs.
type MaintenanceRepository interface {
	ExpireStaleSessions(ctx context.Context, loggedInBefore time.Time) (int64, error)
	PurgeIdempotencyKeys(ctx context.Context, createdBefore time.Time) (int64, error)
}

// MaintenanceJobs contains the logic for all scheduled tasks.
type MaintenanceJobs struct {
	repo              MaintenanceRepository
	sessionTTL        time.Duration
	idempotencyKeyTTL time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// NewMaintenanceJobs creates a new jobs runner.
func NewMaintenanceJobs(repo MaintenanceRepository, sessionTTL, idempotencyKeyTTL time.Duration, logger *slog.Logger) *MaintenanceJobs {
	return &MaintenanceJobs{
		repo:              repo,
		sessionTTL:        sessionTTL,
		idempotencyKeyTTL: idempotencyKeyTTL,
		logger:            logger,
		now:               time.Now,
	}
}

// ExpireStaleSessions clears sessions whose token has necessarily expired.
func (j *MaintenanceJobs) ExpireStaleSessions() {
	if j.sessionTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := j.repo.ExpireStaleSessions(ctx, j.now().Add(-j.sessionTTL))
	if err != nil {
		j.logger.Error("failed to expire stale sessions", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Info("expired stale sessions", "count", expired)
	}
}

// PurgeIdempotencyKeys drops keys past their retention window.
func (j *MaintenanceJobs) PurgeIdempotencyKeys() {
	if j.idempotencyKeyTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := j.repo.PurgeIdempotencyKeys(ctx, j.now().Add(-j.idempotencyKeyTTL))
	if err != nil {
		j.logger.Error("failed to purge idempotency keys", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("purged idempotency keys", "count", purged)
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *MaintenanceJobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *MaintenanceJobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ExpireStaleSessions); err != nil {
		s.logger.Error("failed to schedule session expiry job", "error", err)
		return err
	}
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.PurgeIdempotencyKeys); err != nil {
		s.logger.Error("failed to schedule idempotency purge job", "error", err)
		return err
	}
	s.logger.Info("scheduled maintenance jobs", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
