package batch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"lending-engine/internal/pkg/apperrors"
)

const runLockKey = "lending:collections:run-lock"

// Runner is the collections job surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*RunSummary, error)
}

// Scheduler owns the cron trigger and the mutual-exclusion state for the
// collections run. It replaces process-wide globals with an explicit,
// injected component: the in-process guard rejects overlapping triggers in
// this instance, the Redis lock rejects them across instances.
type Scheduler struct {
	job        Runner
	cron       *cron.Cron
	redis      *redis.Client
	logger     *slog.Logger
	schedule   string
	runTimeout time.Duration
	lockTTL    time.Duration
	running    atomic.Bool
}

func NewScheduler(
	job Runner,
	redisClient *redis.Client,
	schedule string,
	runTimeout time.Duration,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if job == nil || logger == nil {
		panic("Scheduler dependencies cannot be nil")
	}
	if schedule == "" {
		schedule = "0 2 * * *"
	}
	if runTimeout <= 0 {
		runTimeout = 1 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 2 * runTimeout
	}
	return &Scheduler{
		job:        job,
		cron:       cron.New(),
		redis:      redisClient,
		logger:     logger.With(slog.String("component", "BatchScheduler")),
		schedule:   schedule,
		runTimeout: runTimeout,
		lockTTL:    lockTTL,
	}
}

// Start registers the cron entry and starts the scheduler.
func (s *Scheduler) Start() error {
	jobID, err := s.cron.AddJob(s.schedule, cron.FuncJob(func() {
		s.logger.Info("Cron triggered: running collections job.")
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		if _, runErr := s.TriggerRun(ctx); runErr != nil {
			s.logger.Error("Collections run finished with error", slog.Any("error", runErr))
		}
	}))
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scheduled collections job", "schedule", s.schedule, "job_id", jobID)
	return nil
}

// Stop halts the cron scheduler and waits for an in-flight run, bounded by
// the context.
func (s *Scheduler) Stop(ctx context.Context) {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
		s.logger.Info("Batch scheduler stopped gracefully.")
	case <-ctx.Done():
		s.logger.Warn("Batch scheduler shutdown timed out.")
	}
}

// TriggerRun starts a collections run now, on behalf of either the cron
// entry or an administrative caller. A run already in progress is rejected
// with ErrRunInProgress rather than queued or overlapped.
func (s *Scheduler) TriggerRun(ctx context.Context) (*RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.redis != nil {
		acquired, err := s.redis.SetNX(ctx, runLockKey, time.Now().UTC().Format(time.RFC3339), s.lockTTL).Result()
		if err != nil {
			// A lock-store outage must not stop the daily run; the
			// in-process guard still holds for this instance.
			s.logger.Warn("Failed to acquire distributed run lock, proceeding with local guard only", slog.Any("error", err))
		} else if !acquired {
			return nil, apperrors.ErrRunInProgress
		} else {
			defer func() {
				if delErr := s.redis.Del(context.WithoutCancel(ctx), runLockKey).Err(); delErr != nil {
					s.logger.Warn("Failed to release distributed run lock", slog.Any("error", delErr))
				}
			}()
		}
	}

	return s.job.Run(ctx)
}
