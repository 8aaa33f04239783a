package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"
	red "vpn-subscription-bot/internal/infra/redis"
)

// Job is one periodic reconciliation task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. Overlapping runs inside one process are
// skipped; across replicas a job runs only on the instance holding its lock.
type Scheduler struct {
	cron    *cron.Cron
	locker  red.Locker
	lockTTL time.Duration
	timeout time.Duration
	log     *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(locker red.Locker, lockTTL time.Duration, logger *zerolog.Logger) *Scheduler {
	if locker == nil {
		locker = red.NoopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	cl := cronLogger{log: &l}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:  locker,
		lockTTL: lockTTL,
		timeout: lockTTL,
		log:     &l,
	}
}

// Add registers job. An empty spec disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.log.Info().Str("job", job.Name).Msg("job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.RunOnce(s.baseContext(), job) }); err != nil {
		return fmt.Errorf("scheduler: add %s (%q): %w", job.Name, job.Spec, err)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop prevents new runs, cancels running ones and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-done.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) baseContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// RunOnce executes job under its distributed lock and returns the recorded
// status: ok, error or skipped.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) string {
	start := time.Now()
	ctx = logging.WithTraceID(ctx, "job-"+job.Name+"-"+start.UTC().Format("20060102T150405"))
	log := s.log.With().Str("job", job.Name).Logger()

	key := red.JobLockKey(job.Name)
	token, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			log.Debug().Msg("job held by another instance")
		} else {
			log.Warn().Err(err).Msg("job lock unavailable")
		}
		metrics.IncJobRun(job.Name, "skipped", 0)
		return "skipped"
	}
	defer func() {
		// the run ctx may be canceled already
		if err := s.locker.Unlock(context.Background(), key, token); err != nil {
			log.Warn().Err(err).Msg("job unlock failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := "ok"
	if err := job.Run(runCtx); err != nil {
		status = "error"
		log.Error().Err(err).Msg("job failed")
	}
	metrics.IncJobRun(job.Name, status, time.Since(start).Seconds())
	return status
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
