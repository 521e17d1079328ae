// Package schedule runs scan cycles on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. Returning an error wrapping ErrSkipped logs the run as skipped.
type Job func(ctx context.Context) error

// ErrSkipped marks a run that was passed over because earlier work was still running.
var ErrSkipped = errors.New("run skipped")

// Config describes when the job runs.
type Config struct {
	Spec       string
	RunOnStart bool
}

// Scheduler triggers a Job on a cron spec. Overlapping ticks are dropped.
type Scheduler struct {
	cfg    Config
	job    Job
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New parses the spec and builds a stopped Scheduler.
func New(cfg Config, job Job, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cfg: cfg, job: job, cron: c, logger: logger, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(cfg.Spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins firing the job. With RunOnStart it also runs once right away in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick()
		}()
	}
	s.logger.Info("scheduler started", zap.String("spec", s.cfg.Spec), zap.Bool("run_on_start", s.cfg.RunOnStart))
}

// Stop cancels the running job and waits for it to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	err := s.job(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSkipped):
		s.logger.Info("scheduled run skipped", zap.Error(err))
	case errors.Is(err, context.Canceled):
		s.logger.Info("scheduled run canceled")
	default:
		s.logger.Warn("scheduled run failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
