package offline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Syncer replays queued mutations.
type Syncer interface {
	SyncNow(ctx context.Context) (SyncReport, error)
}

// Scheduler runs queue replay on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	logger *slog.Logger
}

// NewScheduler parses spec (standard five-field cron or descriptors such as
// "@every 1m"). A tick is skipped while the previous replay still runs.
func NewScheduler(syncer Syncer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		syncer: syncer,
		logger: logger.With("component", "scheduler"),
	}
	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	report, err := s.syncer.SyncNow(context.Background())
	if err != nil {
		s.logger.Error("scheduled sync", "error", err)
		return
	}
	s.logger.Debug("scheduled sync", "replayed", report.Replayed, "failed", report.Failed, "skipped", report.Skipped)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running replay to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
