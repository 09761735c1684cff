package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plap9/saas/cmd/internal/auth/session"
)

// tokenCleaner is the part of session.Service the janitor drives.
type tokenCleaner interface {
	CleanupTokens(ctx context.Context, retentionDays int) (session.CleanupResult, error)
}

// Janitor periodically deletes expired and long-revoked refresh tokens.
type Janitor struct {
	cron    *cron.Cron
	cleaner tokenCleaner
	log     Logger
	timeout time.Duration
}

// NewJanitor schedules cleaner on a robfig/cron expression ("@hourly", "*/15 * * * *").
// Overlapping runs are skipped and panics are recovered and logged.
func NewJanitor(schedule string, cleaner tokenCleaner, log Logger, timeout time.Duration) (*Janitor, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	cl := cronLogger{log: log}
	j := &Janitor{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cleaner: cleaner,
		log:     log,
		timeout: timeout,
	}

	if _, err := j.cron.AddFunc(schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("%w: APP_CLEANUP_SCHEDULE %q: %v", ErrConfig, schedule, err)
	}
	return j, nil
}

// Start runs the scheduler in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info("janitor.start", "entries", len(j.cron.Entries()))
}

// Stop halts scheduling and waits for a running cleanup or ctx, whichever
// ends first.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.log.Info("janitor.stop")
	case <-ctx.Done():
		j.log.Warn("janitor.stop.timeout", "err", ctx.Err())
	}
}

// RunOnce performs a single cleanup with the configured retention.
func (j *Janitor) RunOnce(ctx context.Context) (session.CleanupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	res, err := j.cleaner.CleanupTokens(ctx, 0)
	if err != nil {
		j.log.Error("janitor.run.fail", "err", err)
		return res, err
	}
	j.log.Debug("janitor.run.done", "deleted", res.Total())
	return res, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron."+msg, append(keysAndValues, "err", err)...)
}
