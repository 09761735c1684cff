package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plap9/saas/cmd/internal/auth/session"
)

type fakeCleaner struct {
	mu       sync.Mutex
	calls    []int
	deadline []bool // whether each call carried a deadline
	res      session.CleanupResult
	err      error
	delay    time.Duration
}

func (f *fakeCleaner) CleanupTokens(ctx context.Context, retentionDays int) (session.CleanupResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return session.CleanupResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := ctx.Deadline()
	f.calls = append(f.calls, retentionDays)
	f.deadline = append(f.deadline, ok)
	return f.res, f.err
}

func discardLogger() Logger { return slog.New(slog.DiscardHandler) }

func TestNewJanitor_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := NewJanitor("every tuesday", &fakeCleaner{}, discardLogger(), time.Second)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}

func TestJanitor_RunOnce(t *testing.T) {
	t.Parallel()

	cl := &fakeCleaner{res: session.CleanupResult{ExpiredDeleted: 3, OldRevokedDeleted: 1}}
	j, err := NewJanitor("@hourly", cl, discardLogger(), time.Second)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	res, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Total() != 4 {
		t.Fatalf("Total=%d want 4", res.Total())
	}
	if len(cl.calls) != 1 || cl.calls[0] != 0 {
		t.Fatalf("calls=%v want [0] (configured retention)", cl.calls)
	}
	if !cl.deadline[0] {
		t.Fatalf("cleanup must run under a deadline")
	}
}

func TestJanitor_RunOnceHonoursBudget(t *testing.T) {
	t.Parallel()

	slow := &fakeCleaner{delay: 100 * time.Millisecond, res: session.CleanupResult{ExpiredDeleted: 1}}
	j, err := NewJanitor("@hourly", slow, discardLogger(), time.Second)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	if res, err := j.RunOnce(context.Background()); err != nil || res.ExpiredDeleted != 1 {
		t.Fatalf("RunOnce=%+v,%v want a finished cleanup within budget", res, err)
	}

	tight, err := NewJanitor("@hourly", &fakeCleaner{delay: time.Second}, discardLogger(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	if _, err := tight.RunOnce(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

func TestJanitor_RunOnceLogsFailure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	boom := errors.New("store down")
	j, err := NewJanitor("@every 1h", &fakeCleaner{err: boom}, log, time.Second)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	if _, err := j.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if !strings.Contains(buf.String(), `"msg":"janitor.run.fail"`) {
		t.Fatalf("expected failure log, got %q", buf.String())
	}
}

func TestJanitor_StartStop(t *testing.T) {
	t.Parallel()

	cl := &fakeCleaner{}
	j, err := NewJanitor("@every 10ms", cl, discardLogger(), time.Second)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	j.Start()

	deadline := time.Now().Add(3 * time.Second)
	for {
		cl.mu.Lock()
		n := len(cl.calls)
		cl.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("janitor never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
}

func TestCronLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cl := cronLogger{log: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	cl.Info("schedule", "entry", 1)
	cl.Error(errors.New("panic: nil map"), "panic", "entry", 1)

	out := buf.String()
	for _, want := range []string{`"msg":"cron.schedule"`, `"msg":"cron.panic"`, `"err":"panic: nil map"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
