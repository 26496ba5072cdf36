package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/flemzord/toolgate/internal/cron"
	"github.com/flemzord/toolgate/internal/cron/crontest"
)

func TestJobs_NameAndSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		job      cron.Job
		name     string
		schedule string
	}{
		{&cron.SessionAutosaveJob{}, "sessions.autosave", cron.DefaultAutosaveSchedule},
		{&cron.SessionAutosaveJob{ScheduleExpr: "@hourly"}, "sessions.autosave", "@hourly"},
		{&cron.SessionPruneJob{}, "sessions.prune", cron.DefaultPruneSchedule},
		{&cron.SessionPruneJob{ScheduleExpr: "0 * * * *"}, "sessions.prune", "0 * * * *"},
	}
	for _, tt := range tests {
		if got := tt.job.Name(); got != tt.name {
			t.Errorf("Name() = %q, want %q", got, tt.name)
		}
		if got := tt.job.Schedule(); got != tt.schedule {
			t.Errorf("%s Schedule() = %q, want %q", tt.name, got, tt.schedule)
		}
	}
}

func TestSessionAutosaveJob_Run(t *testing.T) {
	t.Parallel()

	store := &crontest.MockStore{}
	j := &cron.SessionAutosaveJob{Store: store, Logger: slog.Default()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.FlushCalls.Load() != 1 {
		t.Errorf("flush calls = %d, want 1", store.FlushCalls.Load())
	}
}

func TestSessionAutosaveJob_FlushError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	store := &crontest.MockStore{FlushFunc: func(context.Context) error { return boom }}
	j := &cron.SessionAutosaveJob{Store: store, Logger: slog.Default()}
	if err := j.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestSessionAutosaveJob_CancelledContext(t *testing.T) {
	t.Parallel()

	store := &crontest.MockStore{}
	j := &cron.SessionAutosaveJob{Store: store, Logger: slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if store.FlushCalls.Load() != 0 {
		t.Error("flush should not run after cancellation")
	}
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Prune() int {
	l.calls++
	return 2
}

func TestSessionPruneJob_Run(t *testing.T) {
	t.Parallel()

	store := &crontest.MockStore{PruneFunc: func() int { return 3 }}
	limiter := &countingLimiter{}
	j := &cron.SessionPruneJob{Store: store, Limiter: limiter, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.PruneCalls.Load() != 1 {
		t.Errorf("prune calls = %d, want 1", store.PruneCalls.Load())
	}
	if limiter.calls != 1 {
		t.Errorf("limiter prune calls = %d, want 1", limiter.calls)
	}
}

func TestSessionPruneJob_NoLimiter(t *testing.T) {
	t.Parallel()

	store := &crontest.MockStore{}
	j := &cron.SessionPruneJob{Store: store, Logger: slog.Default()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
