package cron

import (
	"context"
	"fmt"
	"log/slog"
)

// Default schedules for the built-in jobs.
const (
	DefaultAutosaveSchedule = "*/5 * * * *"
	DefaultPruneSchedule    = "*/10 * * * *"
)

// SessionFlusher is the subset of session.Store needed by the autosave job.
type SessionFlusher interface {
	Flush(ctx context.Context) error
}

// SessionPruner is the subset of session.Store needed by the prune job.
type SessionPruner interface {
	Prune() int
}

// BucketPruner drops idle rate limiter buckets.
type BucketPruner interface {
	Prune() int
}

// SessionAutosaveJob writes changed non-incognito sessions to the persister.
type SessionAutosaveJob struct {
	Store        SessionFlusher
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultAutosaveSchedule
}

// Compile-time interface check.
var _ Job = (*SessionAutosaveJob)(nil)

// Name implements Job.
func (j *SessionAutosaveJob) Name() string { return "sessions.autosave" }

// Schedule implements Job.
func (j *SessionAutosaveJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultAutosaveSchedule
}

// Run flushes the session store.
func (j *SessionAutosaveJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: autosave cancelled: %w", ctx.Err())
	}
	if err := j.Store.Flush(ctx); err != nil {
		return fmt.Errorf("cron: autosave: %w", err)
	}
	return nil
}

// SessionPruneJob evicts expired sessions and idle rate limiter buckets.
type SessionPruneJob struct {
	Store        SessionPruner
	Limiter      BucketPruner // optional
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultPruneSchedule
}

// Compile-time interface check.
var _ Job = (*SessionPruneJob)(nil)

// Name implements Job.
func (j *SessionPruneJob) Name() string { return "sessions.prune" }

// Schedule implements Job.
func (j *SessionPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultPruneSchedule
}

// Run prunes expired sessions, then empty rate limiter buckets.
func (j *SessionPruneJob) Run(_ context.Context) error {
	pruned := j.Store.Prune()
	buckets := 0
	if j.Limiter != nil {
		buckets = j.Limiter.Prune()
	}
	if pruned > 0 || buckets > 0 {
		j.Logger.Info("cron: pruned expired state", "sessions", pruned, "buckets", buckets)
	}
	return nil
}
