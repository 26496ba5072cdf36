package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/cron"
)

// lifecycleID identifies the module draining the gate and flushing sessions.
const lifecycleID core.ModuleID = "toolgate.lifecycle"

// lifecycle drains in-flight tool calls and writes sessions out on stop.
// It sits after session storage, so the persister is still open when
// the final flush runs.
type lifecycle struct {
	rt *Runtime
}

var (
	_ core.Module  = (*lifecycle)(nil)
	_ core.Stopper = (*lifecycle)(nil)
)

func (l *lifecycle) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: lifecycleID}
}

func (l *lifecycle) Stop(ctx context.Context) error {
	var errs []error
	if err := l.rt.Gate.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining tool calls: %w", err))
	}
	if err := l.rt.Store.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing sessions: %w", err))
	}
	return errors.Join(errs...)
}

// appendBackground adds the lifecycle module and the job scheduler. Autosave
// only runs when a persister is configured.
func (rt *Runtime) appendBackground() error {
	rt.App.AppendModule(lifecycleID, &lifecycle{rt: rt})

	logger := rt.Logger.With("component", "cron")
	sched := cron.NewScheduler(logger)
	if _, ok := rt.AppCtx.GetService(ServicePersister); ok {
		if err := sched.RegisterJob(&cron.SessionAutosaveJob{
			Store:        rt.Store,
			Logger:       logger,
			ScheduleExpr: rt.Config.Sessions.Autosave,
		}); err != nil {
			return err
		}
	}
	if err := sched.RegisterJob(&cron.SessionPruneJob{
		Store:        rt.Store,
		Limiter:      rt.Limiter,
		Logger:       logger,
		ScheduleExpr: rt.Config.Sessions.Prune,
	}); err != nil {
		return err
	}
	rt.App.AppendModule(cron.ModuleID, sched)
	return nil
}
