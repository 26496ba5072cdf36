package reload

import (
	"context"
	"log/slog"
	"time"

	"github.com/flemzord/toolgate/internal/core"
)

// ModuleID identifies the reload watcher in the application lifecycle.
const ModuleID core.ModuleID = "config.reload"

// Module runs a Watcher and feeds its events to a Handler.
type Module struct {
	handler  *Handler
	interval time.Duration
	logger   *slog.Logger

	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

var (
	_ core.Module  = (*Module)(nil)
	_ core.Starter = (*Module)(nil)
	_ core.Stopper = (*Module)(nil)
)

// NewModule watches handler's file every interval (zero means the
// default poll interval).
func NewModule(handler *Handler, interval time.Duration) *Module {
	return &Module{
		handler:  handler,
		interval: interval,
		logger:   handler.logger,
	}
}

// ModuleInfo implements core.Module. The module is appended to the app
// programmatically, so it has no constructor.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: ModuleID}
}

// Start implements core.Starter.
func (m *Module) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.watcher = NewWatcher(WatcherConfig{ConfigPath: m.handler.path, PollInterval: m.interval})
	m.watcher.Start(ctx)

	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-m.watcher.Events():
				m.logger.Info("config file changed, reloading", "path", evt.ConfigPath)
				if err := m.handler.Reload(ctx); err != nil {
					m.logger.Error("reload failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.watcher.Stop()
	<-m.done
	m.cancel = nil
	return nil
}
