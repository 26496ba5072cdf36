// Package sqlite persists sessions in a SQLite database using
// modernc.org/sqlite (pure Go, no CGO). It registers the "session.sqlite"
// module, which publishes its Persister as the "session.persister" service.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/toolgate/internal/core"
)

// ServiceName is the service the module registers its Persister under.
const ServiceName = "session.persister"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the SQLite session persistence module.
type Module struct {
	config    Config
	logger    *slog.Logger
	persister *Persister
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "session.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	p, err := Open(context.TODO(), m.config)
	if err != nil {
		return err
	}
	m.persister = p
	ctx.RegisterService(ServiceName, p)

	m.logger.Info("sqlite session store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.persister.Ping(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.persister == nil {
		return nil
	}
	m.logger.Info("sqlite session store stopping")
	return m.persister.Close()
}

// Persister returns the module's persister.
func (m *Module) Persister() *Persister {
	return m.persister
}
