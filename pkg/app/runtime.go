package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/gateway"
	"github.com/flemzord/toolgate/internal/reload"
	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/telemetry"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/exttools"
	"github.com/flemzord/toolgate/internal/tool/fstools"

	// Modules register themselves with core in init().
	_ "github.com/flemzord/toolgate/modules/sessionstore/sqlite"
)

// Service names registered on the AppContext.
const (
	ServiceRedactor    = "security.redactor"
	ServiceAudit       = "security.audit"
	ServiceRateLimiter = "security.ratelimiter"
	ServiceSandbox     = "sandbox"
	ServiceRegistry    = "tool.registry"
	ServiceGate        = "tool.gate"
	ServiceStore       = "session.store"
	ServicePersister   = "session.persister"
)

// Options controls how Build assembles a Runtime.
type Options struct {
	Version  string
	DataDir  string
	LogLevel slog.Level

	// LogWriter receives text logs. Defaults to os.Stderr.
	LogWriter io.Writer

	// WithModules loads the modules listed in the config (persistence,
	// HTTP gateway) and the background jobs. One-shot commands leave it
	// off and run with an in-memory session store.
	WithModules bool
}

// Runtime is a fully wired toolgate instance.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Redactor  *security.Redactor
	Audit     *security.AuditLogger
	Limiter   *security.RateLimiter
	Sandbox   *sandbox.Sandbox
	Registry  *tool.Registry
	Store     *session.Store
	Gate      *tool.Gate
	Metrics   *gateway.Metrics
	Telemetry *telemetry.Provider
	App       *core.App
	AppCtx    *core.AppContext

	// Reloader is set by WatchConfig.
	Reloader *reload.Handler

	closers []io.Closer
}

// Build wires every component described by cfg. cfg must already be
// validated. On error everything built so far is released.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Redactor = security.NewRedactor()
	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}
	inner := slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: opts.LogLevel})
	rt.Logger = slog.New(security.NewRedactingHandler(inner, rt.Redactor))

	auditWriter, err := openAuditLog(cfg.Security.AuditLog)
	if err != nil {
		return nil, err
	}
	if auditWriter != nil {
		rt.closers = append(rt.closers, auditWriter)
	}
	auditCfg := security.AuditLoggerConfig{Redactor: rt.Redactor}
	if auditWriter != nil {
		auditCfg.Writer = auditWriter
	}
	rt.Audit = security.NewAuditLogger(auditCfg)
	rt.Limiter = security.NewRateLimiter(cfg.Security.RateLimits)

	sandboxLogger := rt.Logger.With("component", "sandbox")
	rt.Sandbox, err = sandbox.New(cfg.AllowedRoots, sandbox.WithDenyHook(func(candidate string, derr error) {
		rt.Audit.Log(security.AuditEvent{Type: security.EventSandboxDenied, Path: candidate, Detail: derr.Error()})
		sandboxLogger.Warn("path denied", "path", candidate, "error", derr)
	}))
	if err != nil {
		return nil, fmt.Errorf("binding allowed roots: %w", err)
	}
	for _, root := range rt.Sandbox.Roots() {
		rt.Logger.Info("allowed root", "label", root.Label, "path", root.Canonical)
	}

	rt.Registry = tool.NewRegistry()
	if err := fstools.RegisterAll(rt.Registry, rt.Sandbox); err != nil {
		return nil, err
	}
	if err := exttools.RegisterAll(rt.Registry, cfg.Tools.External); err != nil {
		return nil, fmt.Errorf("external tools: %w", err)
	}
	for _, ext := range cfg.Tools.External {
		rt.Logger.Info("external tool", "name", ext.Name, "command", ext.Command, "approval", ext.Approval)
	}

	rt.Telemetry, err = telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     opts.Version,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
	}, telemetry.WithGlobal())
	if err != nil {
		return nil, err
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	rt.AppCtx = core.NewAppContext(rt.Logger, dataDir).WithModuleConfigs(cfg.Modules)
	rt.AppCtx.RegisterService(ServiceRedactor, rt.Redactor)
	rt.AppCtx.RegisterService(ServiceAudit, rt.Audit)
	rt.AppCtx.RegisterService(ServiceRateLimiter, rt.Limiter)
	rt.AppCtx.RegisterService(ServiceSandbox, rt.Sandbox)
	rt.AppCtx.RegisterService(ServiceRegistry, rt.Registry)

	rt.Metrics = gateway.NewMetrics()
	rt.AppCtx.RegisterService(gateway.MetricsService, rt.Metrics)

	rt.App = core.NewApp(rt.AppCtx)

	// Persistence loads first so the store can restore from it and so it
	// stops last, after the final flush.
	storageIDs, otherIDs := splitModules(config.Resolve(cfg))
	if opts.WithModules {
		if err := rt.App.LoadModules(storageIDs); err != nil {
			return nil, err
		}
	}

	persister, _ := core.Service[session.Persister](rt.AppCtx, ServicePersister)
	maxSessions := cfg.Sessions.MaxSessions
	if maxSessions == 0 {
		maxSessions = rt.Limiter.MaxSessions()
	}
	rt.Store = session.NewStore(session.Config{
		MaxSessions:  maxSessions,
		CookieMaxAge: cfg.Sessions.CookieMaxAge,
		Persister:    persister,
		Audit:        rt.Audit,
		RateLimiter:  rt.Limiter,
		Logger:       rt.Logger,
	})
	if persister != nil {
		n, err := rt.Store.Load(ctx)
		if err != nil {
			return nil, err
		}
		rt.Logger.Info("sessions restored", "count", n)
	}

	rt.Gate, err = tool.NewGate(tool.GateConfig{
		Registry:     rt.Registry,
		Ledger:       rt.Store,
		Journal:      rt.Store,
		Policy:       cfg.Tools.Policy,
		English:      cfg.English(),
		MaxArgsSize:  cfg.Security.MaxArgsBytes,
		MaxArgsDepth: cfg.Security.MaxArgsDepth,
		Audit:        rt.Audit,
		RateLimiter:  rt.Limiter,
		Observer:     rt.Metrics,
		Tracer:       rt.Telemetry.Tracer("toolgate/tool"),
		Logger:       rt.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building tool gate: %w", err)
	}
	rt.AppCtx.RegisterService(ServiceGate, rt.Gate)
	rt.AppCtx.RegisterService(ServiceStore, rt.Store)

	if opts.WithModules {
		if err := rt.appendBackground(); err != nil {
			return nil, err
		}
		if err := rt.App.LoadModules(otherIDs); err != nil {
			return nil, err
		}
	}

	rt.Logger.Info("toolgate ready", "tools", rt.Registry.Len(), "roots", len(rt.Sandbox.Roots()), "locale", cfg.Locale)
	return rt, nil
}

// Close releases what Build acquired outside the module lifecycle. It is
// safe to call on a partially built Runtime.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.Telemetry != nil {
		if err := rt.Telemetry.Shutdown(ctx); err != nil && rt.Logger != nil {
			rt.Logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if n := rt.Audit.WriteErrors(); n > 0 && rt.Logger != nil {
		rt.Logger.Warn("audit events lost", "count", n)
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil && rt.Logger != nil {
		rt.Logger.Warn("closing runtime resources", "error", err)
	}
}

// splitModules separates session storage modules from the rest.
func splitModules(ids []string) (storage, other []string) {
	for _, id := range ids {
		if core.ModuleID(id).Namespace() == "session" {
			storage = append(storage, id)
		} else {
			other = append(other, id)
		}
	}
	return storage, other
}

// openAuditLog opens path for appending. An empty path disables the file.
func openAuditLog(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return f, nil
}
