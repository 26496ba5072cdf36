// Package gateway serves the tool registry and session controls over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/tool"
	"gopkg.in/yaml.v3"
)

// Services the gateway registers or resolves from the AppContext.
const (
	MetricsService     = "gateway.metrics"
	gateService        = "tool.gate"
	storeService       = "session.store"
	auditService       = "security.audit"
	rateLimiterService = "security.ratelimiter"
	redactorService    = "security.redactor"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Dispatcher runs tool calls. Satisfied by *tool.Gate.
type Dispatcher interface {
	Dispatch(ctx context.Context, req tool.Request) (string, error)
	Registry() *tool.Registry
}

// SessionStore is the subset of *session.Store the gateway needs.
type SessionStore interface {
	Resolve(key string) (session.Session, bool, error)
	Get(key string) (session.Session, bool)
	SetApproval(key string, approved bool) error
	ToggleIncognito(key string) (bool, error)
	DeleteMessage(key, id string) error
	Len() int
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing
// imports it.
type Gateway struct {
	config   Config
	appCtx   *core.AppContext
	logger   *slog.Logger
	server   *http.Server
	metrics  *Metrics
	stopping atomic.Bool

	// Resolved at Start() via the service registry.
	gate     Dispatcher
	sessions SessionStore
	audit    *security.AuditLogger
	limiter  *security.RateLimiter
}

// Compile-time interface checks.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner. Metrics already registered under
// MetricsService are reused, so the tool gate built before the gateway can
// report to the same collectors.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	if m, ok := core.Service[*Metrics](ctx, MetricsService); ok {
		g.metrics = m
	} else {
		g.metrics = NewMetrics()
		ctx.RegisterService(MetricsService, g.metrics)
	}

	if redactor, ok := core.Service[*security.Redactor](ctx, redactorService); ok {
		redactor.AddLiteral(g.config.Auth.BearerToken)
		redactor.AddLiteral(g.config.Auth.BasicPass)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.resolve(); err != nil {
		return err
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String(), "auth", g.config.Auth.IsConfigured())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolve looks up the gate and session store. Both are required.
func (g *Gateway) resolve() error {
	var ok bool
	if g.gate, ok = core.Service[Dispatcher](g.appCtx, gateService); !ok {
		return fmt.Errorf("gateway: service %q not registered", gateService)
	}
	if g.sessions, ok = core.Service[SessionStore](g.appCtx, storeService); !ok {
		return fmt.Errorf("gateway: service %q not registered", storeService)
	}
	g.audit, _ = core.Service[*security.AuditLogger](g.appCtx, auditService)
	g.limiter, _ = core.Service[*security.RateLimiter](g.appCtx, rateLimiterService)
	g.metrics.SetSessionCounter(g.sessions.Len)
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.stopping.Store(true)
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text body with the given status.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
