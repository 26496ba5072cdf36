package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/tooltest"
)

// harness is a gateway wired to a real gate and session store.
type harness struct {
	gw      *Gateway
	store   *session.Store
	gate    *tool.Gate
	handler http.Handler
	events  []security.AuditEvent
}

func newHarness(t *testing.T, auth AuthConfig) *harness {
	t.Helper()

	h := &harness{}
	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) { h.events = append(h.events, e) },
	})

	registry := tool.NewRegistry()
	registry.MustRegister(
		tooltest.SimpleTool("echo"),
		tooltest.GuardedTool("danger", "Run danger?"),
	)

	h.store = session.NewStore(session.Config{CookieMaxAge: time.Hour, Audit: audit})
	metrics := NewMetrics()
	gate, err := tool.NewGate(tool.GateConfig{
		Registry: registry,
		Ledger:   h.store,
		Journal:  h.store,
		English:  true,
		Audit:    audit,
		Observer: metrics,
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	h.gate = gate

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.gw = &Gateway{
		logger:   logger,
		metrics:  metrics,
		gate:     gate,
		sessions: h.store,
		audit:    audit,
		limiter:  security.NewRateLimiter(security.RateLimitConfig{}),
	}
	h.gw.config.Auth = auth
	h.gw.config.defaults()
	h.gw.metrics.SetSessionCounter(h.store.Len)
	h.handler = h.gw.buildRouter()
	return h
}

// do serves one request. key, when non-empty, is sent as the session header.
func (h *harness) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

// newKey opens a session and returns its key.
func (h *harness) newKey(t *testing.T) string {
	t.Helper()
	rr := h.do(t, http.MethodGet, "/api/session", "", "")
	key := rr.Header().Get(HeaderName)
	if key == "" {
		t.Fatal("no session key in response")
	}
	return key
}

func newAppContext() *core.AppContext {
	return core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), "/data")
}
