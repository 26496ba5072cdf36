package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flemzord/toolgate/internal/security"
)

// Outcome classifies a finished dispatch for metrics.
type Outcome string

// Outcome values.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeError       Outcome = "error"
	OutcomePending     Outcome = "pending"
	OutcomeDenied      Outcome = "denied"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeUnknownTool Outcome = "unknown_tool"
)

// Observer is notified of every dispatch outcome.
type Observer interface {
	ObserveDispatch(tool string, outcome Outcome, elapsed time.Duration)
}

// GateConfig wires a Gate. Registry is required; everything else is optional.
type GateConfig struct {
	Registry *Registry
	Ledger   Ledger
	Journal  Journal
	Policy   Policy

	// English selects English approval prompts.
	English bool

	// MaxArgsSize and MaxArgsDepth bound untrusted argument payloads.
	// Zero selects the security package defaults.
	MaxArgsSize  int
	MaxArgsDepth int

	Audit       *security.AuditLogger
	RateLimiter *security.RateLimiter
	Observer    Observer
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Request is one call to dispatch.
type Request struct {
	SessionKey string
	Tool       string
	Args       json.RawMessage

	// Info is appended to approval prompts.
	Info string
}

// Gate runs calls through lookup, argument validation, policy and the
// per-session approval ledger before executing them.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger
	tracer trace.Tracer
	policy atomic.Pointer[Policy]

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool gate: registry is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("toolgate/tool")
	}
	g := &Gate{
		cfg:    cfg,
		logger: logger.With("component", "tool.gate"),
		tracer: tracer,
	}
	policy := cfg.Policy
	g.policy.Store(&policy)
	return g, nil
}

// Policy returns the policy currently applied.
func (g *Gate) Policy() Policy { return *g.policy.Load() }

// SetPolicy replaces the approval policy. Calls already past the policy
// check are unaffected.
func (g *Gate) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.policy.Store(&p)
	g.logger.Info("tool policy updated", "default", string(p.Default))
	return nil
}

// Registry returns the registry the gate dispatches to.
func (g *Gate) Registry() *Registry { return g.cfg.Registry }

// Dispatch executes req if validation, policy and approval allow it.
// When the call needs approval and none has been granted, Dispatch records
// the call as pending and returns an *ApprovalRequiredError carrying the
// prompt; the caller re-dispatches the same call after the human answers.
func (g *Gate) Dispatch(ctx context.Context, req Request) (string, error) {
	if !g.enter() {
		return "", ErrShuttingDown
	}
	defer g.inflight.Done()

	start := time.Now()
	out, outcome, err := g.dispatch(ctx, req)
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveDispatch(req.Tool, outcome, time.Since(start))
	}
	return out, err
}

func (g *Gate) dispatch(ctx context.Context, req Request) (string, Outcome, error) {
	name := req.Tool
	t, err := g.cfg.Registry.Get(name)
	if err != nil {
		return "", OutcomeUnknownTool, err
	}

	if err := security.ValidateArgs(req.Args, security.ArgsLimits{MaxBytes: g.cfg.MaxArgsSize, MaxDepth: g.cfg.MaxArgsDepth}); err != nil {
		return "", OutcomeInvalid, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	if err := g.cfg.Registry.ValidateArgs(name, req.Args); err != nil {
		return "", OutcomeInvalid, err
	}

	if err := g.cfg.RateLimiter.Allow(security.KindToolCall, req.SessionKey); err != nil {
		g.cfg.Audit.Log(security.AuditEvent{
			Type:      security.EventRateLimit,
			SessionID: req.SessionKey,
			ToolName:  name,
			Detail:    "tool_call rate limit exceeded",
		})
		return "", OutcomeRateLimited, fmt.Errorf("tool %s: %w", name, err)
	}

	g.cfg.Audit.Log(security.AuditEvent{
		Type:      security.EventToolCall,
		SessionID: req.SessionKey,
		ToolName:  name,
		Detail:    truncateForAudit(security.ElideBodies(req.Args)),
	})
	g.logger.Debug("tool call", "tool", name, "session", req.SessionKey, "args", req.Args)

	level := g.policy.Load().Resolve(name)
	if level == ApprovalDeny {
		return "", OutcomeDenied, fmt.Errorf("%w: %s (blocked by policy)", ErrDenied, name)
	}

	actx := ApprovalContext{Info: req.Info, English: g.cfg.English}
	message, required, err := t.Approval(req.Args, actx)
	if err != nil {
		return "", OutcomeInvalid, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	switch level {
	case ApprovalAllow:
		required = false
	case ApprovalAsk:
		if !required {
			required = true
			message = DefaultPrompt(name, actx)
		}
	}

	if required {
		if outcome, err := g.authorize(req, message); err != nil {
			return "", outcome, err
		}
	}

	out, err := g.run(ctx, t, req)
	g.record(req, out, err)
	if err != nil {
		return "", OutcomeError, err
	}
	return out, OutcomeOK, nil
}

// authorize consults the ledger for a call that needs approval.
func (g *Gate) authorize(req Request, message string) (Outcome, error) {
	if g.cfg.Ledger == nil {
		return OutcomeDenied, fmt.Errorf("%w: %s", ErrNoLedger, req.Tool)
	}

	verdict, err := g.cfg.Ledger.Authorize(req.SessionKey, NewCall(req.Tool, req.Args, message))
	if err != nil {
		return OutcomeError, err
	}

	switch verdict {
	case VerdictApproved:
		g.cfg.Audit.Log(security.AuditEvent{
			Type:      security.EventApproval,
			SessionID: req.SessionKey,
			ToolName:  req.Tool,
			Detail:    "approved",
		})
		return OutcomeOK, nil
	case VerdictDenied:
		g.cfg.Audit.Log(security.AuditEvent{
			Type:      security.EventApproval,
			SessionID: req.SessionKey,
			ToolName:  req.Tool,
			Detail:    "denied",
		})
		return OutcomeDenied, fmt.Errorf("%w: %s (rejected by user)", ErrDenied, req.Tool)
	default:
		g.cfg.Audit.Log(security.AuditEvent{
			Type:      security.EventApprovalPrompt,
			SessionID: req.SessionKey,
			ToolName:  req.Tool,
			Detail:    message,
		})
		g.logger.Info("tool call awaiting approval", "tool", req.Tool)
		return OutcomePending, &ApprovalRequiredError{Tool: req.Tool, Message: message}
	}
}

// run executes the tool inside a span. A panicking tool is reported as an
// error instead of taking the process down.
func (g *Gate) run(ctx context.Context, t Tool, req Request) (out string, err error) {
	ctx, span := g.tracer.Start(ctx, "tool.run", trace.WithAttributes(
		attribute.String("tool.name", req.Tool),
		attribute.Int("tool.args_bytes", len(req.Args)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("tool panicked", "tool", req.Tool, "panic", r)
			out, err = "", fmt.Errorf("tool %s panicked: %v", req.Tool, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return t.Run(ctx, req.Args)
}

// record audits the result and appends it to the session journal.
func (g *Gate) record(req Request, out string, err error) {
	detail := truncateForAudit(out)
	if err != nil {
		detail = "error: " + err.Error()
	}
	g.cfg.Audit.Log(security.AuditEvent{
		Type:      security.EventToolResult,
		SessionID: req.SessionKey,
		ToolName:  req.Tool,
		Detail:    detail,
		Metadata: map[string]string{
			"is_error": fmt.Sprintf("%v", err != nil),
		},
	})

	if g.cfg.Journal == nil || req.SessionKey == "" {
		return
	}
	entry := fmt.Sprintf("%s(%s)\n%s", req.Tool, canonicalArgs(req.Args), ResultText(out, err))
	if _, jerr := g.cfg.Journal.AppendMessage(req.SessionKey, "tool", truncateForAudit(entry)); jerr != nil {
		g.logger.Debug("tool journal append failed", "tool", req.Tool, "error", jerr)
	}
}

func (g *Gate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}

// Shutdown stops accepting new dispatches and waits for in-flight ones to
// finish or for ctx to expire.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight tool calls: %w", ctx.Err())
	}
}

// maxAuditDetailLen is the maximum length of audit detail strings.
const maxAuditDetailLen = 4096

// truncateForAudit truncates s to maxAuditDetailLen on a rune boundary.
func truncateForAudit(s string) string {
	if len(s) <= maxAuditDetailLen {
		return s
	}
	i := maxAuditDetailLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "...(truncated)"
}
