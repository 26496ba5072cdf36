// Package mcpserver exposes the tool registry as a Model Context Protocol
// server over stdio. Every call goes through the tool gate under one
// session minted when the server is created and renewed whenever the
// store no longer knows it.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/tool"
)

// Dispatcher runs tool calls. Satisfied by *tool.Gate.
type Dispatcher interface {
	Dispatch(ctx context.Context, req tool.Request) (string, error)
	Registry() *tool.Registry
}

// Sessions is the subset of *session.Store the server needs.
type Sessions interface {
	Resolve(key string) (session.Session, bool, error)
	SetApproval(key string, approved bool) error
}

// ApproveFunc asks a human to confirm a pending call. It returns the
// answer; an error leaves the call pending.
type ApproveFunc func(ctx context.Context, toolName, prompt string) (bool, error)

// Config wires a Server.
type Config struct {
	Name    string
	Version string
	Gate    Dispatcher
	Store   Sessions

	// Approve, when set, is asked for every call that needs approval.
	// When nil the prompt is returned to the client as an error result.
	Approve ApproveFunc

	Logger *slog.Logger
}

// Server is an MCP server bound to one session.
type Server struct {
	cfg Config

	mu  sync.Mutex
	key string

	mcp    *server.MCPServer
	tools  []mcp.Tool
	logger *slog.Logger
}

// New mints the server's session and registers every tool.
func New(cfg Config) (*Server, error) {
	if cfg.Gate == nil || cfg.Store == nil {
		return nil, errors.New("mcpserver: gate and store are required")
	}
	if cfg.Name == "" {
		cfg.Name = "toolgate"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sess, _, err := cfg.Store.Resolve("")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: creating session: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		key:    sess.Key,
		logger: logger.With("component", "mcpserver"),
		mcp: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	registry := cfg.Gate.Registry()
	for _, desc := range registry.Catalogue() {
		t := mcp.NewToolWithRawSchema(desc.Name, desc.Description, desc.Parameters)
		if impl, err := registry.Get(desc.Name); err == nil {
			readOnly := isReadOnly(impl.Scopes())
			t.Annotations.ReadOnlyHint = &readOnly
		}
		s.tools = append(s.tools, t)
		s.mcp.AddTool(t, s.handler(desc.Name))
	}
	return s, nil
}

// SessionKey returns the key the next call runs under.
func (s *Server) SessionKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// renew replaces stale with a fresh session. Concurrent callers holding
// the same stale key share one replacement.
func (s *Server) renew(stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != stale {
		return s.key, nil
	}
	sess, _, err := s.cfg.Store.Resolve(stale)
	if err != nil {
		return "", fmt.Errorf("mcpserver: renewing session: %w", err)
	}
	s.key = sess.Key
	s.logger.Info("mcp session renewed", "session", sess.Key)
	return sess.Key, nil
}

// Tools returns the advertised tool definitions in catalogue order.
func (s *Server) Tools() []mcp.Tool { return s.tools }

// Serve speaks MCP over in and out until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	s.logger.Info("mcp server ready", "tools", len(s.tools))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := encodeArgs(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(tool.ResultText("", err)), nil
		}

		out, err := s.dispatch(ctx, name, args)
		text := tool.ResultText(out, err)
		if err != nil {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// dispatch runs the call, asking Approve once when the gate wants a human.
// A session the store has dropped, e.g. after an idle expiry, is renewed
// and the call is retried once under the new key.
func (s *Server) dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	key := s.SessionKey()
	out, err := s.attempt(ctx, key, name, args)
	if !errors.Is(err, session.ErrSessionNotFound) {
		return out, err
	}
	if key, err = s.renew(key); err != nil {
		return "", err
	}
	return s.attempt(ctx, key, name, args)
}

func (s *Server) attempt(ctx context.Context, key, name string, args json.RawMessage) (string, error) {
	req := tool.Request{SessionKey: key, Tool: name, Args: args}
	out, err := s.cfg.Gate.Dispatch(ctx, req)

	are, pending := tool.AsApprovalRequired(err)
	if !pending || s.cfg.Approve == nil {
		return out, err
	}

	approved, aerr := s.cfg.Approve(ctx, name, are.Message)
	if aerr != nil {
		s.logger.Warn("approval prompt failed", "tool", name, "error", aerr)
		return out, err
	}
	if serr := s.cfg.Store.SetApproval(key, approved); serr != nil {
		return "", serr
	}
	return s.cfg.Gate.Dispatch(ctx, req)
}

// encodeArgs turns the decoded MCP arguments back into a JSON object.
func encodeArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tool.ErrInvalidArguments, err)
	}
	return raw, nil
}

func isReadOnly(scopes []tool.Scope) bool {
	for _, sc := range scopes {
		if sc != tool.ScopeReadOnly {
			return false
		}
	}
	return len(scopes) > 0
}

// slogWriter adapts the stdio server's log.Logger to slog.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp transport error", "message", string(p))
	return len(p), nil
}
