package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/tool"
)

// PolicySetter applies a tool approval policy. Satisfied by *tool.Gate.
type PolicySetter interface {
	SetPolicy(p tool.Policy) error
}

// Handler reloads the tool policy from the configuration file. Sections
// other than tools.policy need a restart and are left alone.
type Handler struct {
	path   string
	gate   PolicySetter
	logger *slog.Logger
}

// NewHandler creates a reload handler for the file at path.
func NewHandler(path string, gate PolicySetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		path:   path,
		gate:   gate,
		logger: logger.With("component", "reload"),
	}
}

// Path returns the watched configuration file.
func (h *Handler) Path() string { return h.path }

// Reload loads and validates the file, then swaps in its tool policy. An
// invalid file leaves the running policy in place.
func (h *Handler) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}
	cfg, err := config.Load(h.path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := h.gate.SetPolicy(cfg.Tools.Policy); err != nil {
		return fmt.Errorf("applying tool policy: %w", err)
	}
	h.logger.Info("configuration reloaded", "path", h.path)
	return nil
}
