// Package exttools turns administrator-configured commands into tools.
// Each call becomes one process invocation: the JSON argument object is
// mapped to "--key value" flags appended after the configured arguments.
// External commands are not confined by the path sandbox; they run with
// the server's privileges, so exposing one is an administrator decision.
// They do inherit the server's environment minus credential variables.
package exttools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// Defaults applied to every configured command.
const (
	DefaultTimeout = 30 * time.Second

	// maxOutputBytes caps each of stdout and stderr.
	maxOutputBytes = 1 << 20
)

var (
	// ErrInvalidConfig is returned for a command entry that cannot become
	// a tool.
	ErrInvalidConfig = errors.New("invalid external tool")

	// ErrCommandFailed is returned when the process cannot start, exits
	// non-zero or times out.
	ErrCommandFailed = errors.New("external command failed")
)

// Config is one external tool as written under tools.external.
type Config struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Description string            `yaml:"description"`
	Schema      map[string]any    `yaml:"schema,omitempty"`
	Approval    bool              `yaml:"approval,omitempty"`
	ReadOnly    bool              `yaml:"read_only,omitempty"`
	WorkingDir  string            `yaml:"working_dir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
}

// Validate checks the fields New needs.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.Command == "":
		return fmt.Errorf("%w: %s: command is required", ErrInvalidConfig, c.Name)
	case c.Description == "":
		return fmt.Errorf("%w: %s: description is required", ErrInvalidConfig, c.Name)
	case c.Timeout < 0:
		return fmt.Errorf("%w: %s: timeout must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

// Tool runs one configured command.
type Tool struct {
	cfg    Config
	schema json.RawMessage
}

// New builds the tool for cfg. A missing schema accepts any object.
func New(cfg Config) (*Tool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	schema := cfg.Schema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: schema: %w", ErrInvalidConfig, cfg.Name, err)
	}
	return &Tool{cfg: cfg, schema: raw}, nil
}

// RegisterAll registers one tool per entry, in order.
func RegisterAll(registry *tool.Registry, cfgs []Config) error {
	for _, c := range cfgs {
		t, err := New(c)
		if err != nil {
			return err
		}
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("registering %s: %w", c.Name, err)
		}
	}
	return nil
}

func (t *Tool) Name() string            { return t.cfg.Name }
func (t *Tool) Description() string     { return t.cfg.Description }
func (t *Tool) Schema() json.RawMessage { return t.schema }

func (t *Tool) Scopes() []tool.Scope {
	if t.cfg.ReadOnly {
		return []tool.Scope{tool.ScopeReadOnly}
	}
	return []tool.Scope{tool.ScopeReadWrite}
}

// Approval asks only when the entry sets approval: true. The prompt shows
// the raw arguments so the human sees exactly what the command receives.
func (t *Tool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	if !t.cfg.Approval {
		return "", false, nil
	}
	shown := strings.TrimSpace(string(args))
	if shown == "" {
		shown = "{}"
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the %s (%s) tool?", t.cfg.Name, shown),
		fmt.Sprintf("是否允许调用 %s (%s) 工具？", t.cfg.Name, shown),
	), true, nil
}

// Run executes the command and returns its trimmed stderr and stdout.
func (t *Tool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	flags, err := Flags(args)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.cfg.Command, append(slices.Clone(t.cfg.Args), flags...)...)
	cmd.Dir = t.cfg.WorkingDir
	cmd.WaitDelay = time.Second
	cmd.Env = security.ChildEnv(os.Environ(), t.extraEnv()...)
	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s", ErrCommandFailed, t.cfg.Name, t.cfg.Timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("%w: %s (%s): %w: %s", ErrCommandFailed, t.cfg.Name, t.cfg.Command, err, detail)
		}
		return "", fmt.Errorf("%w: %s (%s): %w", ErrCommandFailed, t.cfg.Name, t.cfg.Command, err)
	}

	var parts []string
	if s := strings.TrimSpace(stderr.String()); s != "" {
		parts = append(parts, "stderr:\n"+s)
	}
	if s := strings.TrimSpace(stdout.String()); s != "" {
		parts = append(parts, "stdout:\n"+s)
	}
	return strings.Join(parts, "\n"), nil
}

// extraEnv renders the configured variables in name order.
func (t *Tool) extraEnv() []string {
	names := make([]string, 0, len(t.cfg.Env))
	for k := range t.cfg.Env {
		names = append(names, k)
	}
	slices.Sort(names)
	out := make([]string, len(names))
	for i, k := range names {
		out[i] = k + "=" + t.cfg.Env[k]
	}
	return out
}

// Flags maps a JSON object to command-line flags in key order: strings
// and numbers become "--key value", true becomes "--key", and false or
// null are omitted. Arrays and nested objects are rejected.
func Flags(args json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil, nil
	}
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object: %w", tool.ErrInvalidArguments, err)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var flags []string
	for _, k := range keys {
		switch v := obj[k].(type) {
		case nil:
		case bool:
			if v {
				flags = append(flags, "--"+k)
			}
		case string:
			flags = append(flags, "--"+k, v)
		case json.Number:
			flags = append(flags, "--"+k, v.String())
		default:
			return nil, fmt.Errorf("%w: %s: only strings, numbers and booleans are supported", tool.ErrInvalidArguments, strconv.Quote(k))
		}
	}
	return flags, nil
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n...(truncated)"
	}
	return b.buf.String()
}
