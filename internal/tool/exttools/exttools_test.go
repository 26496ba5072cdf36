package exttools

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/toolgate/internal/tool"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// shellTool runs script with the mapped flags as positional parameters.
func shellTool(t *testing.T, script string, mutate func(*Config)) *Tool {
	t.Helper()
	cfg := Config{
		Name:        "script",
		Command:     "sh",
		Args:        []string{"-c", script, "sh"},
		Description: "Runs a test script.",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tl, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tl
}

func TestFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    string
		want    []string
		wantErr bool
	}{
		{name: "empty", args: "", want: nil},
		{name: "empty object", args: `{}`, want: nil},
		{name: "sorted keys", args: `{"path":"/tmp","depth":2}`, want: []string{"--depth", "2", "--path", "/tmp"}},
		{name: "booleans", args: `{"verbose":true,"quiet":false}`, want: []string{"--verbose"}},
		{name: "null skipped", args: `{"x":null,"y":"1"}`, want: []string{"--y", "1"}},
		{name: "large number kept exact", args: `{"n":12345678901234567890}`, want: []string{"--n", "12345678901234567890"}},
		{name: "array rejected", args: `{"list":[1,2]}`, wantErr: true},
		{name: "object rejected", args: `{"o":{"a":1}}`, wantErr: true},
		{name: "not an object", args: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Flags(json.RawMessage(tt.args))
			if tt.wantErr {
				if !errors.Is(err, tool.ErrInvalidArguments) {
					t.Fatalf("expected ErrInvalidArguments, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Flags: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Flags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no name", cfg: Config{Command: "true", Description: "d"}},
		{name: "no command", cfg: Config{Name: "x", Description: "d"}},
		{name: "no description", cfg: Config{Name: "x", Command: "true"}},
		{name: "negative timeout", cfg: Config{Name: "x", Command: "true", Description: "d", Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()

	reg := tool.NewRegistry()
	cfgs := []Config{
		{Name: "lint", Command: "true", Description: "Lint.", ReadOnly: true, Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		}},
		{Name: "deploy", Command: "true", Description: "Deploy.", Approval: true},
	}
	if err := RegisterAll(reg, cfgs); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if got := reg.Names(); !slices.Equal(got, []string{"lint", "deploy"}) {
		t.Fatalf("Names() = %v", got)
	}
	if err := reg.ValidateArgs("lint", json.RawMessage(`{}`)); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Errorf("configured schema not enforced: %v", err)
	}
	if err := reg.ValidateArgs("deploy", json.RawMessage(`{"anything":1}`)); err != nil {
		t.Errorf("default schema should accept any object: %v", err)
	}

	lint, _ := reg.Get("lint")
	if !slices.Equal(lint.Scopes(), []tool.Scope{tool.ScopeReadOnly}) {
		t.Errorf("lint scopes = %v", lint.Scopes())
	}
	deploy, _ := reg.Get("deploy")
	if !slices.Equal(deploy.Scopes(), []tool.Scope{tool.ScopeReadWrite}) {
		t.Errorf("deploy scopes = %v", deploy.Scopes())
	}

	if err := RegisterAll(reg, cfgs[:1]); !errors.Is(err, tool.ErrDuplicateTool) {
		t.Errorf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestApproval(t *testing.T) {
	t.Parallel()

	asks := shellTool(t, "true", func(c *Config) { c.Name = "deploy"; c.Approval = true })
	msg, required, err := asks.Approval(json.RawMessage(`{"env":"prod"}`), tool.ApprovalContext{English: true, Info: " (from ci)"})
	if err != nil || !required {
		t.Fatalf("required=%v err=%v", required, err)
	}
	if want := `Do you allow calling the deploy ({"env":"prod"}) tool? (from ci)`; msg != want {
		t.Errorf("English prompt = %q, want %q", msg, want)
	}
	zh, _, _ := asks.Approval(json.RawMessage(`{"env":"prod"}`), tool.ApprovalContext{})
	if want := `是否允许调用 deploy ({"env":"prod"}) 工具？`; zh != want {
		t.Errorf("Chinese prompt = %q, want %q", zh, want)
	}

	silent := shellTool(t, "true", nil)
	if _, required, _ := silent.Approval(json.RawMessage(`{}`), tool.ApprovalContext{}); required {
		t.Error("approval not configured, should not ask")
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tl := shellTool(t, `printf '%s ' "$@"; printf 'note' >&2`, nil)
	out, err := tl.Run(context.Background(), json.RawMessage(`{"name":"x","n":3,"v":true,"q":false}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "stderr:\nnote\nstdout:\n--n 3 --name x --v"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_EnvAndWorkingDir(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	tl := shellTool(t, `printf '%s %s' "$GREETING" "$(basename "$(pwd -P)")"`, func(c *Config) {
		c.Env = map[string]string{"GREETING": "hello"}
		c.WorkingDir = dir
	})
	out, err := tl.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "stdout:\nhello " + filepath.Base(dir); out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_StripsCredentialEnv(t *testing.T) {
	requireShell(t)
	t.Setenv("GITHUB_TOKEN", "inherited")
	t.Setenv("TOOLGATE_EXTTOOLS_MARKER", "inherited")

	tl := shellTool(t, `printf '%s %s %s' "${GITHUB_TOKEN:-none}" "${TOOLGATE_EXTTOOLS_MARKER:-none}" "$REGION"`, func(c *Config) {
		c.Env = map[string]string{"REGION": "eu"}
	})
	out, err := tl.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "stdout:\nnone none eu"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()
	requireShell(t)

	tests := []struct {
		name   string
		script string
		cfg    func(*Config)
		want   string
	}{
		{name: "non-zero exit", script: "echo boom >&2; exit 3", want: "boom"},
		{name: "timeout", script: "exec sleep 5", cfg: func(c *Config) { c.Timeout = 50 * time.Millisecond }, want: "timed out"},
		{name: "missing binary", cfg: func(c *Config) { c.Command = "toolgate-no-such-binary" }, want: "toolgate-no-such-binary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tl := shellTool(t, tt.script, tt.cfg)
			_, err := tl.Run(context.Background(), nil)
			if !errors.Is(err, ErrCommandFailed) {
				t.Fatalf("expected ErrCommandFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()

	b := &cappedBuffer{limit: 4}
	if n, err := b.Write([]byte("abcdef")); n != 6 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	b.Write([]byte("gh"))
	if got := b.String(); got != "abcd\n...(truncated)" {
		t.Errorf("String() = %q", got)
	}
}
