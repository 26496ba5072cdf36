package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/cron"
	"github.com/flemzord/toolgate/internal/reload"
	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/exttools"
)

func testConfig(t *testing.T, root string, modules map[string]string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Version:      "1",
		AllowedRoots: []sandbox.RootConfig{{Label: "work", Path: root}},
		Modules:      map[string]yaml.Node{},
	}
	for id, raw := range modules {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			t.Fatalf("yaml: %v", err)
		}
		cfg.Modules[id] = *doc.Content[0]
	}
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func build(t *testing.T, cfg *config.Config, withModules bool) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, Options{
		DataDir:     t.TempDir(),
		LogWriter:   io.Discard,
		WithModules: withModules,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestBuild_InMemory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt := build(t, testConfig(t, root, nil), false)

	if rt.Registry.Len() == 0 {
		t.Fatal("no tools registered")
	}
	if _, ok := rt.App.Module(string(cron.ModuleID)); ok {
		t.Error("scheduler appended without modules")
	}
	if svc, ok := core.Service[*tool.Gate](rt.AppCtx, ServiceGate); !ok || svc != rt.Gate {
		t.Error("gate service not registered")
	}

	sess, _, err := rt.Store.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	args, _ := json.Marshal(map[string]string{"file_path": filepath.Join(root, "a.txt")})
	out, err := rt.Gate.Dispatch(context.Background(), tool.Request{SessionKey: sess.Key, Tool: "read_file", Args: args})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != "hello" {
		t.Errorf("read_file = %q", out)
	}
}

func TestBuild_ExternalToolGoesThroughGate(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, t.TempDir(), nil)
	cfg.Tools.External = []exttools.Config{{
		Name:        "deploy",
		Command:     "true",
		Description: "Deploys the current build.",
		Approval:    true,
	}}
	rt := build(t, cfg, false)

	if _, err := rt.Registry.Get("deploy"); err != nil {
		t.Fatalf("external tool not registered: %v", err)
	}
	sess, _, err := rt.Store.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err = rt.Gate.Dispatch(context.Background(), tool.Request{SessionKey: sess.Key, Tool: "deploy", Args: json.RawMessage(`{"env":"prod"}`)})
	are, ok := tool.AsApprovalRequired(err)
	if !ok {
		t.Fatalf("expected approval required, got %v", err)
	}
	if !strings.Contains(are.Message, "deploy") {
		t.Errorf("prompt = %q", are.Message)
	}
}

func TestBuild_BadRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(t, root, nil)
	cfg.AllowedRoots[0].Path = filepath.Join(root, "missing")

	_, err := Build(context.Background(), cfg, Options{DataDir: t.TempDir(), LogWriter: io.Discard})
	if err == nil || !strings.Contains(err.Error(), "allowed roots") {
		t.Fatalf("expected allowed roots error, got %v", err)
	}
}

func TestBuild_AuditLogFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(t, root, nil)
	cfg.Security.AuditLog = filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	rt := build(t, cfg, false)

	sess, _, err := rt.Store.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, _ = rt.Gate.Dispatch(context.Background(), tool.Request{
		SessionKey: sess.Key,
		Tool:       "list_directory",
		Args:       json.RawMessage(`{"dir_path":"/etc"}`),
	})

	data, err := os.ReadFile(cfg.Security.AuditLog)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"type":"tool_call"`) {
		t.Errorf("audit log missing tool_call event:\n%s", data)
	}
	if !strings.Contains(string(data), `"type":"sandbox_denied"`) {
		t.Errorf("audit log missing sandbox_denied event:\n%s", data)
	}
}

func TestBuild_SessionsSurviveRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	cfg := testConfig(t, root, map[string]string{"session.sqlite": "path: " + dbPath})

	first := build(t, cfg, true)
	if _, ok := first.App.Module(string(cron.ModuleID)); !ok {
		t.Fatal("scheduler not appended")
	}
	if err := first.App.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, _, err := first.Store.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := first.Store.AppendMessage(sess.Key, "user", "remember me"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	first.App.Stop()
	first.Close(context.Background())

	second := build(t, cfg, true)
	if err := second.App.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(second.App.Stop)
	got, ok := second.Store.Get(sess.Key)
	if !ok {
		t.Fatal("session not restored")
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "remember me" {
		t.Errorf("restored messages = %+v", got.Messages)
	}
}

func TestWatchConfig(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rt := build(t, testConfig(t, root, nil), false)

	path := filepath.Join(t.TempDir(), config.FileName)
	write := func(deny string) {
		body := "version: \"1\"\nallowed_roots:\n  - path: " + root + "\ntools:\n  policy:\n    deny: [" + deny + "]\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("write_file")
	rt.WatchConfig(path, 20*time.Millisecond)
	if _, ok := rt.App.Module(string(reload.ModuleID)); !ok {
		t.Fatal("reload module not appended")
	}
	if err := rt.App.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(rt.App.Stop)

	if err := rt.Reloader.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := rt.Gate.Policy().Deny; len(got) != 1 || got[0] != "write_file" {
		t.Fatalf("Deny after SIGHUP-style reload = %v", got)
	}

	time.Sleep(60 * time.Millisecond)
	write("read_file")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := rt.Gate.Policy().Deny; len(got) == 1 && got[0] == "read_file" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("policy not reloaded from file change: %v", rt.Gate.Policy().Deny)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess, _, _ := rt.Store.Resolve("")
	_, err := rt.Gate.Dispatch(context.Background(), tool.Request{
		SessionKey: sess.Key,
		Tool:       "read_file",
		Args:       json.RawMessage(`{"file_path":"x"}`),
	})
	if !errors.Is(err, tool.ErrDenied) {
		t.Fatalf("expected ErrDenied after reload, got %v", err)
	}
}

func TestSplitModules(t *testing.T) {
	t.Parallel()

	storage, other := splitModules([]string{"gateway.http", "session.sqlite"})
	if len(storage) != 1 || storage[0] != "session.sqlite" {
		t.Errorf("storage = %v", storage)
	}
	if len(other) != 1 || other[0] != "gateway.http" {
		t.Errorf("other = %v", other)
	}
}

func TestControlService_UnknownAction(t *testing.T) {
	t.Parallel()

	if err := ControlService(RunParams{}, "explode"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "toolgate")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, config.FileName)
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, got, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error without allowed roots")
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	got := DefaultDataDir()
	want := "/custom/data/toolgate"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultDataDir_Fallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	_ = os.Unsetenv("XDG_DATA_HOME")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got := DefaultDataDir()
	want := filepath.Join(home, ".local", "share", "toolgate")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
