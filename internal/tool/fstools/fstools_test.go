package fstools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

type fixture struct {
	root string
	sb   *sandbox.Sandbox
	reg  *tool.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sb, err := sandbox.New([]sandbox.RootConfig{{Label: "work", Path: root}}, sandbox.WithWorkingDir(root))
	if err != nil {
		t.Fatal(err)
	}
	reg := tool.NewRegistry()
	if err := RegisterAll(reg, sb); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return &fixture{root: root, sb: sb, reg: reg}
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := f.path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// call validates args against the registered schema, then runs the tool.
func (f *fixture) call(t *testing.T, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.reg.ValidateArgs(name, raw); err != nil {
		return "", err
	}
	tl, err := f.reg.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	return tl.Run(context.Background(), raw)
}

func (f *fixture) mustCall(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	out, err := f.call(t, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRegisterAll_Catalogue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	want := []string{
		"create_directory", "get_file_info", "list_allowed_directories", "list_directory",
		"move_file", "read_file", "read_multiple_files", "write_file",
		"head_file", "tail_file", "list_directory_with_sizes", "directory_tree",
		"calculate_directory_size", "search_files", "search_files_content", "edit_file",
		"zip_files", "zip_directory", "unzip_file",
	}
	if got := f.reg.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v\nwant %v", got, want)
	}

	for _, d := range f.reg.Catalogue() {
		var shape map[string]json.RawMessage
		if err := json.Unmarshal(d.Parameters, &shape); err != nil {
			t.Fatalf("%s schema: %v", d.Name, err)
		}
		for _, key := range []string{"properties", "required", "type"} {
			if _, ok := shape[key]; !ok {
				t.Errorf("%s schema is missing %q", d.Name, key)
			}
		}
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
	}
}

func TestApproval_ByScope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mutatingArgs := map[string]string{
		"create_directory": `{"path":"d"}`,
		"move_file":        `{"src_path":"a","dest_path":"b"}`,
		"write_file":       `{"file_path":"a","content":"hi"}`,
		"edit_file":        `{"file_path":"a","edits":[{"oldText":"x","newText":"y"}]}`,
		"zip_files":        `{"input_files":["a"],"target_zip_file":"a.zip"}`,
		"zip_directory":    `{"input_dir":"in","target_zip_file":"a.zip"}`,
		"unzip_file":       `{"zip_file":"a.zip","target_dir":"out"}`,
	}

	for _, name := range f.reg.Names() {
		tl, _ := f.reg.Get(name)
		args, mutates := mutatingArgs[name]
		if !mutates {
			args = `{}`
		}

		msg, required, err := tl.Approval(json.RawMessage(args), tool.ApprovalContext{English: true})
		if err != nil {
			t.Fatalf("%s Approval: %v", name, err)
		}
		if required != mutates {
			t.Errorf("%s required = %v, want %v", name, required, mutates)
		}
		wantScope := tool.ScopeReadOnly
		if mutates {
			wantScope = tool.ScopeReadWrite
		}
		if !slices.Equal(tl.Scopes(), []tool.Scope{wantScope}) {
			t.Errorf("%s scopes = %v", name, tl.Scopes())
		}
		if !mutates {
			continue
		}
		if !strings.HasPrefix(msg, "Do you allow calling the "+name+" tool") {
			t.Errorf("%s English prompt = %q", name, msg)
		}

		zh, _, _ := tl.Approval(json.RawMessage(args), tool.ApprovalContext{Info: "(from alice)"})
		if !strings.HasPrefix(zh, "是否允许调用 "+name+" 工具") || !strings.Contains(zh, "(from alice)") {
			t.Errorf("%s Chinese prompt = %q", name, zh)
		}

		again, _, _ := tl.Approval(json.RawMessage(args), tool.ApprovalContext{English: true})
		if again != msg {
			t.Errorf("%s prompt is not deterministic", name)
		}
	}
}

func TestApproval_BadArgs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tl, _ := f.reg.Get("write_file")
	if _, _, err := tl.Approval(json.RawMessage(`{"file_path":1}`), tool.ApprovalContext{}); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestEditFile_DryRunNeedsNoApproval(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tl, _ := f.reg.Get("edit_file")
	_, required, err := tl.Approval(json.RawMessage(`{"file_path":"a","edits":[],"dry_run":true}`), tool.ApprovalContext{})
	if err != nil || required {
		t.Fatalf("dry run: required=%v err=%v", required, err)
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "notes/a.txt", "hello\n")
	f.write(t, "bin.dat", "\xff\xfe\x00")

	if got := f.mustCall(t, "read_file", map[string]any{"file_path": "notes/a.txt"}); got != "hello\n" {
		t.Errorf("relative read = %q", got)
	}
	if got := f.mustCall(t, "read_file", map[string]any{"file_path": f.path("notes", "a.txt")}); got != "hello\n" {
		t.Errorf("absolute read = %q", got)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{name: "missing", path: "nope.txt", want: sandbox.ErrNotFound},
		{name: "escape", path: "../../etc/passwd", want: sandbox.ErrOutsideSandbox},
		{name: "absolute outside", path: "/etc/hostname", want: sandbox.ErrOutsideSandbox},
		{name: "binary", path: "bin.dat", want: ErrNotText},
		{name: "directory", path: "notes", want: ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.call(t, "read_file", map[string]any{"file_path": tt.path}); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadFile_SymlinkEscape(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, f.path("link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := f.call(t, "read_file", map[string]any{"file_path": "link/secret.txt"})
	if !errors.Is(err, sandbox.ErrOutsideSandbox) {
		t.Fatalf("expected ErrOutsideSandbox, got %v", err)
	}
	if !strings.Contains(err.Error(), "symlink") {
		t.Errorf("error should name the symlink: %v", err)
	}
}

func TestReadFile_MissingArgument(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.call(t, "read_file", map[string]any{}); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestReadMultipleFiles_InlineErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "good.txt", "good content")

	out, err := f.call(t, "read_multiple_files", map[string]any{"paths": []string{"good.txt", "missing.txt", "/etc/passwd"}})
	if err != nil {
		t.Fatalf("read_multiple_files must not fail as a whole: %v", err)
	}
	for _, want := range []string{
		"good.txt:\ngood content\n",
		"missing.txt: Error - ",
		"/etc/passwd: Error - ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "\n---\n") != 3 {
		t.Errorf("expected three sections:\n%s", out)
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	out := f.mustCall(t, "write_file", map[string]any{"file_path": "new.txt", "content": "one"})
	if out != "Successfully wrote to new.txt" {
		t.Errorf("output = %q", out)
	}
	f.mustCall(t, "write_file", map[string]any{"file_path": "new.txt", "content": "two"})
	if got := readFile(t, f.path("new.txt")); got != "two" {
		t.Errorf("content = %q, want overwrite", got)
	}

	if _, err := f.call(t, "write_file", map[string]any{"file_path": "missing/dir/x.txt", "content": "x"}); !errors.Is(err, ErrIO) {
		t.Fatalf("missing parent: expected ErrIO, got %v", err)
	}
	var ioe *IOError
	_, err := f.call(t, "write_file", map[string]any{"file_path": "missing/x.txt", "content": "x"})
	if !errors.As(err, &ioe) || ioe.Op != "write" || !strings.HasSuffix(ioe.Path, "x.txt") {
		t.Fatalf("IOError = %#v", ioe)
	}

	if _, err := f.call(t, "write_file", map[string]any{"file_path": "../escape.txt", "content": "x"}); !errors.Is(err, sandbox.ErrOutsideSandbox) {
		t.Fatalf("expected ErrOutsideSandbox, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(f.root), "escape.txt")); err == nil {
		t.Fatal("file written outside the sandbox")
	}
}

func TestCreateDirectory_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.mustCall(t, "create_directory", map[string]any{"path": "a/b/c"})
	second := f.mustCall(t, "create_directory", map[string]any{"path": "a/b/c"})
	if first != second || first != "successfully created directory a/b/c" {
		t.Fatalf("outputs differ: %q vs %q", first, second)
	}
	if info, err := os.Stat(f.path("a", "b", "c")); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "src.txt", "source")

	out := f.mustCall(t, "move_file", map[string]any{"src_path": "src.txt", "dest_path": "dst.txt"})
	if out != "Successfully move src.txt to dst.txt" {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(f.path("src.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("source still present")
	}
	if got := readFile(t, f.path("dst.txt")); got != "source" {
		t.Errorf("dest content = %q", got)
	}
}

func TestMoveFile_DestinationExists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a.txt", "A")
	f.write(t, "b.txt", "B")
	if err := os.Mkdir(f.path("dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	for _, dest := range []string{"b.txt", "dir"} {
		_, err := f.call(t, "move_file", map[string]any{"src_path": "a.txt", "dest_path": dest})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("dest %s: expected ErrAlreadyExists, got %v", dest, err)
		}
	}
	if readFile(t, f.path("a.txt")) != "A" || readFile(t, f.path("b.txt")) != "B" {
		t.Fatal("source or destination changed")
	}
}

func TestMoveFile_Directory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "old/inner.txt", "x")

	f.mustCall(t, "move_file", map[string]any{"src_path": "old", "dest_path": "new"})
	if got := readFile(t, f.path("new", "inner.txt")); got != "x" {
		t.Fatalf("moved content = %q", got)
	}
}

func TestListAllowedDirectories(t *testing.T) {
	t.Parallel()

	a, b := t.TempDir(), t.TempDir()
	sb, err := sandbox.New([]sandbox.RootConfig{{Label: "a", Path: a}, {Label: "b", Path: b}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := newListAllowedDirectoriesTool(sb).Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != a+"\n"+b {
		t.Fatalf("output = %q", out)
	}
}

func TestListDirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "b.txt", "")
	f.write(t, "a.txt", "")
	f.write(t, "sub/c.txt", "")

	out := f.mustCall(t, "list_directory", map[string]any{"dir_path": "."})
	want := "successfully get all files and directories:\n[FILE] a.txt\n[FILE] b.txt\n[DIR] sub"
	if out != want {
		t.Fatalf("output = %q\nwant %q", out, want)
	}

	if _, err := f.call(t, "list_directory", map[string]any{"dir_path": "a.txt"}); !errors.Is(err, ErrIO) {
		t.Fatalf("listing a file: expected ErrIO, got %v", err)
	}
}

func TestListDirectoryWithSizes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "small.txt", "x")
	f.write(t, "big.txt", strings.Repeat("x", 2048))
	if err := os.Mkdir(f.path("dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := f.mustCall(t, "list_directory_with_sizes", map[string]any{"dir_path": "."})
	for _, want := range []string{
		"[FILE] big.txt",
		"2.00 KB",
		"[DIR]  dir",
		"1 bytes",
		"Total: 2 files, 1 directories",
		"Total file size: 2.00 KB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "big.txt") > strings.Index(out, "small.txt") {
		t.Error("name sort should list big.txt first")
	}

	bySize := f.mustCall(t, "list_directory_with_sizes", map[string]any{"dir_path": ".", "sort_by": "size"})
	if strings.Index(bySize, "big.txt") > strings.Index(bySize, "small.txt") {
		t.Error("size sort should list the largest first")
	}

	if _, err := f.call(t, "list_directory_with_sizes", map[string]any{"dir_path": ".", "sort_by": "date"}); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("bad sort_by: expected ErrInvalidArguments, got %v", err)
	}
}

func TestDirectoryTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a/b/deep.txt", "")
	f.write(t, "top.txt", "")
	if err := os.Mkdir(f.path("empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	parse := func(out string) []map[string]any {
		t.Helper()
		_, body, ok := strings.Cut(out, "\n")
		if !ok {
			t.Fatalf("unexpected output %q", out)
		}
		var tree []map[string]any
		if err := json.Unmarshal([]byte(body), &tree); err != nil {
			t.Fatalf("tree JSON: %v\n%s", err, body)
		}
		return tree
	}

	tree := parse(f.mustCall(t, "directory_tree", map[string]any{"root_path": "."}))
	if len(tree) != 3 {
		t.Fatalf("top level = %v", tree)
	}
	a := tree[0]
	if a["name"] != "a" || a["type"] != "directory" {
		t.Fatalf("first entry = %v", a)
	}
	b := a["children"].([]any)[0].(map[string]any)
	if deep := b["children"].([]any)[0].(map[string]any); deep["name"] != "deep.txt" {
		t.Fatalf("deep entry = %v", deep)
	}
	if _, ok := tree[2]["children"]; ok {
		t.Error("files must not carry children")
	}
	if children, ok := tree[1]["children"].([]any); !ok || len(children) != 0 {
		t.Errorf("empty directory children = %v", tree[1]["children"])
	}

	shallow := parse(f.mustCall(t, "directory_tree", map[string]any{"root_path": ".", "max_depth": 1}))
	if children := shallow[0]["children"].([]any); len(children) != 0 {
		t.Errorf("max_depth 1 should not descend: %v", children)
	}

	if _, err := f.call(t, "directory_tree", map[string]any{"root_path": "top.txt"}); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
}

func TestDirectoryTree_SymlinkLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a/file.txt", "")
	if err := os.Symlink(f.path("a"), f.path("a", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := f.call(t, "directory_tree", map[string]any{"root_path": "."}); err != nil {
		t.Fatalf("directory_tree: %v", err)
	}
}

func TestGetFileInfo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "doc.txt", "plain text here\n")

	out := f.mustCall(t, "get_file_info", map[string]any{"path": "doc.txt"})
	for _, want := range []string{
		"size: 16\n",
		"isDirectory: false\n",
		"isFile: true\n",
		"permissions: 0644\n",
		"mimeType: text/plain",
		"modified: ",
		"created: ",
		"accessed: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	dir := f.mustCall(t, "get_file_info", map[string]any{"path": "."})
	if !strings.Contains(dir, "isDirectory: true\n") || !strings.Contains(dir, "mimeType: \n") {
		t.Errorf("directory info:\n%s", dir)
	}
}

func TestCalculateDirectorySize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a.txt", strings.Repeat("a", 1000))
	f.write(t, "nested/b.txt", strings.Repeat("b", 24))

	out := f.mustCall(t, "calculate_directory_size", map[string]any{"root_path": ".", "output_format": "bytes"})
	if out != `successfully calculate directory "." size: 1024 bytes` {
		t.Errorf("bytes output = %q", out)
	}
	human := f.mustCall(t, "calculate_directory_size", map[string]any{"root_path": "."})
	if !strings.HasSuffix(human, "1.00 KB") {
		t.Errorf("human output = %q", human)
	}
}

func TestSearchFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "src/main.go", "")
	f.write(t, "src/Util.GO", "")
	f.write(t, "src/readme.md", "")
	f.write(t, "vendor/lib.go", "")
	f.write(t, "docs/main_notes.txt", "")

	tests := []struct {
		name    string
		include string
		exclude []string
		want    []string
	}{
		{name: "extension glob", include: "*.go", want: []string{"src/Util.GO", "src/main.go", "vendor/lib.go"}},
		{name: "partial name", include: "main", want: []string{"docs/main_notes.txt", "src/main.go"}},
		{name: "exclude dir", include: "*.go", exclude: []string{"vendor"}, want: []string{"src/Util.GO", "src/main.go"}},
		{name: "exclude glob", include: "*.go", exclude: []string{"**/util*"}, want: []string{"src/main.go", "vendor/lib.go"}},
		{name: "path pattern", include: "src/**/*.md", want: []string{"src/readme.md"}},
		{name: "no match", include: "*.rs", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"root_path": ".", "include_pattern": tt.include}
			if tt.exclude != nil {
				args["exclude_patterns"] = tt.exclude
			}
			out := f.mustCall(t, "search_files", args)
			if tt.want == nil {
				if out != "No matches found" {
					t.Fatalf("output = %q", out)
				}
				return
			}
			want := make([]string, len(tt.want))
			for i, w := range tt.want {
				want[i] = f.path(filepath.FromSlash(w))
			}
			slices.Sort(want)
			if got := strings.Split(out, "\n"); !slices.Equal(got, want) {
				t.Fatalf("matches = %v\nwant %v", got, want)
			}
		})
	}
}

func TestSearchFiles_BadPattern(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.call(t, "search_files", map[string]any{"root_path": ".", "include_pattern": "[*"})
	if !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestEditFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.write(t, "code.txt", "func main() {\n    println(\"hi\")\n}\n")

	out := f.mustCall(t, "edit_file", map[string]any{
		"file_path": "code.txt",
		"edits":     []map[string]string{{"oldText": "println(\"hi\")", "newText": "println(\"bye\")"}},
	})
	for _, want := range []string{
		"--- a/code.txt\n",
		"+++ b/code.txt\n",
		"@@ -1,3 +1,3 @@",
		"-    println(\"hi\")\n",
		"+    println(\"bye\")\n",
		" func main() {\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("diff missing %q:\n%s", want, out)
		}
	}
	if got := readFile(t, p); got != "func main() {\n    println(\"bye\")\n}\n" {
		t.Errorf("file = %q", got)
	}
}

func TestEditFile_DryRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.write(t, "a.txt", "one\ntwo\n")

	out := f.mustCall(t, "edit_file", map[string]any{
		"file_path": "a.txt",
		"edits":     []map[string]string{{"oldText": "two", "newText": "three"}},
		"dry_run":   true,
	})
	if !strings.Contains(out, "+three") {
		t.Errorf("diff = %q", out)
	}
	if readFile(t, p) != "one\ntwo\n" {
		t.Fatal("dry run modified the file")
	}
}

func TestEditFile_NoMatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.write(t, "a.txt", "alpha\n")

	_, err := f.call(t, "edit_file", map[string]any{
		"file_path": "a.txt",
		"edits":     []map[string]string{{"oldText": "alpha", "newText": "beta"}, {"oldText": "gamma", "newText": "x"}},
	})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if readFile(t, p) != "alpha\n" {
		t.Fatal("a failed edit list must not write partial results")
	}
}

func TestEditFile_PreservesCRLF(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.write(t, "win.txt", "a\r\nb\r\n")

	f.mustCall(t, "edit_file", map[string]any{
		"file_path": "win.txt",
		"edits":     []map[string]string{{"oldText": "b\n", "newText": "c\n"}},
	})
	if got := readFile(t, p); got != "a\r\nc\r\n" {
		t.Fatalf("file = %q", got)
	}
}

func TestApplyEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		edits   []editOperation
		want    string
		wantErr error
	}{
		{
			name:    "first occurrence only",
			content: "x x x",
			edits:   []editOperation{{OldText: "x", NewText: "y"}},
			want:    "y x x",
		},
		{
			name:    "sequential",
			content: "a",
			edits:   []editOperation{{OldText: "a", NewText: "b"}, {OldText: "b", NewText: "c"}},
			want:    "c",
		},
		{
			name:    "whitespace insensitive keeps indentation",
			content: "if x {\n\t\tfoo()\n\t\tbar()\n}",
			edits:   []editOperation{{OldText: "foo()\n  bar()", NewText: "baz()\n  qux()"}},
			want:    "if x {\n\t\tbaz()\n\t\tqux()\n}",
		},
		{
			name:    "relative indent",
			content: "  a\n  b",
			edits:   []editOperation{{OldText: "a\nb", NewText: "a\n  b"}},
			want:    "  a\n    b",
		},
		{
			name:    "empty old text",
			content: "a",
			edits:   []editOperation{{OldText: "", NewText: "b"}},
			wantErr: tool.ErrInvalidArguments,
		},
		{
			name:    "longer than file",
			content: "a",
			edits:   []editOperation{{OldText: "q\nr\ns", NewText: ""}},
			wantErr: ErrNoMatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyEdits(tt.content, tt.edits)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnifiedDiff_Context(t *testing.T) {
	t.Parallel()

	var before, after strings.Builder
	for i := range 20 {
		line := strings.Repeat("l", i+1) + "\n"
		before.WriteString(line)
		if i == 10 {
			line = "changed\n"
		}
		after.WriteString(line)
	}

	out, err := unifiedDiff("f.txt", before.String(), after.String())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "@@ -7,9 +7,9 @@") {
		t.Fatalf("hunk header wrong:\n%s", out)
	}
	if n := strings.Count(out, "\n "); n != 8 {
		t.Errorf("context lines = %d, want 8:\n%s", n, out)
	}

	if same, _ := unifiedDiff("f.txt", "x\n", "x\n"); same != "" {
		t.Errorf("identical input should produce no diff, got %q", same)
	}
}

func TestZipUnzip_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "in/a.txt", "alpha")
	f.write(t, "in/b.txt", "beta")

	out := f.mustCall(t, "zip_files", map[string]any{
		"input_files":     []string{"in/a.txt", "in/b.txt"},
		"target_zip_file": "bundle.zip",
	})
	if out != "Successfully compressed 2 files into 'bundle.zip'." {
		t.Errorf("zip output = %q", out)
	}

	out = f.mustCall(t, "unzip_file", map[string]any{"zip_file": "bundle.zip", "target_dir": "extracted"})
	if !strings.HasPrefix(out, "Successfully extracted 2 files into 'extracted':\n") {
		t.Errorf("unzip output = %q", out)
	}
	if readFile(t, f.path("extracted", "a.txt")) != "alpha" || readFile(t, f.path("extracted", "b.txt")) != "beta" {
		t.Fatal("extracted content mismatch")
	}
}

func TestZipFiles_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a.txt", "a")
	f.write(t, "sub/a.txt", "other a")
	f.write(t, "exists.zip", "not really")

	tests := []struct {
		name string
		args map[string]any
		want error
	}{
		{name: "empty list", args: map[string]any{"input_files": []string{}, "target_zip_file": "x.zip"}, want: tool.ErrInvalidArguments},
		{name: "target exists", args: map[string]any{"input_files": []string{"a.txt"}, "target_zip_file": "exists.zip"}, want: ErrAlreadyExists},
		{name: "missing input", args: map[string]any{"input_files": []string{"nope.txt"}, "target_zip_file": "y.zip"}, want: sandbox.ErrNotFound},
		{name: "duplicate names", args: map[string]any{"input_files": []string{"a.txt", "sub/a.txt"}, "target_zip_file": "z.zip"}, want: tool.ErrInvalidArguments},
		{name: "directory input", args: map[string]any{"input_files": []string{"sub"}, "target_zip_file": "d.zip"}, want: ErrNotRegular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.call(t, "zip_files", tt.args); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if readFile(t, f.path("exists.zip")) != "not really" {
		t.Fatal("existing target was overwritten")
	}
	if _, err := os.Stat(f.path("d.zip")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed archive left behind")
	}
}

func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestUnzipFile_SkipsEscapingEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	writeArchive(t, f.path("evil.zip"), map[string]string{
		"../escaped.txt": "bad",
		"/abs.txt":       "bad",
		"ok/inner.txt":   "good",
	})

	out := f.mustCall(t, "unzip_file", map[string]any{"zip_file": "evil.zip", "target_dir": "dest"})
	if !strings.HasPrefix(out, "Successfully extracted 1 file into 'dest':") {
		t.Errorf("output = %q", out)
	}
	if readFile(t, f.path("dest", "ok", "inner.txt")) != "good" {
		t.Fatal("safe entry not extracted")
	}
	if _, err := os.Stat(f.path("escaped.txt")); err == nil {
		t.Fatal("zip-slip entry written")
	}
}

func TestUnzipFile_TargetExists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	writeArchive(t, f.path("a.zip"), map[string]string{"x.txt": "x"})
	if err := os.Mkdir(f.path("dest"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := f.call(t, "unzip_file", map[string]any{"zip_file": "a.zip", "target_dir": "dest"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUnzipFile_RemovesTargetOnFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// A repeated entry name makes the second create fail mid-extraction.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, body := range []string{"first", "second"} {
		w, err := zw.Create("dup.txt")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.path("dup.zip"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.call(t, "unzip_file", map[string]any{"zip_file": "dup.zip", "target_dir": "dest"}); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if _, err := os.Stat(f.path("dest")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial target left behind: %v", err)
	}

	// A retry with a good archive succeeds at the same target.
	writeArchive(t, f.path("good.zip"), map[string]string{"x.txt": "x"})
	f.mustCall(t, "unzip_file", map[string]any{"zip_file": "good.zip", "target_dir": "dest"})
	if readFile(t, f.path("dest", "x.txt")) != "x" {
		t.Fatal("retry did not extract")
	}
}

func TestZipDirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "proj/main.go", "package main")
	f.write(t, "proj/lib/util.go", "package lib")
	f.write(t, "proj/README.md", "# proj")

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{name: "default", want: []string{"README.md", "lib/util.go", "main.go"}},
		{name: "extension glob", pattern: "*.go", want: []string{"lib/util.go", "main.go"}},
		{name: "partial name", pattern: "readme", want: []string{"README.md"}},
		{name: "path glob", pattern: "lib/**", want: []string{"lib/util.go"}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := fmt.Sprintf("out%d.zip", i)
			args := map[string]any{"input_dir": "proj", "target_zip_file": target}
			if tt.pattern != "" {
				args["pattern"] = tt.pattern
			}
			out := f.mustCall(t, "zip_directory", args)
			if !strings.HasPrefix(out, "Successfully compressed 'proj' directory") {
				t.Errorf("output = %q", out)
			}

			zr, err := zip.OpenReader(f.path(target))
			if err != nil {
				t.Fatal(err)
			}
			defer zr.Close()
			var names []string
			for _, zf := range zr.File {
				names = append(names, zf.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Fatalf("entries = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestZipDirectory_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "proj/a.txt", "a")
	f.write(t, "taken.zip", "keep")

	tests := []struct {
		name string
		args map[string]any
		want error
	}{
		{name: "target exists", args: map[string]any{"input_dir": "proj", "target_zip_file": "taken.zip"}, want: ErrAlreadyExists},
		{name: "missing dir", args: map[string]any{"input_dir": "nope", "target_zip_file": "x.zip"}, want: sandbox.ErrNotFound},
		{name: "file input", args: map[string]any{"input_dir": "proj/a.txt", "target_zip_file": "y.zip"}, want: ErrNotDirectory},
		{name: "bad pattern", args: map[string]any{"input_dir": "proj", "target_zip_file": "z.zip", "pattern": "[*"}, want: tool.ErrInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.call(t, "zip_directory", tt.args); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if readFile(t, f.path("taken.zip")) != "keep" {
		t.Fatal("existing target was overwritten")
	}
}

func TestZipDirectory_TargetInsideInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "proj/a.txt", "a")

	f.mustCall(t, "zip_directory", map[string]any{"input_dir": "proj", "target_zip_file": "proj/self.zip"})
	zr, err := zip.OpenReader(f.path("proj", "self.zip"))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != "a.txt" {
		t.Fatalf("archive should hold only a.txt, got %d entries", len(zr.File))
	}
}

func TestSearchFilesContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "src/main.go", "package main\n\n// TODO: wire flags\nfunc main() {}\n")
	f.write(t, "src/util.go", "package main\n\nfunc helper() {} // todo later\n")
	f.write(t, "vendor/dep.go", "// TODO: upstream\n")
	f.write(t, "notes.txt", "TODO in text\n")
	f.write(t, "src/blob.go", "TODO\x00binary")

	tests := []struct {
		name    string
		args    map[string]any
		want    []string
		notWant []string
	}{
		{
			name: "literal is case-insensitive",
			args: map[string]any{"root_path": ".", "pattern": "*.go", "query": "todo"},
			want: []string{
				f.path("src", "main.go") + "\n  3:3: // TODO: wire flags",
				f.path("src", "util.go") + "\n  3:20: func helper() {} // todo later",
				f.path("vendor", "dep.go"),
			},
			notWant: []string{"notes.txt", "blob.go"},
		},
		{
			name:    "exclude",
			args:    map[string]any{"root_path": ".", "pattern": "*.go", "query": "TODO", "exclude_patterns": []string{"vendor"}},
			want:    []string{"main.go", "util.go"},
			notWant: []string{"dep.go"},
		},
		{
			name:    "regex",
			args:    map[string]any{"root_path": ".", "pattern": "*.go", "query": `^func\s+\w+\(`, "is_regex": true},
			want:    []string{"  4:0: func main() {}", "  3:0: func helper()"},
			notWant: []string{"dep.go"},
		},
		{
			name:    "literal quotes metacharacters",
			args:    map[string]any{"root_path": ".", "pattern": "*.go", "query": "main()"},
			want:    []string{"  4:5: func main() {}"},
			notWant: []string{"util.go"},
		},
		{
			name: "single file root",
			args: map[string]any{"root_path": "notes.txt", "pattern": "*", "query": "text"},
			want: []string{f.path("notes.txt") + "\n  1:8: TODO in text"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.mustCall(t, "search_files_content", tt.args)
			if !strings.HasPrefix(out, "Successfully found matches:\n") {
				t.Fatalf("output = %q", out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, n := range tt.notWant {
				if strings.Contains(out, n) {
					t.Errorf("output should not mention %q:\n%s", n, out)
				}
			}
		})
	}
}

func TestSearchFilesContent_NoMatchAndErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")

	out := f.mustCall(t, "search_files_content", map[string]any{"root_path": ".", "pattern": "*.go", "query": "missing"})
	if !strings.HasPrefix(out, "No matches found in the files content.") {
		t.Errorf("output = %q", out)
	}

	tests := []struct {
		name string
		args map[string]any
		want error
	}{
		{name: "bad regex", args: map[string]any{"root_path": ".", "pattern": "*", "query": "(", "is_regex": true}, want: tool.ErrInvalidArguments},
		{name: "empty query", args: map[string]any{"root_path": ".", "pattern": "*", "query": ""}, want: tool.ErrInvalidArguments},
		{name: "outside", args: map[string]any{"root_path": "..", "pattern": "*", "query": "x"}, want: sandbox.ErrOutsideSandbox},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.call(t, "search_files_content", tt.args); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 100) + "NEEDLE" + strings.Repeat("b", 300)
	tests := []struct {
		name  string
		line  string
		start int
		want  string
	}{
		{name: "short line", line: "  hello world  ", start: 8, want: "hello world"},
		{name: "leading context kept", line: long, start: 100, want: "..." + strings.Repeat("a", 30) + "NEEDLE" + strings.Repeat("b", 164) + "..."},
		{name: "multibyte boundaries", line: strings.Repeat("é", 40) + "x", start: 80, want: "..." + strings.Repeat("é", 30) + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snippet(tt.line, tt.start); got != tt.want {
				t.Errorf("snippet() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeadTail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "lines.txt", "1\n2\n3\n4\n5\n")

	head := f.mustCall(t, "head_file", map[string]any{"path": "lines.txt", "lines": 2})
	if head != "Successfully get the first 2 lines:\n```\n1\n2\n\n```" {
		t.Errorf("head = %q", head)
	}
	tail := f.mustCall(t, "tail_file", map[string]any{"path": "lines.txt", "lines": 2})
	if tail != "Successfully get the last 2 lines:\n```\n4\n5\n\n```" {
		t.Errorf("tail = %q", tail)
	}

	if _, err := f.call(t, "head_file", map[string]any{"path": "lines.txt", "lines": -1}); !errors.Is(err, tool.ErrInvalidArguments) {
		t.Fatalf("negative lines: expected ErrInvalidArguments, got %v", err)
	}
}

func TestHeadFile_EscapesFences(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "md.txt", "```go\n")

	out := f.mustCall(t, "head_file", map[string]any{"path": "md.txt", "lines": 1})
	if strings.Count(out, "```") != 2 {
		t.Fatalf("embedded fence not escaped: %q", out)
	}
}

func TestTailLines(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", tailChunk+10) + "\nlast\n"
	tests := []struct {
		name    string
		content string
		n       int
		want    string
	}{
		{name: "zero", content: "a\nb\n", n: 0, want: ""},
		{name: "empty file", content: "", n: 3, want: ""},
		{name: "fewer lines than n", content: "a\nb\n", n: 5, want: "a\nb\n"},
		{name: "exact", content: "a\nb\nc\n", n: 2, want: "b\nc\n"},
		{name: "no trailing newline", content: "a\nb\nc", n: 1, want: "c"},
		{name: "blank lines count", content: "a\n\n\n", n: 2, want: "\n\n"},
		{name: "across chunks", content: long, n: 1, want: "last\n"},
		{name: "long line across chunks", content: long, n: 2, want: long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tailLines(strings.NewReader(tt.content), int64(len(tt.content)), tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
		{2 << 40, "2.00 TB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
