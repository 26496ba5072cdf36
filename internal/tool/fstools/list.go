package fstools

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/flemzord/toolgate/internal/sandbox"
)

// readDir validates dir and returns its entries sorted by name.
func readDir(sb *sandbox.Sandbox, candidate string) (sandbox.Path, []fs.DirEntry, error) {
	p, err := sb.Validate(candidate, true)
	if err != nil {
		return sandbox.Path{}, nil, err
	}
	entries, err := os.ReadDir(p.String())
	if err != nil {
		return sandbox.Path{}, nil, ioErr("list", p.String(), err)
	}
	return p, entries, nil
}

// isDir reports whether the entry is a directory, following symlinks.
func isDir(dir string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.IsDir()
}

// --- list_allowed_directories ---

type listAllowedDirectoriesTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newListAllowedDirectoriesTool(sb *sandbox.Sandbox) *listAllowedDirectoriesTool {
	return &listAllowedDirectoriesTool{sb: sb}
}

func (t *listAllowedDirectoriesTool) Name() string { return "list_allowed_directories" }
func (t *listAllowedDirectoriesTool) Description() string {
	return "Returns the list of directories that this server is allowed to access, one per line. Subdirectories within these allowed directories are also accessible. Use this to identify which directories and their nested paths are available before attempting to access files."
}

func (t *listAllowedDirectoriesTool) Schema() json.RawMessage {
	return json.RawMessage(`{"properties":{},"required":[],"type":"object"}`)
}

// Run echoes the configured paths verbatim in configuration order.
func (t *listAllowedDirectoriesTool) Run(context.Context, json.RawMessage) (string, error) {
	roots := t.sb.Roots()
	lines := make([]string, len(roots))
	for i, r := range roots {
		lines[i] = r.Path
	}
	return strings.Join(lines, "\n"), nil
}

// --- list_directory ---

type listDirectoryTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newListDirectoryTool(sb *sandbox.Sandbox) *listDirectoryTool {
	return &listDirectoryTool{sb: sb}
}

func (t *listDirectoryTool) Name() string { return "list_directory" }
func (t *listDirectoryTool) Description() string {
	return "Get a detailed listing of all files and directories in a specified path. Results clearly distinguish between files and directories with [FILE] and [DIR] prefixes. This tool is essential for understanding directory structure and finding specific files within a directory. Only works within allowed directories."
}

func (t *listDirectoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"dir_path": {"type": "string", "description": "The path of the directory to list."}
		},
		"required": ["dir_path"],
		"type": "object"
	}`)
}

type dirArgs struct {
	DirPath string `json:"dir_path"`
	SortBy  string `json:"sort_by,omitempty"`
}

func (t *listDirectoryTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[dirArgs](args)
	if err != nil {
		return "", err
	}
	p, entries, err := readDir(t.sb, a.DirPath)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		kind := "[FILE]"
		if isDir(p.String(), e) {
			kind = "[DIR]"
		}
		lines = append(lines, kind+" "+e.Name())
	}
	return "successfully get all files and directories:\n" + strings.Join(lines, "\n"), nil
}

// --- list_directory_with_sizes ---

type listDirectoryWithSizesTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newListDirectoryWithSizesTool(sb *sandbox.Sandbox) *listDirectoryWithSizesTool {
	return &listDirectoryWithSizesTool{sb: sb}
}

func (t *listDirectoryWithSizesTool) Name() string { return "list_directory_with_sizes" }
func (t *listDirectoryWithSizesTool) Description() string {
	return "Get a detailed listing of all files and directories in a specified path, including file sizes. Results clearly distinguish between files and directories with [FILE] and [DIR] prefixes, and end with file and directory totals. Only works within allowed directories."
}

func (t *listDirectoryWithSizesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"dir_path": {"type": "string", "description": "The path of the directory to list."},
			"sort_by": {"type": "string", "enum": ["name", "size"], "description": "Sort entries by name (default) or by size, largest first."}
		},
		"required": ["dir_path"],
		"type": "object"
	}`)
}

type sizedEntry struct {
	name string
	dir  bool
	size int64
}

func (t *listDirectoryWithSizesTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[dirArgs](args)
	if err != nil {
		return "", err
	}
	p, entries, err := readDir(t.sb, a.DirPath)
	if err != nil {
		return "", err
	}

	sized := make([]sizedEntry, 0, len(entries))
	for _, e := range entries {
		if isDir(p.String(), e) {
			sized = append(sized, sizedEntry{name: e.Name(), dir: true})
			continue
		}
		info, err := os.Stat(filepath.Join(p.String(), e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sized = append(sized, sizedEntry{name: e.Name(), size: info.Size()})
	}
	if a.SortBy == "size" {
		slices.SortStableFunc(sized, func(x, y sizedEntry) int { return cmp.Compare(y.size, x.size) })
	}

	var (
		b     strings.Builder
		files int
		dirs  int
		total int64
	)
	for _, e := range sized {
		if e.dir {
			fmt.Fprintf(&b, "[DIR]  %-30s\n", e.name)
			dirs++
			continue
		}
		fmt.Fprintf(&b, "[FILE] %-30s %10s\n", e.name, formatBytes(e.size))
		files++
		total += e.size
	}
	fmt.Fprintf(&b, "\nTotal: %d files, %d directories\n", files, dirs)
	fmt.Fprintf(&b, "Total file size: %s\n", formatBytes(total))
	return b.String(), nil
}

// --- directory_tree ---

type directoryTreeTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newDirectoryTreeTool(sb *sandbox.Sandbox) *directoryTreeTool {
	return &directoryTreeTool{sb: sb}
}

func (t *directoryTreeTool) Name() string { return "directory_tree" }
func (t *directoryTreeTool) Description() string {
	return "Get a recursive tree view of files and directories as a JSON structure. Each entry includes 'name', 'type' (file/directory), and 'children' for directories. Files have no children array, while directories always have a children array (which may be empty). If 'max_depth' is provided, traversal stops at that depth and deeper entries are omitted. The output is formatted with 2-space indentation. Only works within allowed directories."
}

func (t *directoryTreeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"root_path": {"type": "string", "description": "The root path of the directory tree to generate."},
			"max_depth": {"type": "integer", "minimum": 0, "description": "Limits the depth of directory traversal."}
		},
		"required": ["root_path"],
		"type": "object"
	}`)
}

type treeArgs struct {
	RootPath string `json:"root_path"`
	MaxDepth *int   `json:"max_depth,omitempty"`
}

// TreeEntry is one node of a directory_tree result.
type TreeEntry struct {
	Name     string
	Type     string
	Children []*TreeEntry
}

// MarshalJSON omits children for files and always emits them, possibly
// empty, for directories.
func (e *TreeEntry) MarshalJSON() ([]byte, error) {
	if e.Type != "directory" {
		return json.Marshal(struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}{e.Name, e.Type})
	}
	children := e.Children
	if children == nil {
		children = []*TreeEntry{}
	}
	return json.Marshal(struct {
		Name     string       `json:"name"`
		Type     string       `json:"type"`
		Children []*TreeEntry `json:"children"`
	}{e.Name, e.Type, children})
}

func (t *directoryTreeTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[treeArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.RootPath, true)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p.String())
	if err != nil {
		return "", ioErr("stat", p.String(), err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, a.RootPath)
	}

	depth := -1
	if a.MaxDepth != nil {
		depth = *a.MaxDepth
	}
	w := treeWalker{sb: t.sb, visited: map[string]bool{p.String(): true}}
	children, err := w.walk(ctx, p.String(), depth)
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(children, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tree: %w", err)
	}
	return fmt.Sprintf("successfully get directory %q tree:\n%s", a.RootPath, out), nil
}

type treeWalker struct {
	sb      *sandbox.Sandbox
	visited map[string]bool
}

// walk lists dir up to depth levels; a negative depth is unlimited.
// Symlinked directories are followed only when they resolve inside the
// sandbox, and each canonical directory is visited once.
func (w *treeWalker) walk(ctx context.Context, dir string, depth int) ([]*TreeEntry, error) {
	children := []*TreeEntry{}
	if depth == 0 {
		return children, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioErr("list", dir, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child := filepath.Join(dir, e.Name())
		node := &TreeEntry{Name: e.Name(), Type: "file"}
		children = append(children, node)

		if !isDir(dir, e) {
			continue
		}
		node.Type = "directory"

		target := child
		if e.Type()&fs.ModeSymlink != 0 {
			vp, err := w.sb.Validate(child, true)
			if err != nil {
				continue
			}
			target = vp.String()
		}
		if w.visited[target] {
			continue
		}
		w.visited[target] = true

		grand, err := w.walk(ctx, target, depth-1)
		if err != nil {
			return nil, err
		}
		node.Children = grand
	}
	return children, nil
}
