package fstools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zip"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// maxExtractBytes caps the total uncompressed size unzip_file writes.
const maxExtractBytes = 1 << 30

// --- zip_files ---

type zipFilesTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newZipFilesTool(sb *sandbox.Sandbox) *zipFilesTool { return &zipFilesTool{sb: sb} }

func (t *zipFilesTool) Name() string { return "zip_files" }
func (t *zipFilesTool) Description() string {
	return "Creates a ZIP archive by compressing files. It takes a list of files to compress and a target path for the resulting ZIP file, which must not exist yet. Files are stored under their base names. Both the source files and the target ZIP file must reside within allowed directories."
}

func (t *zipFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"input_files": {"type": "array", "items": {"type": "string"}, "description": "The list of files to include in the ZIP archive."},
			"target_zip_file": {"type": "string", "description": "Path to save the resulting ZIP file, including filename and .zip extension."}
		},
		"required": ["input_files", "target_zip_file"],
		"type": "object"
	}`)
}

type zipFilesArgs struct {
	InputFiles    []string `json:"input_files"`
	TargetZipFile string   `json:"target_zip_file"`
}

func (t *zipFilesTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[zipFilesArgs](args)
	if err != nil {
		return "", false, err
	}
	files := strings.Join(a.InputFiles, ", ")
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the zip_files tool to compress %s into %s ?", files, a.TargetZipFile),
		fmt.Sprintf("是否允许调用 zip_files 工具将 %s 压缩到 %s？", files, a.TargetZipFile),
	), true, nil
}

func (t *zipFilesTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[zipFilesArgs](args)
	if err != nil {
		return "", err
	}
	if len(a.InputFiles) == 0 {
		return "", fmt.Errorf("%w: no file(s) to zip, the input files array is empty", tool.ErrInvalidArguments)
	}

	target, err := t.sb.Validate(a.TargetZipFile, false)
	if err != nil {
		return "", err
	}
	sources := make([]sandbox.Path, 0, len(a.InputFiles))
	names := make(map[string]string, len(a.InputFiles))
	for _, in := range a.InputFiles {
		p, err := t.sb.Validate(in, true)
		if err != nil {
			return "", err
		}
		base := filepath.Base(p.String())
		if prev, dup := names[base]; dup {
			return "", fmt.Errorf("%w: %s and %s share the archive name %q", tool.ErrInvalidArguments, prev, in, base)
		}
		names[base] = in
		sources = append(sources, p)
	}

	out, err := os.OpenFile(target.String(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, a.TargetZipFile)
		}
		return "", ioErr("create", target.String(), err)
	}

	entries := make([]zipEntry, len(sources))
	for i, src := range sources {
		entries[i] = zipEntry{path: src.String(), name: filepath.Base(src.String())}
	}
	if err := writeZip(ctx, out, entries); err != nil {
		out.Close()
		os.Remove(target.String())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(target.String())
		return "", ioErr("close", target.String(), err)
	}

	n := len(sources)
	return fmt.Sprintf("Successfully compressed %d %s into '%s'.", n, plural(n, "file", "files"), a.TargetZipFile), nil
}

// zipEntry is a file on disk and its slash-separated name in the archive.
type zipEntry struct {
	path string
	name string
}

func writeZip(ctx context.Context, w io.Writer, entries []zipEntry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addZipEntry(zw, e.path, e.name); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioErr("open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ioErr("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive header for %s: %w", path, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("archive entry for %s: %w", path, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return ioErr("compress", path, err)
	}
	return nil
}

// --- zip_directory ---

type zipDirectoryTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newZipDirectoryTool(sb *sandbox.Sandbox) *zipDirectoryTool { return &zipDirectoryTool{sb: sb} }

func (t *zipDirectoryTool) Name() string { return "zip_directory" }
func (t *zipDirectoryTool) Description() string {
	return "Creates a ZIP archive by compressing a directory, including files in subdirectories matching a glob pattern. It takes the directory to compress, an optional case-insensitive glob pattern matched against paths relative to it (defaults to **/*, a pattern without '*' matches partial names) and a target path for the resulting ZIP file, which must not exist yet. Symlinks are not followed. Both the source directory and the target ZIP file must reside within allowed directories."
}

func (t *zipDirectoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"input_dir": {"type": "string", "description": "Path to the directory to zip."},
			"target_zip_file": {"type": "string", "description": "Path to save the resulting ZIP file, including filename and .zip extension."},
			"pattern": {"type": "string", "description": "An optional glob pattern selecting the files to zip, defaults to **/*."}
		},
		"required": ["input_dir", "target_zip_file"],
		"type": "object"
	}`)
}

type zipDirectoryArgs struct {
	InputDir      string `json:"input_dir"`
	TargetZipFile string `json:"target_zip_file"`
	Pattern       string `json:"pattern,omitempty"`
}

func (t *zipDirectoryTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[zipDirectoryArgs](args)
	if err != nil {
		return "", false, err
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the zip_directory tool to compress %s into %s ?", a.InputDir, a.TargetZipFile),
		fmt.Sprintf("是否允许调用 zip_directory 工具将 %s 压缩到 %s？", a.InputDir, a.TargetZipFile),
	), true, nil
}

func (t *zipDirectoryTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[zipDirectoryArgs](args)
	if err != nil {
		return "", err
	}
	pattern := a.Pattern
	if pattern == "" {
		pattern = "**/*"
	}
	m, err := newMatcher(pattern, nil)
	if err != nil {
		return "", err
	}

	dir, err := t.sb.Validate(a.InputDir, true)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir.String())
	if err != nil {
		return "", ioErr("stat", dir.String(), err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, a.InputDir)
	}
	target, err := t.sb.Validate(a.TargetZipFile, false)
	if err != nil {
		return "", err
	}

	entries, err := t.collect(ctx, dir.String(), target.String(), m)
	if err != nil {
		return "", err
	}

	out, err := os.OpenFile(target.String(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, a.TargetZipFile)
		}
		return "", ioErr("create", target.String(), err)
	}
	if err := writeZip(ctx, out, entries); err != nil {
		out.Close()
		os.Remove(target.String())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(target.String())
		return "", ioErr("close", target.String(), err)
	}

	n := len(entries)
	return fmt.Sprintf("Successfully compressed '%s' directory (%d %s) into '%s'.",
		a.InputDir, n, plural(n, "file", "files"), a.TargetZipFile), nil
}

// collect lists the regular files under root selected by m, skipping the
// archive being written and anything the sandbox rejects.
func (t *zipDirectoryTool) collect(ctx context.Context, root, target string, m *matcher) ([]zipEntry, error) {
	var (
		mu      sync.Mutex
		entries []zipEntry
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil || !d.Type().IsRegular() || path == target {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !m.included(rel) {
			return nil
		}
		if _, verr := t.sb.Validate(path, true); verr != nil {
			return nil
		}
		mu.Lock()
		entries = append(entries, zipEntry{path: path, name: rel})
		mu.Unlock()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ioErr("walk", root, err)
	}
	slices.SortFunc(entries, func(a, b zipEntry) int { return strings.Compare(a.name, b.name) })
	return entries, nil
}

// --- unzip_file ---

type unzipFileTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newUnzipFileTool(sb *sandbox.Sandbox) *unzipFileTool { return &unzipFileTool{sb: sb} }

func (t *unzipFileTool) Name() string { return "unzip_file" }
func (t *unzipFileTool) Description() string {
	return "Extracts the contents of a ZIP archive to a specified target directory, which must not exist yet. The tool decompresses all files and directories stored in the ZIP, recreating their structure in the target location. Entries whose names would escape the target directory are skipped. Both the source ZIP file and the target directory must reside within allowed directories."
}

func (t *unzipFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"zip_file": {"type": "string", "description": "A filesystem path to an existing ZIP file to be extracted."},
			"target_dir": {"type": "string", "description": "Path to the target directory where the contents of the ZIP file will be extracted."}
		},
		"required": ["zip_file", "target_dir"],
		"type": "object"
	}`)
}

type unzipFileArgs struct {
	ZipFile   string `json:"zip_file"`
	TargetDir string `json:"target_dir"`
}

func (t *unzipFileTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[unzipFileArgs](args)
	if err != nil {
		return "", false, err
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the unzip_file tool to extract %s into %s ?", a.ZipFile, a.TargetDir),
		fmt.Sprintf("是否允许调用 unzip_file 工具将 %s 解压到 %s？", a.ZipFile, a.TargetDir),
	), true, nil
}

func (t *unzipFileTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[unzipFileArgs](args)
	if err != nil {
		return "", err
	}
	archive, err := t.sb.Validate(a.ZipFile, true)
	if err != nil {
		return "", err
	}
	target, err := t.sb.Validate(a.TargetDir, false)
	if err != nil {
		return "", err
	}

	zr, err := zip.OpenReader(archive.String())
	if err != nil {
		return "", ioErr("open archive", archive.String(), err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(target.String()), 0o755); err != nil {
		return "", ioErr("mkdir", filepath.Dir(target.String()), err)
	}
	if err := os.Mkdir(target.String(), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: '%s' directory already exists", ErrAlreadyExists, a.TargetDir)
		}
		return "", ioErr("mkdir", target.String(), err)
	}

	x := extractor{sb: t.sb, root: target.String(), budget: maxExtractBytes}
	if err := x.extractAll(ctx, zr.File); err != nil {
		// target was created by this call; remove the partial extraction.
		if rerr := os.RemoveAll(target.String()); rerr != nil {
			return "", errors.Join(err, ioErr("cleanup", target.String(), rerr))
		}
		return "", err
	}

	n := len(x.written)
	return fmt.Sprintf("Successfully extracted %d %s into '%s':\n%s",
		n, plural(n, "file", "files"), a.TargetDir, strings.Join(x.written, "\n")), nil
}

type extractor struct {
	sb      *sandbox.Sandbox
	root    string
	budget  int64
	written []string
}

func (x *extractor) extractAll(ctx context.Context, files []*zip.File) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.extract(f); err != nil {
			return err
		}
	}
	return nil
}

// extract writes one archive entry. Names that are absolute or climb out
// of root are skipped; the remaining destinations are still validated by
// the sandbox. Symlink entries are written as regular files.
func (x *extractor) extract(f *zip.File) error {
	name := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(name) {
		return nil
	}
	dest, err := x.sb.Validate(filepath.Join(x.root, name), false)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(dest.String(), 0o755); err != nil {
			return ioErr("mkdir", dest.String(), err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest.String()), 0o755); err != nil {
		return ioErr("mkdir", filepath.Dir(dest.String()), err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("reading archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest.String(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return ioErr("create", dest.String(), err)
	}
	n, err := io.Copy(out, io.LimitReader(src, x.budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ioErr("extract", dest.String(), err)
	}
	if n > x.budget {
		os.Remove(dest.String())
		return fmt.Errorf("%w: %d bytes", ErrArchiveTooLarge, int64(maxExtractBytes))
	}
	x.budget -= n
	x.written = append(x.written, dest.String())
	return nil
}
