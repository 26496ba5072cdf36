package fstools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"github.com/flemzord/toolgate/internal/sandbox"
)

const infoTimeLayout = "Mon Jan 02 2006 15:04:05 -07:00"

// --- get_file_info ---

type getFileInfoTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newGetFileInfoTool(sb *sandbox.Sandbox) *getFileInfoTool { return &getFileInfoTool{sb: sb} }

func (t *getFileInfoTool) Name() string { return "get_file_info" }
func (t *getFileInfoTool) Description() string {
	return "Retrieve detailed metadata about a file or directory. Returns size, creation time, last modified time, last access time, permissions, type and, for files, the detected MIME type. Timestamps the platform does not record are left empty. Only works within allowed directories."
}

func (t *getFileInfoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"path": {"type": "string", "description": "The path of the file to get information for."}
		},
		"required": ["path"],
		"type": "object"
	}`)
}

func (t *getFileInfoTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[pathArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.Path, true)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p.String())
	if err != nil {
		return "", ioErr("stat", p.String(), err)
	}

	times := statTimes(info)
	mime := ""
	if info.Mode().IsRegular() {
		// Detection failure only leaves the field empty.
		if m, err := mimetype.DetectFile(p.String()); err == nil {
			mime = m.String()
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "size: %d\n", info.Size())
	fmt.Fprintf(&b, "created: %s\n", formatTime(times.created))
	fmt.Fprintf(&b, "modified: %s\n", formatTime(info.ModTime()))
	fmt.Fprintf(&b, "accessed: %s\n", formatTime(times.accessed))
	fmt.Fprintf(&b, "isDirectory: %t\n", info.IsDir())
	fmt.Fprintf(&b, "isFile: %t\n", info.Mode().IsRegular())
	fmt.Fprintf(&b, "permissions: %#o\n", uint32(info.Mode().Perm()))
	fmt.Fprintf(&b, "mimeType: %s\n", mime)
	return "successfully get file info:\n" + b.String(), nil
}

// fileTimes holds the timestamps the platform may or may not record.
// A zero value means unavailable.
type fileTimes struct {
	created  time.Time
	accessed time.Time
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(infoTimeLayout)
}

// --- calculate_directory_size ---

type calculateDirectorySizeTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newCalculateDirectorySizeTool(sb *sandbox.Sandbox) *calculateDirectorySizeTool {
	return &calculateDirectorySizeTool{sb: sb}
}

func (t *calculateDirectorySizeTool) Name() string { return "calculate_directory_size" }
func (t *calculateDirectorySizeTool) Description() string {
	return "Calculates the total size of a directory specified by `root_path`. It recursively walks the directory and sums the sizes of all regular files. Symbolic links are not followed. The result is returned in either a `human-readable` format or as `bytes`, depending on `output_format`. Only works within allowed directories."
}

func (t *calculateDirectorySizeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"root_path": {"type": "string", "description": "The root directory path to start the size calculation."},
			"output_format": {"type": "string", "enum": ["human-readable", "bytes"], "description": "Defines the output format, which can be either human-readable (default) or bytes."}
		},
		"required": ["root_path"],
		"type": "object"
	}`)
}

type sizeArgs struct {
	RootPath     string `json:"root_path"`
	OutputFormat string `json:"output_format,omitempty"`
}

func (t *calculateDirectorySizeTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[sizeArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.RootPath, true)
	if err != nil {
		return "", err
	}

	total, err := directorySize(ctx, p.String())
	if err != nil {
		return "", err
	}

	size := formatBytes(total)
	if a.OutputFormat == "bytes" {
		size = fmt.Sprintf("%d bytes", total)
	}
	return fmt.Sprintf("successfully calculate directory %q size: %s", a.RootPath, size), nil
}

// directorySize sums regular file sizes under root. fastwalk invokes the
// callback from several goroutines, so the total is atomic.
func directorySize(ctx context.Context, root string) (int64, error) {
	var total atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(_ string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total.Add(info.Size())
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, ioErr("walk", root, err)
	}
	return total.Load(), nil
}
