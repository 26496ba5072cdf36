package fstools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/toolgate/internal/sandbox"
)

// readText reads a whole validated text file.
func readText(sb *sandbox.Sandbox, candidate string) (string, error) {
	p, err := sb.Validate(candidate, true)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p.String())
	if err != nil {
		return "", ioErr("read", p.String(), err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrNotText, candidate)
	}
	return string(data), nil
}

// fence wraps text in a markdown code block, escaping embedded fences.
func fence(text string) string {
	return "```\n" + strings.ReplaceAll(text, "```", "\\`\\`\\`") + "\n```"
}

// --- read_file ---

type readFileTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newReadFileTool(sb *sandbox.Sandbox) *readFileTool { return &readFileTool{sb: sb} }

func (t *readFileTool) Name() string { return "read_file" }
func (t *readFileTool) Description() string {
	return "Read the complete contents of a file from the file system. Provides detailed error messages if the file cannot be read. Use this tool when you need to examine the contents of a single file. Only works within allowed directories."
}

func (t *readFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"file_path": {"type": "string", "description": "The path of the file to read."}
		},
		"required": ["file_path"],
		"type": "object"
	}`)
}

type readFileArgs struct {
	FilePath string `json:"file_path"`
}

func (t *readFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[readFileArgs](args)
	if err != nil {
		return "", err
	}
	return readText(t.sb, a.FilePath)
}

// --- read_multiple_files ---

type readMultipleFilesTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newReadMultipleFilesTool(sb *sandbox.Sandbox) *readMultipleFilesTool {
	return &readMultipleFilesTool{sb: sb}
}

func (t *readMultipleFilesTool) Name() string { return "read_multiple_files" }
func (t *readMultipleFilesTool) Description() string {
	return "Read the contents of multiple files simultaneously. This is more efficient than reading files one by one when you need to analyze or compare multiple files. Each file's content is returned with its path as a reference. Failed reads for individual files won't stop the entire operation. Only works within allowed directories."
}

func (t *readMultipleFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"paths": {"type": "array", "items": {"type": "string"}, "description": "The list of file paths to read."}
		},
		"required": ["paths"],
		"type": "object"
	}`)
}

type readMultipleFilesArgs struct {
	Paths []string `json:"paths"`
}

// Run never fails because of an individual path: each failure is reported
// inline in that path's section.
func (t *readMultipleFilesTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[readMultipleFilesArgs](args)
	if err != nil {
		return "", err
	}

	sections := make([]string, 0, len(a.Paths))
	for _, path := range a.Paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		content, err := readText(t.sb, path)
		if err != nil {
			sections = append(sections, fmt.Sprintf("%s: Error - %v", path, err))
			continue
		}
		sections = append(sections, fmt.Sprintf("%s:\n%s\n", path, content))
	}
	return "Successfully read multiple files:\n---\n" + strings.Join(sections, "\n---\n"), nil
}

// --- head_file ---

type headFileTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newHeadFileTool(sb *sandbox.Sandbox) *headFileTool { return &headFileTool{sb: sb} }

func (t *headFileTool) Name() string { return "head_file" }
func (t *headFileTool) Description() string {
	return "Reads and returns the first N lines of a text file. This is useful for quickly previewing file contents without loading the entire file into memory. If the file has fewer than N lines, the entire file will be returned. Only works within allowed directories."
}

func (t *headFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"path": {"type": "string", "description": "The path of the file to read."},
			"lines": {"type": "integer", "minimum": 0, "description": "The number of lines to read from the beginning of the file."}
		},
		"required": ["path", "lines"],
		"type": "object"
	}`)
}

type lineArgs struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
}

func (t *headFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[lineArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.Path, true)
	if err != nil {
		return "", err
	}

	f, err := os.Open(p.String())
	if err != nil {
		return "", ioErr("open", p.String(), err)
	}
	defer f.Close()

	var b strings.Builder
	r := bufio.NewReader(f)
	for range a.Lines {
		line, err := r.ReadString('\n')
		b.WriteString(line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", ioErr("read", p.String(), err)
		}
	}
	return fmt.Sprintf("Successfully get the first %d lines:\n%s", a.Lines, fence(b.String())), nil
}

// --- tail_file ---

type tailFileTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newTailFileTool(sb *sandbox.Sandbox) *tailFileTool { return &tailFileTool{sb: sb} }

func (t *tailFileTool) Name() string { return "tail_file" }
func (t *tailFileTool) Description() string {
	return "Reads and returns the last N lines of a text file. This is useful for quickly previewing file contents without loading the entire file into memory. If the file has fewer than N lines, the entire file will be returned. Only works within allowed directories."
}

func (t *tailFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"path": {"type": "string", "description": "The path of the file to read."},
			"lines": {"type": "integer", "minimum": 0, "description": "The number of lines to read from the end of the file."}
		},
		"required": ["path", "lines"],
		"type": "object"
	}`)
}

func (t *tailFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[lineArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.Path, true)
	if err != nil {
		return "", err
	}

	f, err := os.Open(p.String())
	if err != nil {
		return "", ioErr("open", p.String(), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", ioErr("stat", p.String(), err)
	}
	text, err := tailLines(f, info.Size(), a.Lines)
	if err != nil {
		return "", ioErr("read", p.String(), err)
	}
	return fmt.Sprintf("Successfully get the last %d lines:\n%s", a.Lines, fence(text)), nil
}

const tailChunk = 8192

// tailLines returns the last n lines of r, reading backwards in chunks so
// only the tail is loaded. A trailing newline ends the last line and does
// not start an empty one.
func tailLines(r io.ReaderAt, size int64, n int) (string, error) {
	if n <= 0 || size == 0 {
		return "", nil
	}

	buf := make([]byte, tailChunk)
	var start int64
	pos := size
	last := true
	newlines := 0

scan:
	for pos > 0 {
		chunk := min(int64(tailChunk), pos)
		pos -= chunk
		if _, err := r.ReadAt(buf[:chunk], pos); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		for i := chunk - 1; i >= 0; i-- {
			if buf[i] != '\n' {
				last = false
				continue
			}
			if last {
				last = false
				continue
			}
			newlines++
			if newlines == n {
				start = pos + i + 1
				break scan
			}
		}
	}

	data, err := io.ReadAll(io.NewSectionReader(r, start, size-start))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
