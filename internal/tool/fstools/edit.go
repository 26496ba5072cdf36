package fstools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// diffContext is the number of unchanged lines shown around a change.
const diffContext = 4

// --- edit_file ---

type editFileTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newEditFileTool(sb *sandbox.Sandbox) *editFileTool { return &editFileTool{sb: sb} }

func (t *editFileTool) Name() string { return "edit_file" }
func (t *editFileTool) Description() string {
	return "Make line-based edits to a text file. Each edit replaces an exact text sequence with new content; when no exact match exists, lines are matched ignoring surrounding whitespace and the original indentation is kept. Edits are applied in order. Returns a git-style diff showing the changes made. Only works within allowed directories."
}

func (t *editFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"file_path": {"type": "string", "description": "The path of the file to edit."},
			"edits": {
				"type": "array",
				"description": "The list of edit operations to apply.",
				"items": {
					"type": "object",
					"properties": {
						"oldText": {"type": "string", "description": "Text to search for - must match exactly."},
						"newText": {"type": "string", "description": "Text to replace the matched text with."}
					},
					"required": ["oldText", "newText"]
				}
			},
			"dry_run": {"type": "boolean", "description": "Preview changes using git-style diff format without applying them."}
		},
		"required": ["file_path", "edits"],
		"type": "object"
	}`)
}

type editOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

type editFileArgs struct {
	FilePath string          `json:"file_path"`
	Edits    []editOperation `json:"edits"`
	DryRun   bool            `json:"dry_run,omitempty"`
}

// Approval is not needed for a dry run, which never writes.
func (t *editFileTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[editFileArgs](args)
	if err != nil {
		return "", false, err
	}
	if a.DryRun {
		return "", false, nil
	}
	head := tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the edit_file tool to edit a text file %s ?", a.FilePath),
		fmt.Sprintf("是否允许调用 edit_file 工具编辑 %s？", a.FilePath),
	)
	return head + "\n" + formatEdits(a.Edits), true, nil
}

func formatEdits(edits []editOperation) string {
	var b strings.Builder
	for i, e := range edits {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] oldText: %q\n    newText: %q", i+1, e.OldText, e.NewText)
	}
	return b.String()
}

func (t *editFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[editFileArgs](args)
	if err != nil {
		return "", err
	}
	if len(a.Edits) == 0 {
		return "", fmt.Errorf("%w: no edits given", tool.ErrInvalidArguments)
	}
	p, err := t.sb.Validate(a.FilePath, true)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(p.String())
	if err != nil {
		return "", ioErr("read", p.String(), err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrNotText, a.FilePath)
	}
	raw := string(data)
	ending := detectLineEnding(raw)
	original := normalizeLineEndings(raw)

	modified, err := applyEdits(original, a.Edits)
	if err != nil {
		return "", err
	}

	name, err := filepath.Rel(p.Root(), p.String())
	if err != nil {
		name = filepath.Base(p.String())
	}
	patch, err := unifiedDiff(filepath.ToSlash(name), original, modified)
	if err != nil {
		return "", fmt.Errorf("rendering diff: %w", err)
	}

	if !a.DryRun && modified != original {
		out := strings.ReplaceAll(modified, "\n", ending)
		if err := os.WriteFile(p.String(), []byte(out), 0o644); err != nil {
			return "", ioErr("write", p.String(), err)
		}
	}
	if patch == "" {
		return fmt.Sprintf("No changes made to %s", a.FilePath), nil
	}
	return patch, nil
}

func detectLineEnding(s string) string {
	switch {
	case strings.Contains(s, "\r\n"):
		return "\r\n"
	case strings.Contains(s, "\r"):
		return "\r"
	default:
		return "\n"
	}
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// applyEdits applies each edit in order to the result of the previous one.
// An exact match replaces the first occurrence. Otherwise the old text is
// matched line by line ignoring leading and trailing whitespace, and the
// replacement is re-indented to the matched block.
func applyEdits(content string, edits []editOperation) (string, error) {
	for _, e := range edits {
		oldText := normalizeLineEndings(e.OldText)
		newText := normalizeLineEndings(e.NewText)
		if oldText == "" {
			return "", fmt.Errorf("%w: oldText must not be empty", tool.ErrInvalidArguments)
		}

		if strings.Contains(content, oldText) {
			content = strings.Replace(content, oldText, newText, 1)
			continue
		}

		replaced, ok := replaceLoose(content, oldText, newText)
		if !ok {
			return "", fmt.Errorf("%w:\n%s", ErrNoMatch, e.OldText)
		}
		content = replaced
	}
	return content, nil
}

func replaceLoose(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(strings.TrimRight(oldText, "\n"), "\n")
	lines := strings.Split(content, "\n")
	if len(oldLines) > len(lines) {
		return "", false
	}

	for i := 0; i+len(oldLines) <= len(lines); i++ {
		if !linesMatch(lines[i:i+len(oldLines)], oldLines) {
			continue
		}
		indent := leadingSpace(lines[i])
		out := make([]string, 0, len(lines))
		out = append(out, lines[:i]...)
		out = append(out, reindent(strings.Split(newText, "\n"), oldLines, indent)...)
		out = append(out, lines[i+len(oldLines):]...)
		return strings.Join(out, "\n"), true
	}
	return "", false
}

func linesMatch(window, want []string) bool {
	for j := range want {
		if strings.TrimSpace(window[j]) != strings.TrimSpace(want[j]) {
			return false
		}
	}
	return true
}

// reindent places the first new line at indent and keeps every later line's
// indentation relative to the corresponding old line.
func reindent(newLines, oldLines []string, indent string) []string {
	unit := " "
	if strings.Contains(indent, "\t") {
		unit = "\t"
	}
	out := make([]string, len(newLines))
	for j, line := range newLines {
		body := strings.TrimLeftFunc(line, unicode.IsSpace)
		if j == 0 {
			out[j] = indent + body
			continue
		}
		oldIndent := ""
		if j < len(oldLines) {
			oldIndent = leadingSpace(oldLines[j])
		}
		extra := max(len(leadingSpace(line))-len(oldIndent), 0)
		out[j] = indent + strings.Repeat(unit, extra) + body
	}
	return out
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

// unifiedDiff renders the change from before to after as a single-hunk
// unified diff. It returns "" when nothing changed.
func unifiedDiff(name, before, after string) (string, error) {
	if before == after {
		return "", nil
	}
	a, b := splitLines(before), splitLines(after)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	start := max(prefix-diffContext, 0)
	aEnd, bEnd := len(a)-suffix, len(b)-suffix
	tail := min(suffix, diffContext)

	var body strings.Builder
	writeLines(&body, ' ', a[start:prefix])
	writeLines(&body, '-', a[prefix:aEnd])
	writeLines(&body, '+', b[prefix:bEnd])
	writeLines(&body, ' ', a[aEnd:aEnd+tail])

	hunk := &diff.Hunk{
		OrigStartLine: int32(start + 1),
		OrigLines:     int32(aEnd + tail - start),
		NewStartLine:  int32(start + 1),
		NewLines:      int32(bEnd + tail - start),
		Body:          []byte(body.String()),
	}
	if hunk.OrigLines == 0 {
		hunk.OrigStartLine = int32(start)
	}
	if hunk.NewLines == 0 {
		hunk.NewStartLine = int32(start)
	}

	out, err := diff.PrintFileDiff(&diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    []*diff.Hunk{hunk},
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// splitLines splits s after each newline. A final line without a newline
// is kept as is.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(b *strings.Builder, mark byte, lines []string) {
	for _, l := range lines {
		b.WriteByte(mark)
		b.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
}
