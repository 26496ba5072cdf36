package fstools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// Snippet shaping for search_files_content.
const (
	snippetMaxRunes      = 200
	snippetBackwardRunes = 30

	// maxContentFileBytes skips files too large to scan line by line.
	maxContentFileBytes = 16 << 20
)

// --- search_files_content ---

type searchFilesContentTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newSearchFilesContentTool(sb *sandbox.Sandbox) *searchFilesContentTool {
	return &searchFilesContentTool{sb: sb}
}

func (t *searchFilesContentTool) Name() string { return "search_files_content" }
func (t *searchFilesContentTool) Description() string {
	return "Searches for text or regex patterns in the content of files matching a glob pattern. Returns every match with its file path, line number, byte column and a preview of the matched text. By default it performs a case-insensitive literal search; when 'is_regex' is true the query is a regular expression. Binary and non-UTF-8 files are skipped. Only searches within allowed directories."
}

func (t *searchFilesContentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"root_path": {"type": "string", "description": "The file or directory path to search in."},
			"pattern": {"type": "string", "description": "The file glob pattern to match (e.g., \"*.go\")."},
			"query": {"type": "string", "description": "Text or regex pattern to find in file contents (e.g., 'TODO' or '^func\\s+')."},
			"is_regex": {"type": "boolean", "description": "Whether the query is a regular expression. Defaults to false."},
			"exclude_patterns": {"type": "array", "items": {"type": "string"}, "description": "Optional list of patterns to exclude from the search."}
		},
		"required": ["root_path", "pattern", "query"],
		"type": "object"
	}`)
}

type searchContentArgs struct {
	RootPath        string   `json:"root_path"`
	Pattern         string   `json:"pattern"`
	Query           string   `json:"query"`
	IsRegex         bool     `json:"is_regex,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

// contentMatch is one matching line. Column is the 0-based byte offset
// of the match in the line.
type contentMatch struct {
	Line    int
	Column  int
	Snippet string
}

func (t *searchFilesContentTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[searchContentArgs](args)
	if err != nil {
		return "", err
	}
	if a.Query == "" {
		return "", fmt.Errorf("%w: query is empty", tool.ErrInvalidArguments)
	}
	re, err := compileQuery(a.Query, a.IsRegex)
	if err != nil {
		return "", err
	}
	m, err := newMatcher(a.Pattern, a.ExcludePatterns)
	if err != nil {
		return "", err
	}
	root, err := t.sb.Validate(a.RootPath, true)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(root.String())
	if err != nil {
		return "", ioErr("stat", root.String(), err)
	}
	files := []string{root.String()}
	if info.IsDir() {
		if files, err = searchTree(ctx, root.String(), m); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// Symlinked entries are read only when their target stays inside
		// the sandbox.
		p, verr := t.sb.Validate(path, true)
		if verr != nil {
			continue
		}
		matches, ok := searchContent(p.String(), re)
		if !ok || len(matches) == 0 {
			continue
		}
		fmt.Fprintln(&b, path)
		for _, cm := range matches {
			fmt.Fprintf(&b, "  %d:%d: %s\n", cm.Line, cm.Column, cm.Snippet)
		}
		b.WriteByte('\n')
	}

	if b.Len() == 0 {
		return fmt.Sprintf("No matches found in the files content. path: %s, pattern: %s, exclude_patterns: %v",
			a.RootPath, a.Pattern, a.ExcludePatterns), nil
	}
	return "Successfully found matches:\n" + strings.TrimRight(b.String(), "\n"), nil
}

// compileQuery builds the case-insensitive matcher for query. A literal
// query has every metacharacter quoted.
func compileQuery(query string, isRegex bool) (*regexp.Regexp, error) {
	if !isRegex {
		query = regexp.QuoteMeta(query)
	}
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, fmt.Errorf("%w: bad query: %w", tool.ErrInvalidArguments, err)
	}
	return re, nil
}

// searchContent returns the matching lines of path. ok is false for files
// that are not searched: non-regular, unreadable, oversized, binary or
// not UTF-8.
func searchContent(path string, re *regexp.Regexp) ([]contentMatch, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxContentFileBytes {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, false
	}

	var matches []contentMatch
	text := strings.TrimSuffix(string(data), "\n")
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		loc := re.FindStringIndex(line)
		if loc == nil {
			continue
		}
		matches = append(matches, contentMatch{Line: i + 1, Column: loc[0], Snippet: snippet(line, loc[0])})
	}
	return matches, true
}

// snippet trims line and keeps up to snippetMaxRunes runes starting
// snippetBackwardRunes before the match at byte offset start. Ellipses mark
// the truncated ends.
func snippet(line string, start int) string {
	lead := len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
	trimmed := strings.TrimSpace(line)

	begin := min(max(start-lead, 0), len(trimmed))
	for i := 0; i < snippetBackwardRunes && begin > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(trimmed[:begin])
		begin -= size
	}
	end := begin
	for i := 0; i < snippetMaxRunes && end < len(trimmed); i++ {
		_, size := utf8.DecodeRuneInString(trimmed[end:])
		end += size
	}

	var b strings.Builder
	if begin > 0 {
		b.WriteString("...")
	}
	b.WriteString(trimmed[begin:end])
	if end < len(trimmed) {
		b.WriteString("...")
	}
	return b.String()
}
