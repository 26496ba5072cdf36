package fstools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// --- search_files ---

type searchFilesTool struct {
	readOnly
	sb *sandbox.Sandbox
}

func newSearchFilesTool(sb *sandbox.Sandbox) *searchFilesTool { return &searchFilesTool{sb: sb} }

func (t *searchFilesTool) Name() string { return "search_files" }
func (t *searchFilesTool) Description() string {
	return "Recursively search for files and directories matching a pattern. Searches through all subdirectories from the starting path. The search is case-insensitive and a pattern without '*' matches partial names. Patterns support '**' globs; a pattern containing '/' is matched against the path relative to root_path, otherwise against the entry name. Returns full paths to all matching items. Only searches within allowed directories."
}

func (t *searchFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"root_path": {"type": "string", "description": "The directory path to search in."},
			"include_pattern": {"type": "string", "description": "The glob pattern to match (e.g., \"*.go\")."},
			"exclude_patterns": {"type": "array", "items": {"type": "string"}, "description": "Optional list of patterns to exclude from the search."}
		},
		"required": ["root_path", "include_pattern"],
		"type": "object"
	}`)
}

type searchArgs struct {
	RootPath        string   `json:"root_path"`
	IncludePattern  string   `json:"include_pattern"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

func (t *searchFilesTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a, err := decode[searchArgs](args)
	if err != nil {
		return "", err
	}
	m, err := newMatcher(a.IncludePattern, a.ExcludePatterns)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.RootPath, true)
	if err != nil {
		return "", err
	}

	matches, err := searchTree(ctx, p.String(), m)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No matches found", nil
	}
	return strings.Join(matches, "\n"), nil
}

// matcher holds lowercased patterns. A pattern without '*' matches any
// name containing it.
type matcher struct {
	include string
	exclude []string
}

func newMatcher(include string, exclude []string) (*matcher, error) {
	include = strings.ToLower(include)
	if !strings.Contains(include, "*") {
		include = "*" + include + "*"
	}
	if !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("%w: bad include pattern %q", tool.ErrInvalidArguments, include)
	}

	m := &matcher{include: include}
	for _, e := range exclude {
		e = strings.ToLower(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "*") && !doublestar.ValidatePattern(e) {
			return nil, fmt.Errorf("%w: bad exclude pattern %q", tool.ErrInvalidArguments, e)
		}
		m.exclude = append(m.exclude, e)
	}
	return m, nil
}

// included matches the include pattern against rel (slash-separated,
// relative to the search root) when the pattern has a '/', and against
// the base name otherwise.
func (m *matcher) included(rel string) bool {
	subject := strings.ToLower(rel)
	if !strings.Contains(m.include, "/") {
		subject = strings.ToLower(filepath.Base(rel))
	}
	ok, _ := doublestar.Match(m.include, subject)
	return ok
}

func (m *matcher) excluded(rel string) bool {
	lower := strings.ToLower(rel)
	base := strings.ToLower(filepath.Base(rel))
	for _, e := range m.exclude {
		if !strings.Contains(e, "*") {
			if strings.Contains(lower, e) {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(e, lower); ok {
			return true
		}
		if ok, _ := doublestar.Match(e, base); ok {
			return true
		}
	}
	return false
}

// searchTree walks root without following symlinks, so every reported
// path lies under root. Excluded directories are not descended into.
// Results are sorted because fastwalk visits entries concurrently.
func searchTree(ctx context.Context, root string, m *matcher) ([]string, error) {
	var (
		mu      sync.Mutex
		matches []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil || path == root {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if m.excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if m.included(rel) {
			mu.Lock()
			matches = append(matches, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ioErr("walk", root, err)
	}
	slices.Sort(matches)
	return matches, nil
}
