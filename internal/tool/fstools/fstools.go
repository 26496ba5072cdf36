// Package fstools implements the sandboxed filesystem tools. Every path
// argument goes through sandbox.Validate before any filesystem call, and
// every mutating tool asks for approval.
package fstools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// Tools returns every filesystem tool bound to sb, in catalogue order.
func Tools(sb *sandbox.Sandbox) []tool.Tool {
	return []tool.Tool{
		newCreateDirectoryTool(sb),
		newGetFileInfoTool(sb),
		newListAllowedDirectoriesTool(sb),
		newListDirectoryTool(sb),
		newMoveFileTool(sb),
		newReadFileTool(sb),
		newReadMultipleFilesTool(sb),
		newWriteFileTool(sb),
		newHeadFileTool(sb),
		newTailFileTool(sb),
		newListDirectoryWithSizesTool(sb),
		newDirectoryTreeTool(sb),
		newCalculateDirectorySizeTool(sb),
		newSearchFilesTool(sb),
		newSearchFilesContentTool(sb),
		newEditFileTool(sb),
		newZipFilesTool(sb),
		newZipDirectoryTool(sb),
		newUnzipFileTool(sb),
	}
}

// RegisterAll registers every filesystem tool on registry.
func RegisterAll(registry *tool.Registry, sb *sandbox.Sandbox) error {
	for _, t := range Tools(sb) {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("registering %s: %w", t.Name(), err)
		}
	}
	return nil
}

// readOnly is embedded by tools that never mutate the filesystem.
type readOnly struct{}

func (readOnly) Scopes() []tool.Scope { return []tool.Scope{tool.ScopeReadOnly} }

func (readOnly) Approval(json.RawMessage, tool.ApprovalContext) (string, bool, error) {
	return "", false, nil
}

// mutating is embedded by tools that change the filesystem.
type mutating struct{}

func (mutating) Scopes() []tool.Scope { return []tool.Scope{tool.ScopeReadWrite} }

// decode unmarshals tool arguments. Empty args decode as an empty object.
func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(args)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("%w: %w", tool.ErrInvalidArguments, err)
	}
	return v, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatBytes renders a size with binary units, e.g. "1.50 KB".
func formatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = kb << 10
		gb = mb << 10
		tb = gb << 10
	)
	units := []struct {
		threshold int64
		suffix    string
	}{{tb, "TB"}, {gb, "GB"}, {mb, "MB"}, {kb, "KB"}}
	for _, u := range units {
		if n >= u.threshold {
			return fmt.Sprintf("%.2f %s", float64(n)/float64(u.threshold), u.suffix)
		}
	}
	return fmt.Sprintf("%d bytes", n)
}
