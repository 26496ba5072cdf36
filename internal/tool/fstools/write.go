package fstools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/tool"
)

// --- write_file ---

type writeFileTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newWriteFileTool(sb *sandbox.Sandbox) *writeFileTool { return &writeFileTool{sb: sb} }

func (t *writeFileTool) Name() string { return "write_file" }
func (t *writeFileTool) Description() string {
	return "Create a new file or completely overwrite an existing file with new content. Use with caution as it will overwrite existing files without warning. The parent directory must already exist. Only works within allowed directories."
}

func (t *writeFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"file_path": {"type": "string", "description": "The path of the file to write to."},
			"content": {"type": "string", "description": "The content to write to the file."}
		},
		"required": ["file_path", "content"],
		"type": "object"
	}`)
}

type writeFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *writeFileTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[writeFileArgs](args)
	if err != nil {
		return "", false, err
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the write_file tool to write %d bytes to %s ?", len(a.Content), a.FilePath),
		fmt.Sprintf("是否允许调用 write_file 工具向 %s 写入 %d 字节？", a.FilePath, len(a.Content)),
	), true, nil
}

func (t *writeFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[writeFileArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.FilePath, false)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p.String(), []byte(a.Content), 0o644); err != nil {
		return "", ioErr("write", p.String(), err)
	}
	return fmt.Sprintf("Successfully wrote to %s", a.FilePath), nil
}

// --- create_directory ---

type createDirectoryTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newCreateDirectoryTool(sb *sandbox.Sandbox) *createDirectoryTool {
	return &createDirectoryTool{sb: sb}
}

func (t *createDirectoryTool) Name() string { return "create_directory" }
func (t *createDirectoryTool) Description() string {
	return "Create a new directory or ensure a directory exists. Can create multiple nested directories in one operation. If the directory already exists, this operation will succeed silently. Only works within allowed directories."
}

func (t *createDirectoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"path": {"type": "string", "description": "The path where the directory will be created."}
		},
		"required": ["path"],
		"type": "object"
	}`)
}

type pathArgs struct {
	Path string `json:"path"`
}

func (t *createDirectoryTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[pathArgs](args)
	if err != nil {
		return "", false, err
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the create_directory tool to create %s ?", a.Path),
		fmt.Sprintf("是否允许调用 create_directory 工具创建目录 %s？", a.Path),
	), true, nil
}

// Run is idempotent: an existing directory is reported as created.
func (t *createDirectoryTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[pathArgs](args)
	if err != nil {
		return "", err
	}
	p, err := t.sb.Validate(a.Path, false)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.String(), 0o755); err != nil {
		return "", ioErr("mkdir", p.String(), err)
	}
	return fmt.Sprintf("successfully created directory %s", a.Path), nil
}

// --- move_file ---

type moveFileTool struct {
	mutating
	sb *sandbox.Sandbox
}

func newMoveFileTool(sb *sandbox.Sandbox) *moveFileTool { return &moveFileTool{sb: sb} }

func (t *moveFileTool) Name() string { return "move_file" }
func (t *moveFileTool) Description() string {
	return "Move or rename files and directories. Can move files between directories and rename them in a single operation. If the destination exists, the operation will fail. Both source and destination must be within allowed directories."
}

func (t *moveFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"properties": {
			"src_path": {"type": "string", "description": "The source path of the file to move."},
			"dest_path": {"type": "string", "description": "The destination path to move the file to."}
		},
		"required": ["src_path", "dest_path"],
		"type": "object"
	}`)
}

type moveFileArgs struct {
	SrcPath  string `json:"src_path"`
	DestPath string `json:"dest_path"`
}

func (t *moveFileTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	a, err := decode[moveFileArgs](args)
	if err != nil {
		return "", false, err
	}
	return tool.Prompt(actx,
		fmt.Sprintf("Do you allow calling the move_file tool to move %s to %s ?", a.SrcPath, a.DestPath),
		fmt.Sprintf("是否允许调用 move_file 工具将 %s 移动到 %s？", a.SrcPath, a.DestPath),
	), true, nil
}

// Run never overwrites: an existing destination fails with
// ErrAlreadyExists and neither side is touched.
func (t *moveFileTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	a, err := decode[moveFileArgs](args)
	if err != nil {
		return "", err
	}
	src, err := t.sb.Validate(a.SrcPath, true)
	if err != nil {
		return "", err
	}
	dest, err := t.sb.Validate(a.DestPath, false)
	if err != nil {
		return "", err
	}
	if err := move(src.String(), dest.String()); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, a.DestPath)
		}
		return "", ioErr("move", src.String(), err)
	}
	return fmt.Sprintf("Successfully move %s to %s", a.SrcPath, a.DestPath), nil
}

// move renames src to dest without replacing an existing dest. Regular
// files are hard-linked first so the existence check and the move are one
// atomic step; directories and cross-device moves fall back to a checked
// rename.
func move(src, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return fs.ErrExist
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode().IsRegular() {
		err := os.Link(src, dest)
		if err == nil {
			return os.Remove(src)
		}
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
	}
	return os.Rename(src, dest)
}
