package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// resolveWithinAllowed joins a relative path against the session's allowed
// roots and rejects anything that escapes them.
func resolveWithinAllowed(rel string, tc *Context) (string, error) {
	if len(tc.AllowedPaths) == 0 {
		return "", fmt.Errorf("no filesystem access configured for this session")
	}
	if filepath.IsAbs(rel) {
		for _, root := range tc.AllowedPaths {
			cleaned := filepath.Clean(rel)
			if cleaned == filepath.Clean(root) || strings.HasPrefix(cleaned, filepath.Clean(root)+string(filepath.Separator)) {
				return cleaned, nil
			}
		}
		return "", fmt.Errorf("path %q is outside the session's allowed directories", rel)
	}

	candidate := filepath.Clean(filepath.Join(tc.AllowedPaths[0], rel))
	root := filepath.Clean(tc.AllowedPaths[0])
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the session's work directory", rel)
	}
	return candidate, nil
}

// FileReadTool reads a file within the session's allowed paths.
type FileReadTool struct{}

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) Description() string {
	return "Read a file from the session's workstream directories."
}

func (t *FileReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the session work directory."}
		},
		"required": ["path"]
	}`)
}

func (t *FileReadTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	path, perr := params.RequiredString("path", "provide the file path to read")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	full, err := resolveWithinAllowed(path, tc)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("read failed: %v", err), true), nil
	}
	return models.TextResult(tc.ToolCallID, string(data)), nil
}

// FileWriteTool writes a file within the session's allowed paths.
type FileWriteTool struct{}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return "Write content to a file in the session's work directory, creating parent directories as needed."
}

func (t *FileWriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the session work directory."},
			"content": {"type": "string", "description": "The content to write."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *FileWriteTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	path, perr := params.RequiredString("path", "provide the file path to write")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	content, perr := params.RequiredString("content", "provide the content to write")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	full, err := resolveWithinAllowed(path, tc)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("write failed: %v", err), true), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("write failed: %v", err), true), nil
	}
	return models.TextResult(tc.ToolCallID, fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// FileListTool lists a directory within the session's allowed paths.
type FileListTool struct{}

func (t *FileListTool) Name() string { return "file_list" }

func (t *FileListTool) Description() string {
	return "List files and directories in the session's workstream directories."
}

func (t *FileListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path, relative to the session work directory. Defaults to the work directory root."}
		}
	}`)
}

func (t *FileListTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	path := params.OptionalString("path", ".")

	full, err := resolveWithinAllowed(path, tc)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("list failed: %v", err), true), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return models.TextResult(tc.ToolCallID, strings.Join(names, "\n")), nil
}
