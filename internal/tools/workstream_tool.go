package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dylanbstorey/arawn/internal/workstream"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// WorkstreamTool exposes file lifecycle operations (promote, export, attach,
// clone) over the directory manager.
type WorkstreamTool struct {
	dirs *workstream.DirectoryManager
}

// NewWorkstreamTool creates the workstream tool.
func NewWorkstreamTool(dirs *workstream.DirectoryManager) *WorkstreamTool {
	return &WorkstreamTool{dirs: dirs}
}

func (t *WorkstreamTool) Name() string { return "workstream" }

func (t *WorkstreamTool) Description() string {
	return "Manage workstream files: promote work files to production, export production files, attach this scratch session to a workstream, or clone a git repository into production."
}

func (t *WorkstreamTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"operation": {
				"type": "string",
				"enum": ["promote", "export", "attach", "clone", "list"],
				"description": "The operation to perform."
			},
			"workstream": {"type": "string", "description": "Target workstream name."},
			"source": {"type": "string", "description": "Source path (relative to work/ for promote, production/ for export)."},
			"destination": {"type": "string", "description": "Destination path (relative to production/ for promote, absolute for export)."},
			"url": {"type": "string", "description": "Git repository URL for clone."},
			"name": {"type": "string", "description": "Optional directory name for clone."}
		},
		"required": ["operation"]
	}`)
}

func (t *WorkstreamTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	op, perr := params.RequiredString("operation", "choose one of promote, export, attach, clone, list")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	switch op {
	case "promote":
		ws, src, dest, perr := t.requireMoveParams(params)
		if perr != nil {
			return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
		}
		result, err := t.dirs.Promote(ws, src, dest)
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
		}
		return jsonResult(tc.ToolCallID, result), nil

	case "export":
		ws, src, dest, perr := t.requireMoveParams(params)
		if perr != nil {
			return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
		}
		result, err := t.dirs.Export(ws, src, dest)
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
		}
		return jsonResult(tc.ToolCallID, result), nil

	case "attach":
		ws, perr := params.RequiredString("workstream", "provide the workstream to attach this session to")
		if perr != nil {
			return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
		}
		result, err := t.dirs.AttachSession(tc.SessionID, ws)
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
		}
		return jsonResult(tc.ToolCallID, result), nil

	case "clone":
		ws, perr := params.RequiredString("workstream", "provide the workstream to clone into")
		if perr != nil {
			return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
		}
		url, perr := params.RequiredString("url", "provide the git repository URL")
		if perr != nil {
			return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
		}
		result, err := t.dirs.CloneRepo(ws, url, params.OptionalString("name", ""))
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
		}
		return jsonResult(tc.ToolCallID, result), nil

	case "list":
		names, err := t.dirs.ListWorkstreams()
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
		}
		return jsonResult(tc.ToolCallID, map[string]any{"workstreams": names}), nil

	default:
		return models.ErrorResult(tc.ToolCallID,
			InvalidValue("operation", op, "must be one of promote, export, attach, clone, list").Error(), true), nil
	}
}

func (t *WorkstreamTool) requireMoveParams(params Params) (ws, src, dest string, perr *ParameterValidationError) {
	ws, perr = params.RequiredString("workstream", "provide the workstream name")
	if perr != nil {
		return
	}
	src, perr = params.RequiredString("source", "provide the source path")
	if perr != nil {
		return
	}
	dest, perr = params.RequiredString("destination", "provide the destination path")
	return
}

func jsonResult(toolCallID string, value any) models.ToolResult {
	data, err := json.Marshal(value)
	if err != nil {
		return models.ErrorResult(toolCallID, fmt.Sprintf("failed to encode result: %v", err), true)
	}
	return models.JSONResult(toolCallID, data)
}
