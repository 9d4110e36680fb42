package tools

import (
	"context"
	"encoding/json"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// ThinkTool is a scratchpad: the model records its reasoning and gets an
// acknowledgement back. It has no side effects.
type ThinkTool struct{}

func (t *ThinkTool) Name() string { return "think" }

func (t *ThinkTool) Description() string {
	return "Record a thought or plan. Use this to reason through a problem before acting. Produces no side effects."
}

func (t *ThinkTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "The thought to record."}
		},
		"required": ["thought"]
	}`)
}

func (t *ThinkTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	if _, perr := params.RequiredString("thought", "provide the thought to record"); perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	return models.TextResult(tc.ToolCallID, "Thought recorded."), nil
}
