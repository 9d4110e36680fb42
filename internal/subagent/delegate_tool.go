package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dylanbstorey/arawn/internal/tools"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// DelegateTool exposes subagent delegation to the model.
type DelegateTool struct {
	spawner *Spawner
}

// NewDelegateTool creates the delegate tool over a spawner.
func NewDelegateTool(spawner *Spawner) *DelegateTool {
	return &DelegateTool{spawner: spawner}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Delegate a task to a named subagent. The subagent runs with its own constrained toolset and returns a condensed result."
}

func (t *DelegateTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent": {"type": "string", "description": "Name of the subagent to delegate to."},
			"task": {"type": "string", "description": "The task for the subagent."},
			"context": {"type": "string", "description": "Optional context from the current conversation to pass along."},
			"max_turns": {"type": "integer", "description": "Optional cap on the subagent's iterations.", "minimum": 1, "maximum": 50}
		},
		"required": ["agent", "task"]
	}`)
}

func (t *DelegateTool) Execute(ctx context.Context, raw json.RawMessage, tc *tools.Context) (models.ToolResult, error) {
	if res, done := tools.Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := tools.DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	agentName, perr := params.RequiredString("agent", "provide the subagent name")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	task, perr := params.RequiredString("task", "provide the task to delegate")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	parentContext := params.OptionalString("context", "")
	maxTurns, perr := params.BoundedInt("max_turns", 0, 0, 50)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	outcome := t.spawner.Delegate(ctx, agentName, task, parentContext, int(maxTurns))
	switch outcome.Kind {
	case OutcomeSuccess:
		return models.TextResult(tc.ToolCallID, outcome.Result.Text), nil
	case OutcomeUnknownAgent:
		msg := fmt.Sprintf("unknown agent %q; available agents: %s", outcome.Name, strings.Join(outcome.Available, ", "))
		return models.ErrorResult(tc.ToolCallID, msg, true), nil
	default:
		return models.ErrorResult(tc.ToolCallID, outcome.Message, true), nil
	}
}
