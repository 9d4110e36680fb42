package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// Shell timeout bounds in seconds.
const (
	minShellTimeoutSecs     = 1
	maxShellTimeoutSecs     = 3600
	defaultShellTimeoutSecs = 120
)

// ShellTool executes a command through the system shell inside the session's
// working directory.
type ShellTool struct {
	// DefaultTimeout applies when the invocation does not specify one.
	DefaultTimeout time.Duration
}

// NewShellTool creates a shell tool with the default timeout.
func NewShellTool() *ShellTool {
	return &ShellTool{DefaultTimeout: defaultShellTimeoutSecs * time.Second}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command and return its combined output. Commands run in the session's work directory."
}

func (t *ShellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The shell command to execute."
			},
			"timeout_secs": {
				"type": "integer",
				"description": "Per-invocation timeout in seconds (1-3600). Defaults to 120.",
				"minimum": 1,
				"maximum": 3600
			}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}

	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	command, perr := params.RequiredString("command", "provide the shell command to run")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	timeoutSecs, perr := params.BoundedInt("timeout_secs", int64(t.DefaultTimeout/time.Second), minShellTimeoutSecs, maxShellTimeoutSecs)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if len(tc.AllowedPaths) > 0 {
		cmd.Dir = tc.AllowedPaths[0]
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("command timed out after %ds", timeoutSecs), true), nil
	}
	if ctx.Err() != nil {
		return CancelledResult(tc.ToolCallID), nil
	}
	if err != nil {
		msg := fmt.Sprintf("command failed: %v", err)
		if output.Len() > 0 {
			msg += "\n" + output.String()
		}
		return models.ErrorResult(tc.ToolCallID, msg, true), nil
	}

	return models.TextResult(tc.ToolCallID, output.String()), nil
}
