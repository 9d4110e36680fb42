// Package tools implements the tool framework: the Tool capability interface,
// the registry with per-tool output budgets, parameter validation, output
// sanitization, and the built-in tool set.
package tools

import (
	"context"
	"encoding/json"

	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// Tool is the capability contract every tool implements.
type Tool interface {
	// Name returns the tool name used for model function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. Implementations must check ctx before starting
	// work and at every suspension point; on cancellation they return
	// ErrorResult("Operation cancelled", recoverable=true).
	Execute(ctx context.Context, params json.RawMessage, tc *Context) (models.ToolResult, error)
}

// Context carries per-invocation state into a tool execution.
type Context struct {
	// SessionID identifies the session driving the invocation.
	SessionID string

	// WorkstreamID is the session's workstream.
	WorkstreamID string

	// AllowedPaths are the filesystem roots the session may touch.
	AllowedPaths []string

	// ToolCallID is the provider-assigned id of the call being executed.
	ToolCallID string

	// Hooks dispatches lifecycle events; may be nil.
	Hooks *hooks.Dispatcher
}

// CancelledResult is the canonical result a tool returns when its context is
// cancelled mid-execution.
func CancelledResult(toolCallID string) models.ToolResult {
	return models.ErrorResult(toolCallID, "Operation cancelled", true)
}

// Cancelled reports whether the context has been cancelled and, if so,
// returns the canonical cancelled result.
func Cancelled(ctx context.Context, tc *Context) (models.ToolResult, bool) {
	select {
	case <-ctx.Done():
		return CancelledResult(tc.ToolCallID), true
	default:
		return models.ToolResult{}, false
	}
}
