package models

import "encoding/json"

// ToolCall is a single tool invocation requested by the model. The ID is
// provider-assigned and pairs the call with its result.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultKind discriminates the ToolResult variants.
type ToolResultKind string

const (
	// ToolResultText is a plain-text payload.
	ToolResultText ToolResultKind = "text"
	// ToolResultJSON is a structured JSON payload.
	ToolResultJSON ToolResultKind = "json"
	// ToolResultError is a failed execution. Recoverable errors are fed back
	// to the model; the turn continues.
	ToolResultError ToolResultKind = "error"
)

// ToolResult is the outcome of executing one ToolCall.
//
// Invariant: for every ToolCall in a turn's transcript there is exactly one
// ToolResult with the matching ToolCallID, in the same position.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Kind       ToolResultKind  `json:"kind"`
	Content    string          `json:"content,omitempty"`
	JSON       json.RawMessage `json:"json,omitempty"`
	Message    string          `json:"message,omitempty"`
	Recoverable bool           `json:"recoverable,omitempty"`
}

// TextResult builds a text result for the given call id.
func TextResult(toolCallID, content string) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Kind: ToolResultText, Content: content}
}

// JSONResult builds a JSON result for the given call id.
func JSONResult(toolCallID string, value json.RawMessage) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Kind: ToolResultJSON, JSON: value}
}

// ErrorResult builds an error result for the given call id.
func ErrorResult(toolCallID, message string, recoverable bool) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Kind: ToolResultError, Message: message, Recoverable: recoverable}
}

// IsError reports whether the result is the error variant.
func (r ToolResult) IsError() bool {
	return r.Kind == ToolResultError
}

// Text returns the textual payload sent back to the model: the content for
// text results, the serialized document for JSON results, and the message for
// errors.
func (r ToolResult) Text() string {
	switch r.Kind {
	case ToolResultJSON:
		return string(r.JSON)
	case ToolResultError:
		return r.Message
	default:
		return r.Content
	}
}
