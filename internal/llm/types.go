// Package llm defines the collaborator contract between the turn engine and
// LLM backends, plus the Anthropic-backed implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser is the human (or a synthetic system-injected) message.
	RoleUser Role = "user"
	// RoleAssistant is the model's message.
	RoleAssistant Role = "assistant"
)

// BlockType discriminates content block variants.
type BlockType string

const (
	// BlockText is plain text content.
	BlockText BlockType = "text"
	// BlockToolUse is a tool invocation requested by the model.
	BlockToolUse BlockType = "tool_use"
	// BlockToolResult carries the outcome of a tool invocation back to the model.
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of message content.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text content (Type == BlockText).
	Text string `json:"text,omitempty"`

	// Tool use fields (Type == BlockToolUse).
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields (Type == BlockToolResult).
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool-use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolCallID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolCallID: toolCallID, Content: content, IsError: isError}
}

// Message is one entry in the conversation sent to the backend.
type Message struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// UserMessage builds a user message from plain text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage builds an assistant message from content blocks.
func AssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ToolResultsMessage wraps tool results in a user-role message, the format
// providers expect tool results delivered in.
func ToolResultsMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Blocks: blocks}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	out := ""
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	// StopEndTurn means the model finished its response.
	StopEndTurn StopReason = "end_turn"
	// StopToolUse means the model wants tool results before continuing.
	StopToolUse StopReason = "tool_use"
	// StopMaxTokens means the response hit the output token limit.
	StopMaxTokens StopReason = "max_tokens"
)

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// CompletionRequest carries everything needed for one model call.
type CompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	System      string           `json:"system,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the backend's answer to one request.
type CompletionResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// HasToolUse reports whether any content block is a tool invocation.
func (r *CompletionResponse) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ToolUses returns the tool-use blocks in order.
func (r *CompletionResponse) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Text concatenates the response's text blocks.
func (r *CompletionResponse) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Provider is the LLM collaborator contract.
//
// Implementations must be safe for concurrent use and must surface invalid
// tool names as a *ToolValidationError so the turn engine can self-correct.
type Provider interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}
