package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/pkg/models"
)

type echoTool struct {
	name string
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes input" }
func (t *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage, tc *Context) (models.ToolResult, error) {
	p, perr := DecodeParams(params)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	text, perr := p.RequiredString("text", "provide text")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	return models.TextResult(tc.ToolCallID, text), nil
}

func TestRegistryExecute(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&echoTool{name: "echo"})

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"text": "hi"}`), &Context{ToolCallID: "c1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Text() != "hi" {
		t.Fatalf("expected %q, got %q", "hi", result.Text())
	}
	if result.ToolCallID != "c1" {
		t.Fatalf("expected tool call id c1, got %q", result.ToolCallID)
	}
}

func TestRegistryToolNotFound(t *testing.T) {
	registry := NewRegistry()
	result, err := registry.Execute(context.Background(), "nope", nil, &Context{ToolCallID: "c1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("expected error result for missing tool")
	}
	if !strings.Contains(result.Message, "tool not found") {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if !result.Recoverable {
		t.Fatalf("tool-not-found must be recoverable")
	}
}

func TestRegistrySchemaValidationRejects(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&echoTool{name: "echo"})

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"wrong": 1}`), &Context{ToolCallID: "c1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("expected validation error result")
	}
}

func TestRegistryFilteredByNames(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&echoTool{name: "a"})
	registry.Register(&echoTool{name: "b"})
	registry.Register(&echoTool{name: "c"})
	registry.SetOutputConfig("a", OutputConfigWithMaxSize(1234))

	filtered := registry.FilteredByNames([]string{"a", "c", "unknown"})
	if filtered.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", filtered.Len())
	}
	if _, ok := filtered.Get("b"); ok {
		t.Fatalf("b should have been filtered out")
	}
	if got := filtered.OutputConfigFor("a").MaxSizeBytes; got != 1234 {
		t.Fatalf("override not carried: got %d", got)
	}
	// Parent untouched.
	if registry.Len() != 3 {
		t.Fatalf("parent registry was mutated")
	}
}

type blockingHook struct {
	hooks.BaseHandler
	blockTool string
}

func (h *blockingHook) PreToolUse(ctx context.Context, toolName string, input json.RawMessage) hooks.PreToolUseDecision {
	if toolName == h.blockTool {
		return hooks.Block("not allowed in tests")
	}
	return hooks.Allow()
}

func TestRegistryPreToolUseBlock(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&echoTool{name: "echo"})

	dispatcher := hooks.NewDispatcher()
	dispatcher.Register(&blockingHook{blockTool: "echo"})

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"text": "hi"}`), &Context{
		ToolCallID: "c1",
		Hooks:      dispatcher,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("expected blocked result")
	}
	if result.Message != "Blocked by hook: not allowed in tests" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestRegistryOutputOverridePrecedence(t *testing.T) {
	registry := NewRegistry()
	if got := registry.OutputConfigFor("shell").MaxSizeBytes; got != 100*1024 {
		t.Fatalf("expected shell default 100KiB, got %d", got)
	}
	registry.SetOutputConfig("shell", OutputConfigWithMaxSize(1024))
	if got := registry.OutputConfigFor("shell").MaxSizeBytes; got != 1024 {
		t.Fatalf("expected override 1024, got %d", got)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&echoTool{name: "zeta"})
	registry.Register(&echoTool{name: "alpha"})

	defs := registry.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("expected sorted definitions, got %+v", defs)
	}
}
