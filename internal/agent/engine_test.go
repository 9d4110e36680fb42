package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/internal/tools"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// scriptedBackend replays a fixed sequence of responses and errors.
type scriptedBackend struct {
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	resp *llm.CompletionResponse
	err  error
}

func (b *scriptedBackend) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if b.calls >= len(b.steps) {
		// Repeat the last step forever.
		step := b.steps[len(b.steps)-1]
		b.calls++
		return step.resp, step.err
	}
	step := b.steps[b.calls]
	b.calls++
	return step.resp, step.err
}

func (b *scriptedBackend) Name() string { return "scripted" }

func textResponse(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUseResponse(id, name string, input string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    []llm.ContentBlock{llm.ToolUseBlock(id, name, json.RawMessage(input))},
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// okTool always returns "ok".
type okTool struct{ name string }

func (t *okTool) Name() string        { return t.name }
func (t *okTool) Description() string { return "returns ok" }
func (t *okTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object"}`)
}
func (t *okTool) Execute(ctx context.Context, params json.RawMessage, tc *tools.Context) (models.ToolResult, error) {
	return models.TextResult(tc.ToolCallID, "ok"), nil
}

func TestTurnCompletesOnTextResponse(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{{resp: textResponse("hello")}}}
	engine := New(backend, tools.NewRegistry(), Config{MaxIterations: 5})
	session := models.NewSession("scratch")

	resp, err := engine.Turn(context.Background(), session, "hi")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", resp.Text)
	}
	if resp.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", resp.Iterations)
	}
	if resp.Truncated {
		t.Fatalf("expected truncated = false")
	}
	if session.CurrentTurn() != nil {
		t.Fatalf("expected no in-flight turn after completion")
	}
}

func TestTurnIterationCap(t *testing.T) {
	// Provider returns tool-use forever for registered tool t.
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: toolUseResponse("call-1", "t", `{}`)},
	}}
	registry := tools.NewRegistry()
	registry.Register(&okTool{name: "t"})
	engine := New(backend, registry, Config{MaxIterations: 5})
	session := models.NewSession("scratch")

	resp, err := engine.Turn(context.Background(), session, "go")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if !resp.Truncated {
		t.Fatalf("expected truncated = true")
	}
	if resp.Iterations != 6 {
		t.Fatalf("expected iterations = 6, got %d", resp.Iterations)
	}
	if resp.Text != TruncationMarker {
		t.Fatalf("expected truncation marker, got %q", resp.Text)
	}
	if backend.calls != 5 {
		t.Fatalf("expected exactly 5 LLM calls, got %d", backend.calls)
	}
}

func TestTurnToolValidationRetry(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{err: &llm.ToolValidationError{ToolName: "read_file"}},
		{resp: textResponse("I'll use the correct tool name.")},
	}}
	engine := New(backend, tools.NewRegistry(), Config{MaxIterations: 5})
	session := models.NewSession("scratch")

	resp, err := engine.Turn(context.Background(), session, "Read the file")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.Text != "I'll use the correct tool name." {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Iterations != 2 {
		t.Fatalf("expected iterations = 2, got %d", resp.Iterations)
	}
}

func TestTurnTerminalErrorPropagates(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{err: fmt.Errorf("connection refused")},
	}}
	engine := New(backend, tools.NewRegistry(), Config{MaxIterations: 5})
	session := models.NewSession("scratch")

	if _, err := engine.Turn(context.Background(), session, "hi"); err == nil {
		t.Fatalf("expected terminal error")
	}
}

func TestTurnToolCallResultPairing(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: toolUseResponse("call-1", "t", `{}`)},
		{resp: toolUseResponse("call-2", "missing_tool", `{}`)},
		{resp: textResponse("done")},
	}}
	registry := tools.NewRegistry()
	registry.Register(&okTool{name: "t"})
	engine := New(backend, registry, Config{MaxIterations: 10})
	session := models.NewSession("scratch")

	resp, err := engine.Turn(context.Background(), session, "go")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(resp.ToolCalls) != len(resp.ToolResults) {
		t.Fatalf("tool call/result count mismatch: %d vs %d", len(resp.ToolCalls), len(resp.ToolResults))
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID != resp.ToolResults[i].ToolCallID {
			t.Fatalf("position %d: call id %q != result id %q", i, resp.ToolCalls[i].ID, resp.ToolResults[i].ToolCallID)
		}
	}
	// The unknown tool produced a recoverable error result, not a turn failure.
	if !resp.ToolResults[1].IsError() {
		t.Fatalf("expected error result for missing tool")
	}
}

func TestTurnStreamEmitsOrderedChunks(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{
		{resp: toolUseResponse("call-1", "t", `{}`)},
		{resp: textResponse("final")},
	}}
	registry := tools.NewRegistry()
	registry.Register(&okTool{name: "t"})
	engine := New(backend, registry, Config{MaxIterations: 10})
	session := models.NewSession("scratch")

	var kinds []ChunkKind
	var final string
	for chunk := range engine.TurnStream(context.Background(), session, "go") {
		kinds = append(kinds, chunk.Kind)
		if chunk.Kind == ChunkDone {
			final = chunk.FinalText
		}
	}

	want := []ChunkKind{ChunkToolStart, ChunkToolOutput, ChunkToolEnd, ChunkTextDelta, ChunkDone}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d chunks, got %d (%v)", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("chunk %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if final != "final" {
		t.Fatalf("expected final text %q, got %q", "final", final)
	}
}

func TestSessionInvariantOneInFlightTurn(t *testing.T) {
	backend := &scriptedBackend{steps: []scriptedStep{{resp: textResponse("a")}}}
	engine := New(backend, tools.NewRegistry(), Config{MaxIterations: 3})
	session := models.NewSession("scratch")

	for i := 0; i < 3; i++ {
		if _, err := engine.Turn(context.Background(), session, "msg"); err != nil {
			t.Fatalf("Turn() error = %v", err)
		}
	}
	if session.CompletedTurnCount() != session.TurnCount() {
		t.Fatalf("expected all turns completed: %d of %d", session.CompletedTurnCount(), session.TurnCount())
	}
}
