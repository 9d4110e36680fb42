package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dylanbstorey/arawn/internal/memory"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// MemorySearchTool queries the vector memory store by semantic similarity.
type MemorySearchTool struct {
	store    memory.Store
	embedder memory.Embedder
}

// NewMemorySearchTool creates a memory search tool over the given store and embedder.
func NewMemorySearchTool(store memory.Store, embedder memory.Embedder) *MemorySearchTool {
	return &MemorySearchTool{store: store, embedder: embedder}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for facts, entities, and notes relevant to a query."
}

func (t *MemorySearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to search for."},
			"limit": {"type": "integer", "description": "Maximum results. Defaults to 5.", "minimum": 1, "maximum": 50},
			"min_score": {"type": "number", "description": "Minimum similarity score (0-1). Defaults to 0.3."}
		},
		"required": ["query"]
	}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	query, perr := params.RequiredString("query", "provide the text to search memory for")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	limit, perr := params.BoundedInt("limit", 5, 1, 50)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	minScore := float32(0.3)
	if f, ok := params["min_score"].(float64); ok {
		minScore = float32(f)
	}

	if !t.store.HasVectors(ctx) {
		return models.TextResult(tc.ToolCallID, "No memories indexed yet."), nil
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("embedding failed: %v", err), true), nil
	}

	result, err := t.store.Recall(ctx, models.RecallQuery{Vector: vec, Limit: int(limit), MinScore: minScore})
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("memory query failed: %v", err), true), nil
	}
	if len(result.Matches) == 0 {
		return models.TextResult(tc.ToolCallID, "No matching memories found."), nil
	}

	var b strings.Builder
	for _, m := range result.Matches {
		fmt.Fprintf(&b, "- [%s] (%.0f%%) %s\n", m.Memory.Kind, m.Score*100, m.Memory.Content)
	}
	return models.TextResult(tc.ToolCallID, strings.TrimRight(b.String(), "\n")), nil
}
