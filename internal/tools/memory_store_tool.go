package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dylanbstorey/arawn/internal/memory"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// MemoryStoreTool lets the model persist a note into long-term memory.
type MemoryStoreTool struct {
	store    memory.Store
	embedder memory.Embedder
}

// NewMemoryStoreTool creates the memory store tool.
func NewMemoryStoreTool(store memory.Store, embedder memory.Embedder) *MemoryStoreTool {
	return &MemoryStoreTool{store: store, embedder: embedder}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }

func (t *MemoryStoreTool) Description() string {
	return "Store a note in long-term memory so it can be recalled in future sessions."
}

func (t *MemoryStoreTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The content to remember."}
		},
		"required": ["content"]
	}`)
}

func (t *MemoryStoreTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	content, perr := params.RequiredString("content", "provide the content to remember")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	var vec []float32
	if t.embedder != nil {
		embedded, err := t.embedder.Embed(ctx, content)
		if err == nil {
			vec = embedded
		}
	}

	mem := &models.Memory{
		Content:         content,
		Kind:            models.MemoryNote,
		SourceSessionID: tc.SessionID,
		CreatedAt:       time.Now(),
		Embedding:       vec,
	}
	if err := t.store.InsertMemoryWithEmbedding(ctx, mem, vec); err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("memory store failed: %v", err), true), nil
	}
	return models.TextResult(tc.ToolCallID, "Stored memory "+mem.ID), nil
}
