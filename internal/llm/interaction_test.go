package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInteractionLoggerWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "interactions.jsonl")
	logger, err := NewInteractionLogger(path)
	if err != nil {
		t.Fatalf("NewInteractionLogger() error = %v", err)
	}
	defer logger.Close()

	req := &CompletionRequest{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolDefinition{{Name: "shell"}},
	}
	resp := &CompletionResponse{
		Content:    []ContentBlock{TextBlock("hello")},
		StopReason: StopEndTurn,
		Usage:      Usage{InputTokens: 12, OutputTokens: 3},
	}

	for i := 0; i < 2; i++ {
		if err := logger.Log(RecordExchange(req, resp, 150*time.Millisecond)); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var record InteractionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if record.Model != "test-model" || record.MessageCount != 1 || record.ToolCount != 1 {
			t.Fatalf("record fields lost: %+v", record)
		}
		if record.Usage.InputTokens != 12 || record.DurationMS != 150 {
			t.Fatalf("usage or timing lost: %+v", record)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
