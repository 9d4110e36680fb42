package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InteractionRecord is one request/response exchange written to the
// interaction log.
type InteractionRecord struct {
	Timestamp    time.Time  `json:"timestamp"`
	Model        string     `json:"model"`
	MessageCount int        `json:"message_count"`
	ToolCount    int        `json:"tool_count"`
	StopReason   StopReason `json:"stop_reason"`
	Usage        Usage      `json:"usage"`
	DurationMS   int64      `json:"duration_ms"`
	ResponseLen  int        `json:"response_len"`
}

// RecordExchange builds an interaction record from a completed exchange.
func RecordExchange(req *CompletionRequest, resp *CompletionResponse, duration time.Duration) InteractionRecord {
	return InteractionRecord{
		Timestamp:    time.Now(),
		Model:        req.Model,
		MessageCount: len(req.Messages),
		ToolCount:    len(req.Tools),
		StopReason:   resp.StopReason,
		Usage:        resp.Usage,
		DurationMS:   duration.Milliseconds(),
		ResponseLen:  len(resp.Text()),
	}
}

// InteractionLogger appends exchange records to a JSONL file. Safe for
// concurrent use.
type InteractionLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewInteractionLogger opens (or creates) the log file, creating parent
// directories as needed.
func NewInteractionLogger(path string) (*InteractionLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("llm: failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to open interaction log: %w", err)
	}
	return &InteractionLogger{file: file}, nil
}

// Log appends one record as a JSON line.
func (l *InteractionLogger) Log(record InteractionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("llm: failed to encode interaction record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("llm: failed to write interaction record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *InteractionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
