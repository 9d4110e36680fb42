package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// Web fetch limits.
const (
	defaultFetchTimeout = 30 * time.Second
	// maxInMemoryResponse caps what is buffered in memory; larger bodies are
	// streamed to a temp file and a metadata result is returned instead.
	maxInMemoryResponse = 10 * 1024 * 1024
)

// WebFetchTool retrieves a URL over HTTP(S).
type WebFetchTool struct {
	client  *http.Client
	tempDir string
}

// NewWebFetchTool creates a web fetch tool with the default timeout.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client:  &http.Client{Timeout: defaultFetchTimeout},
		tempDir: filepath.Join(os.TempDir(), "arawn_downloads"),
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch the contents of a URL. Responses over 10MB are saved to a temporary file and described instead of returned inline."
}

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch (http or https)."},
			"timeout_secs": {
				"type": "integer",
				"description": "Request timeout in seconds. Defaults to 30.",
				"minimum": 1,
				"maximum": 300
			}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	url, perr := params.RequiredString("url", "provide the URL to fetch")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	timeoutSecs, perr := params.BoundedInt("timeout_secs", int64(defaultFetchTimeout/time.Second), 1, 300)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("invalid URL: %v", err), true), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return CancelledResult(tc.ToolCallID), nil
		}
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("fetch failed: %v", err), true), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("fetch failed: HTTP %d for %s", resp.StatusCode, url), true), nil
	}

	// Read one byte past the in-memory cap to detect oversized bodies.
	limited := io.LimitReader(resp.Body, maxInMemoryResponse+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() != nil {
			return CancelledResult(tc.ToolCallID), nil
		}
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("read failed: %v", err), true), nil
	}

	if len(body) > maxInMemoryResponse {
		return t.streamToTempFile(tc, url, resp.Header.Get("Content-Type"), body, resp.Body)
	}

	return models.TextResult(tc.ToolCallID, string(body)), nil
}

// streamToTempFile writes the oversized body to a temp file and returns a
// metadata result describing it.
func (t *WebFetchTool) streamToTempFile(tc *Context, url, contentType string, prefix []byte, rest io.Reader) (models.ToolResult, error) {
	if err := os.MkdirAll(t.tempDir, 0o755); err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("failed to create temp directory: %v", err), true), nil
	}
	path := filepath.Join(t.tempDir, uuid.NewString())

	f, err := os.Create(path)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("failed to create temp file: %v", err), true), nil
	}
	defer f.Close()

	written, err := f.Write(prefix)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("failed to write temp file: %v", err), true), nil
	}
	streamed, err := io.Copy(f, rest)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("failed to stream response body: %v", err), true), nil
	}

	meta, _ := json.Marshal(map[string]any{
		"url":          url,
		"content_type": contentType,
		"size_bytes":   int64(written) + streamed,
		"saved_to":     path,
		"note":         "response exceeded the in-memory limit and was saved to disk",
	})
	return models.JSONResult(tc.ToolCallID, meta), nil
}
