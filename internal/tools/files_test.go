package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		SessionID:    "sess1",
		WorkstreamID: "scratch",
		AllowedPaths: []string{t.TempDir()},
		ToolCallID:   "c1",
	}
}

func TestFileWriteThenRead(t *testing.T) {
	tc := fileContext(t)
	write := &FileWriteTool{}
	read := &FileReadTool{}

	params, _ := json.Marshal(map[string]string{"path": "notes/a.txt", "content": "hello"})
	result, err := write.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("write error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("write failed: %s", result.Message)
	}

	params, _ = json.Marshal(map[string]string{"path": "notes/a.txt"})
	result, err = read.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if result.Text() != "hello" {
		t.Fatalf("expected %q, got %q", "hello", result.Text())
	}
}

func TestFileReadEscapeRejected(t *testing.T) {
	tc := fileContext(t)
	read := &FileReadTool{}

	params, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	result, err := read.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("path escape must be rejected")
	}
}

func TestFileReadAbsoluteOutsideAllowedRejected(t *testing.T) {
	tc := fileContext(t)
	read := &FileReadTool{}

	params, _ := json.Marshal(map[string]string{"path": "/etc/hostname"})
	result, err := read.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("absolute path outside allowed roots must be rejected")
	}
}

func TestFileListSorted(t *testing.T) {
	tc := fileContext(t)
	root := tc.AllowedPaths[0]
	for _, name := range []string{"zebra.txt", "alpha.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	list := &FileListTool{}
	result, err := list.Execute(context.Background(), json.RawMessage(`{}`), tc)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	lines := strings.Split(result.Text(), "\n")
	want := []string{"alpha.txt", "dir/", "zebra.txt"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestFileToolsNoAllowedPaths(t *testing.T) {
	tc := &Context{SessionID: "s", ToolCallID: "c1"}
	read := &FileReadTool{}
	params, _ := json.Marshal(map[string]string{"path": "a.txt"})
	result, err := read.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("no allowed paths must be an error result")
	}
}

func TestShellToolRunsCommand(t *testing.T) {
	tc := fileContext(t)
	shell := NewShellTool()

	params, _ := json.Marshal(map[string]any{"command": "echo hello-shell"})
	result, err := shell.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("shell error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("shell failed: %s", result.Message)
	}
	if !strings.Contains(result.Text(), "hello-shell") {
		t.Fatalf("unexpected output %q", result.Text())
	}
}

func TestShellToolTimeoutBounds(t *testing.T) {
	tc := fileContext(t)
	shell := NewShellTool()

	params, _ := json.Marshal(map[string]any{"command": "true", "timeout_secs": 9999})
	result, err := shell.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("shell error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("timeout above 3600 must be rejected")
	}
	if !strings.Contains(result.Message, "between 1 and 3600") {
		t.Fatalf("expected bounds in message, got %q", result.Message)
	}
}

func TestShellToolCancelled(t *testing.T) {
	tc := fileContext(t)
	shell := NewShellTool()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params, _ := json.Marshal(map[string]any{"command": "echo hi"})
	result, err := shell.Execute(ctx, params, tc)
	if err != nil {
		t.Fatalf("shell error = %v", err)
	}
	if !result.IsError() || result.Message != "Operation cancelled" {
		t.Fatalf("expected cancellation result, got %+v", result)
	}
	if !result.Recoverable {
		t.Fatalf("cancellation is recoverable")
	}
}

func TestThinkTool(t *testing.T) {
	tc := fileContext(t)
	think := &ThinkTool{}
	params, _ := json.Marshal(map[string]string{"thought": "planning"})
	result, err := think.Execute(context.Background(), params, tc)
	if err != nil || result.IsError() {
		t.Fatalf("think failed: %v %+v", err, result)
	}

	// Missing thought is a validation error with a hint.
	result, _ = think.Execute(context.Background(), json.RawMessage(`{}`), tc)
	if !result.IsError() {
		t.Fatalf("missing thought must error")
	}
	if !strings.Contains(result.Message, "thought") {
		t.Fatalf("error must name the parameter: %q", result.Message)
	}
}

func TestResolveWithinAllowedAcceptsAbsoluteInsideRoot(t *testing.T) {
	tc := fileContext(t)
	inside := filepath.Join(tc.AllowedPaths[0], "x.txt")
	got, err := resolveWithinAllowed(inside, tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != inside {
		t.Fatalf("expected %q, got %q", inside, got)
	}
}

func ExampleParams_RequiredString() {
	params, _ := DecodeParams(json.RawMessage(`{"path": "a.txt"}`))
	path, _ := params.RequiredString("path", "provide the file path")
	fmt.Println(path)
	// Output: a.txt
}
