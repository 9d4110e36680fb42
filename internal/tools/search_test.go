package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func searchContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":        "package main\n\nfunc main() {}\n",
		"util.go":        "package main\n\nfunc helper() {}\n",
		"docs/readme.md": "# Documentation\nfunc is mentioned here\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	return &Context{SessionID: "s", AllowedPaths: []string{root}, ToolCallID: "c1"}
}

func TestGrepFindsMatches(t *testing.T) {
	tc := searchContext(t)
	grep := &GrepTool{}

	params, _ := json.Marshal(map[string]string{"pattern": `func \w+\(\)`})
	result, err := grep.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("grep error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("grep failed: %s", result.Message)
	}
	out := result.Text()
	if !strings.Contains(out, "main.go:3:func main() {}") {
		t.Fatalf("missing match in output:\n%s", out)
	}
	if !strings.Contains(out, "util.go:3:func helper() {}") {
		t.Fatalf("missing helper match in output:\n%s", out)
	}
}

func TestGrepNoMatches(t *testing.T) {
	tc := searchContext(t)
	grep := &GrepTool{}
	params, _ := json.Marshal(map[string]string{"pattern": "nothing_matches_this"})
	result, err := grep.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("grep error = %v", err)
	}
	if result.Text() != "No matches found." {
		t.Fatalf("unexpected output %q", result.Text())
	}
}

func TestGrepInvalidPattern(t *testing.T) {
	tc := searchContext(t)
	grep := &GrepTool{}
	params, _ := json.Marshal(map[string]string{"pattern": "[unclosed"})
	result, err := grep.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("grep error = %v", err)
	}
	if !result.IsError() {
		t.Fatalf("invalid regex must produce a validation error result")
	}
	if !strings.Contains(result.Message, "pattern") {
		t.Fatalf("error must name the parameter: %q", result.Message)
	}
}

func TestGlobSimplePattern(t *testing.T) {
	tc := searchContext(t)
	glob := &GlobTool{}
	params, _ := json.Marshal(map[string]string{"pattern": "*.go"})
	result, err := glob.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("glob error = %v", err)
	}
	lines := strings.Split(result.Text(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 matches, got %v", lines)
	}
}

func TestGlobRecursivePattern(t *testing.T) {
	tc := searchContext(t)
	glob := &GlobTool{}
	params, _ := json.Marshal(map[string]string{"pattern": "**/*.md"})
	result, err := glob.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("glob error = %v", err)
	}
	if !strings.Contains(result.Text(), filepath.Join("docs", "readme.md")) {
		t.Fatalf("recursive glob missed nested file: %q", result.Text())
	}
}

func TestGlobNoMatches(t *testing.T) {
	tc := searchContext(t)
	glob := &GlobTool{}
	params, _ := json.Marshal(map[string]string{"pattern": "*.rs"})
	result, err := glob.Execute(context.Background(), params, tc)
	if err != nil {
		t.Fatalf("glob error = %v", err)
	}
	if result.Text() != "No files matched." {
		t.Fatalf("unexpected output %q", result.Text())
	}
}
