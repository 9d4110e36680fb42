package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// grepMaxMatches bounds result size before sanitization even sees it.
const grepMaxMatches = 1000

// GrepTool searches file contents under the session's allowed paths with a
// regular expression.
type GrepTool struct{}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression. Returns matching lines as path:line:text."
}

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regular expression to search for."},
			"path": {"type": "string", "description": "Directory to search, relative to the work directory. Defaults to the root."}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	pattern, perr := params.RequiredString("pattern", "provide the regular expression to search for")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID,
			InvalidValue("pattern", pattern, "must be a valid regular expression: "+err.Error()).Error(), true), nil
	}

	root, rerr := resolveWithinAllowed(params.OptionalString("path", "."), tc)
	if rerr != nil {
		return models.ErrorResult(tc.ToolCallID, rerr.Error(), true), nil
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if matches >= grepMaxMatches {
			return filepath.SkipAll
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(root, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if re.MatchString(text) {
				fmt.Fprintf(&b, "%s:%d:%s\n", rel, line, text)
				matches++
				if matches >= grepMaxMatches {
					break
				}
			}
		}
		return nil
	})
	if ctx.Err() != nil {
		return CancelledResult(tc.ToolCallID), nil
	}
	if walkErr != nil && walkErr != filepath.SkipAll {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("search failed: %v", walkErr), true), nil
	}

	if matches == 0 {
		return models.TextResult(tc.ToolCallID, "No matches found."), nil
	}
	return models.TextResult(tc.ToolCallID, strings.TrimRight(b.String(), "\n")), nil
}

// GlobTool lists files matching a glob pattern under the session's allowed
// paths.
type GlobTool struct{}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "List files matching a glob pattern, e.g. **/*.go or docs/*.md."
}

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Glob pattern relative to the work directory."}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, raw json.RawMessage, tc *Context) (models.ToolResult, error) {
	if res, done := Cancelled(ctx, tc); done {
		return res, nil
	}
	params, perr := DecodeParams(raw)
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	pattern, perr := params.RequiredString("pattern", "provide the glob pattern to match")
	if perr != nil {
		return models.ErrorResult(tc.ToolCallID, perr.Error(), true), nil
	}
	if len(tc.AllowedPaths) == 0 {
		return models.ErrorResult(tc.ToolCallID, "no filesystem access configured for this session", true), nil
	}

	root := tc.AllowedPaths[0]
	var names []string

	// "**/" prefixes walk the whole tree; plain patterns match relative paths
	// directly.
	if strings.Contains(pattern, "**") {
		suffix := strings.TrimPrefix(pattern, "**/")
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if ok, _ := filepath.Match(suffix, filepath.Base(rel)); ok {
				names = append(names, rel)
			}
			return nil
		})
		if err != nil {
			return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("glob failed: %v", err), true), nil
		}
	} else {
		full, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return models.ErrorResult(tc.ToolCallID,
				InvalidValue("pattern", pattern, "must be a valid glob pattern").Error(), true), nil
		}
		for _, path := range full {
			if rel, err := filepath.Rel(root, path); err == nil {
				names = append(names, rel)
			}
		}
	}

	if len(names) == 0 {
		return models.TextResult(tc.ToolCallID, "No files matched."), nil
	}
	return models.TextResult(tc.ToolCallID, strings.Join(names, "\n")), nil
}
