package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// ErrToolNotFound is returned by Execute when no tool has the requested name.
type ErrToolNotFound struct {
	Name string
}

func (e *ErrToolNotFound) Error() string {
	return "tool not found: " + e.Name
}

// Registry maps tool names to Tool capabilities and per-tool output-config
// overrides. Thread-safe; FilteredByNames produces restricted snapshots for
// constrained subagents without mutating the parent.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	overrides map[string]OutputConfig
	schemas   map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		overrides: make(map[string]OutputConfig),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool of the same name. The
// tool's parameter schema is compiled for validation; an uncompilable schema
// is logged and the tool runs without schema validation.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.tools[name] = tool

	schema, err := jsonschema.CompileString(name+".json", string(tool.Parameters()))
	if err != nil {
		slog.Warn("tool schema did not compile, skipping validation", "tool", name, "error", err)
		delete(r.schemas, name)
		return
	}
	r.schemas[name] = schema
}

// SetOutputConfig installs a per-tool output override, taking precedence over
// the hard-coded defaults.
func (r *Registry) SetOutputConfig(name string, cfg OutputConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = cfg
}

// OutputConfigFor resolves the effective output config for a tool name.
func (r *Registry) OutputConfigFor(name string) OutputConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.overrides[name]; ok {
		return cfg
	}
	return outputConfigForTool(name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted for stable prompts.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns tool definitions for the LLM request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, name := range r.namesLocked() {
		tool := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return defs
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilteredByNames returns a new registry containing only the named tools plus
// their output overrides. Unknown names are silently dropped.
func (r *Registry) FilteredByNames(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := NewRegistry()
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		filtered.tools[name] = tool
		if schema, ok := r.schemas[name]; ok {
			filtered.schemas[name] = schema
		}
		if cfg, ok := r.overrides[name]; ok {
			filtered.overrides[name] = cfg
		}
	}
	return filtered
}

// Execute resolves, validates, runs, and sanitizes a tool invocation.
//
// A missing tool or a vetoing PreToolUse hook produces a recoverable error
// result rather than a Go error; the turn continues and the model sees the
// failure. Only infrastructure-level failures return a non-nil error.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, tc *Context) (models.ToolResult, error) {
	result, err := r.ExecuteRaw(ctx, name, params, tc)
	if err != nil {
		return result, err
	}
	return SanitizeResult(result, r.OutputConfigFor(name)), nil
}

// ExecuteRaw is Execute without output sanitization, for callers that
// deliberately want the unmodified payload.
func (r *Registry) ExecuteRaw(ctx context.Context, name string, params json.RawMessage, tc *Context) (models.ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		err := &ErrToolNotFound{Name: name}
		return models.ErrorResult(tc.ToolCallID, err.Error(), true), nil
	}

	if tc.Hooks != nil {
		decision := tc.Hooks.PreToolUse(ctx, name, params)
		if decision.Kind == hooks.DecisionBlock {
			return models.ErrorResult(tc.ToolCallID, "Blocked by hook: "+decision.Reason, true), nil
		}
	}

	if schema != nil {
		if verr := validateAgainstSchema(schema, params); verr != nil {
			return models.ErrorResult(tc.ToolCallID, verr.Error(), true), nil
		}
	}

	result, err := tool.Execute(ctx, params, tc)
	if err != nil {
		return models.ErrorResult(tc.ToolCallID, fmt.Sprintf("tool %s failed: %v", name, err), true), nil
	}
	if result.ToolCallID == "" {
		result.ToolCallID = tc.ToolCallID
	}

	if tc.Hooks != nil {
		tc.Hooks.PostToolUse(ctx, name, params, result.Text())
	}
	return result, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, params json.RawMessage) error {
	var decoded any
	raw := params
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return InvalidValue("(root)", string(raw), "arguments must be valid JSON: "+err.Error())
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	return nil
}
