// Package subagent builds constrained child agents from stored
// configurations, runs delegated tasks against them, and reduces oversized
// responses by truncation or LLM compaction.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn/internal/agent"
	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/internal/tools"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// defaultMaxIterations applies when neither the agent config nor the spawner
// default specifies a cap.
const defaultMaxIterations = 10

// taskPreviewLen bounds the task text carried on SubagentStarted events.
const taskPreviewLen = 200

// Constraints restrict what a spawned agent may do.
type Constraints struct {
	// Tools names the parent tools the agent may use.
	Tools []string `yaml:"tools" json:"tools"`
	// MaxIterations overrides the spawner default when > 0.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

// AgentConfig is a stored subagent definition.
type AgentConfig struct {
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description"`
	SystemPrompt string       `yaml:"system_prompt" json:"system_prompt"`
	Model        string       `yaml:"model" json:"model"`
	// Constraints being absent means the spawned agent gets no tools.
	Constraints *Constraints `yaml:"constraints" json:"constraints"`
}

// DelegationOutcome is the canonical result of a delegation.
type DelegationOutcome struct {
	Kind OutcomeKind

	// Success payload.
	Result *Result

	// UnknownAgent payload.
	Name      string
	Available []string

	// Error payload.
	Message string
}

// OutcomeKind discriminates delegation outcomes.
type OutcomeKind string

const (
	// OutcomeSuccess means the agent completed (possibly with a reduced result).
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeUnknownAgent means no configuration matched the requested name.
	OutcomeUnknownAgent OutcomeKind = "unknown_agent"
	// OutcomeError means spawning or execution failed.
	OutcomeError OutcomeKind = "error"
)

// Result carries a completed delegation's (possibly reduced) output.
type Result struct {
	Text        string `json:"text"`
	Success     bool   `json:"success"`
	Turns       int    `json:"turns"`
	DurationMS  int64  `json:"duration_ms"`
	Truncated   bool   `json:"truncated"`
	Compacted   bool   `json:"compacted"`
	OriginalLen int    `json:"original_len,omitempty"`
}

// Spawner constructs constrained agents over the parent's registry and backend.
type Spawner struct {
	mu      sync.RWMutex
	configs map[string]AgentConfig

	parentTools *tools.Registry
	backend     llm.Provider
	hooks       *hooks.Dispatcher

	defaultMaxIterations int
	compaction           CompactionConfig
}

// NewSpawner creates a spawner sharing the parent's tool registry and backend.
func NewSpawner(parentTools *tools.Registry, backend llm.Provider) *Spawner {
	return &Spawner{
		configs:              make(map[string]AgentConfig),
		parentTools:          parentTools,
		backend:              backend,
		defaultMaxIterations: defaultMaxIterations,
		compaction:           DefaultCompactionConfig(),
	}
}

// WithDefaultMaxIterations sets the fallback iteration cap for spawned agents.
func (s *Spawner) WithDefaultMaxIterations(n int) *Spawner {
	if n > 0 {
		s.defaultMaxIterations = n
	}
	return s
}

// WithCompaction configures LLM result compaction.
func (s *Spawner) WithCompaction(cfg CompactionConfig) *Spawner {
	s.compaction = cfg
	return s
}

// WithHooks attaches a hook dispatcher for Subagent* events.
func (s *Spawner) WithHooks(dispatcher *hooks.Dispatcher) *Spawner {
	s.hooks = dispatcher
	return s
}

// RegisterAgent stores (or replaces) an agent configuration.
func (s *Spawner) RegisterAgent(cfg AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Name] = cfg
}

// AgentNames lists the registered configurations, sorted.
func (s *Spawner) AgentNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAgent reports whether a configuration exists for the name.
func (s *Spawner) HasAgent(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.configs[name]
	return ok
}

// Spawn builds a constrained engine from a stored configuration.
//
// The spawned agent's tool set is the parent registry filtered by
// constraints.tools; absent constraints mean no tools at all. The system
// prompt is the configuration's text verbatim, and the backend is shared with
// the parent.
func (s *Spawner) Spawn(cfg AgentConfig) *agent.Engine {
	registry := tools.NewRegistry()
	if cfg.Constraints != nil {
		registry = s.parentTools.FilteredByNames(cfg.Constraints.Tools)
	}

	maxIterations := s.defaultMaxIterations
	if cfg.Constraints != nil && cfg.Constraints.MaxIterations > 0 {
		maxIterations = cfg.Constraints.MaxIterations
	}

	engineCfg := agent.DefaultConfig()
	engineCfg.Model = cfg.Model
	engineCfg.SystemPrompt = cfg.SystemPrompt
	engineCfg.MaxIterations = maxIterations

	engine := agent.New(s.backend, registry, engineCfg)
	if s.hooks != nil {
		engine = engine.WithHooks(s.hooks)
	}
	return engine
}

// Delegate runs a task against the named agent and reduces the result.
//
// The parent context preamble is truncated to the context budget before the
// spawned agent sees it. maxTurns, when > 0, overrides the configuration's
// iteration cap for this delegation only.
func (s *Spawner) Delegate(ctx context.Context, agentName, task, parentContext string, maxTurns int) DelegationOutcome {
	s.mu.RLock()
	cfg, ok := s.configs[agentName]
	s.mu.RUnlock()
	if !ok {
		return DelegationOutcome{Kind: OutcomeUnknownAgent, Name: agentName, Available: s.AgentNames()}
	}

	if maxTurns > 0 {
		constraints := Constraints{}
		if cfg.Constraints != nil {
			constraints = *cfg.Constraints
		}
		constraints.MaxIterations = maxTurns
		cfg.Constraints = &constraints
	}

	engine := s.Spawn(cfg)

	session := models.NewSession("scratch")
	if parentContext != "" {
		session.ContextPreamble = "## Context from parent session\n\n" + TruncateContext(parentContext, DefaultMaxContextLen)
	}

	start := time.Now()
	resp, err := engine.Turn(ctx, session, task)
	if err != nil {
		return DelegationOutcome{Kind: OutcomeError, Message: fmt.Sprintf("Agent '%s' execution failed: %v", agentName, err)}
	}
	durationMS := time.Since(start).Milliseconds()

	result := s.reduceResult(ctx, resp.Text)
	result.Success = !resp.Truncated
	result.Turns = resp.Iterations
	result.DurationMS = durationMS

	return DelegationOutcome{Kind: OutcomeSuccess, Result: &result}
}

// reduceResult applies the threshold/compaction/truncation policy to an
// agent's output text.
func (s *Spawner) reduceResult(ctx context.Context, text string) Result {
	if len(text) <= s.compaction.Threshold {
		return Result{Text: text}
	}

	if s.compaction.Enabled && s.backend != nil {
		compacted, err := s.compactResult(ctx, text)
		if err == nil {
			return Result{Text: compacted, Compacted: true, OriginalLen: len(text)}
		}
		slog.Warn("compaction failed, falling back to truncation", "error", err)
	}

	truncated := TruncateResult(text, DefaultMaxResultLen)
	return Result{Text: truncated.Text, Truncated: truncated.Truncated, OriginalLen: truncated.OriginalLen}
}

// DelegateBackground runs a delegation in its own goroutine with a fresh
// session, firing SubagentStarted/SubagentCompleted hooks. Returns the task id
// tracking the operation.
func (s *Spawner) DelegateBackground(parentSessionID, agentName, task, parentContext string, onDone func(taskID string, outcome DelegationOutcome)) string {
	taskID := uuid.NewString()

	preview := task
	if len(preview) > taskPreviewLen {
		preview = preview[:taskPreviewLen]
	}
	if s.hooks != nil {
		s.hooks.SubagentStarted(context.Background(), parentSessionID, agentName, preview)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background delegation completion panicked",
					"agent", agentName,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		start := time.Now()
		outcome := func() (outcome DelegationOutcome) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("background delegation panicked",
						"agent", agentName,
						"parent_session", parentSessionID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					outcome = DelegationOutcome{
						Kind:    OutcomeError,
						Message: fmt.Sprintf("Agent '%s' panicked: %v", agentName, r),
					}
				}
			}()
			return s.Delegate(context.Background(), agentName, task, parentContext, 0)
		}()

		success := outcome.Kind == OutcomeSuccess
		resultPreview := ""
		switch outcome.Kind {
		case OutcomeSuccess:
			resultPreview = outcome.Result.Text
		case OutcomeUnknownAgent:
			resultPreview = "unknown agent: " + outcome.Name
		case OutcomeError:
			resultPreview = outcome.Message
		}
		if len(resultPreview) > taskPreviewLen {
			resultPreview = resultPreview[:taskPreviewLen]
		}

		if s.hooks != nil {
			s.hooks.SubagentCompleted(context.Background(), parentSessionID, agentName, resultPreview, time.Since(start).Milliseconds(), success)
		}
		if onDone != nil {
			onDone(taskID, outcome)
		}
	}()

	return taskID
}
