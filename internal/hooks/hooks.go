// Package hooks provides lifecycle event dispatch for the runtime.
//
// Handlers are user-registered. Only PreToolUse may veto execution; every
// other hook is informational and handler failures are logged and ignored.
package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// PreToolUseDecision is the outcome of a PreToolUse handler.
type PreToolUseDecision struct {
	Kind   DecisionKind
	Reason string
	Text   string
}

// DecisionKind discriminates PreToolUse outcomes.
type DecisionKind string

const (
	// DecisionAllow lets the tool run.
	DecisionAllow DecisionKind = "allow"
	// DecisionBlock vetoes the tool; the registry synthesizes an error result.
	DecisionBlock DecisionKind = "block"
	// DecisionInfo allows the tool and attaches informational text.
	DecisionInfo DecisionKind = "info"
)

// Allow is the default decision.
func Allow() PreToolUseDecision {
	return PreToolUseDecision{Kind: DecisionAllow}
}

// Block vetoes tool execution with a reason.
func Block(reason string) PreToolUseDecision {
	return PreToolUseDecision{Kind: DecisionBlock, Reason: reason}
}

// Info allows execution and surfaces text to the caller.
func Info(text string) PreToolUseDecision {
	return PreToolUseDecision{Kind: DecisionInfo, Text: text}
}

// Handler receives lifecycle events. Implement only the methods you need by
// embedding BaseHandler.
type Handler interface {
	SessionStart(ctx context.Context, sessionID string) error
	SessionEnd(ctx context.Context, sessionID string, turnCount int) error
	PreToolUse(ctx context.Context, toolName string, input json.RawMessage) PreToolUseDecision
	PostToolUse(ctx context.Context, toolName string, input json.RawMessage, output string) error
	SubagentStarted(ctx context.Context, parentID, agentName, taskPreview string) error
	SubagentCompleted(ctx context.Context, parentID, agentName, resultPreview string, durationMS int64, success bool) error
}

// BaseHandler is a no-op Handler for embedding.
type BaseHandler struct{}

func (BaseHandler) SessionStart(context.Context, string) error { return nil }
func (BaseHandler) SessionEnd(context.Context, string, int) error { return nil }
func (BaseHandler) PreToolUse(context.Context, string, json.RawMessage) PreToolUseDecision {
	return Allow()
}
func (BaseHandler) PostToolUse(context.Context, string, json.RawMessage, string) error { return nil }
func (BaseHandler) SubagentStarted(context.Context, string, string, string) error      { return nil }
func (BaseHandler) SubagentCompleted(context.Context, string, string, string, int64, bool) error {
	return nil
}

// Dispatcher fans lifecycle events out to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a handler. Handlers are invoked in registration order.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *Dispatcher) snapshot() []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, len(d.handlers))
	copy(out, d.handlers)
	return out
}

// SessionStart fires when a session is first created.
func (d *Dispatcher) SessionStart(ctx context.Context, sessionID string) {
	for _, h := range d.snapshot() {
		if err := h.SessionStart(ctx, sessionID); err != nil {
			slog.Warn("SessionStart hook failed", "session_id", sessionID, "error", err)
		}
	}
}

// SessionEnd fires when a session is closed.
func (d *Dispatcher) SessionEnd(ctx context.Context, sessionID string, turnCount int) {
	for _, h := range d.snapshot() {
		if err := h.SessionEnd(ctx, sessionID, turnCount); err != nil {
			slog.Warn("SessionEnd hook failed", "session_id", sessionID, "error", err)
		}
	}
}

// PreToolUse fires before tool execution. The first Block decision wins; Info
// texts from earlier handlers are carried through on an eventual Allow.
func (d *Dispatcher) PreToolUse(ctx context.Context, toolName string, input json.RawMessage) PreToolUseDecision {
	var infoText string
	for _, h := range d.snapshot() {
		decision := h.PreToolUse(ctx, toolName, input)
		switch decision.Kind {
		case DecisionBlock:
			return decision
		case DecisionInfo:
			if infoText == "" {
				infoText = decision.Text
			}
		}
	}
	if infoText != "" {
		return Info(infoText)
	}
	return Allow()
}

// PostToolUse fires after tool execution completes.
func (d *Dispatcher) PostToolUse(ctx context.Context, toolName string, input json.RawMessage, output string) {
	for _, h := range d.snapshot() {
		if err := h.PostToolUse(ctx, toolName, input, output); err != nil {
			slog.Warn("PostToolUse hook failed", "tool", toolName, "error", err)
		}
	}
}

// SubagentStarted fires when a background delegation begins.
func (d *Dispatcher) SubagentStarted(ctx context.Context, parentID, agentName, taskPreview string) {
	for _, h := range d.snapshot() {
		if err := h.SubagentStarted(ctx, parentID, agentName, taskPreview); err != nil {
			slog.Warn("SubagentStarted hook failed", "agent", agentName, "error", err)
		}
	}
}

// SubagentCompleted fires when a background delegation finishes.
func (d *Dispatcher) SubagentCompleted(ctx context.Context, parentID, agentName, resultPreview string, durationMS int64, success bool) {
	for _, h := range d.snapshot() {
		if err := h.SubagentCompleted(ctx, parentID, agentName, resultPreview, durationMS, success); err != nil {
			slog.Warn("SubagentCompleted hook failed", "agent", agentName, "error", err)
		}
	}
}
