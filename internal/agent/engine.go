// Package agent implements the conversation-turn engine: the LLM-tool
// iteration loop that drives one user message to completion.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/internal/memory"
	"github.com/dylanbstorey/arawn/internal/tools"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// TruncationMarker is the assistant text recorded when a turn exceeds the
// iteration cap.
const TruncationMarker = "[Response truncated: max iterations exceeded]"

// Config controls the turn loop.
type Config struct {
	// Model is the model id sent to the backend.
	Model string
	// MaxIterations bounds LLM calls per turn. Default: 10.
	MaxIterations int
	// MaxTokens bounds each response. Default: 4096.
	MaxTokens int
	// MaxContextTokens is the model's context window, used to judge the
	// running estimate. Required by config validation.
	MaxContextTokens int
	// SystemPrompt is sent with every request.
	SystemPrompt string
	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MaxTokens:     4096,
	}
}

// RecallConfig controls active recall injection.
type RecallConfig struct {
	Enabled   bool
	Limit     int
	Threshold float32
}

// DefaultRecallConfig returns recall defaults: enabled, 5 memories, 0.3 floor.
func DefaultRecallConfig() RecallConfig {
	return RecallConfig{Enabled: true, Limit: 5, Threshold: 0.3}
}

// Response is the outcome of a completed turn.
type Response struct {
	Text        string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
	Iterations  int
	Usage       llm.Usage
	Truncated   bool
}

// Engine drives turns against an LLM backend and a tool registry.
type Engine struct {
	backend  llm.Provider
	registry *tools.Registry
	config   Config

	memoryStore memory.Store
	embedder    memory.Embedder
	recall      RecallConfig

	hooks        *hooks.Dispatcher
	interactions *llm.InteractionLogger
}

// New creates an engine. A nil registry is replaced by an empty one.
func New(backend llm.Provider, registry *tools.Registry, config Config) *Engine {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Engine{
		backend:  backend,
		registry: registry,
		config:   config,
		recall:   RecallConfig{},
	}
}

// WithMemory enables active recall using the given store and embedder.
func (e *Engine) WithMemory(store memory.Store, embedder memory.Embedder, recall RecallConfig) *Engine {
	e.memoryStore = store
	e.embedder = embedder
	e.recall = recall
	return e
}

// WithHooks attaches a hook dispatcher.
func (e *Engine) WithHooks(dispatcher *hooks.Dispatcher) *Engine {
	e.hooks = dispatcher
	return e
}

// WithInteractionLogger records every LLM exchange to a JSONL log.
func (e *Engine) WithInteractionLogger(logger *llm.InteractionLogger) *Engine {
	e.interactions = logger
	return e
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Backend returns the engine's LLM collaborator.
func (e *Engine) Backend() llm.Provider {
	return e.backend
}

// Turn drives one user message to completion.
//
// The iteration counter starts at 1 and increments once per LLM call. Crossing
// MaxIterations truncates the turn with TruncationMarker instead of calling
// the backend again. Tool failures are fed back into the transcript and never
// terminate the turn; only transport errors (other than tool-validation) do.
func (e *Engine) Turn(ctx context.Context, session *models.Session, userMessage string) (*Response, error) {
	turn := session.StartTurn(userMessage)
	log := slog.With("session_id", session.ID, "turn_id", turn.ID)
	log.Info("turn started", "message_len", len(userMessage))

	messages := e.buildMessages(session)
	log.Debug("context: initial history loaded",
		"message_count", len(messages),
		"estimated_tokens", llm.EstimateMessagesTokens(messages),
		"max_context_tokens", e.config.MaxContextTokens,
	)

	if recallMsg, ok := e.performRecall(ctx, userMessage); ok {
		pos := min(1, len(messages))
		messages = append(messages[:pos], append([]llm.Message{recallMsg}, messages[pos:]...)...)
	}

	var (
		usage          llm.Usage
		iterations     int
		allToolCalls   []models.ToolCall
		allToolResults []models.ToolResult
	)

	for {
		iterations++

		if iterations > e.config.MaxIterations {
			log.Warn("max iterations exceeded", "iterations", iterations)
			turn.ToolCalls = allToolCalls
			turn.ToolResults = allToolResults
			turn.Iterations = iterations
			turn.Truncated = true
			turn.Complete(TruncationMarker)
			return &Response{
				Text:        TruncationMarker,
				ToolCalls:   allToolCalls,
				ToolResults: allToolResults,
				Iterations:  iterations,
				Usage:       usage,
				Truncated:   true,
			}, nil
		}

		req := e.buildRequest(messages, session.ContextPreamble)
		log.Debug("calling LLM", "iteration", iterations, "messages", len(messages), "tools", e.registry.Len())

		callStart := time.Now()
		resp, err := e.backend.Complete(ctx, req)
		if err != nil {
			if tve, ok := llm.AsToolValidationError(err); ok {
				log.Warn("tool validation error, injecting feedback and retrying",
					"iteration", iterations, "invalid_tool", tve.ToolName)
				messages = append(messages, llm.UserMessage(toolValidationFeedback(tve.ToolName, e.registry.Names())))
				continue
			}
			log.Error("LLM call failed", "iteration", iterations, "error", err)
			return nil, err
		}

		usage.Add(resp.Usage)
		if e.interactions != nil {
			if lerr := e.interactions.Log(llm.RecordExchange(req, resp, time.Since(callStart))); lerr != nil {
				log.Warn("failed to write interaction log", "error", lerr)
			}
		}

		if resp.HasToolUse() {
			toolCalls, toolResults := e.executeTools(ctx, session, resp.ToolUses())
			allToolCalls = append(allToolCalls, toolCalls...)
			allToolResults = append(allToolResults, toolResults...)

			messages = append(messages, llm.AssistantMessage(resp.Content...))
			resultBlocks := make([]llm.ContentBlock, len(toolResults))
			for i, r := range toolResults {
				resultBlocks[i] = llm.ToolResultBlock(r.ToolCallID, r.Text(), r.IsError())
			}
			messages = append(messages, llm.ToolResultsMessage(resultBlocks...))

			log.Debug("context: after tool results",
				"iteration", iterations,
				"message_count", len(messages),
				"estimated_tokens", llm.EstimateMessagesTokens(messages),
			)
			continue
		}

		text := resp.Text()
		log.Info("turn completed",
			"iterations", iterations,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
			"tool_calls", len(allToolCalls),
		)

		turn.ToolCalls = allToolCalls
		turn.ToolResults = allToolResults
		turn.Iterations = iterations
		turn.Complete(text)

		return &Response{
			Text:        text,
			ToolCalls:   allToolCalls,
			ToolResults: allToolResults,
			Iterations:  iterations,
			Usage:       usage,
			Truncated:   false,
		}, nil
	}
}

// buildMessages flattens the session history into provider messages.
func (e *Engine) buildMessages(session *models.Session) []llm.Message {
	var messages []llm.Message
	for _, turn := range session.Turns {
		messages = append(messages, llm.UserMessage(turn.UserMessage))
		if !turn.Completed() {
			continue
		}
		if len(turn.ToolCalls) > 0 {
			var uses []llm.ContentBlock
			for _, tc := range turn.ToolCalls {
				uses = append(uses, llm.ToolUseBlock(tc.ID, tc.Name, tc.Input))
			}
			messages = append(messages, llm.AssistantMessage(uses...))
			var results []llm.ContentBlock
			for _, tr := range turn.ToolResults {
				results = append(results, llm.ToolResultBlock(tr.ToolCallID, tr.Text(), tr.IsError()))
			}
			messages = append(messages, llm.ToolResultsMessage(results...))
		}
		messages = append(messages, llm.AssistantMessage(llm.TextBlock(turn.AssistantResponse)))
	}
	return messages
}

func (e *Engine) buildRequest(messages []llm.Message, contextPreamble string) *llm.CompletionRequest {
	system := e.config.SystemPrompt
	if contextPreamble != "" {
		if system != "" {
			system = contextPreamble + "\n\n" + system
		} else {
			system = contextPreamble
		}
	}
	return &llm.CompletionRequest{
		Model:       e.config.Model,
		Messages:    messages,
		System:      system,
		Tools:       e.registry.Definitions(),
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}
}

// executeTools runs each requested tool in transcript order. Every call gets
// exactly one result with the matching id, in the same position.
func (e *Engine) executeTools(ctx context.Context, session *models.Session, uses []llm.ContentBlock) ([]models.ToolCall, []models.ToolResult) {
	toolCalls := make([]models.ToolCall, 0, len(uses))
	toolResults := make([]models.ToolResult, 0, len(uses))

	for _, use := range uses {
		call := models.ToolCall{ID: use.ID, Name: use.Name, Input: use.Input}
		toolCalls = append(toolCalls, call)

		tc := &tools.Context{
			SessionID:    session.ID,
			WorkstreamID: session.WorkstreamID,
			ToolCallID:   use.ID,
			Hooks:        e.hooks,
		}
		result, err := e.registry.Execute(ctx, use.Name, use.Input, tc)
		if err != nil {
			result = models.ErrorResult(use.ID, err.Error(), true)
		}
		toolResults = append(toolResults, result)
	}
	return toolCalls, toolResults
}
