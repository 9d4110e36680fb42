package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// ChunkKind discriminates stream chunk variants.
type ChunkKind string

const (
	// ChunkTextDelta is a fragment of assistant text.
	ChunkTextDelta ChunkKind = "text_delta"
	// ChunkToolStart announces a tool invocation.
	ChunkToolStart ChunkKind = "tool_start"
	// ChunkToolOutput carries a tool's (sanitized) output.
	ChunkToolOutput ChunkKind = "tool_output"
	// ChunkToolEnd closes a tool invocation.
	ChunkToolEnd ChunkKind = "tool_end"
	// ChunkDone completes the stream.
	ChunkDone ChunkKind = "done"
	// ChunkError terminates the stream with an error.
	ChunkError ChunkKind = "error"
)

// StreamChunk is one event in a turn stream. Chunks observe in-turn program
// order: tool events for an iteration arrive between that iteration's text and
// the next LLM call.
type StreamChunk struct {
	Kind ChunkKind

	// Text delta (ChunkTextDelta).
	Text string

	// Tool fields (ChunkToolStart / ChunkToolOutput / ChunkToolEnd).
	ToolCallID string
	ToolName   string
	Content    string
	Success    bool

	// Completion fields (ChunkDone).
	FinalText string
	Usage     llm.Usage
	Truncated bool

	// Error (ChunkError).
	Err error
}

// streamBufferSize bounds the producer channel so a slow consumer exerts
// backpressure instead of unbounded memory growth.
const streamBufferSize = 64

// TurnStream drives a turn like Turn but yields a finite lazy sequence of
// chunks. The stream is restartable only by calling TurnStream again on the
// same session; cancellation propagates through ctx and pending tool
// executions observe it.
func (e *Engine) TurnStream(ctx context.Context, session *models.Session, userMessage string) <-chan StreamChunk {
	chunks := make(chan StreamChunk, streamBufferSize)

	go func() {
		defer close(chunks)
		e.runStream(ctx, session, userMessage, chunks)
	}()

	return chunks
}

func (e *Engine) runStream(ctx context.Context, session *models.Session, userMessage string, chunks chan<- StreamChunk) {
	emit := func(chunk StreamChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	turn := session.StartTurn(userMessage)
	messages := e.buildMessages(session)

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
			turn.ToolCalls = allToolCalls
			turn.ToolResults = allToolResults
			turn.Iterations = iterations
			turn.Truncated = true
			turn.Complete(TruncationMarker)
			emit(StreamChunk{
				Kind:      ChunkDone,
				FinalText: TruncationMarker,
				Usage:     usage,
				Truncated: true,
			})
			return
		}

		req := e.buildRequest(messages, session.ContextPreamble)
		resp, err := e.backend.Complete(ctx, req)
		if err != nil {
			if tve, ok := llm.AsToolValidationError(err); ok {
				messages = append(messages, llm.UserMessage(toolValidationFeedback(tve.ToolName, e.registry.Names())))
				continue
			}
			emit(StreamChunk{Kind: ChunkError, Err: err})
			return
		}
		usage.Add(resp.Usage)

		for _, block := range resp.Content {
			if block.Type == llm.BlockText && block.Text != "" {
				if !emit(StreamChunk{Kind: ChunkTextDelta, Text: block.Text}) {
					return
				}
			}
		}

		if !resp.HasToolUse() {
			text := resp.Text()
			turn.ToolCalls = allToolCalls
			turn.ToolResults = allToolResults
			turn.Iterations = iterations
			turn.Complete(text)
			emit(StreamChunk{Kind: ChunkDone, FinalText: text, Usage: usage})
			return
		}

		uses := resp.ToolUses()
		for _, use := range uses {
			if !emit(StreamChunk{Kind: ChunkToolStart, ToolCallID: use.ID, ToolName: use.Name}) {
				return
			}
		}

		toolCalls, toolResults := e.executeTools(ctx, session, uses)
		allToolCalls = append(allToolCalls, toolCalls...)
		allToolResults = append(allToolResults, toolResults...)

		for i, r := range toolResults {
			if !emit(StreamChunk{Kind: ChunkToolOutput, ToolCallID: r.ToolCallID, ToolName: uses[i].Name, Content: r.Text()}) {
				return
			}
			if !emit(StreamChunk{Kind: ChunkToolEnd, ToolCallID: r.ToolCallID, ToolName: uses[i].Name, Success: !r.IsError()}) {
				return
			}
		}

		messages = append(messages, llm.AssistantMessage(resp.Content...))
		resultBlocks := make([]llm.ContentBlock, len(toolResults))
		for i, r := range toolResults {
			resultBlocks[i] = llm.ToolResultBlock(r.ToolCallID, r.Text(), r.IsError())
		}
		messages = append(messages, llm.ToolResultsMessage(resultBlocks...))
	}
}

func toolValidationFeedback(invalidTool string, available []string) string {
	return fmt.Sprintf(
		"Error: The tool '%s' does not exist. Available tools are: %s. Please use the exact tool name from this list.",
		invalidTool, strings.Join(available, ", "),
	)
}
