package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// recallHeader prefixes the synthetic recall message injected into the prompt.
const recallHeader = "[SYSTEM: Relevant memories recalled for context]"

// performRecall embeds the user message and queries the memory store for
// relevant context. Every failure mode is a silent skip: recall is an
// enhancement, never a turn blocker.
func (e *Engine) performRecall(ctx context.Context, userMessage string) (llm.Message, bool) {
	if !e.recall.Enabled {
		return llm.Message{}, false
	}
	if e.memoryStore == nil || e.embedder == nil {
		return llm.Message{}, false
	}
	if strings.TrimSpace(userMessage) == "" {
		return llm.Message{}, false
	}
	if !e.memoryStore.HasVectors(ctx) {
		return llm.Message{}, false
	}

	vec, err := e.embedder.Embed(ctx, userMessage)
	if err != nil {
		slog.Debug("recall: embedding failed, skipping", "error", err)
		return llm.Message{}, false
	}

	result, err := e.memoryStore.Recall(ctx, models.RecallQuery{
		Vector:   vec,
		Limit:    e.recall.Limit,
		MinScore: e.recall.Threshold,
	})
	if err != nil {
		slog.Debug("recall: query failed, skipping", "error", err)
		return llm.Message{}, false
	}
	if len(result.Matches) == 0 {
		return llm.Message{}, false
	}

	slog.Debug("recall: injecting context",
		"matches", len(result.Matches),
		"query_time_ms", result.QueryTimeMS,
	)
	return llm.UserMessage(recallHeader + "\n" + formatRecallContext(result.Matches)), true
}

// formatRecallContext renders matches as "- [YYYY-MM-DD HH:MM] (NN%) content" lines.
func formatRecallContext(matches []models.RecallMatch) string {
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, fmt.Sprintf(
			"- [%s] (%.0f%%) %s",
			m.Memory.CreatedAt.Format("2006-01-02 15:04"),
			m.Score*100,
			m.Memory.Content,
		))
	}
	return strings.Join(lines, "\n")
}
