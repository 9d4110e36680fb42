package subagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dylanbstorey/arawn/internal/llm"
)

// CompactionConfig controls LLM-driven reduction of oversized results.
type CompactionConfig struct {
	// Enabled toggles compaction; disabled falls back to truncation.
	Enabled bool `yaml:"enabled"`
	// Threshold is the result length (characters) above which reduction kicks in.
	Threshold int `yaml:"threshold"`
	// TargetLen is the approximate desired output length.
	TargetLen int `yaml:"target_len"`
	// Model used for the compaction call; empty uses the backend default.
	Model string `yaml:"model"`
}

// DefaultCompactionConfig returns compaction defaults: disabled, 8000-char
// threshold, 4000-char target.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:   false,
		Threshold: DefaultMaxResultLen,
		TargetLen: DefaultMaxContextLen,
	}
}

// compactionSystemPrompt is the fixed summarization prompt. It preserves, in
// order: actionable conclusions, code blocks, specific data and citations,
// decisions with rationale, errors, and next steps, while stripping filler.
const compactionSystemPrompt = `You are a specialized summarization assistant. Your task is to condense long text while preserving the most important information.

## What to Preserve (Priority Order)
1. **Actionable conclusions and findings** - What was accomplished? What are the results?
2. **Code snippets and examples** - Preserve exact code with context
3. **Specific data, numbers, and citations** - URLs, file paths, line numbers, measurements
4. **Key decisions and their rationale** - Why something was done a certain way
5. **Error messages and warnings** - Full text of any errors encountered
6. **Next steps or recommendations** - What should happen next

## What to Remove
- Conversational filler and pleasantries
- Redundant explanations of the same concept
- Verbose step-by-step narration (summarize the outcome instead)
- Generic caveats and disclaimers
- Repeated information

## Output Format
- Use markdown formatting for structure
- Keep technical terms precise
- Preserve the original's tone (if it was formal, stay formal)
- If the content is a list, keep it as a list (possibly condensed)

Produce a summary that is roughly 40-60% of the original length while retaining the essential information.`

// compactResult issues one LLM call to summarize text to roughly the
// configured target length.
func (s *Spawner) compactResult(ctx context.Context, text string) (string, error) {
	if s.backend == nil {
		return "", errors.New("no compaction backend configured")
	}

	userPrompt := fmt.Sprintf("Condense the following to approximately %d characters:\n\n%s", s.compaction.TargetLen, text)
	resp, err := s.backend.Complete(ctx, &llm.CompletionRequest{
		Model:     s.compaction.Model,
		Messages:  []llm.Message{llm.UserMessage(userPrompt)},
		System:    compactionSystemPrompt,
		MaxTokens: 4096,
	})
	if err != nil {
		return "", err
	}

	compacted := resp.Text()
	if compacted == "" {
		return "", errors.New("compaction produced empty output")
	}
	return compacted, nil
}
