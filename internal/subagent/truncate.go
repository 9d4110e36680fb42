package subagent

import (
	"fmt"
	"strings"
)

// DefaultMaxContextLen is the character budget for parent context passed to a
// spawned agent.
const DefaultMaxContextLen = 4000

// DefaultMaxResultLen is the character budget for preserve-ends truncation of
// a subagent result.
const DefaultMaxResultLen = 8000

// TruncateContext caps context at maxLen characters, breaking at the last
// whitespace before the boundary and appending a truncation marker.
func TruncateContext(context string, maxLen int) string {
	if len(context) <= maxLen {
		return context
	}
	truncateAt := strings.LastIndexFunc(context[:maxLen], isSpace)
	if truncateAt < 0 {
		truncateAt = maxLen
	}
	return context[:truncateAt] + "...(truncated)"
}

// TruncatedResult is the outcome of preserve-ends truncation.
type TruncatedResult struct {
	Text        string
	Truncated   bool
	OriginalLen int
}

// TruncateResult reduces text to roughly maxLen characters, keeping the
// beginning and end of the response with an omission notice in between. The
// budget splits ~65% front, ~35% back, preferring word boundaries.
func TruncateResult(text string, maxLen int) TruncatedResult {
	if len(text) <= maxLen {
		return TruncatedResult{Text: text}
	}

	originalLen := len(text)
	notice := fmt.Sprintf("\n\n[...%d characters omitted...]\n\n", originalLen-maxLen)
	available := maxLen - len(notice)
	if available < 0 {
		available = 0
	}
	firstLen := int(float64(available) * 0.65)
	lastLen := available - firstLen

	firstEnd := strings.LastIndexFunc(text[:firstLen], isSpace)
	if firstEnd < 0 {
		firstEnd = firstLen
	}

	lastStart := len(text) - lastLen
	if idx := strings.IndexFunc(text[lastStart:], isSpace); idx >= 0 {
		lastStart += idx + 1
	}
	notice = fmt.Sprintf("\n\n[...%d characters omitted...]\n\n", lastStart-firstEnd)

	return TruncatedResult{
		Text:        text[:firstEnd] + notice + text[lastStart:],
		Truncated:   true,
		OriginalLen: originalLen,
	}
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
