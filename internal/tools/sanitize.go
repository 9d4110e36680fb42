package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxOutputSize is the fallback per-tool output budget.
const DefaultMaxOutputSize = 100 * 1024

// DefaultTruncationMessage is appended when output exceeds its size budget.
const DefaultTruncationMessage = "\n\n[Output truncated - exceeded size limit]"

// errorMessageBudget caps sanitized error messages tighter than regular output.
const errorMessageBudget = 10 * 1024

// binaryScanWindow is how much of the payload the binary heuristic inspects.
const binaryScanWindow = 8 * 1024

// maxJSONDepth bounds nesting of JSON tool results.
const maxJSONDepth = 50

// OutputConfig controls the sanitization applied to a tool's output before it
// reaches the model.
type OutputConfig struct {
	// MaxSizeBytes is the size budget before truncation.
	MaxSizeBytes int
	// TruncationMessage is appended when truncating.
	TruncationMessage string
	// StripControlChars removes control characters other than \n, \t, \r.
	StripControlChars bool
	// StripNullBytes removes null bytes.
	StripNullBytes bool
	// ValidateJSON enables structural checks on JSON results.
	ValidateJSON bool
}

// DefaultOutputConfig returns the 100 KiB default configuration.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		MaxSizeBytes:      DefaultMaxOutputSize,
		TruncationMessage: DefaultTruncationMessage,
		StripControlChars: true,
		StripNullBytes:    true,
		ValidateJSON:      true,
	}
}

// OutputConfigWithMaxSize returns the default configuration with a custom budget.
func OutputConfigWithMaxSize(maxSizeBytes int) OutputConfig {
	cfg := DefaultOutputConfig()
	cfg.MaxSizeBytes = maxSizeBytes
	return cfg
}

// outputConfigForTool resolves the hard-coded per-tool defaults.
func outputConfigForTool(name string) OutputConfig {
	switch name {
	case "shell", "bash":
		return OutputConfigWithMaxSize(100 * 1024)
	case "file_read", "read_file":
		return OutputConfigWithMaxSize(500 * 1024)
	case "web_fetch", "fetch":
		return OutputConfigWithMaxSize(200 * 1024)
	case "grep", "glob", "search", "memory_search":
		return OutputConfigWithMaxSize(50 * 1024)
	default:
		return DefaultOutputConfig()
	}
}

// SanitizationError describes why a payload was rejected outright.
type SanitizationError struct {
	// Binary fields: the null-byte scan that classified the payload.
	NullBytes    int
	CheckedBytes int
	// JSONReason is set for malformed-JSON rejections.
	JSONReason string
}

func (e *SanitizationError) Error() string {
	if e.JSONReason != "" {
		return "JSON output is malformed: " + e.JSONReason
	}
	return fmt.Sprintf("output appears to be binary data (detected %d null bytes in first %d bytes)", e.NullBytes, e.CheckedBytes)
}

// SanitizeOutput applies the output discipline to a textual payload:
//
//  1. Binary detection over the first 8 KiB (> 1% null bytes and > 10 nulls).
//  2. Null byte stripping, then control character stripping (keeping \n \t \r).
//  3. UTF-8-safe truncation at the size budget, reserving room for the
//     truncation message.
//
// Returns the sanitized string and whether it was truncated. Idempotent on
// inputs already within budget and free of null/control bytes.
func SanitizeOutput(input string, cfg OutputConfig) (string, bool, error) {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxOutputSize
	}
	if cfg.TruncationMessage == "" {
		cfg.TruncationMessage = DefaultTruncationMessage
	}

	checkLen := min(len(input), binaryScanWindow)
	nullCount := bytes.Count([]byte(input[:checkLen]), []byte{0})
	if nullCount > checkLen/100 && nullCount > 10 {
		return "", false, &SanitizationError{NullBytes: nullCount, CheckedBytes: checkLen}
	}

	output := input
	if cfg.StripNullBytes {
		output = strings.ReplaceAll(output, "\x00", "")
	}
	if cfg.StripControlChars {
		output = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
				return -1
			}
			return r
		}, output)
	}

	truncated := false
	if len(output) > cfg.MaxSizeBytes {
		truncateAt := cfg.MaxSizeBytes
		if truncateAt > len(cfg.TruncationMessage) {
			truncateAt -= len(cfg.TruncationMessage)
		}
		for truncateAt > 0 && !utf8.RuneStart(output[truncateAt]) {
			truncateAt--
		}
		output = output[:truncateAt] + cfg.TruncationMessage
		truncated = true
	}

	return output, truncated, nil
}

// ValidateJSONDepth rejects JSON documents nested deeper than maxJSONDepth.
func ValidateJSONDepth(value json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return &SanitizationError{JSONReason: err.Error()}
	}
	if !checkDepth(decoded, 0) {
		return &SanitizationError{JSONReason: fmt.Sprintf("nesting exceeds %d levels", maxJSONDepth)}
	}
	return nil
}

func checkDepth(value any, depth int) bool {
	if depth > maxJSONDepth {
		return false
	}
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if !checkDepth(item, depth+1) {
				return false
			}
		}
	case map[string]any:
		for _, item := range v {
			if !checkDepth(item, depth+1) {
				return false
			}
		}
	}
	return true
}
