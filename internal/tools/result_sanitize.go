package tools

import (
	"encoding/json"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// SanitizeResult applies the output discipline to a ToolResult.
//
// Text results are sanitized directly. JSON results are validated for nesting
// depth and sanitized through their pretty-serialized form; when that form
// would be truncated the result degrades to a Text variant, since a truncated
// serialization is no longer a valid JSON document. Error messages are
// sanitized under a tighter 10 KiB budget. Binary content and malformed JSON
// degrade the result to an Error variant; the turn continues.
func SanitizeResult(result models.ToolResult, cfg OutputConfig) models.ToolResult {
	switch result.Kind {
	case models.ToolResultText:
		sanitized, _, err := SanitizeOutput(result.Content, cfg)
		if err != nil {
			return models.ErrorResult(result.ToolCallID, err.Error(), true)
		}
		result.Content = sanitized
		return result

	case models.ToolResultJSON:
		if cfg.ValidateJSON {
			if err := ValidateJSONDepth(result.JSON); err != nil {
				return models.ErrorResult(result.ToolCallID, err.Error(), true)
			}
		}
		pretty, err := prettyJSON(result.JSON)
		if err != nil {
			return models.ErrorResult(result.ToolCallID, "JSON output is malformed: "+err.Error(), true)
		}
		sanitized, truncated, serr := SanitizeOutput(pretty, cfg)
		if serr != nil {
			return models.ErrorResult(result.ToolCallID, serr.Error(), true)
		}
		if truncated {
			return models.TextResult(result.ToolCallID, sanitized)
		}
		result.JSON = json.RawMessage(sanitized)
		return result

	case models.ToolResultError:
		errCfg := cfg
		errCfg.MaxSizeBytes = errorMessageBudget
		sanitized, _, err := SanitizeOutput(result.Message, errCfg)
		if err != nil {
			sanitized = "tool error contained unprintable content"
		}
		result.Message = sanitized
		return result
	}
	return result
}

func prettyJSON(raw json.RawMessage) (string, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
