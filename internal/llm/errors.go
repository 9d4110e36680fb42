package llm

import (
	"errors"
	"fmt"
)

// ToolValidationError signals that the model requested a tool name the
// provider does not recognize. The turn engine treats it as recoverable:
// it injects corrective feedback and retries instead of failing the turn.
type ToolValidationError struct {
	// ToolName is the invalid name the model produced.
	ToolName string
	// Cause is the underlying provider error, if any.
	Cause error
}

func (e *ToolValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid tool name %q: %v", e.ToolName, e.Cause)
	}
	return fmt.Sprintf("invalid tool name %q", e.ToolName)
}

func (e *ToolValidationError) Unwrap() error {
	return e.Cause
}

// AsToolValidationError extracts a ToolValidationError from an error chain.
func AsToolValidationError(err error) (*ToolValidationError, bool) {
	var tve *ToolValidationError
	if errors.As(err, &tve) {
		return tve, true
	}
	return nil, false
}
