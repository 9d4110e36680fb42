package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParameterValidationError is the closed set of parameter failures surfaced to
// the model. The text form includes the parameter name, the violated
// constraint, and an actionable hint so the model can self-correct on the next
// iteration.
type ParameterValidationError struct {
	Kind     ParamErrorKind
	Name     string
	Hint     string
	Expected string
	Actual   string
	Value    string
	Constraint string
	Message  string
	Errors   []*ParameterValidationError
}

// ParamErrorKind discriminates validation failures.
type ParamErrorKind string

const (
	// ParamMissingRequired means a required parameter was absent.
	ParamMissingRequired ParamErrorKind = "missing_required"
	// ParamInvalidType means the value had the wrong JSON type.
	ParamInvalidType ParamErrorKind = "invalid_type"
	// ParamOutOfRange means a numeric value violated a bound.
	ParamOutOfRange ParamErrorKind = "out_of_range"
	// ParamInvalidValue means the value failed a semantic check.
	ParamInvalidValue ParamErrorKind = "invalid_value"
	// ParamMultiple aggregates several failures.
	ParamMultiple ParamErrorKind = "multiple"
)

// MissingRequired builds a missing-parameter error.
func MissingRequired(name, hint string) *ParameterValidationError {
	return &ParameterValidationError{Kind: ParamMissingRequired, Name: name, Hint: hint}
}

// InvalidType builds a wrong-type error.
func InvalidType(name, expected, actual string) *ParameterValidationError {
	return &ParameterValidationError{Kind: ParamInvalidType, Name: name, Expected: expected, Actual: actual}
}

// OutOfRange builds a bounds error.
func OutOfRange(name, value, constraint string) *ParameterValidationError {
	return &ParameterValidationError{Kind: ParamOutOfRange, Name: name, Value: value, Constraint: constraint}
}

// InvalidValue builds a semantic-failure error.
func InvalidValue(name, value, message string) *ParameterValidationError {
	return &ParameterValidationError{Kind: ParamInvalidValue, Name: name, Value: value, Message: message}
}

// MultipleErrors aggregates several validation failures.
func MultipleErrors(errs ...*ParameterValidationError) *ParameterValidationError {
	return &ParameterValidationError{Kind: ParamMultiple, Errors: errs}
}

func (e *ParameterValidationError) Error() string {
	switch e.Kind {
	case ParamMissingRequired:
		return fmt.Sprintf("missing required parameter %q: %s", e.Name, e.Hint)
	case ParamInvalidType:
		return fmt.Sprintf("parameter %q has invalid type: expected %s, got %s", e.Name, e.Expected, e.Actual)
	case ParamOutOfRange:
		return fmt.Sprintf("parameter %q value %s is out of range: %s", e.Name, e.Value, e.Constraint)
	case ParamInvalidValue:
		return fmt.Sprintf("parameter %q value %s is invalid: %s", e.Name, e.Value, e.Message)
	case ParamMultiple:
		parts := make([]string, len(e.Errors))
		for i, sub := range e.Errors {
			parts[i] = sub.Error()
		}
		return "multiple parameter errors: " + strings.Join(parts, "; ")
	}
	return "parameter validation failed"
}

// Params wraps a tool's decoded JSON arguments with typed, hint-bearing
// extractors.
type Params map[string]any

// DecodeParams decodes a raw JSON argument document into Params.
func DecodeParams(raw json.RawMessage) (Params, *ParameterValidationError) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, InvalidValue("(root)", string(raw), "arguments must be a JSON object: "+err.Error())
	}
	return Params(decoded), nil
}

// RequiredString extracts a required string parameter.
func (p Params) RequiredString(name, hint string) (string, *ParameterValidationError) {
	v, ok := p[name]
	if !ok {
		return "", MissingRequired(name, hint)
	}
	s, ok := v.(string)
	if !ok {
		return "", InvalidType(name, "string", jsonTypeName(v))
	}
	return s, nil
}

// OptionalString extracts an optional string parameter, returning def when absent.
func (p Params) OptionalString(name, def string) string {
	if s, ok := p[name].(string); ok {
		return s
	}
	return def
}

// RequiredInt extracts a required integer parameter.
func (p Params) RequiredInt(name, hint string) (int64, *ParameterValidationError) {
	v, ok := p[name]
	if !ok {
		return 0, MissingRequired(name, hint)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, InvalidType(name, "integer", jsonTypeName(v))
	}
	return int64(f), nil
}

// OptionalInt extracts an optional integer parameter, returning def when absent.
func (p Params) OptionalInt(name string, def int64) int64 {
	if f, ok := p[name].(float64); ok {
		return int64(f)
	}
	return def
}

// OptionalBool extracts an optional boolean parameter, returning def when absent.
func (p Params) OptionalBool(name string, def bool) bool {
	if b, ok := p[name].(bool); ok {
		return b
	}
	return def
}

// OptionalStringSlice extracts an optional array-of-strings parameter.
func (p Params) OptionalStringSlice(name string) []string {
	arr, ok := p[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BoundedInt extracts an optional integer that must lie in [lo, hi]; values
// outside the bounds are an error rather than silently clamped.
func (p Params) BoundedInt(name string, def, lo, hi int64) (int64, *ParameterValidationError) {
	v := p.OptionalInt(name, def)
	if v < lo || v > hi {
		return 0, OutOfRange(name, fmt.Sprintf("%d", v), fmt.Sprintf("must be between %d and %d", lo, hi))
	}
	return v, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
