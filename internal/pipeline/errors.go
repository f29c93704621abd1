package pipeline

import "fmt"

// Code classifies why an aggregation was rejected.
type Code string

const (
	CodeVariableUnavailable  Code = "variable_unavailable"
	CodeUnknownVariable      Code = "unknown_variable"
	CodeMissingRequiredBound Code = "missing_required_bound"
	CodeEmptyResult          Code = "empty_result_after_filtering"
	CodeInvalidRange         Code = "invalid_range"
	CodeInvalidRequest       Code = "invalid_request"
)

// Error is returned for every rejected aggregation. It is always recoverable:
// callers translate it into a user-visible message.
type Error struct {
	Code    Code
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is matches any *Error with the same Code, so errors.Is(err, ErrEmptyResult) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsTransient returns false: retrying the same request yields the same outcome.
func (e *Error) IsTransient() bool {
	return false
}

// Sentinels for errors.Is.
var (
	ErrVariableUnavailable  = &Error{Code: CodeVariableUnavailable, Message: "variable is not available in this dataset"}
	ErrUnknownVariable      = &Error{Code: CodeUnknownVariable, Message: "unknown variable"}
	ErrMissingRequiredBound = &Error{Code: CodeMissingRequiredBound, Message: "filter bound is missing"}
	ErrEmptyResult          = &Error{Code: CodeEmptyResult, Message: "no data left after filtering"}
	ErrInvalidRange         = &Error{Code: CodeInvalidRange, Message: "invalid range"}
	ErrInvalidRequest       = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

func newError(code Code, field, format string, args ...interface{}) *Error {
	return &Error{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
