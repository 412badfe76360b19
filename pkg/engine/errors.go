package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents whether an error aborts the current chart operation.
type ErrorClass string

const (
	// ErrorClassFatal aborts the current create/update and is returned to the caller.
	// Examples: undecodable chart options, a failed external data retrieval.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassRecoverable is logged and absorbed by the enclosing operation.
	// Examples: a broken afterLoad transform, a map entry without SVG content.
	ErrorClassRecoverable ErrorClass = "recoverable"
)

// Error codes for programmatic handling.
const (
	ErrCodeFatalDecode       = "FATAL_DECODE"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeTransformFailed   = "TRANSFORM_FAILED"
	ErrCodeMapDecodeFailed   = "MAP_DECODE_FAILED"
	ErrCodeFetchDecodeFailed = "FETCH_DECODE_FAILED"
	ErrCodeUnknownChart      = "UNKNOWN_CHART"
)

// ChartError represents a classified error raised while operating on a chart.
type ChartError struct {
	// Class decides whether the error terminates the operation.
	Class ErrorClass `json:"class"`

	// Code identifies the failure kind.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// ChartID is the chart the operation targeted, if applicable.
	ChartID string `json:"chart_id,omitempty"`

	// URL is the external resource involved, if applicable.
	URL string `json:"url,omitempty"`

	// Operation is the controller operation being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ChartError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.ChartID != "" {
		msg += fmt.Sprintf(" (chart=%s", e.ChartID)
		if e.Operation != "" {
			msg += fmt.Sprintf(", operation=%s", e.Operation)
		}
		msg += ")"
	}
	if e.URL != "" {
		msg += " url=" + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ChartError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ChartError) Is(target error) bool {
	t, ok := target.(*ChartError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalDecodeError creates the error returned when primary chart options cannot be decoded.
func NewFatalDecodeError(message string, err error) *ChartError {
	return &ChartError{
		Class:   ErrorClassFatal,
		Code:    ErrCodeFatalDecode,
		Message: message,
		Err:     err,
	}
}

// NewFetchError creates the error returned when an external retrieval did not succeed.
func NewFetchError(url string, err error) *ChartError {
	return &ChartError{
		Class:   ErrorClassFatal,
		Code:    ErrCodeFetchFailed,
		Message: "failed to fetch external chart data",
		URL:     url,
		Err:     err,
	}
}

// NewPolicyDeniedError creates the error returned when the fetch policy rejects a descriptor.
func NewPolicyDeniedError(url string, reasons []string) *ChartError {
	e := &ChartError{
		Class:   ErrorClassFatal,
		Code:    ErrCodePolicyDenied,
		Message: "fetch denied by policy",
		URL:     url,
	}
	if len(reasons) > 0 {
		e.Details = map[string]interface{}{"reasons": reasons}
	}
	return e
}

// NewTransformError creates a recoverable path projection or afterLoad failure.
func NewTransformError(step string, err error) *ChartError {
	return &ChartError{
		Class:   ErrorClassRecoverable,
		Code:    ErrCodeTransformFailed,
		Message: fmt.Sprintf("failed to evaluate %s of external data source", step),
		Err:     err,
		Details: map[string]interface{}{"step": step},
	}
}

// NewMapDecodeError creates a recoverable map payload or map entry failure.
func NewMapDecodeError(message string, err error) *ChartError {
	return &ChartError{
		Class:   ErrorClassRecoverable,
		Code:    ErrCodeMapDecodeFailed,
		Message: message,
		Err:     err,
	}
}

// NewFetchDecodeError creates a recoverable failure to decode a fetch payload.
// The batch is skipped.
func NewFetchDecodeError(message string, err error) *ChartError {
	return &ChartError{
		Class:   ErrorClassRecoverable,
		Code:    ErrCodeFetchDecodeFailed,
		Message: message,
		Err:     err,
	}
}

// NewUnknownChartError creates the error reported when a chart id is not registered.
func NewUnknownChartError(chartID, operation string) *ChartError {
	return &ChartError{
		Class:     ErrorClassRecoverable,
		Code:      ErrCodeUnknownChart,
		Message:   "failed to retrieve chart",
		ChartID:   chartID,
		Operation: operation,
	}
}

// WithChart adds chart context to an error.
func (e *ChartError) WithChart(chartID string) *ChartError {
	e.ChartID = chartID
	return e
}

// WithOperation adds operation context to an error.
func (e *ChartError) WithOperation(operation string) *ChartError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ChartError) WithDetail(key string, value interface{}) *ChartError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasCode(err error, code string) bool {
	var e *ChartError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsFatalDecode returns true if the error is a FatalDecodeFailure.
func IsFatalDecode(err error) bool {
	return hasCode(err, ErrCodeFatalDecode)
}

// IsFetchFailure returns true if the error aborted a fetch batch.
// Policy denials count as fetch failures.
func IsFetchFailure(err error) bool {
	return hasCode(err, ErrCodeFetchFailed) || hasCode(err, ErrCodePolicyDenied)
}

// IsUnknownChart returns true if the error reports an unregistered chart id.
func IsUnknownChart(err error) bool {
	return hasCode(err, ErrCodeUnknownChart)
}

// IsRecoverable returns true if the error is classified as recoverable.
func IsRecoverable(err error) bool {
	var e *ChartError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRecoverable
	}
	return false
}

// ErrorCode returns the code of a classified error, or "" for unclassified errors.
func ErrorCode(err error) string {
	var e *ChartError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
