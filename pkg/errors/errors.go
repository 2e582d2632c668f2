package errors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryData          ErrorCategory = "data"
	CategoryReference     ErrorCategory = "reference"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryNetwork       ErrorCategory = "network"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidField  ErrorCode = "invalid_field"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Data errors
	CodeDataUnavailable ErrorCode = "data_unavailable"
	CodeNotFound        ErrorCode = "not_found"
	CodeDuplicate       ErrorCode = "duplicate"

	// Reference errors
	CodeMalformedReference ErrorCode = "malformed_reference"
	CodeUnassociatedLine   ErrorCode = "unassociated_line"

	// Lifecycle errors
	CodeIllegalTransition  ErrorCode = "illegal_transition"
	CodeTerminalInvoice    ErrorCode = "terminal_invoice"
	CodeEvaluationInFlight ErrorCode = "evaluation_in_flight"

	// Network errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeServiceUnavailable ErrorCode = "service_unavailable"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation, CategoryReference:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryLifecycle:
		return 5
	case CategoryData, CategoryNetwork:
		return 6
	case CategoryInternal:
		return 7
	default:
		return 1
	}
}

// HTTPStatus maps the error onto a response status for the HTTP surface.
func (e *ReconcilerError) HTTPStatus() int {
	switch e.Category {
	case CategoryParse, CategoryValidation, CategoryReference:
		return http.StatusBadRequest
	case CategoryLifecycle:
		return http.StatusConflict
	case CategoryData:
		switch e.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeDuplicate:
			return http.StatusConflict
		}
		return http.StatusServiceUnavailable
	case CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether repeating the operation may succeed without
// any change to the inputs.
func (e *ReconcilerError) IsRetryable() bool {
	switch e.Code {
	case CodeDataUnavailable, CodeEvaluationInFlight, CodeConnectionFailed, CodeServiceUnavailable:
		return true
	}
	return false
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "verify the file has all required columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return newOrWrap(err, CategoryParse, code, message).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers (e.g., '12.34')"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// DataUnavailable reports that a data store read or write failed. The
// operation left no partial state behind and may be retried.
func DataUnavailable(operation string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryData, CodeDataUnavailable,
		fmt.Sprintf("data store unavailable during %s", operation)).
		WithSuggestion("retry once the data store is reachable").
		WithContext("operation", operation)
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *ReconcilerError {
	return New(CategoryData, CodeNotFound, fmt.Sprintf("%s not found: %s", entity, id)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// LifecycleError reports an action that the invoice's current status does
// not permit.
func LifecycleError(code ErrorCode, invoiceID, status, action string) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeTerminalInvoice:
		message = fmt.Sprintf("invoice %s is %s and cannot be %s", invoiceID, status, pastTense(action))
		suggestion = "terminal invoices are never re-evaluated or changed"
	case CodeEvaluationInFlight:
		message = fmt.Sprintf("invoice %s is already being evaluated", invoiceID)
		suggestion = "wait for the running evaluation to finish and retry"
	default:
		message = fmt.Sprintf("action '%s' is not allowed for invoice %s in status %s", action, invoiceID, status)
		suggestion = "check the invoice status before applying the action"
	}

	return New(CategoryLifecycle, code, message).
		WithSuggestion(suggestion).
		WithContext("invoice_id", invoiceID).
		WithContext("status", status).
		WithContext("action", action)
}

// ReferenceError reports a purchase order reference or line that could not
// be resolved.
func ReferenceError(code ErrorCode, reference string) *ReconcilerError {
	var message string

	switch code {
	case CodeMalformedReference:
		message = fmt.Sprintf("purchase order reference missing or unparsable: '%s'", reference)
	case CodeUnassociatedLine:
		message = fmt.Sprintf("invoice line could not be associated with a purchase order line: '%s'", reference)
	default:
		message = fmt.Sprintf("reference error: '%s'", reference)
	}

	return New(CategoryReference, code, message).WithContext("reference", reference)
}

// NetworkError creates a network-related error
func NetworkError(code ErrorCode, endpoint string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	case CodeServiceUnavailable:
		message = fmt.Sprintf("service unavailable: %s", endpoint)
		suggestion = "try again later or contact service administrator"
	default:
		message = fmt.Sprintf("network error: %s", endpoint)
		suggestion = "check network connection and try again"
	}

	return newOrWrap(err, CategoryNetwork, code, message).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return newOrWrap(err, CategoryInternal, code, message).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

func pastTense(action string) string {
	switch action {
	case "evaluate":
		return "re-evaluated"
	case "release":
		return "released"
	case "park", "reject", "train", "post":
		return action + "ed"
	}
	return action + "ed"
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ReconcilerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a ReconcilerError with the given code.
func HasCode(err error, code ErrorCode) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Code == code
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
