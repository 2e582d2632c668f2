package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a problem inside a reference data file.
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// EnhancedParseError extends the base ParseError with location, examples
// and a recoverability flag.
type EnhancedParseError struct {
	*ReconcilerError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with enhanced formatting
func (e *EnhancedParseError) Error() string {
	parts := []string{e.ReconcilerError.Error()}

	if e.Location != nil {
		location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
		if e.Location.Line > 0 {
			location += fmt.Sprintf(":%d", e.Location.Line)
		}
		if e.Location.Column != "" {
			location += fmt.Sprintf(" column '%s'", e.Location.Column)
		}
		parts = append(parts, location)
	}

	return strings.Join(parts, " ")
}

// As exposes the embedded ReconcilerError to errors.As
func (e *EnhancedParseError) As(target interface{}) bool {
	if t, ok := target.(**ReconcilerError); ok {
		*t = e.ReconcilerError
		return true
	}
	return false
}

// GetDetailedError returns a detailed multi-line error description
func (e *EnhancedParseError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", e.Location.File))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples:")
		for _, example := range e.Examples {
			lines = append(lines, fmt.Sprintf("    • %s", example))
		}
	}

	return strings.Join(lines, "\n")
}

// NewEnhancedParseError creates a new enhanced parse error
func NewEnhancedParseError(code ErrorCode, location *ParseContext, message string, cause error) *EnhancedParseError {
	base := newOrWrap(cause, CategoryParse, code, message)

	if location != nil {
		base.WithContext("file", location.File).
			WithContext("line", location.Line).
			WithContext("column", location.Column).
			WithContext("value", location.Value)
	}

	return &EnhancedParseError{
		ReconcilerError: base,
		Location:        location,
		Recoverable:     true,
	}
}

// WithExamples adds example values to help fix the error
func (e *EnhancedParseError) WithExamples(examples ...string) *EnhancedParseError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the EnhancedParseError
func (e *EnhancedParseError) WithSuggestion(suggestion string) *EnhancedParseError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// InvalidAmountError creates an error for an unparsable quantity or price.
func InvalidAmountError(file string, line int, column string, value string) *EnhancedParseError {
	return NewEnhancedParseError(CodeInvalidAmount, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "decimal number",
	}, "invalid amount format", nil).
		WithExamples("12.34", "1250.50", "3").
		WithSuggestion("Remove currency symbols and use decimal format")
}

// InvalidDateError creates an error for an unparsable goods movement time.
func InvalidDateError(file string, line int, column string, value string) *EnhancedParseError {
	return NewEnhancedParseError(CodeInvalidFormat, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "date in YYYY-MM-DD or RFC3339 format",
	}, "invalid date format", nil).
		WithExamples("2024-01-15", "2024-01-15T10:30:00Z").
		WithSuggestion("Use YYYY-MM-DD or RFC3339 timestamps")
}

// MissingColumnError creates an error for missing required columns
func MissingColumnError(file string, expectedColumns []string, actualColumns []string) *EnhancedParseError {
	missing := findMissingColumns(expectedColumns, actualColumns)

	err := NewEnhancedParseError(CodeMissingColumn, &ParseContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expectedColumns, ", ")),
	}, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil).
		WithSuggestion("Add the missing columns to your CSV file header")

	err.Recoverable = false
	return err
}

// EmptyValueError creates an error for empty required values
func EmptyValueError(file string, line int, column string) *EnhancedParseError {
	return NewEnhancedParseError(CodeMissingField, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Expected: "non-empty value",
	}, "required field is empty", nil).
		WithSuggestion("Provide a value for this required field")
}

// InvalidValueError creates an error for a value outside its allowed set,
// such as an unknown rule operator.
func InvalidValueError(file string, line int, column string, value string, allowed ...string) *EnhancedParseError {
	return NewEnhancedParseError(CodeInvalidData, &ParseContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "one of " + strings.Join(allowed, ", "),
	}, "invalid value", nil).
		WithExamples(allowed...)
}

// ParseErrorCollector collects multiple parse errors during processing
type ParseErrorCollector struct {
	errors          []*EnhancedParseError
	maxErrors       int
	continueOnError bool
}

// NewParseErrorCollector creates a new error collector
func NewParseErrorCollector(maxErrors int, continueOnError bool) *ParseErrorCollector {
	return &ParseErrorCollector{
		errors:          make([]*EnhancedParseError, 0),
		maxErrors:       maxErrors,
		continueOnError: continueOnError,
	}
}

// Add records err and reports whether parsing should continue.
func (c *ParseErrorCollector) Add(err *EnhancedParseError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)

	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}

	return c.continueOnError && err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetSummary returns an error summary for all collected errors
func (c *ParseErrorCollector) GetSummary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}

// FormatParseErrorsForUser formats multiple parse errors in a user-friendly way
func FormatParseErrorsForUser(errs []*EnhancedParseError) string {
	if len(errs) == 0 {
		return "No parse errors"
	}

	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	lines := []string{fmt.Sprintf("Found %d parse errors:", len(errs))}
	maxDetailed := 3
	for i, err := range errs {
		if i == maxDetailed {
			lines = append(lines, "", fmt.Sprintf("... and %d more errors", len(errs)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}

	return strings.Join(lines, "\n")
}
