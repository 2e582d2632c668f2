package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "reference error",
			category:   CategoryReference,
			code:       CodeMalformedReference,
			message:    "bad reference",
			expectCode: 3,
		},
		{
			name:       "lifecycle error",
			category:   CategoryLifecycle,
			code:       CodeIllegalTransition,
			message:    "cannot post",
			expectCode: 5,
		},
		{
			name:       "data error",
			category:   CategoryData,
			code:       CodeDataUnavailable,
			message:    "store down",
			cause:      errors.New("connection refused"),
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryData, CodeNotFound, "test error").
		WithContext("invoice_id", "inv-1").
		WithContext("attempt", 2).
		WithSuggestion("check the id")

	if err.Context["invoice_id"] != "inv-1" {
		t.Errorf("expected invoice_id context 'inv-1', got %v", err.Context["invoice_id"])
	}
	if err.Context["attempt"] != 2 {
		t.Errorf("expected attempt context 2, got %v", err.Context["attempt"])
	}

	expected := "test error (suggestion: check the id)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("DataUnavailable", func(t *testing.T) {
		cause := errors.New("database is locked")
		err := DataUnavailable("load purchase order", cause)

		if err.Category != CategoryData || err.Code != CodeDataUnavailable {
			t.Errorf("expected data/data_unavailable, got %s/%s", err.Category, err.Code)
		}
		if !errors.Is(err, cause) {
			t.Error("expected cause to be reachable through errors.Is")
		}
		if !err.IsRetryable() {
			t.Error("expected data unavailable to be retryable")
		}
		if err.HTTPStatus() != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", err.HTTPStatus())
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound("invoice", "inv-9")

		if err.HTTPStatus() != http.StatusNotFound {
			t.Errorf("expected 404, got %d", err.HTTPStatus())
		}
		if err.IsRetryable() {
			t.Error("expected not found to be permanent")
		}
	})

	t.Run("LifecycleError", func(t *testing.T) {
		err := LifecycleError(CodeTerminalInvoice, "inv-1", "POSTED", "evaluate")

		if !strings.Contains(err.Message, "re-evaluated") {
			t.Errorf("expected message to mention re-evaluation, got %q", err.Message)
		}
		if err.Context["status"] != "POSTED" {
			t.Errorf("expected status context, got %v", err.Context["status"])
		}
		if err.HTTPStatus() != http.StatusConflict {
			t.Errorf("expected 409, got %d", err.HTTPStatus())
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidAmount, "total_amount", "abc", nil)

		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Context["field"] != "total_amount" {
			t.Errorf("expected field context, got %v", err.Context["field"])
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidFormat, "po_lines.csv", 10, "unit_price", "12.3.4", nil)

		if err.Category != CategoryParse {
			t.Errorf("expected parse category, got %s", err.Category)
		}
		if err.Context["line"] != 10 {
			t.Errorf("expected line context, got %v", err.Context["line"])
		}
	})
}

func TestEnhancedParseError(t *testing.T) {
	err := InvalidAmountError("/data/po_lines.csv", 4, "unit_price", "$12")

	if !strings.Contains(err.Error(), "po_lines.csv:4") {
		t.Errorf("expected location in error, got %q", err.Error())
	}
	detailed := err.GetDetailedError()
	if !strings.Contains(detailed, "Value: '$12'") {
		t.Errorf("expected value in detailed error, got %q", detailed)
	}

	missing := MissingColumnError("receipts.csv", []string{"po_number", "line_number"}, []string{"po_number"})
	if missing.Recoverable {
		t.Error("expected missing column error to be unrecoverable")
	}
	if !strings.Contains(missing.Message, "line_number") {
		t.Errorf("expected missing column to be named, got %q", missing.Message)
	}
}

func TestParseErrorCollector(t *testing.T) {
	collector := NewParseErrorCollector(3, true)
	empty := EmptyValueError("a.csv", 2, "po_number")
	missing := MissingColumnError("a.csv", []string{"x"}, nil)

	if !collector.Add(empty) {
		t.Error("expected to continue after first recoverable error")
	}
	if collector.Add(missing) {
		t.Error("expected to stop after unrecoverable error")
	}
	if !collector.HasErrors() {
		t.Error("expected collected errors")
	}
	if collector.GetSummary().Total != 2 {
		t.Errorf("expected 2 errors, got %d", collector.GetSummary().Total)
	}

	formatted := FormatParseErrorsForUser([]*EnhancedParseError{empty, missing})
	if !strings.HasPrefix(formatted, "Found 2 parse errors") {
		t.Errorf("unexpected formatted output: %q", formatted)
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryData, CodeDataUnavailable, "error 1"),
		New(CategoryData, CodeNotFound, "error 2"),
		New(CategoryLifecycle, CodeIllegalTransition, "error 3"),
		New(CategoryValidation, CodeMissingField, "error 4"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryData] != 2 {
		t.Errorf("expected 2 data errors, got %d", summary.ByCategory[CategoryData])
	}
	if !summary.HasCode(CodeIllegalTransition) {
		t.Error("expected illegal transition code")
	}
	if summary.HasCategory(CategoryNetwork) {
		t.Error("expected not to have network category")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected highest exit code 6, got %d", summary.GetExitCode())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestAsReconcilerError(t *testing.T) {
	inner := NotFound("rule", "r-1")
	wrapped := fmt.Errorf("loading rules: %w", inner)

	got, ok := AsReconcilerError(wrapped)
	if !ok {
		t.Fatal("expected to extract reconciler error")
	}
	if got != inner {
		t.Error("expected the original error to be returned")
	}
	if !HasCode(wrapped, CodeNotFound) {
		t.Error("expected HasCode to see through wrapping")
	}
	if HasCode(errors.New("plain"), CodeNotFound) {
		t.Error("expected plain errors to carry no code")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}

	existing := DataUnavailable("list rules", nil)
	if WrapIfNeeded(existing, CategoryInternal, CodeUnexpectedError, "x") != existing {
		t.Error("expected existing reconciler error to be returned unchanged")
	}

	generic := errors.New("boom")
	wrapped := WrapIfNeeded(generic, CategoryInternal, CodeUnexpectedError, "wrapped")
	if wrapped.Category != CategoryInternal || wrapped.Cause != generic {
		t.Errorf("expected internal wrapper around cause, got %+v", wrapped)
	}
}
