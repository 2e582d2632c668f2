package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"syscall"

	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleSummary(summary)
	}

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}
	if err.IsRetryable() {
		fmt.Fprintf(h.out, "\nThis error is transient; retrying the command may succeed.\n")
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	if summary.Total == 1 {
		return h.handleReconcilerError(summary.Errors[0])
	}

	fmt.Fprintf(h.out, "Error: %s\n\n", summary.Error())
	for i, err := range summary.SampleErrors {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, err.Message)
	}
	if more := summary.Total - len(summary.SampleErrors); more > 0 {
		fmt.Fprintf(h.out, "  ... and %d more\n", more)
	}

	printed := make(map[string]bool)
	for _, category := range summaryHelpOrder {
		if !summary.HasCategory(category) {
			continue
		}
		if help := h.getCategoryHelp(category); !printed[help] {
			printed[help] = true
			fmt.Fprintf(h.out, "\n%s\n", help)
		}
	}
	if h.verbose {
		for _, err := range summary.Errors {
			if err.Cause != nil {
				fmt.Fprintf(h.out, "\n%s: %v", err.Code, err.Cause)
			}
		}
		fmt.Fprintln(h.out)
	}
	return summary.GetExitCode()
}

var summaryHelpOrder = []errors.ErrorCategory{
	errors.CategoryFile,
	errors.CategoryParse,
	errors.CategoryValidation,
	errors.CategoryConfiguration,
	errors.CategoryReference,
	errors.CategoryLifecycle,
	errors.CategoryData,
	errors.CategoryNetwork,
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the CSV header row names the expected columns
• Amounts are plain decimals such as 1250.00, without currency symbols
• Ensure the file uses UTF-8 encoding
• Invoice record files are JSON objects, arrays or JSON lines`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Quantities and unit prices must not be negative
• Use 'reconciler <command> --help' for the accepted values`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify configuration file syntax if using --config
• Try running with default settings first`

	case errors.CategoryReference:
		return `Reference error help:
• Load the purchase order with 'reconciler load --headers ... --lines ...'
• Check that the invoice PO reference has the expected form (4500001234)`

	case errors.CategoryLifecycle:
		return `Lifecycle error help:
• Use 'reconciler invoice show ID' to check the current status
• Only READY_TO_POST invoices can be posted
• Parked invoices must be released before they are evaluated again
• POSTED and REJECTED invoices are final`

	case errors.CategoryData, errors.CategoryNetwork:
		return `Data error help:
• Check that the store, lock and event backends are reachable
• Transient failures can be retried`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
