package reporter

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator writes batch reports with fallbacks. A structured
// format that fails on a stream is replaced by the console layout, and a
// report file that cannot be written goes to <name>_backup<ext> instead.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Use one of the formats console, json, csv or xlsx")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the batch report to writer
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.BatchResult, writer io.Writer) error {
	if err := checkBatch(result); err != nil {
		return err
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	log := srg.batchLogger(result)
	err := srg.GenerateReport(result, writer)
	if err == nil {
		log.Debug("Batch report written")
		return nil
	}

	// Workbooks are binary and never fall back into the same stream.
	if srg.config.Format == FormatConsole || srg.config.Format == FormatXLSX {
		return wrapReportError(err)
	}

	log.WithError(err).Warn("Report failed, falling back to console layout")
	return srg.consoleFallback(result, writer, err)
}

// WriteFile writes the batch report to path. When path cannot be written
// the report is saved next to it with a _backup suffix.
func (srg *SafeReportGenerator) WriteFile(result *reconciler.BatchResult, path string) error {
	if err := checkBatch(result); err != nil {
		return err
	}

	log := srg.batchLogger(result).WithField("file", path)
	err := srg.writeFile(result, path)
	if err == nil {
		log.Info("Batch report written")
		return nil
	}
	if !isFileError(err) {
		return wrapReportError(err)
	}

	backupPath := generateBackupPath(path)
	log.WithError(err).WithField("backup_file", backupPath).Warn("Report file not writable, using backup file")
	if backupErr := srg.writeFile(result, backupPath); backupErr != nil {
		return errors.FileError(errors.CodeFilePermission, path, err).
			WithContext("backup_file", backupPath).
			WithSuggestion("Choose a writable --output-file location")
	}
	return nil
}

func (srg *SafeReportGenerator) writeFile(result *reconciler.BatchResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := srg.GenerateReport(result, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (srg *SafeReportGenerator) consoleFallback(result *reconciler.BatchResult, writer io.Writer, cause error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return wrapReportError(cause)
	}

	fmt.Fprintf(writer, "NOTE: %s report failed (%v); showing the console report instead\n\n", srg.config.Format, cause)
	if err := fallback.GenerateReport(result, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("%s report: %v; console fallback: %w", srg.config.Format, cause, err))
	}
	return nil
}

func (srg *SafeReportGenerator) batchLogger(result *reconciler.BatchResult) logger.Logger {
	return srg.logger.WithFields(logger.Fields{
		"format":    srg.config.Format,
		"invoices":  result.Total,
		"attention": result.NeedsAttention(),
	})
}

func checkBatch(result *reconciler.BatchResult) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a batch result")
	}
	return nil
}

func wrapReportError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func generateBackupPath(originalPath string) string {
	ext := filepath.Ext(originalPath)
	return strings.TrimSuffix(originalPath, ext) + "_backup" + ext
}

func isFileError(err error) bool {
	if stderrors.Is(err, fs.ErrPermission) || stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, syscall.EISDIR) || stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"no space left", "permission denied", "is a directory", "file already closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
