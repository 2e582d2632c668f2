package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/cmd/reconciler/config"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/internal/reporter"
	"invoice-reconciliation-engine/pkg/errors"
)

// Flags for the evaluate command
var (
	evaluatePending  bool
	outputFormat     string
	outputFile       string
	onlyAttention    bool
	showProgress     bool
	batchConcurrency int
)

// evaluateCmd runs the three-way match on a batch of invoices
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [INVOICE_ID...]",
	Short: "Evaluate invoices against purchase orders and goods receipts",
	Long: `Evaluate runs the validator rules, duplicate check and three-way match
on the given invoices, or on every invoice still in PROCESSING with
--pending, and writes a batch report.

Examples:
  # Evaluate everything that is pending
  reconciler evaluate --pending

  # Evaluate two invoices and export the result
  reconciler evaluate 6f1c... 9a2b... --output-format xlsx --output-file batch.xlsx

  # Only list invoices that need a human
  reconciler evaluate --pending --only-attention --output-format csv`,
	PreRunE: validateEvaluateFlags,
	RunE:    runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	flags := evaluateCmd.Flags()
	flags.BoolVar(&evaluatePending, "pending", false, "evaluate every invoice in PROCESSING")
	flags.StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv, xlsx")
	flags.StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	flags.BoolVar(&onlyAttention, "only-attention", false, "list only invoices that need attention")
	flags.BoolVar(&showProgress, "progress", false, "show progress indicators")
	flags.IntVar(&batchConcurrency, "concurrency", 0, "parallel evaluations (default from batch.concurrency)")
}

func validateEvaluateFlags(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !evaluatePending {
		return errors.ValidationError(errors.CodeMissingField, "invoice_ids", nil, nil).
			WithSuggestion("Pass invoice ids or use --pending")
	}
	if len(args) > 0 && evaluatePending {
		return errors.ConfigurationError(errors.CodeConfigConflict, "pending", true, nil).
			WithSuggestion("Use either invoice ids or --pending, not both")
	}
	if batchConcurrency < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "concurrency", batchConcurrency, nil)
	}
	if _, err := config.CreateReportConfig(outputFormat, onlyAttention); err != nil {
		return err
	}
	if outputFormat == string(reporter.FormatXLSX) && outputFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "output-file", nil, nil).
			WithSuggestion("Workbooks are binary; write them to a file with --output-file")
	}
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, dir, err).
				WithSuggestion("Create the output directory first")
		}
	}
	return nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, showProgress)
	if err != nil {
		return err
	}
	defer a.close()

	orchestrator, err := reconciler.NewOrchestrator(a.service)
	if err != nil {
		return err
	}
	if showProgress {
		orchestrator.AddProgressCallback(func(progress *reconciler.BatchProgress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%d/%d] %.1f%% complete, %d failed",
				progress.Completed, progress.Total, progress.PercentComplete, progress.Failed)
		})
	}

	result, err := orchestrator.EvaluatePending(ctx, reconciler.BatchOptions{
		InvoiceIDs:  args,
		Concurrency: batchConcurrency,
	})
	if err != nil {
		return err
	}
	if showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	if err := writeBatchReport(cmd.OutOrStdout(), result, a); err != nil {
		return err
	}

	if result.Failed > 0 {
		return errors.New(errors.CategoryData, errors.CodeDataUnavailable,
			fmt.Sprintf("%d of %d invoices could not be evaluated", result.Failed, result.Total)).
			WithSuggestion("Rerun the evaluation once the data store is reachable")
	}
	return nil
}

func writeBatchReport(stdout io.Writer, result *reconciler.BatchResult, a *app) error {
	reportConfig, err := config.CreateReportConfig(outputFormat, onlyAttention)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, a.logger)
	if err != nil {
		return err
	}

	if outputFile != "" {
		return generator.WriteFile(result, outputFile)
	}
	return generator.GenerateReportSafely(result, stdout)
}
