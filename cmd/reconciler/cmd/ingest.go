package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/internal/parsers"
	"invoice-reconciliation-engine/pkg/errors"
)

var ingestEvaluate bool

// ingestCmd stores extracted invoice records
var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Ingest extracted invoice records",
	Long: `Ingest reads extraction records from JSON files and stores each one as a
new invoice in PROCESSING. A file may hold a single record, an array of
records or one record per line. Use "-" to read standard input.

Examples:
  reconciler ingest invoice.json
  reconciler ingest batch.json --evaluate
  cat records.jsonl | reconciler ingest -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&ingestEvaluate, "evaluate", false, "evaluate each invoice right after ingestion")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	var failures []*errors.ReconcilerError
	ingested := 0

	for _, path := range args {
		records, err := parsers.LoadRecordsFile(path)
		if err != nil {
			return err
		}

		for i, rec := range records {
			inv, err := a.service.Ingest(ctx, rec)
			if err != nil {
				fmt.Fprintf(out, "%s record %d: rejected: %v\n", path, i+1, err)
				failures = append(failures, errors.WrapIfNeeded(err, errors.CategoryValidation, errors.CodeInvalidData, "ingestion failed"))
				continue
			}
			ingested++

			if !ingestEvaluate {
				fmt.Fprintf(out, "%s\t%s\t%s\n", inv.ID, inv.InvoiceNumber, inv.Status)
				continue
			}

			res, err := a.service.Evaluate(ctx, inv.ID)
			if err != nil {
				fmt.Fprintf(out, "%s\t%s\tevaluation failed: %v\n", inv.ID, inv.InvoiceNumber, err)
				failures = append(failures, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "evaluation failed"))
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", inv.ID, inv.InvoiceNumber, res.Status, res.Reason)
		}
	}

	a.logger.WithField("ingested", ingested).WithField("failed", len(failures)).Info("Ingestion finished")

	if len(failures) > 0 {
		return errors.NewErrorSummary(failures)
	}
	return nil
}
