package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/cmd/reconciler/config"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/parsers"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

var (
	headersFile     string
	linesFile       string
	receiptsFile    string
	defaultCurrency string
	movementFormat  string
	receiptBatch    int
)

// loadCmd imports purchase order reference data from CSV exports
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load purchase orders and goods receipts from CSV files",
	Long: `Load reads ERP exports of purchase order headers, purchase order lines
and goods receipts. Headers and lines replace existing rows with the same
key; receipts are always appended. SAP column names (EBELN, EBELP, MENGE,
NETPR, ...) are accepted as aliases.

Examples:
  reconciler load --headers ekko.csv --lines ekpo.csv
  reconciler load --receipts mseg.csv --time-format 02.01.2006`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if headersFile == "" && linesFile == "" && receiptsFile == "" {
			return errors.ValidationError(errors.CodeMissingField, "files", nil, nil).
				WithSuggestion("Pass at least one of --headers, --lines or --receipts")
		}
		return nil
	},
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	flags := loadCmd.Flags()
	flags.StringVar(&headersFile, "headers", "", "purchase order header CSV (po_number, vendor_id, currency)")
	flags.StringVar(&linesFile, "lines", "", "purchase order line CSV (po_number, line_number, material, ordered_quantity, unit_price)")
	flags.StringVar(&receiptsFile, "receipts", "", "goods receipt CSV (po_number, line_number, received_quantity, movement_at)")
	flags.StringVar(&defaultCurrency, "default-currency", "", "currency for headers without a currency column")
	flags.StringVar(&movementFormat, "time-format", "", "Go time layout of movement_at (default: common formats)")
	flags.IntVar(&receiptBatch, "batch-size", 1000, "receipts stored per batch")
}

func runLoad(cmd *cobra.Command, args []string) error {
	parserConfig, err := config.CreateReferenceParserConfig(defaultCurrency, movementFormat)
	if err != nil {
		return err
	}
	parser, err := parsers.NewReferenceParser(parserConfig)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	var data reconciler.ReferenceData

	if headersFile != "" {
		headers, stats, err := parser.ParseHeadersFile(ctx, headersFile)
		if err != nil {
			return err
		}
		reportStats(cmd, stats)
		data.Headers = headers
	}
	if linesFile != "" {
		lines, stats, err := parser.ParseLinesFile(ctx, linesFile)
		if err != nil {
			return err
		}
		reportStats(cmd, stats)
		data.Lines = lines
	}
	if len(data.Headers) > 0 || len(data.Lines) > 0 {
		err := logger.TimedOperation("store purchase orders", a.logger, func() error {
			return a.service.LoadReference(ctx, data)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Loaded %d purchase order header(s) and %d line(s)\n", len(data.Headers), len(data.Lines))
	}

	if receiptsFile == "" {
		return nil
	}

	streamConfig := parsers.DefaultStreamingConfig()
	streamConfig.BatchSize = receiptBatch
	streamer, err := parsers.NewStreamingReceiptParser(parserConfig, streamConfig)
	if err != nil {
		return err
	}

	stored := 0
	stats, err := streamer.ParseReceiptsFileStream(ctx, receiptsFile,
		func(batch []*models.GoodsReceipt) error {
			if err := a.service.LoadReference(ctx, reconciler.ReferenceData{Receipts: batch}); err != nil {
				return err
			}
			stored += len(batch)
			return nil
		},
		func(p *parsers.ProgressReport) {
			a.logger.WithField("processed", p.ProcessedRecords).WithField("errors", p.ErrorCount).Debug("Receipt load progress")
		})
	if err != nil {
		return err
	}
	reportStats(cmd, stats)
	fmt.Fprintf(out, "Loaded %d goods receipt(s)\n", stored)
	return nil
}

// reportStats prints skipped rows to stderr
func reportStats(cmd *cobra.Command, stats *parsers.ParseStats) {
	if stats == nil || !stats.HasErrors() {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n\n%s\n", stats.File, stats.String(), errors.FormatParseErrorsForUser(stats.Errors))
}
