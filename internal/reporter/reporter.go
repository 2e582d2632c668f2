// Package reporter renders batch evaluation results and invoice details.
//
// Supported output formats:
//   - Console: Human-readable output for terminal display
//   - JSON: Structured data format for programmatic consumption
//   - CSV: One row per evaluated invoice for spreadsheet applications
//   - XLSX: An Excel workbook with a summary sheet and an outcome sheet
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX, TableMaxWidth: 120})
//	err = generator.GenerateReport(batchResult, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeOutcomes   bool `json:"include_outcomes"`
	IncludeFailures   bool `json:"include_failures"`
	OnlyAttention     bool `json:"only_attention"`
	IncludeAuditTrail bool `json:"include_audit_trail"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`
	MaxListItems  int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByStatus bool `json:"sort_by_status"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeOutcomes:   true,
		IncludeFailures:   true,
		OnlyAttention:     false,
		IncludeAuditTrail: true,
		TableMaxWidth:     120,
		MaxListItems:      50,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
		SortByStatus:      true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	return nil
}

// ReportGenerator generates batch and invoice reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport generates a report from a batch result and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.BatchResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("batch result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.BatchResult, writer io.Writer) error {
	fmt.Fprintf(writer, "INVOICE EVALUATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", result.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", result.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(result, writer)
	fmt.Fprintf(writer, "\n")

	if len(result.StatusCounts) > 0 {
		fmt.Fprintf(writer, "=== STATUS BREAKDOWN ===\n")
		rg.printStatusBreakdown(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	attention := rg.attentionOutcomes(result)
	if rg.config.IncludeOutcomes && len(attention) > 0 {
		fmt.Fprintf(writer, "=== NEEDS ATTENTION ===\n")
		rg.printOutcomeList(attention, writer)
		fmt.Fprintf(writer, "\n")
	}

	failures := rg.failedOutcomes(result)
	if rg.config.IncludeFailures && len(failures) > 0 {
		fmt.Fprintf(writer, "=== EVALUATION FAILURES ===\n")
		rg.printFailures(failures, writer)
		fmt.Fprintf(writer, "\n")
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.BatchResult, writer io.Writer) error {
	filteredResult := rg.filterResultForOutput(result)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filteredResult)
}

var outcomeHeaders = []string{
	"Invoice_ID",
	"Invoice_Number",
	"Vendor",
	"Status",
	"Reason",
	"Error_Code",
	"Error",
	"Retryable",
	"Duration_MS",
}

func outcomeRecord(o *reconciler.InvoiceOutcome) []string {
	retryable := ""
	if o.Failed() {
		retryable = fmt.Sprintf("%t", o.Retryable)
	}
	return []string{
		o.InvoiceID,
		o.InvoiceNumber,
		o.VendorName,
		string(o.Status),
		o.Reason,
		string(o.ErrorCode),
		o.Error,
		retryable,
		fmt.Sprintf("%d", o.Duration.Milliseconds()),
	}
}

// generateCSVReport writes one row per invoice outcome
func (rg *ReportGenerator) generateCSVReport(result *reconciler.BatchResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(outcomeHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, outcome := range rg.selectOutcomes(result) {
		if err := csvWriter.Write(outcomeRecord(outcome)); err != nil {
			return fmt.Errorf("failed to write outcome record for %s: %w", outcome.InvoiceID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

const (
	summarySheet  = "Summary"
	outcomesSheet = "Outcomes"
)

// generateXLSXReport writes a workbook with a summary sheet and one row per
// invoice outcome
func (rg *ReportGenerator) generateXLSXReport(result *reconciler.BatchResult, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if _, err := f.NewSheet(outcomesSheet); err != nil {
		return fmt.Errorf("failed to create outcomes sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Started", result.StartedAt.Format(time.RFC3339)},
		{"Finished", result.FinishedAt.Format(time.RFC3339)},
		{"Duration", result.Duration.String()},
		{"Total", result.Total},
		{"Evaluated", result.Evaluated},
		{"Failed", result.Failed},
		{"Needs Attention", result.NeedsAttention()},
	}
	for _, status := range result.Statuses() {
		summary = append(summary, []interface{}{string(status), result.StatusCounts[status]})
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	headers := make([]interface{}, len(outcomeHeaders))
	for i, h := range outcomeHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(outcomesSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write outcome headers: %w", err)
	}
	for i, outcome := range rg.selectOutcomes(result) {
		record := outcomeRecord(outcome)
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		// Durations stay numeric so they can be summed in the sheet
		row[len(row)-1] = outcome.Duration.Milliseconds()

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(outcomesSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write outcome row for %s: %w", outcome.InvoiceID, err)
		}
	}

	if err := f.SetRowStyle(summarySheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetRowStyle(outcomesSheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(outcomesSheet, "A", "C", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(outcomesSheet, "D", "E", 40); err != nil {
		return err
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// GenerateInvoiceReport writes one invoice with its lines, reason and audit
// trail. Spreadsheet output is not supported for single invoices.
func (rg *ReportGenerator) GenerateInvoiceReport(inv *models.Invoice, writer io.Writer) error {
	if inv == nil {
		return fmt.Errorf("invoice cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateInvoiceConsole(inv, writer)
	case FormatJSON:
		out := inv
		if !rg.config.IncludeAuditTrail {
			out = inv.Clone()
			out.AuditTrail = ""
		}
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	case FormatCSV:
		csvWriter := csv.NewWriter(writer)
		csvWriter.Comma = rg.config.CSVDelimiter
		if rg.config.CSVHeaders {
			if err := csvWriter.Write([]string{"Invoice_Number", "Line", "Description", "Quantity", "Unit_Price", "Amount"}); err != nil {
				return fmt.Errorf("failed to write CSV headers: %w", err)
			}
		}
		for i, line := range inv.LineItems {
			if err := csvWriter.Write([]string{
				inv.InvoiceNumber,
				fmt.Sprintf("%d", i+1),
				line.Description,
				line.Quantity.String(),
				line.UnitPrice.String(),
				line.Amount().String(),
			}); err != nil {
				return fmt.Errorf("failed to write line %d: %w", i+1, err)
			}
		}
		csvWriter.Flush()
		return csvWriter.Error()
	default:
		return fmt.Errorf("format %s is not supported for invoice reports", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateInvoiceConsole(inv *models.Invoice, writer io.Writer) error {
	fmt.Fprintf(writer, "INVOICE %s\n", inv.InvoiceNumber)
	fmt.Fprintf(writer, "ID:           %s\n", inv.ID)
	fmt.Fprintf(writer, "Vendor:       %s\n", inv.VendorName)
	fmt.Fprintf(writer, "PO Reference: %s\n", inv.POReference)
	fmt.Fprintf(writer, "Total:        %s %s\n", inv.TotalAmount.StringFixed(2), inv.Currency)
	fmt.Fprintf(writer, "Status:       %s\n", inv.Status)
	if inv.ExceptionReason != "" {
		fmt.Fprintf(writer, "Reason:       %s\n", inv.ExceptionReason)
	}
	fmt.Fprintf(writer, "Updated:      %s\n\n", inv.UpdatedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== LINE ITEMS ===\n")
	for i, line := range inv.LineItems {
		fmt.Fprintf(writer, "  %d. %s  %s x %s = %s\n",
			i+1,
			rg.truncate(line.Description, rg.config.TableMaxWidth-40),
			line.Quantity.String(),
			line.UnitPrice.StringFixed(2),
			line.Amount().StringFixed(2))
	}

	if rg.config.IncludeAuditTrail && inv.AuditTrail != "" {
		fmt.Fprintf(writer, "\n=== AUDIT TRAIL ===\n")
		fmt.Fprintf(writer, "%s\n", strings.TrimRight(inv.AuditTrail, "\n"))
	}
	return nil
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(result *reconciler.BatchResult, writer io.Writer) {
	fmt.Fprintf(writer, "Invoices:\n")
	fmt.Fprintf(writer, "  Total:           %d\n", result.Total)
	fmt.Fprintf(writer, "  Evaluated:       %d (%.1f%%)\n",
		result.Evaluated,
		rg.calculatePercentage(result.Evaluated, result.Total))
	fmt.Fprintf(writer, "  Failed:          %d (%.1f%%)\n",
		result.Failed,
		rg.calculatePercentage(result.Failed, result.Total))
	fmt.Fprintf(writer, "  Needs Attention: %d (%.1f%%)\n",
		result.NeedsAttention(),
		rg.calculatePercentage(result.NeedsAttention(), result.Evaluated))
}

func (rg *ReportGenerator) printStatusBreakdown(result *reconciler.BatchResult, writer io.Writer) {
	for _, status := range result.Statuses() {
		count := result.StatusCounts[status]
		fmt.Fprintf(writer, "%-18s %d (%.1f%%)\n",
			string(status)+":", count, rg.calculatePercentage(count, result.Evaluated))
	}
}

func (rg *ReportGenerator) printOutcomeList(outcomes []*reconciler.InvoiceOutcome, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(outcomes))
	for i, o := range outcomes {
		line := fmt.Sprintf("  %d. %s (%s) %s: %s", i+1, o.InvoiceNumber, o.VendorName, o.Status, o.Reason)
		fmt.Fprintf(writer, "%s\n", rg.truncate(line, rg.config.TableMaxWidth))

		if rg.config.MaxListItems > 0 && i+1 >= rg.config.MaxListItems && len(outcomes) > rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(outcomes)-rg.config.MaxListItems)
			break
		}
	}
}

func (rg *ReportGenerator) printFailures(outcomes []*reconciler.InvoiceOutcome, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n\n", len(outcomes))
	for i, o := range outcomes {
		retry := ""
		if o.Retryable {
			retry = " [retryable]"
		}
		line := fmt.Sprintf("  %d. %s%s: %s", i+1, o.InvoiceID, retry, o.Error)
		fmt.Fprintf(writer, "%s\n", rg.truncate(line, rg.config.TableMaxWidth))

		if rg.config.MaxListItems > 0 && i+1 >= rg.config.MaxListItems && len(outcomes) > rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(outcomes)-rg.config.MaxListItems)
			break
		}
	}
}

// Helper methods

func (rg *ReportGenerator) attentionOutcomes(result *reconciler.BatchResult) []*reconciler.InvoiceOutcome {
	var out []*reconciler.InvoiceOutcome
	for _, o := range result.Outcomes {
		if o != nil && !o.Failed() && o.Status.NeedsAttention() {
			out = append(out, o)
		}
	}
	rg.sortOutcomes(out)
	return out
}

func (rg *ReportGenerator) failedOutcomes(result *reconciler.BatchResult) []*reconciler.InvoiceOutcome {
	var out []*reconciler.InvoiceOutcome
	for _, o := range result.Outcomes {
		if o != nil && o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// selectOutcomes returns the outcomes that tabular formats list
func (rg *ReportGenerator) selectOutcomes(result *reconciler.BatchResult) []*reconciler.InvoiceOutcome {
	var out []*reconciler.InvoiceOutcome
	for _, o := range result.Outcomes {
		if o == nil {
			continue
		}
		if o.Failed() {
			if rg.config.IncludeFailures {
				out = append(out, o)
			}
			continue
		}
		if rg.config.OnlyAttention && !o.Status.NeedsAttention() {
			continue
		}
		if rg.config.IncludeOutcomes {
			out = append(out, o)
		}
	}
	rg.sortOutcomes(out)
	return out
}

func (rg *ReportGenerator) sortOutcomes(outcomes []*reconciler.InvoiceOutcome) {
	if !rg.config.SortByStatus {
		return
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Status < outcomes[j].Status
	})
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.BatchResult) map[string]interface{} {
	output := map[string]interface{}{
		"started_at":      result.StartedAt,
		"finished_at":     result.FinishedAt,
		"duration":        result.Duration.String(),
		"total":           result.Total,
		"evaluated":       result.Evaluated,
		"failed":          result.Failed,
		"needs_attention": result.NeedsAttention(),
		"status_counts":   result.StatusCounts,
	}

	if rg.config.IncludeOutcomes || rg.config.IncludeFailures {
		outcomes := rg.selectOutcomes(result)
		if outcomes == nil {
			outcomes = []*reconciler.InvoiceOutcome{}
		}
		output["outcomes"] = outcomes
	}

	return output
}
