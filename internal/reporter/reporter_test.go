package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

func createSampleBatchResult() *reconciler.BatchResult {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &reconciler.BatchResult{
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Duration:   1500 * time.Millisecond,
		Total:      4,
		Evaluated:  3,
		Failed:     1,
		StatusCounts: map[models.InvoiceStatus]int{
			models.StatusReadyToPost:  1,
			models.StatusBlockedPrice: 1,
			models.StatusBlockedData:  1,
		},
		Outcomes: []*reconciler.InvoiceOutcome{
			{InvoiceID: "id-1", InvoiceNumber: "INV-001", VendorName: "Acme", Status: models.StatusReadyToPost, Duration: 12 * time.Millisecond},
			{InvoiceID: "id-2", InvoiceNumber: "INV-002", VendorName: "Acme", Status: models.StatusBlockedPrice, Reason: "Line 1: unit price 110.00 exceeds PO price 100.00 by 10.00", Duration: 8 * time.Millisecond},
			{InvoiceID: "id-3", InvoiceNumber: "INV-003", VendorName: "Globex", Status: models.StatusBlockedData, Reason: "PO reference missing or unparsable", Duration: 3 * time.Millisecond},
			{InvoiceID: "id-4", Error: "data unavailable: load purchase order lines", ErrorCode: errors.CodeDataUnavailable, Retryable: true},
		},
	}
}

func createSampleInvoice() *models.Invoice {
	return &models.Invoice{
		ID:              "id-2",
		InvoiceNumber:   "INV-002",
		POReference:     "PO 4500001001",
		VendorName:      "Acme",
		TotalAmount:     decimal.RequireFromString("110"),
		Currency:        "USD",
		LineItems:       []models.LineItem{{Description: "Widget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("110")}},
		Status:          models.StatusBlockedPrice,
		ExceptionReason: "Line 1: unit price 110.00 exceeds PO price 100.00 by 10.00",
		AuditTrail:      "[PRECEDENT] No precedent\n[DECISION] BLOCKED_PRICE\n",
		UpdatedAt:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format:        "invalid",
				TableMaxWidth: 120,
			},
			expectError: true,
		},
		{
			name: "table width too small",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 30,
			},
			expectError: true,
		},
		{
			name: "negative list items",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 120,
				MaxListItems:  -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format   OutputFormat
		expected bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{FormatXLSX, true},
		{"pdf", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.expected {
				t.Errorf("expected %v for %q, got %v", tt.expected, tt.format, got)
			}
		})
	}
}

func TestGenerateReport_NilResult(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestConsoleOutputSections(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	var buf bytes.Buffer

	if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	sections := []string{
		"INVOICE EVALUATION REPORT",
		"=== SUMMARY ===",
		"=== STATUS BREAKDOWN ===",
		"=== NEEDS ATTENTION ===",
		"=== EVALUATION FAILURES ===",
	}
	for _, section := range sections {
		if !strings.Contains(output, section) {
			t.Errorf("expected section %q in output", section)
		}
	}

	if !strings.Contains(output, "Needs Attention: 2") {
		t.Errorf("expected attention count in summary, got:\n%s", output)
	}
	if !strings.Contains(output, "BLOCKED_PRICE:") {
		t.Error("expected status breakdown line")
	}
	if !strings.Contains(output, "id-4 [retryable]") {
		t.Error("expected retryable failure to be marked")
	}
	if strings.Contains(output, "INV-001 (Acme)") {
		t.Error("ready invoices should not be listed as needing attention")
	}
}

func TestConsoleOutput_SectionsDisabled(t *testing.T) {
	config := DefaultReportConfig()
	config.IncludeOutcomes = false
	config.IncludeFailures = false
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "NEEDS ATTENTION") || strings.Contains(buf.String(), "EVALUATION FAILURES") {
		t.Error("expected detail sections to be omitted")
	}
}

func TestConsoleOutput_ListLimit(t *testing.T) {
	config := DefaultReportConfig()
	config.MaxListItems = 2
	generator, _ := NewReportGenerator(config)

	result := &reconciler.BatchResult{StatusCounts: map[models.InvoiceStatus]int{models.StatusBlockedQty: 5}, Total: 5, Evaluated: 5}
	for i := 0; i < 5; i++ {
		result.Outcomes = append(result.Outcomes, &reconciler.InvoiceOutcome{
			InvoiceID:     fmt.Sprintf("id-%d", i),
			InvoiceNumber: fmt.Sprintf("INV-%d", i),
			Status:        models.StatusBlockedQty,
		})
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(result, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "... and 3 more") {
		t.Errorf("expected truncated list, got:\n%s", buf.String())
	}
}

func TestJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if decoded["total"] != float64(4) {
		t.Errorf("expected total 4, got %v", decoded["total"])
	}
	if decoded["needs_attention"] != float64(2) {
		t.Errorf("expected needs_attention 2, got %v", decoded["needs_attention"])
	}
	outcomes, ok := decoded["outcomes"].([]interface{})
	if !ok || len(outcomes) != 4 {
		t.Errorf("expected 4 outcomes, got %v", decoded["outcomes"])
	}
	counts := decoded["status_counts"].(map[string]interface{})
	if counts["BLOCKED_PRICE"] != float64(1) {
		t.Errorf("expected BLOCKED_PRICE count 1, got %v", counts["BLOCKED_PRICE"])
	}
}

func TestCSVFormatting(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*ReportConfig)
		expectedRows int
	}{
		{"all outcomes with header", func(c *ReportConfig) {}, 5},
		{"no header", func(c *ReportConfig) { c.CSVHeaders = false }, 4},
		{"only attention", func(c *ReportConfig) { c.OnlyAttention = true }, 4},
		{"only attention without failures", func(c *ReportConfig) { c.OnlyAttention = true; c.IncludeFailures = false }, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = FormatCSV
			tt.mutate(config)
			generator, _ := NewReportGenerator(config)

			var buf bytes.Buffer
			if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			rows, err := csv.NewReader(&buf).ReadAll()
			if err != nil {
				t.Fatalf("invalid CSV output: %v", err)
			}
			if len(rows) != tt.expectedRows {
				t.Errorf("expected %d rows, got %d", tt.expectedRows, len(rows))
			}
			for _, row := range rows {
				if len(row) != len(outcomeHeaders) {
					t.Errorf("expected %d columns, got %d", len(outcomeHeaders), len(row))
				}
			}
		})
	}
}

func TestCSVFormatting_Semicolon(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	config.CSVDelimiter = ';'
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	if firstLine != strings.Join(outcomeHeaders, ";") {
		t.Errorf("unexpected header line %q", firstLine)
	}
}

func TestXLSXReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatXLSX
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleBatchResult(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != summarySheet || sheets[1] != outcomesSheet {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	rows, err := f.GetRows(outcomesSheet)
	if err != nil {
		t.Fatalf("failed to read outcomes: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header and 4 outcome rows, got %d", len(rows))
	}
	if rows[0][0] != "Invoice_ID" {
		t.Errorf("expected header row, got %v", rows[0])
	}

	total, err := f.GetCellValue(summarySheet, "B5")
	if err != nil {
		t.Fatalf("failed to read summary: %v", err)
	}
	if total != "4" {
		t.Errorf("expected total 4 in summary, got %q", total)
	}
}

func TestGenerateInvoiceReport(t *testing.T) {
	inv := createSampleInvoice()

	t.Run("console", func(t *testing.T) {
		generator, _ := NewReportGenerator(nil)
		var buf bytes.Buffer
		if err := generator.GenerateInvoiceReport(inv, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"INVOICE INV-002", "BLOCKED_PRICE", "=== LINE ITEMS ===", "=== AUDIT TRAIL ===", "[DECISION] BLOCKED_PRICE"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output", want)
			}
		}
	})

	t.Run("json without audit trail", func(t *testing.T) {
		config := DefaultReportConfig()
		config.Format = FormatJSON
		config.IncludeAuditTrail = false
		generator, _ := NewReportGenerator(config)

		var buf bytes.Buffer
		if err := generator.GenerateInvoiceReport(inv, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "audit_trail") {
			t.Error("expected audit trail to be omitted")
		}
		if inv.AuditTrail == "" {
			t.Error("expected the original invoice to be left untouched")
		}
	})

	t.Run("csv", func(t *testing.T) {
		config := DefaultReportConfig()
		config.Format = FormatCSV
		generator, _ := NewReportGenerator(config)

		var buf bytes.Buffer
		if err := generator.GenerateInvoiceReport(inv, &buf); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rows, _ := csv.NewReader(&buf).ReadAll()
		if len(rows) != 2 || rows[1][5] != "110" {
			t.Errorf("unexpected rows %v", rows)
		}
	})

	t.Run("xlsx unsupported", func(t *testing.T) {
		config := DefaultReportConfig()
		config.Format = FormatXLSX
		generator, _ := NewReportGenerator(config)
		if err := generator.GenerateInvoiceReport(inv, &bytes.Buffer{}); err == nil {
			t.Error("expected error for workbook invoice report")
		}
	})
}

func TestCalculatePercentage(t *testing.T) {
	generator, _ := NewReportGenerator(nil)

	tests := []struct {
		part, total int
		expected    float64
	}{
		{0, 0, 0},
		{1, 4, 25},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := generator.calculatePercentage(tt.part, tt.total); got != tt.expected {
			t.Errorf("expected %.1f for %d/%d, got %.1f", tt.expected, tt.part, tt.total, got)
		}
	}
}

// failOnceWriter fails its first write and accepts the rest
type failOnceWriter struct {
	failed bool
	buf    bytes.Buffer
}

func (w *failOnceWriter) Write(p []byte) (int, error) {
	if !w.failed {
		w.failed = true
		return 0, fmt.Errorf("encoder exploded")
	}
	return w.buf.Write(p)
}

func TestSafeReportGenerator(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewSafeReportGenerator(config, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Test with nil result
	err = generator.GenerateReportSafely(nil, &bytes.Buffer{})
	if !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("expected missing field error, got %v", err)
	}

	// A failed JSON write falls back to the console format
	w := &failOnceWriter{}
	if err := generator.GenerateReportSafely(createSampleBatchResult(), w); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if !strings.Contains(w.buf.String(), "INVOICE EVALUATION REPORT") {
		t.Errorf("expected console fallback output, got %q", w.buf.String())
	}

	// Invalid configuration
	_, err = NewSafeReportGenerator(&ReportConfig{Format: "bogus"}, nil)
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid config error, got %v", err)
	}
}

func TestSafeReportGenerator_WriteFile(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, err := NewSafeReportGenerator(config, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "batch.csv")
	if err := generator.WriteFile(createSampleBatchResult(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data, err := os.ReadFile(path); err != nil || !strings.Contains(string(data), "Invoice_ID") {
		t.Errorf("expected CSV report at %s, got %q (%v)", path, data, err)
	}

	// A directory in the way sends the report to the backup file
	blocked := filepath.Join(dir, "blocked.csv")
	if err := os.Mkdir(blocked, 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := generator.WriteFile(createSampleBatchResult(), blocked); err != nil {
		t.Fatalf("expected backup fallback to succeed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "blocked_backup.csv")); err != nil {
		t.Errorf("expected backup report: %v", err)
	}

	if err := generator.WriteFile(nil, path); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("expected missing field error, got %v", err)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	if got := generateBackupPath("/tmp/report.csv"); got != "/tmp/report_backup.csv" {
		t.Errorf("unexpected backup path %s", got)
	}
}
