package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/parsers"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

func resetEvaluateFlags() {
	evaluatePending = false
	outputFormat = "console"
	outputFile = ""
	onlyAttention = false
	batchConcurrency = 0
}

func TestValidateEvaluateFlags(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		args     []string
		setup    func()
		wantCode errors.ErrorCode
	}{
		{name: "ids", args: []string{"a", "b"}},
		{name: "pending", setup: func() { evaluatePending = true }},
		{name: "nothing to evaluate", wantCode: errors.CodeMissingField},
		{name: "ids and pending", args: []string{"a"}, setup: func() { evaluatePending = true }, wantCode: errors.CodeConfigConflict},
		{name: "negative concurrency", args: []string{"a"}, setup: func() { batchConcurrency = -1 }, wantCode: errors.CodeOutOfRange},
		{name: "unknown format", args: []string{"a"}, setup: func() { outputFormat = "pdf" }, wantCode: errors.CodeInvalidConfig},
		{name: "xlsx to stdout", args: []string{"a"}, setup: func() { outputFormat = "xlsx" }, wantCode: errors.CodeMissingField},
		{
			name: "xlsx to file",
			args: []string{"a"},
			setup: func() {
				outputFormat = "xlsx"
				outputFile = filepath.Join(tmpDir, "batch.xlsx")
			},
		},
		{
			name:     "missing output directory",
			args:     []string{"a"},
			setup:    func() { outputFile = filepath.Join(tmpDir, "missing", "out.json") },
			wantCode: errors.CodeFileNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEvaluateFlags()
			defer resetEvaluateFlags()
			if tt.setup != nil {
				tt.setup()
			}

			err := validateEvaluateFlags(&cobra.Command{}, tt.args)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("expected error code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestBuildTrainRequest(t *testing.T) {
	reset := func() {
		trainActor, trainScenario, trainRationale = "", "", ""
		trainExpected = string(models.StatusReadyToPost)
		trainField, trainVariance = "", ""
		trainCreateRule, trainRuleName = false, ""
	}
	defer reset()

	t.Run("defaults", func(t *testing.T) {
		reset()
		trainRationale = "Freight surcharge agreed"

		req, err := buildTrainRequest("inv-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.InvoiceID != "inv-1" {
			t.Errorf("expected invoice id inv-1, got %s", req.InvoiceID)
		}
		if req.ExpectedStatus != models.StatusReadyToPost {
			t.Errorf("expected READY_TO_POST, got %s", req.ExpectedStatus)
		}
		if req.Variance.Valid {
			t.Error("expected no explicit variance")
		}
		if req.Field != "" {
			t.Errorf("expected no field, got %s", req.Field)
		}
	})

	t.Run("explicit variance", func(t *testing.T) {
		reset()
		trainField = "quantity"
		trainVariance = "4"
		trainCreateRule = true

		req, err := buildTrainRequest("inv-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Field != models.VarianceField("quantity") {
			t.Errorf("expected quantity, got %s", req.Field)
		}
		if !req.Variance.Valid || req.Variance.Decimal.String() != "4" {
			t.Errorf("expected variance 4, got %v", req.Variance)
		}
		if !req.CreateRule {
			t.Error("expected create rule to be set")
		}
	})

	invalid := []struct {
		name     string
		setup    func()
		wantCode errors.ErrorCode
	}{
		{"unknown status", func() { trainExpected = "DONE" }, errors.CodeInvalidField},
		{"unknown field", func() { trainField = "freight" }, errors.CodeInvalidField},
		{"negative variance", func() { trainVariance = "-1" }, errors.CodeInvalidAmount},
		{"malformed variance", func() { trainVariance = "ten" }, errors.CodeInvalidAmount},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			reset()
			tt.setup()
			if _, err := buildTrainRequest("inv-1"); !errors.HasCode(err, tt.wantCode) {
				t.Errorf("expected error code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestBuildRule(t *testing.T) {
	reset := func() {
		ruleName, ruleField, ruleOperator, ruleValue, ruleAction = "", "", "", "", ""
		ruleInactive = false
	}
	defer reset()

	reset()
	ruleName = "Trusted"
	ruleField = "vendor_name"
	ruleOperator = "equals"
	ruleValue = "Acme"
	ruleAction = "auto_approve"
	ruleInactive = true

	rule, err := buildRule()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Active {
		t.Error("expected --inactive to store a disabled rule")
	}
	if rule.Value != "Acme" {
		t.Errorf("expected value Acme, got %s", rule.Value)
	}

	ruleOperator = "matches"
	if _, err := buildRule(); !errors.HasCode(err, errors.CodeInvalidField) {
		t.Errorf("expected invalid field error, got %v", err)
	}
}

func TestCLIErrorHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"file", errors.FileError(errors.CodeFileNotFound, "missing.csv", os.ErrNotExist), 2, "File error help"},
		{"validation", errors.ValidationError(errors.CodeMissingField, "vendor_name", nil, nil), 3, "Validation error help"},
		{"reference", errors.ReferenceError(errors.CodeMalformedReference, "PO-X"), 3, "Reference error help"},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", "mongo", nil), 4, "Configuration error help"},
		{"lifecycle", errors.LifecycleError(errors.CodeIllegalTransition, "inv-1", "PROCESSING", "post"), 5, "Lifecycle error help"},
		{"data", errors.DataUnavailable("load invoice", fmt.Errorf("database is locked")), 6, "retrying the command may succeed"},
		{"generic", fmt.Errorf("boom"), 1, "Error: boom"},
		{"wrapped file not found", fmt.Errorf("open: %w", os.ErrNotExist), 2, "File not found"},
		{
			"summary uses the highest exit code",
			errors.NewErrorSummary([]*errors.ReconcilerError{
				errors.ValidationError(errors.CodeMissingField, "vendor_name", nil, nil),
				errors.DataUnavailable("save invoice", nil),
			}),
			6,
			"2 errors occurred",
		},
		{
			"summary prints help for each category",
			errors.NewErrorSummary([]*errors.ReconcilerError{
				errors.EmptyValueError("lines.csv", 2, "po_number").ReconcilerError,
				errors.EmptyValueError("lines.csv", 3, "po_number").ReconcilerError,
			}),
			3,
			"Parse error help",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &CLIErrorHandler{logger: logger.NewNopLogger(), out: &buf}

			if got := h.HandleError(tt.err); got != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, got)
			}
			if tt.contains != "" && !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.contains, buf.String())
			}
		})
	}
}

func TestReportStats(t *testing.T) {
	var stderr bytes.Buffer
	c := &cobra.Command{}
	c.SetErr(&stderr)

	stats := parsers.NewParseStats("lines.csv")
	reportStats(c, stats)
	if stderr.Len() != 0 {
		t.Errorf("expected nothing printed for a clean file, got %q", stderr.String())
	}

	stats.AddError(errors.InvalidAmountError("lines.csv", 3, "unit_price", "12,5"))
	reportStats(c, stats)
	for _, want := range []string{"lines.csv:", "1 errors", "invalid amount format", "Line: 3", "unit_price"} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, stderr.String())
		}
	}
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestEndToEnd_LoadIngestEvaluatePost(t *testing.T) {
	tmpDir := t.TempDir()
	storeFlags := []string{
		"--store-driver", "sqlite",
		"--store-path", filepath.Join(tmpDir, "reconciler.db"),
		"--events-driver", "none",
	}
	run := func(args ...string) string {
		t.Helper()
		out, err := executeRoot(t, append(args, storeFlags...)...)
		if err != nil {
			t.Fatalf("%s failed: %v", args[0], err)
		}
		return out
	}

	headers := writeFile(t, tmpDir, "headers.csv", "po_number,vendor_id,currency\n4500001001,V-1,USD\n")
	lines := writeFile(t, tmpDir, "lines.csv",
		"po_number,line_number,material,ordered_quantity,unit_price\n4500001001,10,Widget,2,50.00\n")
	receipts := writeFile(t, tmpDir, "receipts.csv",
		"po_number,line_number,received_quantity,movement_at\n4500001001,10,2,2024-03-01\n")
	records := writeFile(t, tmpDir, "invoice.json", `{
  "invoice_number": "INV-100",
  "po_reference": "PO 4500001001",
  "vendor_name": "Acme",
  "total_amount": "100.00",
  "currency": "USD",
  "line_items": [{"description": "Widget", "quantity": 2, "unit_price": "50.00"}]
}`)

	out := run("load", "--headers", headers, "--lines", lines, "--receipts", receipts)
	if !strings.Contains(out, "Loaded 1 purchase order header(s) and 1 line(s)") {
		t.Errorf("unexpected load output: %s", out)
	}
	if !strings.Contains(out, "Loaded 1 goods receipt(s)") {
		t.Errorf("expected one receipt loaded, got: %s", out)
	}

	ingestEvaluate = true
	defer func() { ingestEvaluate = false }()
	out = run("ingest", records, "--evaluate")
	if !strings.Contains(out, string(models.StatusReadyToPost)) {
		t.Fatalf("expected invoice to be ready to post, got: %s", out)
	}
	invoiceID := strings.Fields(out)[0]

	out = run("invoice", "post", invoiceID, "--actor", "ap.clerk")
	if !strings.Contains(out, string(models.StatusPosted)) {
		t.Errorf("expected POSTED, got: %s", out)
	}

	out = run("invoice", "list", "--status", "POSTED")
	if !strings.Contains(out, "INV-100") || !strings.Contains(out, "1 invoice(s)") {
		t.Errorf("expected the posted invoice in the list, got: %s", out)
	}

	_, err := executeRoot(t, append([]string{"invoice", "post", invoiceID}, storeFlags...)...)
	if !errors.HasCode(err, errors.CodeTerminalInvoice) && !errors.HasCode(err, errors.CodeIllegalTransition) {
		t.Errorf("expected posting twice to fail with a lifecycle error, got %v", err)
	}
}
