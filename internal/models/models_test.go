package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestInvoiceStatus_Predicates(t *testing.T) {
	tests := []struct {
		status    InvoiceStatus
		terminal  bool
		blocked   bool
		attention bool
	}{
		{StatusProcessing, false, false, false},
		{StatusReadyToPost, false, false, false},
		{StatusBlockedPrice, false, true, true},
		{StatusBlockedQty, false, true, true},
		{StatusBlockedData, false, true, true},
		{StatusBlockedDuplicate, false, true, true},
		{StatusAwaitingInfo, false, false, true},
		{StatusRejected, true, false, false},
		{StatusPosted, true, false, false},
		{StatusParked, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if !tt.status.IsValid() {
				t.Errorf("expected %s to be valid", tt.status)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsBlocked(); got != tt.blocked {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.blocked)
			}
			if got := tt.status.NeedsAttention(); got != tt.attention {
				t.Errorf("NeedsAttention() = %v, want %v", got, tt.attention)
			}
		})
	}
}

func TestParseInvoiceStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    InvoiceStatus
		wantErr bool
	}{
		{"READY_TO_POST", StatusReadyToPost, false},
		{"ready-to-post", StatusReadyToPost, false},
		{" posted ", StatusPosted, false},
		{"APPROVED", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInvoiceStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInvoiceStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInvoiceStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func validInvoice() *Invoice {
	return &Invoice{
		ID:            "inv-1",
		InvoiceNumber: "INV-100",
		POReference:   "PO 4500001001",
		VendorName:    "Acme Corp",
		TotalAmount:   decimal.NewFromInt(100),
		Currency:      "USD",
		LineItems: []LineItem{
			{Description: "Widget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100)},
		},
		Status: StatusProcessing,
	}
}

func TestInvoice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(inv *Invoice)
		wantErr string
	}{
		{"valid", func(inv *Invoice) {}, ""},
		{"missing vendor", func(inv *Invoice) { inv.VendorName = " " }, "vendor name"},
		{"bad currency", func(inv *Invoice) { inv.Currency = "US" }, "currency"},
		{"no lines", func(inv *Invoice) { inv.LineItems = nil }, "at least one line"},
		{"zero quantity", func(inv *Invoice) { inv.LineItems[0].Quantity = decimal.Zero }, "quantity must be positive"},
		{"negative price", func(inv *Invoice) { inv.LineItems[0].UnitPrice = decimal.NewFromInt(-1) }, "unit price"},
		{"unknown status", func(inv *Invoice) { inv.Status = "APPROVED" }, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := validInvoice()
			tt.mutate(inv)
			err := inv.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInvoice_CloneAndAudit(t *testing.T) {
	inv := validInvoice()
	clone := inv.Clone()
	clone.LineItems[0].Description = "Changed"
	if inv.LineItems[0].Description != "Widget" {
		t.Error("expected clone to not share line items")
	}

	inv.AppendAudit("[PARK] NOTE actor=ap", "", "[RELEASE] NOTE actor=ap\n")
	want := "[PARK] NOTE actor=ap\n[RELEASE] NOTE actor=ap"
	if inv.AuditTrail != want {
		t.Errorf("expected audit trail %q, got %q", want, inv.AuditTrail)
	}

	if !inv.LineTotal().Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected line total 100, got %s", inv.LineTotal())
	}
}

func TestValidatorRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    ValidatorRule
		wantErr bool
	}{
		{"vendor equals", ValidatorRule{Name: "r", Field: FieldVendorName, Operator: OperatorEquals, Value: "Acme", Action: ActionAutoApprove}, false},
		{"amount greater", ValidatorRule{Name: "r", Field: FieldTotalAmount, Operator: OperatorGreaterThan, Value: "5000", Action: ActionFlagReview}, false},
		{"amount not numeric", ValidatorRule{Name: "r", Field: FieldTotalAmount, Operator: OperatorLessThan, Value: "lots", Action: ActionFlagReview}, true},
		{"amount contains", ValidatorRule{Name: "r", Field: FieldTotalAmount, Operator: OperatorContains, Value: "5", Action: ActionFlagReview}, true},
		{"text greater", ValidatorRule{Name: "r", Field: FieldVendorName, Operator: OperatorGreaterThan, Value: "A", Action: ActionAutoReject}, true},
		{"missing name", ValidatorRule{Field: FieldVendorName, Operator: OperatorEquals, Value: "Acme", Action: ActionAutoApprove}, true},
		{"bad action", ValidatorRule{Name: "r", Field: FieldVendorName, Operator: OperatorEquals, Value: "Acme", Action: "approve"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRuleTokens(t *testing.T) {
	if f, err := ParseRuleField("Vendor Name"); err != nil || f != FieldVendorName {
		t.Errorf("expected vendor_name, got %v (%v)", f, err)
	}
	if o, err := ParseRuleOperator(">"); err != nil || o != OperatorGreaterThan {
		t.Errorf("expected greater_than, got %v (%v)", o, err)
	}
	if a, err := ParseRuleAction("auto-reject"); err != nil || a != ActionAutoReject {
		t.Errorf("expected auto_reject, got %v (%v)", a, err)
	}
	if _, err := ParseRuleOperator("between"); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestLearningExample_Validate(t *testing.T) {
	example := LearningExample{
		VendorName:     "Acme",
		Rationale:      "approved $5 variance",
		ExpectedStatus: StatusReadyToPost,
		Field:          VarianceFieldPrice,
		Variance:       decimal.NewNullDecimal(decimal.NewFromInt(5)),
	}
	if err := example.Validate(); err != nil {
		t.Errorf("expected valid example, got %v", err)
	}

	example.Variance = decimal.NewNullDecimal(decimal.NewFromInt(-1))
	if err := example.Validate(); err == nil {
		t.Error("expected negative variance to be rejected")
	}

	if VarianceField("").OrDefault() != VarianceFieldPrice {
		t.Error("expected empty field to default to price")
	}
	if !SameVendor(" ACME ", "acme") {
		t.Error("expected vendor comparison to ignore case and space")
	}
}

func TestReceivedByLine(t *testing.T) {
	receipts := []*GoodsReceipt{
		{PONumber: "1", LineNumber: 1, ReceivedQuantity: decimal.NewFromInt(4), MovementAt: time.Now()},
		{PONumber: "1", LineNumber: 1, ReceivedQuantity: decimal.NewFromInt(6)},
		{PONumber: "1", LineNumber: 1, ReceivedQuantity: decimal.NewFromInt(-1)},
		{PONumber: "1", LineNumber: 2, ReceivedQuantity: decimal.NewFromInt(3)},
	}

	totals := ReceivedByLine(receipts)
	if !totals[1].Equal(decimal.NewFromInt(9)) {
		t.Errorf("expected line 1 total 9, got %s", totals[1])
	}
	if !totals[2].Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected line 2 total 3, got %s", totals[2])
	}
}

func TestIngestionRecord_JSONAndValidation(t *testing.T) {
	payload := `{
		"invoice_number": "INV-7",
		"po_reference": "PO-4500001001",
		"vendor_name": "Acme",
		"total_amount": "$1,100.00",
		"currency": "usd",
		"line_items": [{"description": "Widget", "quantity": 1, "unit_price": 1100}]
	}`

	var rec IngestionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if rec.LineItems[0].Quantity != "1" {
		t.Errorf("expected numeric quantity to become \"1\", got %q", rec.LineItems[0].Quantity)
	}
	total, err := rec.TotalAmount.Decimal()
	if err != nil || !total.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("expected total 1100, got %s (%v)", total, err)
	}
	if errs := ValidateRecord(&rec); len(errs) != 0 {
		t.Errorf("expected valid record, got %+v", errs)
	}

	rec.VendorName = ""
	rec.LineItems = nil
	errs := ValidateRecord(&rec)
	fields := make(map[string]string)
	for _, fe := range errs {
		fields[fe.Field] = fe.Tag
	}
	if fields["vendor_name"] != "required" {
		t.Errorf("expected vendor_name required error, got %+v", errs)
	}
	if fields["line_items"] != "required" {
		t.Errorf("expected line_items required error, got %+v", errs)
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"$1,250.50", "1250.5", false},
		{" 3 ", "3", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("got %s, want %s", got.String(), tt.want)
			}
		})
	}
}

func TestNormalizers(t *testing.T) {
	if NormalizeCurrency(" eur ") != "EUR" {
		t.Error("expected currency to be trimmed and upper-cased")
	}
	if NormalizeText("  Steel   BOLT ") != "steel bolt" {
		t.Errorf("unexpected normalized text %q", NormalizeText("  Steel   BOLT "))
	}
	if !CompareAmountsWithTolerance(decimal.NewFromFloat(10.01), decimal.NewFromInt(10), decimal.NewFromFloat(0.01)) {
		t.Error("expected amounts within tolerance")
	}
}
