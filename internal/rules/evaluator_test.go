package rules

import (
	"testing"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

func rule(id string, field models.RuleField, op models.RuleOperator, value string, action models.RuleAction) *models.ValidatorRule {
	return &models.ValidatorRule{
		ID:       id,
		Name:     "rule " + id,
		Field:    field,
		Operator: op,
		Value:    value,
		Action:   action,
		Active:   true,
	}
}

func testInvoice() *models.Invoice {
	return &models.Invoice{
		ID:            "inv-1",
		InvoiceNumber: "INV-2024-001",
		POReference:   "PO 4500001001",
		VendorName:    "Acme Corp",
		TotalAmount:   decimal.NewFromInt(6000),
		Currency:      "USD",
	}
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name  string
		rule  *models.ValidatorRule
		match bool
	}{
		{"vendor equals", rule("1", models.FieldVendorName, models.OperatorEquals, "Acme Corp", models.ActionAutoApprove), true},
		{"vendor equals is case sensitive", rule("2", models.FieldVendorName, models.OperatorEquals, "acme corp", models.ActionAutoApprove), false},
		{"vendor contains", rule("3", models.FieldVendorName, models.OperatorContains, "Acme", models.ActionAutoApprove), true},
		{"amount greater", rule("4", models.FieldTotalAmount, models.OperatorGreaterThan, "5000", models.ActionFlagReview), true},
		{"amount greater is numeric", rule("5", models.FieldTotalAmount, models.OperatorGreaterThan, "10000", models.ActionFlagReview), false},
		{"amount less", rule("6", models.FieldTotalAmount, models.OperatorLessThan, "6000.01", models.ActionFlagReview), true},
		{"amount equals different scale", rule("7", models.FieldTotalAmount, models.OperatorEquals, "6000.00", models.ActionFlagReview), true},
		{"po reference contains", rule("8", models.FieldPOReference, models.OperatorContains, "4500", models.ActionAutoReject), true},
		{"invoice number equals", rule("9", models.FieldInvoiceNumber, models.OperatorEquals, "INV-2024-001", models.ActionAutoReject), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Evaluate([]*models.ValidatorRule{tt.rule}, testInvoice())
			if got := len(outcome.Matches) == 1; got != tt.match {
				t.Errorf("expected match %v, got %v (%+v)", tt.match, got, outcome)
			}
			if len(outcome.Skipped) != 0 {
				t.Errorf("expected no skipped rules, got %+v", outcome.Skipped)
			}
		})
	}
}

func TestEvaluate_Priority(t *testing.T) {
	approve := rule("a", models.FieldVendorName, models.OperatorEquals, "Acme Corp", models.ActionAutoApprove)
	reject := rule("r", models.FieldTotalAmount, models.OperatorGreaterThan, "5000", models.ActionAutoReject)
	flag := rule("f", models.FieldVendorName, models.OperatorContains, "Acme", models.ActionFlagReview)

	tests := []struct {
		name       string
		rules      []*models.ValidatorRule
		wantAction Action
		wantWinner string
	}{
		{"no rules", nil, ActionNone, ""},
		{"flag only", []*models.ValidatorRule{flag}, ActionFlagReview, "f"},
		{"approve beats flag", []*models.ValidatorRule{flag, approve}, ActionAutoApprove, "a"},
		{"reject beats approve", []*models.ValidatorRule{approve, reject}, ActionAutoReject, "r"},
		{"reject beats approve regardless of order", []*models.ValidatorRule{reject, approve, flag}, ActionAutoReject, "r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Evaluate(tt.rules, testInvoice())
			if outcome.Action != tt.wantAction {
				t.Errorf("expected action %s, got %s", tt.wantAction, outcome.Action)
			}
			if tt.wantWinner == "" {
				if outcome.Winner != nil {
					t.Errorf("expected no winner, got %s", outcome.Winner.ID)
				}
				return
			}
			if outcome.Winner == nil || outcome.Winner.ID != tt.wantWinner {
				t.Errorf("expected winner %s, got %+v", tt.wantWinner, outcome.Winner)
			}
			if len(outcome.Matches) != len(tt.rules) {
				t.Errorf("expected all %d rules to be reported, got %d", len(tt.rules), len(outcome.Matches))
			}
		})
	}
}

func TestEvaluate_FirstRuleWinsWithinAction(t *testing.T) {
	first := rule("1", models.FieldVendorName, models.OperatorContains, "Acme", models.ActionAutoApprove)
	second := rule("2", models.FieldVendorName, models.OperatorEquals, "Acme Corp", models.ActionAutoApprove)

	outcome := Evaluate([]*models.ValidatorRule{first, second}, testInvoice())
	if outcome.Winner.ID != "1" {
		t.Errorf("expected the first matching rule to win, got %s", outcome.Winner.ID)
	}
}

func TestEvaluate_InactiveAndUnusableRules(t *testing.T) {
	inactive := rule("i", models.FieldVendorName, models.OperatorEquals, "Acme Corp", models.ActionAutoReject)
	inactive.Active = false
	badNumber := rule("n", models.FieldTotalAmount, models.OperatorGreaterThan, "lots", models.ActionAutoReject)
	textCompare := rule("t", models.FieldVendorName, models.OperatorGreaterThan, "A", models.ActionAutoReject)

	outcome := Evaluate([]*models.ValidatorRule{inactive, badNumber, textCompare}, testInvoice())

	if outcome.Action != ActionNone {
		t.Errorf("expected no action, got %s", outcome.Action)
	}
	if len(outcome.Skipped) != 2 {
		t.Fatalf("expected 2 skipped rules, got %+v", outcome.Skipped)
	}
	if outcome.Skipped[0].Rule.ID != "n" || outcome.Skipped[1].Rule.ID != "t" {
		t.Errorf("expected skipped rules in rule-set order, got %+v", outcome.Skipped)
	}
	if outcome.HasOverride() {
		t.Error("expected no override")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	set := []*models.ValidatorRule{
		rule("1", models.FieldVendorName, models.OperatorContains, "Acme", models.ActionFlagReview),
		rule("2", models.FieldTotalAmount, models.OperatorGreaterThan, "100", models.ActionAutoApprove),
	}
	a := Evaluate(set, testInvoice())
	b := Evaluate(set, testInvoice())
	if a.Action != b.Action || a.Winner != b.Winner || len(a.Matches) != len(b.Matches) {
		t.Error("expected identical outcomes for identical input")
	}
}
