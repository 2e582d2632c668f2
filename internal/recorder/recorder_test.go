package recorder

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/matcher"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/precedent"
	"invoice-reconciliation-engine/internal/rules"
)

func createTestInput(price string) *matcher.MatchInput {
	d := decimal.RequireFromString
	return &matcher.MatchInput{
		Invoice: &models.Invoice{
			ID:            "inv-1",
			InvoiceNumber: "INV-1",
			VendorName:    "Acme",
			Currency:      "USD",
			LineItems:     []models.LineItem{{Description: "Widget", Quantity: d("1"), UnitPrice: d(price)}},
		},
		POKey:    "4500001001",
		KeyOK:    true,
		Header:   &models.PurchaseOrderHeader{PONumber: "4500001001", Currency: "USD"},
		Lines:    []*models.PurchaseOrderLine{{PONumber: "4500001001", LineNumber: 1, Material: "Widget", OrderedQuantity: d("1"), UnitPrice: d("100")}},
		Receipts: []*models.GoodsReceipt{{PONumber: "4500001001", LineNumber: 1, ReceivedQuantity: d("1")}},
		Rules:    rules.Outcome{Action: rules.ActionNone},
	}
}

func TestRender_Ready(t *testing.T) {
	res := matcher.NewEngine(nil).Match(createTestInput("100"))
	d := Render(res)

	if d.Status != models.StatusReadyToPost {
		t.Fatalf("expected READY_TO_POST, got %s", d.Status)
	}
	if d.Reason != "" {
		t.Errorf("expected no reason, got %q", d.Reason)
	}

	lines := strings.Split(d.AuditTrail, "\n")
	expectedPrefixes := []string{
		"[EXISTENCE_CHECK] PASS",
		"[RULE_MATCH] PASS",
		"[CURRENCY_CHECK] PASS currency=USD",
		"[LINE_MATCH] PASS line=1",
		"[PRICE_CHECK] PASS line=1",
		"[QTY_CHECK] PASS line=1",
		"[DECISION] READY_TO_POST",
	}
	if len(lines) != len(expectedPrefixes) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(expectedPrefixes), len(lines), d.AuditTrail)
	}
	for i, prefix := range expectedPrefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d: expected prefix %q, got %q", i, prefix, lines[i])
		}
	}
}

func TestRender_Blocked(t *testing.T) {
	d := Render(matcher.NewEngine(nil).Match(createTestInput("110")))

	if d.Status != models.StatusBlockedPrice {
		t.Fatalf("expected BLOCKED_PRICE, got %s", d.Status)
	}
	if !strings.Contains(d.AuditTrail, "[PRICE_CHECK] FAIL line=1 invoiced=110.00 po=100.00") {
		t.Errorf("expected failing price step, got:\n%s", d.AuditTrail)
	}
	last := d.AuditTrail[strings.LastIndex(d.AuditTrail, "\n")+1:]
	if !strings.HasPrefix(last, `[DECISION] BLOCKED_PRICE reason="Price Variance on line 1`) {
		t.Errorf("unexpected decision line %q", last)
	}
}

func TestRender_CitesOverrides(t *testing.T) {
	t.Run("precedent", func(t *testing.T) {
		in := createTestInput("104")
		in.Memory = precedent.NewMemory([]*models.LearningExample{{
			ID: "ex-42", VendorName: "Acme", Rationale: "approved $5", ExpectedStatus: models.StatusPosted,
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}})

		d := Render(matcher.NewEngine(nil).Match(in))
		if d.Status != models.StatusReadyToPost {
			t.Fatalf("expected READY_TO_POST, got %s", d.Status)
		}
		if !strings.Contains(d.AuditTrail, "[PRICE_CHECK] OVERRIDE line=1") {
			t.Errorf("expected price override step:\n%s", d.AuditTrail)
		}
		if !strings.Contains(d.AuditTrail, "[PRECEDENT] OVERRIDE line=1 example=ex-42 field=price limit=5.00") {
			t.Errorf("expected precedent step citing the example:\n%s", d.AuditTrail)
		}
	})

	t.Run("rule", func(t *testing.T) {
		in := createTestInput("500")
		rule := &models.ValidatorRule{ID: "r-1", Name: "trust acme", Field: models.FieldVendorName,
			Operator: models.OperatorEquals, Value: "Acme", Action: models.ActionAutoApprove, Active: true}
		in.Rules = rules.Evaluate([]*models.ValidatorRule{rule}, in.Invoice)

		d := Render(matcher.NewEngine(nil).Match(in))
		if !strings.Contains(d.AuditTrail, `[RULE_MATCH] OVERRIDE rule="trust acme" rule_id=r-1`) {
			t.Errorf("expected rule override citing the rule:\n%s", d.AuditTrail)
		}
	})
}

func TestRender_Idempotent(t *testing.T) {
	engine := matcher.NewEngine(nil)
	first := Render(engine.Match(createTestInput("110")))
	second := Render(engine.Match(createTestInput("110")))

	if first.AuditTrail != second.AuditTrail {
		t.Errorf("expected identical trails:\n%s\n---\n%s", first.AuditTrail, second.AuditTrail)
	}

	a, err := first.JSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := second.JSON()
	if string(a) != string(b) {
		t.Error("expected identical JSON")
	}
}

func TestRender_ReasonNeverEmpty(t *testing.T) {
	res := &matcher.MatchResult{Status: models.StatusAwaitingInfo}
	d := Render(res)
	if d.Reason == "" {
		t.Error("expected a fallback reason for a non-ready decision")
	}
}

func TestDecisionJSON(t *testing.T) {
	d := Render(matcher.NewEngine(nil).Match(createTestInput("110")))
	data, err := d.JSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Status string `json:"status"`
		Steps  []struct {
			Label string `json:"label"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Status != "BLOCKED_PRICE" {
		t.Errorf("expected BLOCKED_PRICE, got %s", decoded.Status)
	}
	if len(decoded.Steps) != len(d.Steps) || decoded.Steps[0].Label != "EXISTENCE_CHECK" {
		t.Errorf("unexpected steps %+v", decoded.Steps)
	}
}

func TestLifecycleEntry(t *testing.T) {
	got := LifecycleEntry("reject", "jane", models.StatusBlockedPrice, models.StatusRejected, "vendor overcharged")
	want := `[LIFECYCLE] NOTE action=reject actor=jane from=BLOCKED_PRICE to=REJECTED msg="vendor overcharged"`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
