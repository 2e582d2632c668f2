package precedent

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

func example(id, vendor, rationale string, status models.InvoiceStatus) *models.LearningExample {
	return &models.LearningExample{
		ID:             id,
		VendorName:     vendor,
		Scenario:       "price variance",
		Rationale:      rationale,
		ExpectedStatus: status,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAmountFromText(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"Approved $5 variance for freight", "5", true},
		{"variance of 12.50 accepted", "12.5", true},
		{"ok up to 1,250.75 USD", "1250.75", true},
		{"€ 3 rounding", "3", true},
		{"no figures here", "", false},
		{"Approved for PO 4500001001: $5 freight", "5", true},
		{"Agreed with vendor on 2024-03-01 to accept $5 variance", "5", true},
		{"on 2024-03-01 accepted $5", "5", true},
		{"accepted 7 EUR on line 20", "7", true},
		{"approved $5.", "5", true},
		{"Approved for PO 4500001001", "", false},
		{"agreed on 2024-03-01", "", false},
		{"line 10 accepted", "", false},
		{"accepted 5 or 8", "", false},
		{"approved $5 then $9", "", false},
		{"approved $5 and $5 again", "5", true},
		{"ref INV-2024 accepted", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := AmountFromText(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("expected ok %v, got %v", tt.wantOK, ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestLookup_Coverage(t *testing.T) {
	history := []*models.LearningExample{
		example("ex-5", "Acme", "Approved $5 variance", models.StatusReadyToPost),
	}
	memory := NewMemory(history)

	tests := []struct {
		name      string
		vendor    string
		magnitude decimal.Decimal
		covered   bool
	}{
		{"smaller variance", "Acme", decimal.NewFromInt(3), true},
		{"equal variance", "Acme", decimal.NewFromInt(5), true},
		{"larger variance", "Acme", decimal.NewFromInt(10), false},
		{"vendor compared loosely", " ACME ", decimal.NewFromInt(4), true},
		{"other vendor", "Globex", decimal.NewFromInt(1), false},
		{"negative delta uses magnitude", "Acme", decimal.NewFromInt(-4), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := memory.Lookup(tt.vendor, models.VarianceFieldPrice, tt.magnitude)
			if p.Covered != tt.covered {
				t.Errorf("expected covered %v, got %v", tt.covered, p.Covered)
			}
			if p.Covered && p.Example.ID != "ex-5" {
				t.Errorf("expected example ex-5 to be cited, got %s", p.Example.ID)
			}
		})
	}
}

func TestLookup_RationaleWithReferences(t *testing.T) {
	tests := []struct {
		name      string
		rationale string
	}{
		{"purchase order number", "Approved for PO 4500001001: $5 freight"},
		{"date", "Agreed with vendor on 2024-03-01 to accept $5 variance"},
		{"line number", "Line 30 of PO 4500001001 accepted at $5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := NewMemory([]*models.LearningExample{
				example("ex", "Acme", tt.rationale, models.StatusReadyToPost),
			})

			p := memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(5))
			if !p.Covered || !p.Limit.Equal(decimal.NewFromInt(5)) {
				t.Errorf("expected $5 covered with limit 5, got %+v", p)
			}
			if memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(10)).Covered {
				t.Error("expected $10 variance to not be covered by a $5 approval")
			}
		})
	}
}

func TestLookup_AmbiguousRationaleApprovesNothing(t *testing.T) {
	memory := NewMemory([]*models.LearningExample{
		example("ex", "Acme", "Approved for PO 4500001001 on 2024-03-01", models.StatusReadyToPost),
	})

	if memory.Size() != 0 {
		t.Errorf("expected example without magnitude to be ignored, got %d", memory.Size())
	}
	if memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(1)).Covered {
		t.Error("expected no coverage")
	}
}

func TestLookup_IgnoresNonApprovals(t *testing.T) {
	history := []*models.LearningExample{
		example("rej", "Acme", "rejected $50 overcharge", models.StatusRejected),
		example("none", "Acme", "approved without a figure", models.StatusReadyToPost),
	}
	memory := NewMemory(history)

	if memory.Size() != 0 {
		t.Errorf("expected no usable examples, got %d", memory.Size())
	}
	if memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(1)).Covered {
		t.Error("expected rejection precedent to never approve")
	}
}

func TestLookup_FieldAndExplicitVariance(t *testing.T) {
	qty := example("qty", "Acme", "over-delivery accepted", models.StatusPosted)
	qty.Field = models.VarianceFieldQuantity
	qty.Variance = decimal.NewNullDecimal(decimal.NewFromInt(2))

	memory := NewMemory([]*models.LearningExample{qty})

	if memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(1)).Covered {
		t.Error("expected quantity precedent to not cover price variance")
	}
	p := memory.Lookup("Acme", models.VarianceFieldQuantity, decimal.NewFromInt(2))
	if !p.Covered || !p.Limit.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected quantity variance covered with limit 2, got %+v", p)
	}
}

func TestLookup_CitesTightestExample(t *testing.T) {
	wide := example("wide", "Acme", "approved $20", models.StatusReadyToPost)
	tight := example("tight", "Acme", "approved $8", models.StatusReadyToPost)
	older := example("older", "Acme", "approved $8 as well", models.StatusReadyToPost)
	older.CreatedAt = tight.CreatedAt.Add(-time.Hour)

	memory := NewMemory([]*models.LearningExample{wide, tight, older})

	p := memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(6))
	if p.Example.ID != "older" {
		t.Errorf("expected oldest of the tightest examples, got %s", p.Example.ID)
	}
	p = memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(15))
	if p.Example.ID != "wide" {
		t.Errorf("expected wide example for larger variance, got %s", p.Example.ID)
	}
}

func TestLookup_NilMemory(t *testing.T) {
	var memory *Memory
	if memory.Lookup("Acme", models.VarianceFieldPrice, decimal.NewFromInt(1)).Covered {
		t.Error("expected nil memory to cover nothing")
	}
}
