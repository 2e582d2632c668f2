package matcher

import (
	"testing"

	"invoice-reconciliation-engine/internal/models"
)

func createTestPOLines() []*models.PurchaseOrderLine {
	return []*models.PurchaseOrderLine{
		{PONumber: "PO1", LineNumber: 30, Material: "Steel Bolt M8", OrderedQuantity: dec("100"), UnitPrice: dec("0.40")},
		{PONumber: "PO1", LineNumber: 10, Material: "Widget", OrderedQuantity: dec("5"), UnitPrice: dec("10")},
		{PONumber: "PO1", LineNumber: 20, Material: "Widget", OrderedQuantity: dec("2"), UnitPrice: dec("12")},
		{PONumber: "PO1", LineNumber: 40, Material: "", OrderedQuantity: dec("1"), UnitPrice: dec("50")},
	}
}

func TestNewPOLineIndex(t *testing.T) {
	index := NewPOLineIndex(append(createTestPOLines(), nil))

	if index.Len() != 4 {
		t.Fatalf("expected 4 lines, got %d", index.Len())
	}

	// Ordered by line number regardless of input order
	for i, want := range []int{10, 20, 30, 40} {
		if got := index.ByPosition(i).LineNumber; got != want {
			t.Errorf("position %d: expected line %d, got %d", i, want, got)
		}
	}

	if index.ByPosition(-1) != nil || index.ByPosition(4) != nil {
		t.Error("expected nil outside the index")
	}

	if len(index.MaterialIndex["widget"]) != 2 {
		t.Errorf("expected 2 widget lines, got %d", len(index.MaterialIndex["widget"]))
	}
}

func TestGetCandidates(t *testing.T) {
	index := NewPOLineIndex(createTestPOLines())

	tests := []struct {
		description string
		wantCount   int
		wantMethod  AssociationMethod
	}{
		{"Widget", 2, AssociatedByMaterial},
		{"  WIDGET ", 2, AssociatedByMaterial},
		{"Steel Bolt M8 zinc plated", 1, AssociatedByDescription},
		{"Bolt", 1, AssociatedByDescription},
		{"Gasket", 0, ""},
		{"", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			candidates, method := index.GetCandidates(tt.description)
			if len(candidates) != tt.wantCount {
				t.Errorf("expected %d candidates, got %d", tt.wantCount, len(candidates))
			}
			if method != tt.wantMethod {
				t.Errorf("expected method %q, got %q", tt.wantMethod, method)
			}
		})
	}
}

func TestAssociate_TieBreak(t *testing.T) {
	index := NewPOLineIndex(createTestPOLines())
	config := DefaultMatchConfig()

	tests := []struct {
		name     string
		item     models.LineItem
		wantLine int
	}{
		{"closest price", models.LineItem{Description: "Widget", Quantity: dec("5"), UnitPrice: dec("11.90")}, 20},
		{"price tie resolved by quantity", models.LineItem{Description: "Widget", Quantity: dec("2"), UnitPrice: dec("11")}, 20},
		{"full tie resolved by line number", models.LineItem{Description: "Widget", Quantity: dec("3.5"), UnitPrice: dec("11")}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, method := index.Associate(tt.item, 0, config)
			if line == nil {
				t.Fatal("expected a PO line")
			}
			if line.LineNumber != tt.wantLine {
				t.Errorf("expected line %d, got %d", tt.wantLine, line.LineNumber)
			}
			if method != AssociatedByMaterial {
				t.Errorf("expected material association, got %s", method)
			}
		})
	}
}

func TestAssociate_Positional(t *testing.T) {
	index := NewPOLineIndex(createTestPOLines())

	// Empty descriptions always use position
	line, method := index.Associate(models.LineItem{Quantity: dec("1"), UnitPrice: dec("50")}, 3, DefaultMatchConfig())
	if line == nil || line.LineNumber != 40 || method != AssociatedByPosition {
		t.Fatalf("expected positional line 40, got %v %s", line, method)
	}

	// Unknown descriptions only when fallback is enabled
	item := models.LineItem{Description: "Gasket", Quantity: dec("1"), UnitPrice: dec("10")}
	if line, _ := index.Associate(item, 0, DefaultMatchConfig()); line != nil {
		t.Errorf("expected no association without fallback, got line %d", line.LineNumber)
	}
	line, method = index.Associate(item, 0, RelaxedMatchConfig())
	if line == nil || line.LineNumber != 10 || method != AssociatedByPosition {
		t.Errorf("expected positional line 10 with fallback, got %v %s", line, method)
	}

	// Position beyond the order
	if line, _ := index.Associate(models.LineItem{}, 9, DefaultMatchConfig()); line != nil {
		t.Error("expected nil for position beyond the PO")
	}
}
