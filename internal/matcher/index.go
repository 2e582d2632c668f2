package matcher

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

// AssociationMethod records how an invoice line was tied to a PO line
type AssociationMethod string

const (
	AssociatedByMaterial    AssociationMethod = "material"
	AssociatedByDescription AssociationMethod = "description"
	AssociatedByPosition    AssociationMethod = "position"
)

// POLineIndex provides lookups of purchase order lines for invoice lines
type POLineIndex struct {
	// MaterialIndex maps normalized material names to PO lines
	MaterialIndex map[string][]*models.PurchaseOrderLine

	// Ordered holds all lines sorted by line number
	Ordered []*models.PurchaseOrderLine
}

// NewPOLineIndex creates a new index from the lines of one purchase order
func NewPOLineIndex(lines []*models.PurchaseOrderLine) *POLineIndex {
	index := &POLineIndex{
		MaterialIndex: make(map[string][]*models.PurchaseOrderLine),
		Ordered:       make([]*models.PurchaseOrderLine, 0, len(lines)),
	}

	for _, line := range lines {
		if line == nil {
			continue
		}
		index.Ordered = append(index.Ordered, line)
		if key := models.NormalizeText(line.Material); key != "" {
			index.MaterialIndex[key] = append(index.MaterialIndex[key], line)
		}
	}

	sort.SliceStable(index.Ordered, func(i, j int) bool {
		return index.Ordered[i].LineNumber < index.Ordered[j].LineNumber
	})

	return index
}

// Len returns the number of indexed lines
func (idx *POLineIndex) Len() int {
	return len(idx.Ordered)
}

// ByPosition returns the PO line at a zero-based position, or nil
func (idx *POLineIndex) ByPosition(position int) *models.PurchaseOrderLine {
	if position < 0 || position >= len(idx.Ordered) {
		return nil
	}
	return idx.Ordered[position]
}

// GetCandidates returns the PO lines whose material matches a description,
// first by exact normalized name, then by containment in either direction.
func (idx *POLineIndex) GetCandidates(description string) ([]*models.PurchaseOrderLine, AssociationMethod) {
	desc := models.NormalizeText(description)
	if desc == "" {
		return nil, ""
	}

	if exact := idx.MaterialIndex[desc]; len(exact) > 0 {
		return exact, AssociatedByMaterial
	}

	var partial []*models.PurchaseOrderLine
	for _, line := range idx.Ordered {
		material := models.NormalizeText(line.Material)
		if material == "" {
			continue
		}
		if strings.Contains(desc, material) || strings.Contains(material, desc) {
			partial = append(partial, line)
		}
	}
	if len(partial) > 0 {
		return partial, AssociatedByDescription
	}
	return nil, ""
}

// Associate picks the PO line for an invoice line at a zero-based position.
// Among several candidates the one with the smallest unit price difference
// wins, then the smallest quantity difference against the ordered quantity,
// then the lowest line number.
func (idx *POLineIndex) Associate(item models.LineItem, position int, config *MatchConfig) (*models.PurchaseOrderLine, AssociationMethod) {
	candidates, method := idx.GetCandidates(item.Description)

	if len(candidates) == 0 {
		if strings.TrimSpace(item.Description) != "" && !config.PositionalFallback {
			return nil, ""
		}
		if line := idx.ByPosition(position); line != nil {
			return line, AssociatedByPosition
		}
		return nil, ""
	}

	best := rankCandidates(item, candidates)
	return best[0], method
}

func rankCandidates(item models.LineItem, candidates []*models.PurchaseOrderLine) []*models.PurchaseOrderLine {
	ranked := append([]*models.PurchaseOrderLine(nil), candidates...)
	priceDelta := func(l *models.PurchaseOrderLine) decimal.Decimal {
		return item.UnitPrice.Sub(l.UnitPrice).Abs()
	}
	qtyDelta := func(l *models.PurchaseOrderLine) decimal.Decimal {
		return item.Quantity.Sub(l.OrderedQuantity).Abs()
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := priceDelta(ranked[i]), priceDelta(ranked[j])
		if !pi.Equal(pj) {
			return pi.LessThan(pj)
		}
		qi, qj := qtyDelta(ranked[i]), qtyDelta(ranked[j])
		if !qi.Equal(qj) {
			return qi.LessThan(qj)
		}
		return ranked[i].LineNumber < ranked[j].LineNumber
	})
	return ranked
}
