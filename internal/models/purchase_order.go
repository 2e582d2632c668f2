package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrderHeader is the ERP header of a purchase order
type PurchaseOrderHeader struct {
	PONumber string `json:"po_number"`
	VendorID string `json:"vendor_id"`
	Currency string `json:"currency"`
}

// Validate performs basic validation on the header
func (h *PurchaseOrderHeader) Validate() error {
	if strings.TrimSpace(h.PONumber) == "" {
		return fmt.Errorf("PO number cannot be empty")
	}
	if len(strings.TrimSpace(h.Currency)) != 3 {
		return fmt.Errorf("currency must be a three-letter code, got '%s'", h.Currency)
	}
	return nil
}

// PurchaseOrderLine is one ordered line of a purchase order
type PurchaseOrderLine struct {
	PONumber        string          `json:"po_number"`
	LineNumber      int             `json:"line_number"`
	Material        string          `json:"material"`
	OrderedQuantity decimal.Decimal `json:"ordered_quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// Validate performs basic validation on the line
func (l *PurchaseOrderLine) Validate() error {
	if strings.TrimSpace(l.PONumber) == "" {
		return fmt.Errorf("PO number cannot be empty")
	}
	if l.LineNumber <= 0 {
		return fmt.Errorf("line number must be positive, got %d", l.LineNumber)
	}
	if !l.OrderedQuantity.IsPositive() {
		return fmt.Errorf("ordered quantity must be positive, got %s", l.OrderedQuantity.String())
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price cannot be negative, got %s", l.UnitPrice.String())
	}
	return nil
}

// GoodsReceipt records quantity physically received against a PO line
type GoodsReceipt struct {
	PONumber         string          `json:"po_number"`
	LineNumber       int             `json:"line_number"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	MovementAt       time.Time       `json:"movement_at"`
}

// Validate performs basic validation on the receipt. Negative quantities
// are allowed and represent return movements.
func (g *GoodsReceipt) Validate() error {
	if strings.TrimSpace(g.PONumber) == "" {
		return fmt.Errorf("PO number cannot be empty")
	}
	if g.LineNumber <= 0 {
		return fmt.Errorf("line number must be positive, got %d", g.LineNumber)
	}
	if g.ReceivedQuantity.IsZero() {
		return fmt.Errorf("received quantity cannot be zero")
	}
	return nil
}

// ReceivedByLine sums receipts per PO line number.
func ReceivedByLine(receipts []*GoodsReceipt) map[int]decimal.Decimal {
	totals := make(map[int]decimal.Decimal)
	for _, r := range receipts {
		totals[r.LineNumber] = totals[r.LineNumber].Add(r.ReceivedQuantity)
	}
	return totals
}
