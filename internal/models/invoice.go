package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle position of an invoice
type InvoiceStatus string

const (
	StatusProcessing       InvoiceStatus = "PROCESSING"
	StatusReadyToPost      InvoiceStatus = "READY_TO_POST"
	StatusBlockedPrice     InvoiceStatus = "BLOCKED_PRICE"
	StatusBlockedQty       InvoiceStatus = "BLOCKED_QTY"
	StatusBlockedData      InvoiceStatus = "BLOCKED_DATA"
	StatusBlockedDuplicate InvoiceStatus = "BLOCKED_DUPLICATE"
	StatusAwaitingInfo     InvoiceStatus = "AWAITING_INFO"
	StatusRejected         InvoiceStatus = "REJECTED"
	StatusPosted           InvoiceStatus = "POSTED"
	StatusParked           InvoiceStatus = "PARKED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []InvoiceStatus{
	StatusProcessing,
	StatusReadyToPost,
	StatusBlockedPrice,
	StatusBlockedQty,
	StatusBlockedData,
	StatusBlockedDuplicate,
	StatusAwaitingInfo,
	StatusRejected,
	StatusPosted,
	StatusParked,
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known statuses
func (s InvoiceStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further action may change the invoice.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusPosted
}

// IsBlocked reports whether the status is one of the BLOCKED_* exceptions.
func (s InvoiceStatus) IsBlocked() bool {
	return strings.HasPrefix(string(s), "BLOCKED_")
}

// NeedsAttention reports whether a human has to look at the invoice.
func (s InvoiceStatus) NeedsAttention() bool {
	return s.IsBlocked() || s == StatusAwaitingInfo
}

// IsApproval reports whether the status represents an accepted invoice.
func (s InvoiceStatus) IsApproval() bool {
	return s == StatusReadyToPost || s == StatusPosted
}

// ParseInvoiceStatus parses a status name, accepting lower case and hyphens.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid invoice status '%s'", s)
	}
	return status, nil
}

// LineItem is one billed line of an invoice
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount returns quantity times unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Invoice is a vendor bill under reconciliation
type Invoice struct {
	ID              string          `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	POReference     string          `json:"po_reference"`
	VendorName      string          `json:"vendor_name"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	LineItems       []LineItem      `json:"line_items"`
	RawText         string          `json:"raw_text,omitempty"`
	Status          InvoiceStatus   `json:"status"`
	ExceptionReason string          `json:"exception_reason,omitempty"`
	AuditTrail      string          `json:"audit_trail,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate performs basic validation on the Invoice
func (inv *Invoice) Validate() error {
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("invoice ID cannot be empty")
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return fmt.Errorf("invoice number cannot be empty")
	}
	if strings.TrimSpace(inv.VendorName) == "" {
		return fmt.Errorf("vendor name cannot be empty")
	}
	if len(strings.TrimSpace(inv.Currency)) != 3 {
		return fmt.Errorf("currency must be a three-letter code, got '%s'", inv.Currency)
	}
	if len(inv.LineItems) == 0 {
		return fmt.Errorf("invoice must have at least one line item")
	}
	for i, line := range inv.LineItems {
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("line %d: quantity must be positive, got %s", i+1, line.Quantity.String())
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("line %d: unit price cannot be negative, got %s", i+1, line.UnitPrice.String())
		}
	}
	if !inv.Status.IsValid() {
		return fmt.Errorf("invalid invoice status '%s'", inv.Status)
	}
	return nil
}

// LineTotal sums the line amounts.
func (inv *Invoice) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range inv.LineItems {
		total = total.Add(line.Amount())
	}
	return total
}

// Clone returns a deep copy so callers can mutate without affecting stored state.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	clone := *inv
	clone.LineItems = append([]LineItem(nil), inv.LineItems...)
	return &clone
}

// AppendAudit adds lines to the audit trail, keeping one entry per line.
func (inv *Invoice) AppendAudit(lines ...string) {
	for _, line := range lines {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		if inv.AuditTrail != "" && !strings.HasSuffix(inv.AuditTrail, "\n") {
			inv.AuditTrail += "\n"
		}
		inv.AuditTrail += line
	}
}

// String returns a string representation of the Invoice
func (inv *Invoice) String() string {
	return fmt.Sprintf("Invoice{ID: %s, Number: %s, Vendor: %s, Total: %s %s, Status: %s}",
		inv.ID, inv.InvoiceNumber, inv.VendorName, inv.TotalAmount.StringFixed(2), inv.Currency, inv.Status)
}
