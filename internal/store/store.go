// Package store persists invoices, purchase order reference data, validator
// rules and learning examples.
//
// Two implementations are provided: MemoryStore for tests and one-shot CLI
// runs, and SQLiteStore for durable state. Both return records ordered
// deterministically (creation time, then id) so rule evaluation order and
// precedent citation are stable across runs.
package store

import (
	"context"

	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// InvoiceFilter narrows ListInvoices
type InvoiceFilter struct {
	Statuses []models.InvoiceStatus
	Vendor   string
	Limit    int
}

func (f InvoiceFilter) matches(inv *models.Invoice) bool {
	if f.Vendor != "" && !models.SameVendor(f.Vendor, inv.VendorName) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if inv.Status == s {
			return true
		}
	}
	return false
}

// InvoiceRepository stores invoices and their decisions
type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	// UpdateInvoice writes status, exception reason, audit trail and update time.
	UpdateInvoice(ctx context.Context, inv *models.Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*models.Invoice, error)
	// FindInvoicesByNumber returns invoices of vendor carrying number, compared loosely.
	FindInvoicesByNumber(ctx context.Context, vendor, number string) ([]*models.Invoice, error)
}

// ReferenceReader reads purchase order data for evaluation
type ReferenceReader interface {
	// GetPOHeader returns ErrNotFound when the order has no header.
	GetPOHeader(ctx context.Context, poNumber string) (*models.PurchaseOrderHeader, error)
	GetPOLines(ctx context.Context, poNumber string) ([]*models.PurchaseOrderLine, error)
	GetReceipts(ctx context.Context, poNumber string) ([]*models.GoodsReceipt, error)
}

// ReferenceWriter loads purchase order data
type ReferenceWriter interface {
	SavePOHeaders(ctx context.Context, headers []*models.PurchaseOrderHeader) error
	SavePOLines(ctx context.Context, lines []*models.PurchaseOrderLine) error
	AddReceipts(ctx context.Context, receipts []*models.GoodsReceipt) error
}

// RuleRepository stores validator rules in creation order
type RuleRepository interface {
	CreateRule(ctx context.Context, rule *models.ValidatorRule) error
	GetRule(ctx context.Context, id string) (*models.ValidatorRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*models.ValidatorRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
}

// LearningRepository stores human-approved precedents
type LearningRepository interface {
	AddLearningExample(ctx context.Context, ex *models.LearningExample) error
	// ListLearningExamples returns the examples of vendor, compared loosely.
	ListLearningExamples(ctx context.Context, vendor string) ([]*models.LearningExample, error)
}

// Store is the full persistence surface
type Store interface {
	InvoiceRepository
	ReferenceReader
	ReferenceWriter
	RuleRepository
	LearningRepository
	Close() error
}
