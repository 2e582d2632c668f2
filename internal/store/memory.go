package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/models"
)

type lineKey struct {
	po   string
	line int
}

// MemoryStore keeps everything in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*models.Invoice
	headers  map[string]*models.PurchaseOrderHeader
	lines    map[lineKey]*models.PurchaseOrderLine
	receipts map[string][]*models.GoodsReceipt
	rules    []*models.ValidatorRule
	examples []*models.LearningExample
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*models.Invoice),
		headers:  make(map[string]*models.PurchaseOrderHeader),
		lines:    make(map[lineKey]*models.PurchaseOrderLine),
		receipts: make(map[string][]*models.GoodsReceipt),
	}
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return errors.Errorf("invoice %s already exists", inv.ID)
	}
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "invoice %s", id)
	}
	return inv.Clone(), nil
}

func (s *MemoryStore) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.invoices[inv.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "invoice %s", inv.ID)
	}
	stored.Status = inv.Status
	stored.ExceptionReason = inv.ExceptionReason
	stored.AuditTrail = inv.AuditTrail
	stored.UpdatedAt = inv.UpdatedAt
	return nil
}

func (s *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Invoice
	for _, inv := range s.invoices {
		if filter.matches(inv) {
			out = append(out, inv.Clone())
		}
	}
	sortInvoices(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindInvoicesByNumber(ctx context.Context, vendor, number string) ([]*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := models.NormalizeText(number)
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if models.SameVendor(inv.VendorName, vendor) && models.NormalizeText(inv.InvoiceNumber) == key {
			out = append(out, inv.Clone())
		}
	}
	sortInvoices(out)
	return out, nil
}

func sortInvoices(invoices []*models.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
		}
		return invoices[i].ID < invoices[j].ID
	})
}

func (s *MemoryStore) GetPOHeader(ctx context.Context, poNumber string) (*models.PurchaseOrderHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.headers[poNumber]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "purchase order %s", poNumber)
	}
	copied := *h
	return &copied, nil
}

func (s *MemoryStore) GetPOLines(ctx context.Context, poNumber string) ([]*models.PurchaseOrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PurchaseOrderLine
	for key, line := range s.lines {
		if key.po == poNumber {
			copied := *line
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, nil
}

func (s *MemoryStore) GetReceipts(ctx context.Context, poNumber string) ([]*models.GoodsReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.GoodsReceipt, 0, len(s.receipts[poNumber]))
	for _, r := range s.receipts[poNumber] {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) SavePOHeaders(ctx context.Context, headers []*models.PurchaseOrderHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range headers {
		copied := *h
		s.headers[h.PONumber] = &copied
	}
	return nil
}

func (s *MemoryStore) SavePOLines(ctx context.Context, lines []*models.PurchaseOrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range lines {
		copied := *l
		s.lines[lineKey{l.PONumber, l.LineNumber}] = &copied
	}
	return nil
}

func (s *MemoryStore) AddReceipts(ctx context.Context, receipts []*models.GoodsReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range receipts {
		copied := *r
		s.receipts[r.PONumber] = append(s.receipts[r.PONumber], &copied)
	}
	return nil
}

func (s *MemoryStore) CreateRule(ctx context.Context, rule *models.ValidatorRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.ID == rule.ID {
			return errors.Errorf("rule %s already exists", rule.ID)
		}
	}
	copied := *rule
	s.rules = append(s.rules, &copied)
	return nil
}

func (s *MemoryStore) GetRule(ctx context.Context, id string) (*models.ValidatorRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.ID == id {
			copied := *r
			return &copied, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "rule %s", id)
}

func (s *MemoryStore) ListRules(ctx context.Context, activeOnly bool) ([]*models.ValidatorRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ValidatorRule
	for _, r := range s.rules {
		if activeOnly && !r.Active {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.ID == id {
			r.Active = active
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "rule %s", id)
}

func (s *MemoryStore) AddLearningExample(ctx context.Context, ex *models.LearningExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *ex
	s.examples = append(s.examples, &copied)
	return nil
}

func (s *MemoryStore) ListLearningExamples(ctx context.Context, vendor string) ([]*models.LearningExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LearningExample
	for _, ex := range s.examples {
		if models.SameVendor(ex.VendorName, vendor) {
			copied := *ex
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
