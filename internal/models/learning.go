package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VarianceField names the dimension a learned precedent covers
type VarianceField string

const (
	VarianceFieldPrice    VarianceField = "price"
	VarianceFieldQuantity VarianceField = "quantity"
)

// IsValid checks if the field is supported; empty means price.
func (f VarianceField) IsValid() bool {
	return f == "" || f == VarianceFieldPrice || f == VarianceFieldQuantity
}

// OrDefault returns price for an unset field.
func (f VarianceField) OrDefault() VarianceField {
	if f == "" {
		return VarianceFieldPrice
	}
	return f
}

// LearningExample records a human decision so that similar future
// variances from the same vendor resolve the same way.
type LearningExample struct {
	ID             string              `json:"id"`
	InvoiceID      string              `json:"invoice_id,omitempty"`
	VendorName     string              `json:"vendor_name"`
	Scenario       string              `json:"scenario"`
	Rationale      string              `json:"rationale"`
	ExpectedStatus InvoiceStatus       `json:"expected_status"`
	Field          VarianceField       `json:"field,omitempty"`
	Variance       decimal.NullDecimal `json:"variance"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Validate performs basic validation on the example
func (e *LearningExample) Validate() error {
	if strings.TrimSpace(e.VendorName) == "" {
		return fmt.Errorf("vendor name cannot be empty")
	}
	if strings.TrimSpace(e.Rationale) == "" {
		return fmt.Errorf("rationale cannot be empty")
	}
	if !e.ExpectedStatus.IsValid() {
		return fmt.Errorf("invalid expected status '%s'", e.ExpectedStatus)
	}
	if !e.Field.IsValid() {
		return fmt.Errorf("invalid variance field '%s'", e.Field)
	}
	if e.Variance.Valid && e.Variance.Decimal.IsNegative() {
		return fmt.Errorf("variance cannot be negative, got %s", e.Variance.Decimal.String())
	}
	return nil
}

// SameVendor compares vendor names ignoring case and surrounding space.
func SameVendor(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
