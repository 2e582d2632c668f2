package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Amount is a monetary or quantity value as it arrives from extraction:
// either a JSON number or a string such as "$1,250.00".
type Amount string

// UnmarshalJSON accepts both JSON numbers and strings
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Decimal parses the amount
func (a Amount) Decimal() (decimal.Decimal, error) {
	return ParseDecimalFromString(string(a))
}

// IngestionLine is one extracted line item
type IngestionLine struct {
	Description string `json:"description"`
	Quantity    Amount `json:"quantity" validate:"required"`
	UnitPrice   Amount `json:"unit_price" validate:"required"`
}

// IngestionRecord is the structured output of document extraction that
// creates a new invoice.
type IngestionRecord struct {
	InvoiceNumber string          `json:"invoice_number" validate:"required"`
	POReference   string          `json:"po_reference"`
	VendorName    string          `json:"vendor_name" validate:"required"`
	TotalAmount   Amount          `json:"total_amount" validate:"required"`
	Currency      string          `json:"currency" validate:"required,len=3,alpha"`
	LineItems     []IngestionLine `json:"line_items" validate:"required,min=1,dive"`
	RawText       string          `json:"raw_text"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// FieldError describes one failed validation on an ingestion record.
type FieldError struct {
	Field string
	Tag   string
	Value interface{}
}

// ValidateRecord checks struct constraints on the record and returns the
// failing fields in declaration order.
func ValidateRecord(rec *IngestionRecord) []FieldError {
	err := recordValidator().Struct(rec)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "record", Tag: "invalid", Value: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field: strings.TrimPrefix(fe.Namespace(), "IngestionRecord."),
			Tag:   fe.Tag(),
			Value: fe.Value(),
		})
	}
	return out
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, symbol := range []string{"$", "€", "£", ","} {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// NormalizeCurrency trims and upper-cases an ISO currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeText lower-cases and collapses whitespace for loose comparisons
// of descriptions and material names.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
