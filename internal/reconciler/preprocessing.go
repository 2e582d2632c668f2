package reconciler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/errors"
)

// DataPreprocessor turns extraction records into invoices
type DataPreprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingConfig contains configuration for record preprocessing
type PreprocessingConfig struct {
	// String normalization options
	TrimWhitespace       bool
	NormalizeCurrency    bool
	CollapseDescriptions bool

	// Totals check: the header total against the sum of the lines
	RejectTotalMismatch bool
	TotalTolerance      decimal.Decimal

	// MaxRawTextLength truncates the stored raw text; zero keeps all of it
	MaxRawTextLength int
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:       true,
		NormalizeCurrency:    true,
		CollapseDescriptions: true,
		RejectTotalMismatch:  false,
		TotalTolerance:       decimal.RequireFromString("0.01"),
		MaxRawTextLength:     0,
	}
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &DataPreprocessor{config: config}
}

// PreprocessResult is a normalized invoice plus anything worth reporting
// that did not stop ingestion.
type PreprocessResult struct {
	Invoice  *models.Invoice
	Warnings []string
}

// PreprocessRecord validates an extraction record and converts it into an
// invoice. The invoice has no id or status yet.
func (dp *DataPreprocessor) PreprocessRecord(rec *models.IngestionRecord) (*PreprocessResult, error) {
	if rec == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
	}
	if fieldErrs := models.ValidateRecord(rec); len(fieldErrs) > 0 {
		return nil, recordError(fieldErrs)
	}

	total, err := rec.TotalAmount.Decimal()
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "total_amount", string(rec.TotalAmount), err)
	}

	inv := &models.Invoice{
		InvoiceNumber: dp.cleanString(rec.InvoiceNumber),
		POReference:   dp.cleanString(rec.POReference),
		VendorName:    dp.cleanString(rec.VendorName),
		TotalAmount:   total,
		Currency:      rec.Currency,
		RawText:       rec.RawText,
		LineItems:     make([]models.LineItem, 0, len(rec.LineItems)),
	}
	if dp.config.NormalizeCurrency {
		inv.Currency = models.NormalizeCurrency(inv.Currency)
	}
	if dp.config.MaxRawTextLength > 0 && len(inv.RawText) > dp.config.MaxRawTextLength {
		inv.RawText = inv.RawText[:dp.config.MaxRawTextLength]
	}

	for i, line := range rec.LineItems {
		item, err := dp.preprocessLine(i, line)
		if err != nil {
			return nil, err
		}
		inv.LineItems = append(inv.LineItems, item)
	}

	result := &PreprocessResult{Invoice: inv}

	lineTotal := inv.LineTotal()
	if !models.CompareAmountsWithTolerance(total, lineTotal, dp.config.TotalTolerance) {
		msg := fmt.Sprintf("total amount %s differs from line total %s", total.StringFixed(2), lineTotal.StringFixed(2))
		if dp.config.RejectTotalMismatch {
			return nil, errors.ValidationError(errors.CodeOutOfRange, "total_amount", total.String(), fmt.Errorf("%s", msg))
		}
		result.Warnings = append(result.Warnings, msg)
	}

	return result, nil
}

func (dp *DataPreprocessor) preprocessLine(i int, line models.IngestionLine) (models.LineItem, error) {
	qty, err := line.Quantity.Decimal()
	if err != nil {
		return models.LineItem{}, errors.ValidationError(errors.CodeInvalidAmount,
			fmt.Sprintf("line_items[%d].quantity", i), string(line.Quantity), err)
	}
	if !qty.IsPositive() {
		return models.LineItem{}, errors.ValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("line_items[%d].quantity", i), qty.String(), nil)
	}

	price, err := line.UnitPrice.Decimal()
	if err != nil {
		return models.LineItem{}, errors.ValidationError(errors.CodeInvalidAmount,
			fmt.Sprintf("line_items[%d].unit_price", i), string(line.UnitPrice), err)
	}
	if price.IsNegative() {
		return models.LineItem{}, errors.ValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("line_items[%d].unit_price", i), price.String(), nil)
	}

	description := dp.cleanString(line.Description)
	if dp.config.CollapseDescriptions {
		description = strings.Join(strings.Fields(description), " ")
	}

	return models.LineItem{Description: description, Quantity: qty, UnitPrice: price}, nil
}

func (dp *DataPreprocessor) cleanString(s string) string {
	if dp.config.TrimWhitespace {
		return strings.TrimSpace(s)
	}
	return s
}

// recordError reports the first failed field; the rest travel as context.
func recordError(fieldErrs []models.FieldError) error {
	first := fieldErrs[0]
	code := errors.CodeInvalidField
	if first.Tag == "required" || first.Tag == "min" {
		code = errors.CodeMissingField
	}

	err := errors.ValidationError(code, first.Field, first.Value, nil)
	if len(fieldErrs) > 1 {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field+":"+fe.Tag)
		}
		err = err.WithContext("failed_fields", fields)
	}
	return err
}
