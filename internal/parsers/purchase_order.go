package parsers

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reference"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// ReferenceParser parses purchase order headers, purchase order lines and
// goods receipts exported from the ERP. PO numbers are normalized to the
// same key the matcher uses for invoice references.
type ReferenceParser struct {
	*BaseParser
	config *ReferenceParserConfig
	logger logger.Logger
}

// NewReferenceParser creates a new reference data parser
func NewReferenceParser(config *ReferenceParserConfig) (*ReferenceParser, error) {
	if config == nil {
		config = DefaultReferenceParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"reference_parser_config",
			config,
			err,
		).WithSuggestion("Check the column aliases and default currency")
	}

	return &ReferenceParser{
		BaseParser: NewBaseParser(config.Parse),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("reference_parser"),
	}, nil
}

// ParseHeaders parses purchase order headers from r. file names the source
// in error locations.
func (p *ReferenceParser) ParseHeaders(ctx context.Context, r io.Reader, file string) ([]*models.PurchaseOrderHeader, *ParseStats, error) {
	var headers []*models.PurchaseOrderHeader

	stats, err := p.parse(ctx, r, file, p.config.headerColumns(), func(record []string, pc *ParseContext) error {
		h := &models.PurchaseOrderHeader{
			VendorID: p.GetFieldValue(record, pc, ColumnVendorID),
			Currency: p.GetFieldValue(record, pc, ColumnCurrency),
		}
		number, perr := p.poNumber(record, pc)
		if perr != nil {
			return perr
		}
		h.PONumber = number
		if h.Currency == "" {
			h.Currency = p.config.DefaultCurrency
		}
		h.Currency = models.NormalizeCurrency(h.Currency)

		if err := h.Validate(); err != nil {
			return invalidRow(pc, ColumnCurrency, h.Currency, err)
		}
		headers = append(headers, h)
		return nil
	})

	p.logParsed("purchase order headers", stats, err)
	return headers, stats, err
}

// ParseLines parses purchase order lines from r
func (p *ReferenceParser) ParseLines(ctx context.Context, r io.Reader, file string) ([]*models.PurchaseOrderLine, *ParseStats, error) {
	var lines []*models.PurchaseOrderLine

	stats, err := p.parse(ctx, r, file, p.config.lineColumns(), func(record []string, pc *ParseContext) error {
		number, perr := p.poNumber(record, pc)
		if perr != nil {
			return perr
		}
		lineNumber, perr := p.lineNumber(record, pc)
		if perr != nil {
			return perr
		}
		quantity, perr := p.amount(record, pc, ColumnOrderedQuantity)
		if perr != nil {
			return perr
		}
		price, perr := p.amount(record, pc, ColumnUnitPrice)
		if perr != nil {
			return perr
		}

		l := &models.PurchaseOrderLine{
			PONumber:        number,
			LineNumber:      lineNumber,
			Material:        p.GetFieldValue(record, pc, ColumnMaterial),
			OrderedQuantity: quantity,
			UnitPrice:       price,
		}
		if err := l.Validate(); err != nil {
			return invalidRow(pc, "", "", err)
		}
		lines = append(lines, l)
		return nil
	})

	p.logParsed("purchase order lines", stats, err)
	return lines, stats, err
}

// ParseReceipts parses goods receipts from r. Negative quantities are
// return movements and are kept.
func (p *ReferenceParser) ParseReceipts(ctx context.Context, r io.Reader, file string) ([]*models.GoodsReceipt, *ParseStats, error) {
	var receipts []*models.GoodsReceipt

	stats, err := p.parseReceipts(ctx, r, file, func(g *models.GoodsReceipt) error {
		receipts = append(receipts, g)
		return nil
	})

	p.logParsed("goods receipts", stats, err)
	return receipts, stats, err
}

// ParseHeadersFile parses purchase order headers from a file
func (p *ReferenceParser) ParseHeadersFile(ctx context.Context, path string) ([]*models.PurchaseOrderHeader, *ParseStats, error) {
	file, err := p.OpenFile(path)
	if err != nil {
		return nil, NewParseStats(path), err
	}
	defer file.Close()
	return p.ParseHeaders(ctx, file, path)
}

// ParseLinesFile parses purchase order lines from a file
func (p *ReferenceParser) ParseLinesFile(ctx context.Context, path string) ([]*models.PurchaseOrderLine, *ParseStats, error) {
	file, err := p.OpenFile(path)
	if err != nil {
		return nil, NewParseStats(path), err
	}
	defer file.Close()
	return p.ParseLines(ctx, file, path)
}

func (p *ReferenceParser) parseReceipts(ctx context.Context, r io.Reader, file string, emit func(*models.GoodsReceipt) error) (*ParseStats, error) {
	return p.parse(ctx, r, file, p.config.receiptColumns(), func(record []string, pc *ParseContext) error {
		number, perr := p.poNumber(record, pc)
		if perr != nil {
			return perr
		}
		lineNumber, perr := p.lineNumber(record, pc)
		if perr != nil {
			return perr
		}
		quantity, perr := p.amount(record, pc, ColumnReceivedQuantity)
		if perr != nil {
			return perr
		}
		movementAt, perr := p.movementTime(record, pc)
		if perr != nil {
			return perr
		}

		g := &models.GoodsReceipt{
			PONumber:         number,
			LineNumber:       lineNumber,
			ReceivedQuantity: quantity,
			MovementAt:       movementAt,
		}
		if err := g.Validate(); err != nil {
			return invalidRow(pc, ColumnReceivedQuantity, quantity.String(), err)
		}
		return emit(g)
	})
}

func (p *ReferenceParser) poNumber(record []string, pc *ParseContext) (string, error) {
	raw := p.GetFieldValue(record, pc, ColumnPONumber)
	if raw == "" {
		return "", errors.EmptyValueError(pc.File, pc.LineNumber, ColumnPONumber)
	}
	return reference.MustNormalize(raw), nil
}

func (p *ReferenceParser) lineNumber(record []string, pc *ParseContext) (int, error) {
	raw := p.GetFieldValue(record, pc, ColumnLineNumber)
	if raw == "" {
		return 0, errors.EmptyValueError(pc.File, pc.LineNumber, ColumnLineNumber)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		loc := pc.Location(ColumnLineNumber, raw)
		loc.Expected = "positive whole number"
		return 0, errors.NewEnhancedParseError(errors.CodeInvalidData, loc, "invalid line number", err).
			WithExamples("10", "20", "00010")
	}
	return n, nil
}

func (p *ReferenceParser) amount(record []string, pc *ParseContext, column string) (decimal.Decimal, error) {
	raw := p.GetFieldValue(record, pc, column)
	if raw == "" {
		return decimal.Zero, errors.EmptyValueError(pc.File, pc.LineNumber, column)
	}
	d, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, errors.InvalidAmountError(pc.File, pc.LineNumber, column, raw)
	}
	return d, nil
}

func (p *ReferenceParser) movementTime(record []string, pc *ParseContext) (time.Time, error) {
	raw := p.GetFieldValue(record, pc, ColumnMovementAt)
	if raw == "" {
		return time.Time{}, nil
	}

	var (
		t   time.Time
		err error
	)
	if p.config.TimeFormat != "" {
		t, err = time.Parse(p.config.TimeFormat, raw)
	} else {
		t, err = models.ParseTimeWithFormats(raw)
	}
	if err != nil {
		return time.Time{}, errors.InvalidDateError(pc.File, pc.LineNumber, ColumnMovementAt, raw)
	}
	return t.UTC(), nil
}

func (p *ReferenceParser) logParsed(kind string, stats *ParseStats, err error) {
	fields := logger.Fields{
		"file":    stats.File,
		"records": stats.RecordsParsed,
		"valid":   stats.RecordsValid,
		"errors":  stats.ErrorCount,
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Warnf("Failed to parse %s", kind)
		return
	}
	p.logger.WithFields(fields).Infof("Parsed %s", kind)
}

func invalidRow(pc *ParseContext, column, value string, err error) *errors.EnhancedParseError {
	return errors.NewEnhancedParseError(errors.CodeInvalidData, pc.Location(column, value), err.Error(), err).
		WithSuggestion("Correct the row or remove it from the export")
}
