package parsers

import (
	"fmt"
	"strings"
)

// Canonical reference data columns
const (
	ColumnPONumber         = "po_number"
	ColumnVendorID         = "vendor_id"
	ColumnCurrency         = "currency"
	ColumnLineNumber       = "line_number"
	ColumnMaterial         = "material"
	ColumnOrderedQuantity  = "ordered_quantity"
	ColumnUnitPrice        = "unit_price"
	ColumnReceivedQuantity = "received_quantity"
	ColumnMovementAt       = "movement_at"
)

// defaultAliases are the header names seen in common ERP exports
var defaultAliases = map[string][]string{
	ColumnPONumber:         {"po", "po_no", "purchase_order", "ebeln"},
	ColumnVendorID:         {"vendor", "supplier_id", "lifnr"},
	ColumnCurrency:         {"currency_code", "waers"},
	ColumnLineNumber:       {"line", "po_line", "item", "ebelp"},
	ColumnMaterial:         {"material_number", "matnr", "short_text", "description"},
	ColumnOrderedQuantity:  {"quantity", "qty", "menge"},
	ColumnUnitPrice:        {"price", "net_price", "netpr"},
	ColumnReceivedQuantity: {"quantity", "qty_received", "menge"},
	ColumnMovementAt:       {"movement_date", "posting_date", "budat", "date"},
}

// ReferenceParserConfig holds configuration for parsing purchase order exports
type ReferenceParserConfig struct {
	Parse *ParseConfig `json:"-" yaml:"-"`

	// ColumnAliases adds header names accepted for a canonical column.
	// Configured aliases are tried before the built-in ones.
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" yaml:"column_aliases"`

	// TimeFormat parses movement_at when set; otherwise common formats are tried
	TimeFormat string `json:"time_format,omitempty" yaml:"time_format"`

	// DefaultCurrency fills an empty currency column
	DefaultCurrency string `json:"default_currency,omitempty" yaml:"default_currency"`
}

// DefaultReferenceParserConfig returns the default reference parser configuration
func DefaultReferenceParserConfig() *ReferenceParserConfig {
	return &ReferenceParserConfig{
		Parse:         DefaultParseConfig(),
		ColumnAliases: map[string][]string{},
	}
}

// Validate checks if the reference parser configuration is valid
func (c *ReferenceParserConfig) Validate() error {
	if c.Parse != nil {
		if err := c.Parse.Validate(); err != nil {
			return err
		}
	}
	for column := range c.ColumnAliases {
		if _, known := defaultAliases[column]; !known {
			return fmt.Errorf("unknown column '%s' in column aliases", column)
		}
	}
	if c.DefaultCurrency != "" && len(strings.TrimSpace(c.DefaultCurrency)) != 3 {
		return fmt.Errorf("default currency must be a three-letter code, got '%s'", c.DefaultCurrency)
	}
	return nil
}

// Column returns the spec for a canonical column with its aliases
func (c *ReferenceParserConfig) Column(name string, required bool) ColumnSpec {
	aliases := append([]string{}, c.ColumnAliases[name]...)
	aliases = append(aliases, defaultAliases[name]...)
	return ColumnSpec{Name: name, Aliases: aliases, Required: required}
}

func (c *ReferenceParserConfig) headerColumns() []ColumnSpec {
	return []ColumnSpec{
		c.Column(ColumnPONumber, true),
		c.Column(ColumnVendorID, false),
		c.Column(ColumnCurrency, c.DefaultCurrency == ""),
	}
}

func (c *ReferenceParserConfig) lineColumns() []ColumnSpec {
	return []ColumnSpec{
		c.Column(ColumnPONumber, true),
		c.Column(ColumnLineNumber, true),
		c.Column(ColumnMaterial, false),
		c.Column(ColumnOrderedQuantity, true),
		c.Column(ColumnUnitPrice, true),
	}
}

func (c *ReferenceParserConfig) receiptColumns() []ColumnSpec {
	return []ColumnSpec{
		c.Column(ColumnPONumber, true),
		c.Column(ColumnLineNumber, true),
		c.Column(ColumnReceivedQuantity, true),
		c.Column(ColumnMovementAt, false),
	}
}
