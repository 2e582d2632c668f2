// Package matcher provides the three-way match engine and its configuration.
//
// The engine compares an invoice against the purchase order it references
// (the promise) and the goods receipts posted against that order (the
// delivery). It runs an ordered pipeline of checks, each of which either
// passes or produces a tagged finding that asks for a specific status:
//  1. Existence of the purchase order header and lines
//  2. Rule short-circuit from the validator rule outcome
//  3. Currency equality between invoice and purchase order
//  4. Per line: association, unit price, and cumulative quantity
//  5. Aggregation of line findings into one invoice status
//
// Price and quantity variances that exceed the configured tolerance are
// offered to the exception memory before they block. A variance that a
// human already approved for the same vendor passes with an override
// finding that cites the approving example.
//
// Example usage:
//
//	config := matcher.DefaultMatchConfig()
//	config.PriceTolerance = decimal.RequireFromString("0.05")
//
//	engine := matcher.NewEngine(config)
//	result := engine.Match(&matcher.MatchInput{
//		Invoice:  invoice,
//		POKey:    key,
//		KeyOK:    ok,
//		Header:   header,
//		Lines:    lines,
//		Receipts: receipts,
//		Rules:    rules.Evaluate(ruleSet, invoice),
//		Memory:   precedent.NewMemory(history),
//	})
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchConfig holds the tolerances and heuristics of the match engine.
//
// Use the provided factory functions for common scenarios, or select one
// by name with PresetMatchConfig:
//   - DefaultMatchConfig(): exact prices and quantities
//   - StrictMatchConfig(): exact, amounts reported at four decimal places
//   - RelaxedMatchConfig(): small price tolerance, positional line fallback
type MatchConfig struct {
	// PriceTolerance is the absolute unit price difference accepted per line
	PriceTolerance decimal.Decimal `json:"price_tolerance"`

	// PriceTolerancePercent is a tolerance relative to the PO unit price (0 to 100).
	// The larger of the absolute and relative tolerance applies.
	PriceTolerancePercent decimal.Decimal `json:"price_tolerance_percent"`

	// QuantityTolerance is the over-billing accepted beyond received quantity
	QuantityTolerance decimal.Decimal `json:"quantity_tolerance"`

	// AmountPrecision is the number of decimal places used when reporting amounts
	AmountPrecision int `json:"amount_precision"`

	// ClosureKeywords mark an invoice as the final bill for its order
	ClosureKeywords []string `json:"closure_keywords"`

	// PositionalFallback associates a described invoice line with the PO line
	// at the same position when no material matches. Lines without a
	// description always fall back to position.
	PositionalFallback bool `json:"positional_fallback"`
}

var hundred = decimal.NewFromInt(100)

// DefaultClosureKeywords are the words that mark a final bill
var DefaultClosureKeywords = []string{"final", "closed", "last"}

// DefaultMatchConfig returns a configuration with zero tolerances
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		PriceTolerance:        decimal.Zero,
		PriceTolerancePercent: decimal.Zero,
		QuantityTolerance:     decimal.Zero,
		AmountPrecision:       2,
		ClosureKeywords:       append([]string(nil), DefaultClosureKeywords...),
		PositionalFallback:    false,
	}
}

// StrictMatchConfig returns a configuration for strict matching
func StrictMatchConfig() *MatchConfig {
	config := DefaultMatchConfig()
	config.AmountPrecision = 4
	return config
}

// RelaxedMatchConfig returns a configuration that absorbs rounding noise
func RelaxedMatchConfig() *MatchConfig {
	config := DefaultMatchConfig()
	config.PriceTolerance = decimal.RequireFromString("0.01")
	config.PriceTolerancePercent = decimal.RequireFromString("0.5")
	config.QuantityTolerance = decimal.Zero
	config.PositionalFallback = true
	return config
}

// Preset names accepted by PresetMatchConfig
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// PresetMatchConfig returns the factory configuration named preset. An
// empty name selects the default.
func PresetMatchConfig(preset string) (*MatchConfig, error) {
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", PresetDefault:
		return DefaultMatchConfig(), nil
	case PresetStrict:
		return StrictMatchConfig(), nil
	case PresetRelaxed:
		return RelaxedMatchConfig(), nil
	}
	return nil, fmt.Errorf("unknown matching preset '%s' (use %s, %s or %s)", preset, PresetDefault, PresetStrict, PresetRelaxed)
}

// Validate checks if the match configuration is valid
func (mc *MatchConfig) Validate() error {
	if mc.PriceTolerance.IsNegative() {
		return fmt.Errorf("price tolerance cannot be negative: %s", mc.PriceTolerance.String())
	}

	if mc.PriceTolerancePercent.IsNegative() || mc.PriceTolerancePercent.GreaterThan(hundred) {
		return fmt.Errorf("price tolerance percent must be between 0 and 100: %s", mc.PriceTolerancePercent.String())
	}

	if mc.QuantityTolerance.IsNegative() {
		return fmt.Errorf("quantity tolerance cannot be negative: %s", mc.QuantityTolerance.String())
	}

	if mc.AmountPrecision < 0 || mc.AmountPrecision > 10 {
		return fmt.Errorf("amount precision must be between 0 and 10: %d", mc.AmountPrecision)
	}

	for _, keyword := range mc.ClosureKeywords {
		if strings.TrimSpace(keyword) == "" {
			return fmt.Errorf("closure keywords cannot be empty")
		}
	}

	return nil
}

// Clone creates a deep copy of the match configuration
func (mc *MatchConfig) Clone() *MatchConfig {
	if mc == nil {
		return nil
	}

	return &MatchConfig{
		PriceTolerance:        mc.PriceTolerance,
		PriceTolerancePercent: mc.PriceTolerancePercent,
		QuantityTolerance:     mc.QuantityTolerance,
		AmountPrecision:       mc.AmountPrecision,
		ClosureKeywords:       append([]string(nil), mc.ClosureKeywords...),
		PositionalFallback:    mc.PositionalFallback,
	}
}

// GetPriceTolerance returns the accepted unit price difference for a PO price
func (mc *MatchConfig) GetPriceTolerance(poPrice decimal.Decimal) decimal.Decimal {
	tolerance := mc.PriceTolerance
	if mc.PriceTolerancePercent.IsZero() {
		return tolerance
	}

	relative := poPrice.Abs().Mul(mc.PriceTolerancePercent).Div(hundred).Round(int32(mc.AmountPrecision))
	return decimal.Max(tolerance, relative)
}

// ClosurePattern compiles the closure keywords into a case-insensitive
// whole-word pattern. It returns nil when no keywords are configured.
func (mc *MatchConfig) ClosurePattern() *regexp.Regexp {
	return compileKeywords(mc.ClosureKeywords)
}

// Format renders an amount with the configured precision
func (mc *MatchConfig) Format(d decimal.Decimal) string {
	return d.StringFixed(int32(mc.AmountPrecision))
}

// String returns a human-readable description of the configuration
func (mc *MatchConfig) String() string {
	return fmt.Sprintf("MatchConfig{PriceTolerance: %s, PriceTolerance%%: %s, QuantityTolerance: %s, ClosureKeywords: %v, PositionalFallback: %v}",
		mc.PriceTolerance.String(), mc.PriceTolerancePercent.String(), mc.QuantityTolerance.String(), mc.ClosureKeywords, mc.PositionalFallback)
}

func compileKeywords(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
