// Package precedent answers whether a variance has already been accepted by
// a human for the same vendor.
//
// Every LearningExample carries the magnitude of the variance it approved,
// either explicitly or as the amount named in its rationale ("approved $5
// freight surcharge"). A new variance is covered only when it is no larger
// than an approved one, so precedents never widen on their own.
package precedent

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

// numberPattern finds figures in free text: "5", "5.00", "1,250.50".
var numberPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

// maxBareDigits bounds the integer part of an unmarked figure. Longer runs
// are document numbers, not amounts.
const maxBareDigits = 6

var currencySymbols = "$€£¥"

var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "CNY": true, "INR": true, "SGD": true,
}

// referenceWords precede figures that identify documents or positions.
var referenceWords = map[string]bool{
	"po": true, "line": true, "item": true, "invoice": true, "inv": true,
	"no": true, "ref": true, "order": true, "receipt": true,
}

// Precedent is the answer for one variance
type Precedent struct {
	Covered bool
	Example *models.LearningExample
	Limit   decimal.Decimal
}

type entry struct {
	example   *models.LearningExample
	field     models.VarianceField
	magnitude decimal.Decimal
}

// Memory is an immutable index of approving examples, built once per
// evaluation from the vendor history snapshot.
type Memory struct {
	byVendor map[string][]entry
}

// NewMemory indexes the approving examples of history. Examples that do not
// approve or that carry no recoverable magnitude are ignored.
func NewMemory(history []*models.LearningExample) *Memory {
	m := &Memory{byVendor: make(map[string][]entry)}

	for _, ex := range history {
		if ex == nil || !ex.ExpectedStatus.IsApproval() {
			continue
		}
		magnitude, ok := Magnitude(ex)
		if !ok {
			continue
		}
		key := vendorKey(ex.VendorName)
		m.byVendor[key] = append(m.byVendor[key], entry{
			example:   ex,
			field:     ex.Field.OrDefault(),
			magnitude: magnitude,
		})
	}

	for key := range m.byVendor {
		entries := m.byVendor[key]
		sort.SliceStable(entries, func(i, j int) bool {
			if !entries[i].magnitude.Equal(entries[j].magnitude) {
				return entries[i].magnitude.LessThan(entries[j].magnitude)
			}
			if !entries[i].example.CreatedAt.Equal(entries[j].example.CreatedAt) {
				return entries[i].example.CreatedAt.Before(entries[j].example.CreatedAt)
			}
			return entries[i].example.ID < entries[j].example.ID
		})
	}

	return m
}

// Lookup reports whether a variance of the given magnitude on field is
// covered by an approved example for vendor. The tightest covering example
// is cited.
func (m *Memory) Lookup(vendor string, field models.VarianceField, magnitude decimal.Decimal) Precedent {
	if m == nil {
		return Precedent{}
	}
	magnitude = magnitude.Abs()
	field = field.OrDefault()

	for _, e := range m.byVendor[vendorKey(vendor)] {
		if e.field != field {
			continue
		}
		if magnitude.LessThanOrEqual(e.magnitude) {
			return Precedent{Covered: true, Example: e.example, Limit: e.magnitude}
		}
	}
	return Precedent{}
}

// Size returns the number of usable examples.
func (m *Memory) Size() int {
	n := 0
	for _, entries := range m.byVendor {
		n += len(entries)
	}
	return n
}

// Magnitude returns the variance an example approved: the explicit value
// when present, otherwise the amount named in its rationale.
func Magnitude(ex *models.LearningExample) (decimal.Decimal, bool) {
	if ex.Variance.Valid {
		return ex.Variance.Decimal.Abs(), true
	}
	return AmountFromText(ex.Rationale)
}

// AmountFromText extracts the approved amount from text. A figure marked
// with a currency ("$5", "5 USD", "€3") wins; without one, a single
// standalone figure is accepted. Figures inside dates or references, long
// digit runs and ambiguous text yield no amount.
func AmountFromText(text string) (decimal.Decimal, bool) {
	var marked, bare []decimal.Decimal

	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if attached(text, start, end) {
			continue
		}
		raw := strings.ReplaceAll(text[start:end], ",", "")
		d, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}

		if len(intPart(raw)) > maxBareDigits && !strings.Contains(text[start:end], ",") {
			continue
		}
		if currencyBefore(text[:start]) || currencyAfter(text[end:]) {
			marked = append(marked, d)
			continue
		}
		if referenceBefore(text[:start]) {
			continue
		}
		bare = append(bare, d)
	}

	if len(marked) > 0 {
		return single(marked)
	}
	return single(bare)
}

// single returns the one distinct amount in amounts.
func single(amounts []decimal.Decimal) (decimal.Decimal, bool) {
	if len(amounts) == 0 {
		return decimal.Zero, false
	}
	for _, d := range amounts[1:] {
		if !d.Equal(amounts[0]) {
			return decimal.Zero, false
		}
	}
	return amounts[0], true
}

// attached reports whether the figure at text[start:end] is glued to a
// date, reference or identifier token.
func attached(text string, start, end int) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if joins(prev) && !currencyBefore(text[:start]) {
			return true
		}
	}
	if end < len(text) {
		next, size := utf8.DecodeRuneInString(text[end:])
		if next == '.' || next == ',' {
			after, _ := utf8.DecodeRuneInString(text[end+size:])
			return end+size < len(text) && (unicode.IsDigit(after) || unicode.IsLetter(after))
		}
		if joins(next) {
			return !currencyAfter(text[end:])
		}
	}
	return false
}

func joins(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-/_#.", r)
}

func intPart(raw string) string {
	whole, _, _ := strings.Cut(raw, ".")
	return whole
}

func isCurrencySymbol(r rune) bool {
	return strings.ContainsRune(currencySymbols, r)
}

func currencyBefore(prefix string) bool {
	prefix = strings.TrimSuffix(prefix, " ")
	if r, _ := utf8.DecodeLastRuneInString(prefix); isCurrencySymbol(r) {
		return true
	}
	return len(prefix) >= 3 && currencyCodes[prefix[len(prefix)-3:]] &&
		(len(prefix) == 3 || !unicode.IsLetter(rune(prefix[len(prefix)-4])))
}

// currencyAfter matches a trailing ISO code ("5 USD"). Symbols after a
// figure usually open the next amount and do not count.
func currencyAfter(suffix string) bool {
	suffix = strings.TrimPrefix(suffix, " ")
	return len(suffix) >= 3 && currencyCodes[suffix[:3]] &&
		(len(suffix) == 3 || !unicode.IsLetter(rune(suffix[3])))
}

func referenceBefore(prefix string) bool {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(strings.TrimRight(fields[len(fields)-1], ".:#"))
	return referenceWords[last]
}

func vendorKey(vendor string) string {
	return strings.ToLower(strings.TrimSpace(vendor))
}
