// Package reference turns the purchase order reference printed on an invoice
// into the key purchase orders are stored under.
//
// Vendors write references in many ways ("PO 4500001001", "po#4500001001",
// "P.O. 4500 001 001"). Normalize removes the decoration so all of these
// resolve to the same key. A reference that is missing or still malformed
// after cleanup is reported through the ok flag; callers treat that as a
// data exception, never as a failure of the evaluation.
package reference

import (
	"strings"
	"unicode"
)

// NoReference is the exception text used when no key can be derived.
const NoReference = "PO reference missing or unparsable"

var prefixes = []string{"P.O.", "PO"}

// Normalize derives the lookup key from a raw reference.
func Normalize(raw string) (key string, ok bool) {
	s := strings.TrimSpace(raw)
	s = stripPrefix(s)
	s = strings.TrimLeft(s, " \t#:-.")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	key = b.String()

	if key == "" || !validKey(key) {
		return "", false
	}
	return key, true
}

// MustNormalize returns the key for raw, or raw upper-cased when it cannot
// be normalized. Used when loading reference data keyed by PO number.
func MustNormalize(raw string) string {
	if key, ok := Normalize(raw); ok {
		return key
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func stripPrefix(s string) string {
	upper := strings.ToUpper(s)
	for _, p := range prefixes {
		if !strings.HasPrefix(upper, p) {
			continue
		}
		rest := s[len(p):]
		if rest == "" {
			return rest
		}
		// "POLAND7" keeps its letters; the prefix must stand on its own.
		if r := []rune(rest)[0]; unicode.IsLetter(r) {
			return s
		}
		return rest
	}
	return s
}

func validKey(key string) bool {
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '/', r == '_':
		default:
			return false
		}
	}
	return true
}
