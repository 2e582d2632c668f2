package reference

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantOK  bool
	}{
		{"plain number", "4500001001", "4500001001", true},
		{"prefix with space", "PO 4500001001", "4500001001", true},
		{"lower case prefix", "po4500001001", "4500001001", true},
		{"prefix with hash", "PO#4500001001", "4500001001", true},
		{"prefix with dash", "PO-4500001001", "4500001001", true},
		{"dotted prefix", "P.O. 4500001001", "4500001001", true},
		{"inner whitespace", " PO 4500 001 001 ", "4500001001", true},
		{"alphanumeric key", "po ab-12/7", "AB-12/7", true},
		{"word starting with po", "POLAND7", "POLAND7", true},
		{"empty", "", "", false},
		{"only prefix", "PO", "", false},
		{"only decoration", "PO #  ", "", false},
		{"garbage", "n/a?", "", false},
		{"punctuation", "PO 4500*001", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := Normalize(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if key != tt.wantKey {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, key, tt.wantKey)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, raw := range []string{"PO 4500001001", "p.o.#77-a", "4500 1"} {
		first, ok := Normalize(raw)
		if !ok {
			t.Fatalf("expected %q to normalize", raw)
		}
		second, ok := Normalize(first)
		if !ok || second != first {
			t.Errorf("expected Normalize to be idempotent for %q: %q then %q", raw, first, second)
		}
	}
}

func TestMustNormalize(t *testing.T) {
	if got := MustNormalize("PO 12"); got != "12" {
		t.Errorf("expected 12, got %q", got)
	}
	if got := MustNormalize(" x?y "); got != "X?Y" {
		t.Errorf("expected raw upper-cased fallback, got %q", got)
	}
}
