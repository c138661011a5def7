package normalize

import (
	"strings"
	"testing"
)

func TestSearchTerm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercases and stems", "Self Assessment", "self assess"},
		{"plural", "passports", "passport"},
		{"punctuation is its own token", "tax-credits", "tax - credit"},
		{"collapses whitespace", "  running   late ", "run late"},
		{"numbers kept", "form 2018", "form 2018"},
		{"fullwidth folded", "ＶＡＴ", "vat"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchTerm(tt.raw); got != tt.want {
				t.Errorf("SearchTerm(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSearchTerm_Idempotent(t *testing.T) {
	for _, raw := range []string{"Self Assessment", "tax-credits", "Passports"} {
		once := SearchTerm(raw)
		if twice := SearchTerm(once); twice != once {
			t.Errorf("SearchTerm(SearchTerm(%q)) = %q, want %q", raw, twice, once)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("what's my tax-code?")
	want := []string{"what", "'", "s", "my", "tax", "-", "code", "?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Tokenize() = %v, want %v", got, want)
	}
}
