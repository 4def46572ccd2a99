// internal/site/transform_test.go
package site

import "testing"

func TestTransformRules(t *testing.T) {
	tests := []struct {
		name  string
		rules TransformList
		input string
		want  string
	}{
		{"trim", TransformList{{Type: "trim"}}, "  x  ", "x"},
		{"normalize spaces", TransformList{{Type: "normalize_spaces"}}, " a \n  b ", "a b"},
		{"title", TransformList{{Type: "title"}}, "red running shoe", "Red Running Shoe"},
		{"remove html", TransformList{{Type: "remove_html"}}, "<b>bold</b>", "bold"},
		{"extract number", TransformList{{Type: "extract_number"}}, "Only 12 left", "12"},
		{"parse float", TransformList{{Type: "parse_float"}}, "1,299.50", "1299.5"},
		{"price", TransformList{{Type: "price"}}, "CHF 1'299.00", "1299.00"},
		{"regex capture", TransformList{{Type: "regex", Pattern: `SKU:\s*(\w+)`}}, "SKU: AB12", "AB12"},
		{"regex replace", TransformList{{Type: "regex", Pattern: `\s*\(.*\)`, Replacement: ""}}, "Blue (new)", "Blue"},
		{"prefix", TransformList{{Type: "prefix", Value: "https:"}}, "//cdn/x.jpg", "https://cdn/x.jpg"},
		{"prefix empty", TransformList{{Type: "prefix", Value: "https:"}}, "", ""},
		{"replace", TransformList{{Type: "replace", Old: "_", New: " "}}, "a_b", "a b"},
		{"chain", TransformList{{Type: "trim"}, {Type: "uppercase"}}, " eu 42 ", "EU 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rules.Apply(tt.input)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformValidate(t *testing.T) {
	bad := []TransformList{
		{{Type: "explode"}},
		{{Type: "regex"}},
		{{Type: "regex", Pattern: "("}},
		{{Type: "prefix"}},
		{{Type: "replace"}},
	}
	for i, rules := range bad {
		if err := rules.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := (TransformList{{Type: "trim"}, {Type: "price"}}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		amount   string
		currency string
	}{
		{"$1,299.00", "1299.00", "USD"},
		{"1.299,00 €", "1299.00", "EUR"},
		{"19,99 €", "19.99", "EUR"},
		{"£45", "45", "GBP"},
		{"1 299 zł", "1299", "PLN"},
		{"USD 12.5", "12.5", "USD"},
		{"1,299", "1299", ""},
		{"Sold out", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			amount, currency := ParsePrice(tt.in)
			if amount != tt.amount || currency != tt.currency {
				t.Errorf("ParsePrice(%q) = (%q, %q), want (%q, %q)", tt.in, amount, currency, tt.amount, tt.currency)
			}
		})
	}
}

func TestTokensFoldDiacritics(t *testing.T) {
	got := Tokens("/Damen/Schühe-Größe_40")
	want := []string{"damen", "schuhe", "große", "40"}
	if len(got) != len(want) {
		t.Fatalf("Tokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tokens()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
