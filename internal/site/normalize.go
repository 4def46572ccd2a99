// internal/site/normalize.go
package site

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// currencySymbols is ordered so longer symbols match before their suffixes
var currencySymbols = []struct{ symbol, code string }{
	{"US$", "USD"},
	{"zł", "PLN"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₴", "UAH"},
	{"$", "USD"},
}

var (
	priceRe    = regexp.MustCompile(`\d[\d\s\x{00A0}.,']*`)
	isoCodeRe  = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|UAH|PLN|SEK|NOK|DKK|CHF|CZK|CAD|AUD)\b`)
	nonTokenRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// CleanText collapses whitespace and trims
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Fold lowercases s and strips diacritics so "Damen Schuhe" and "damen-schühe"
// compare equal after tokenizing.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokens splits a folded string on every non-alphanumeric rune
func Tokens(s string) []string {
	parts := nonTokenRe.Split(Fold(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParsePrice extracts a normalized decimal amount and an ISO currency code
// from display text such as "1.299,00 €" or "$1,299.00".
func ParsePrice(text string) (amount, currency string) {
	text = CleanText(text)
	if text == "" {
		return "", ""
	}

	if m := isoCodeRe.FindString(text); m != "" {
		currency = m
	} else {
		for _, cs := range currencySymbols {
			if strings.Contains(text, cs.symbol) {
				currency = cs.code
				break
			}
		}
	}

	raw := priceRe.FindString(text)
	if raw == "" {
		return "", currency
	}
	raw = strings.NewReplacer(" ", "", "'", "", "\u00a0", "").Replace(strings.TrimSpace(raw))
	return normalizeDecimal(raw), currency
}

// normalizeDecimal decides which of '.' and ',' is the decimal separator:
// the last one wins when both are present, and a lone separator followed by
// exactly three digits is a thousands separator.
func normalizeDecimal(raw string) string {
	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	var decimalSep byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimalSep = '.'
		} else {
			decimalSep = ','
		}
	case lastDot >= 0 || lastComma >= 0:
		idx := lastDot
		if lastComma > idx {
			idx = lastComma
		}
		sep := raw[idx]
		if strings.Count(raw, string(sep)) == 1 && len(raw)-idx-1 != 3 {
			decimalSep = sep
		}
	}

	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimalSep && decimalSep != 0:
			b.WriteByte('.')
		}
	}
	return strings.TrimSuffix(b.String(), ".")
}
