// internal/site/transform.go
package site

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TransformRule defines a single value transformation
type TransformRule struct {
	Type        string `yaml:"type" json:"type"`
	Pattern     string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Value       string `yaml:"value,omitempty" json:"value,omitempty"`
	Old         string `yaml:"old,omitempty" json:"old,omitempty"`
	New         string `yaml:"new,omitempty" json:"new,omitempty"`
}

// TransformList is applied in order
type TransformList []TransformRule

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	numberRe     = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
)

// Apply runs every rule on input
func (tl TransformList) Apply(input string) (string, error) {
	result := input
	for i, rule := range tl {
		var err error
		result, err = rule.Apply(result)
		if err != nil {
			return "", fmt.Errorf("transform rule %d failed: %w", i, err)
		}
	}
	return result, nil
}

// Apply runs one rule on input
func (tr TransformRule) Apply(input string) (string, error) {
	switch tr.Type {
	case "trim":
		return strings.TrimSpace(input), nil
	case "normalize_spaces":
		return whitespaceRe.ReplaceAllString(strings.TrimSpace(input), " "), nil
	case "lowercase":
		return strings.ToLower(input), nil
	case "uppercase":
		return strings.ToUpper(input), nil
	case "title":
		return cases.Title(language.Und).String(input), nil
	case "remove_html":
		return htmlTagRe.ReplaceAllString(input, ""), nil
	case "extract_number":
		return numberRe.FindString(input), nil
	case "parse_float":
		cleaned := strings.ReplaceAll(strings.TrimSpace(input), ",", "")
		val, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return "", fmt.Errorf("parse_float failed: %w", err)
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case "price":
		amount, _ := ParsePrice(input)
		return amount, nil
	case "regex":
		re, err := regexp.Compile(tr.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid regex pattern: %w", err)
		}
		if tr.Replacement == "" && re.NumSubexp() > 0 {
			if m := re.FindStringSubmatch(input); m != nil {
				return m[1], nil
			}
			return "", nil
		}
		return re.ReplaceAllString(input, tr.Replacement), nil
	case "prefix":
		if input == "" {
			return input, nil
		}
		return tr.Value + input, nil
	case "suffix":
		if input == "" {
			return input, nil
		}
		return input + tr.Value, nil
	case "replace":
		return strings.ReplaceAll(input, tr.Old, tr.New), nil
	default:
		return "", fmt.Errorf("unknown transform type: %s", tr.Type)
	}
}

// Validate checks rule configuration without running it
func (tl TransformList) Validate() error {
	for i, rule := range tl {
		switch rule.Type {
		case "trim", "normalize_spaces", "lowercase", "uppercase", "title",
			"remove_html", "extract_number", "parse_float", "price":
		case "regex":
			if rule.Pattern == "" {
				return fmt.Errorf("rule %d: regex pattern is required", i)
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("rule %d: invalid regex pattern: %w", i, err)
			}
		case "prefix", "suffix":
			if rule.Value == "" {
				return fmt.Errorf("rule %d: %s requires value", i, rule.Type)
			}
		case "replace":
			if rule.Old == "" {
				return fmt.Errorf("rule %d: replace requires old", i)
			}
		default:
			return fmt.Errorf("rule %d: unknown transform type: %s", i, rule.Type)
		}
	}
	return nil
}
