// internal/site/validate.go
package site

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
)

// ValidationError describes one invalid setting of a site definition
type ValidationError struct {
	Site    string `json:"site"`
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	msg := fmt.Sprintf("site %s: %s: %s", e.Site, e.Field, e.Message)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value: %s)", e.Value)
	}
	return msg
}

// ValidationErrors collects every problem found in one pass
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("site definition validation failed:\n")
	for i, e := range ve {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, e.Error())
	}
	return b.String()
}

// Validate checks a definition after defaults have been applied
func (d *Definition) Validate() error {
	var errs ValidationErrors
	add := func(field, value, msg string) {
		errs = append(errs, ValidationError{Site: d.ID, Field: field, Value: value, Message: msg})
	}

	if d.ID == "" {
		add("id", "", "is required")
	}
	if u, err := url.Parse(d.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("base_url", d.BaseURL, "must be an absolute URL")
	}
	if d.List.Item == "" {
		add("list.item", "", "is required")
	}
	if d.RateLimit < 0 {
		add("rate_limit", fmt.Sprint(d.RateLimit), "must not be negative")
	}

	selectors := map[string]string{
		"list.ready":           d.List.Ready,
		"list.item":            d.List.Item,
		"list.placeholder":     d.List.Placeholder,
		"list.link":            d.List.Link.Selector,
		"detail.ready":         d.Detail.Ready,
		"detail.size_trigger":  d.Detail.SizeTrigger,
		"detail.size_option":   d.Detail.SizeOption,
		"pagination.load_more": d.Pagination.LoadMore,
		"pagination.next":      d.Pagination.Next,
		"login.username":       d.Login.Username,
		"login.password":       d.Login.Password,
		"login.submit":         d.Login.Submit,
		"login.success":        d.Login.Success,
		"session.logged_in":    d.Session.LoggedIn,
		"session.login_form":   d.Session.LoginForm,
		"search.input":         d.Search.Input,
		"search.submit":        d.Search.Submit,
	}
	for name, f := range d.List.Fields {
		selectors["list.fields."+name] = f.Selector
	}
	for name, f := range d.Detail.Fields {
		selectors["detail.fields."+name] = f.Selector
	}
	for _, field := range sortedKeys(selectors) {
		sel := selectors[field]
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			add(field, sel, "invalid CSS selector: "+err.Error())
		}
	}

	for name, f := range d.List.Fields {
		if err := f.Transform.Validate(); err != nil {
			add("list.fields."+name+".transform", "", err.Error())
		}
	}
	for name, f := range d.Detail.Fields {
		if err := f.Transform.Validate(); err != nil {
			add("detail.fields."+name+".transform", "", err.Error())
		}
	}

	switch d.Pagination.Strategy {
	case StrategyLoadMore:
		if d.Pagination.LoadMore == "" {
			add("pagination.load_more", "", "is required for the load_more strategy")
		}
	case StrategyNextButton:
		if d.Pagination.Next == "" {
			add("pagination.next", "", "is required for the next_button strategy")
		}
	case StrategyNumbered:
		if d.Pagination.PageParam == "" {
			add("pagination.page_param", "", "is required for the numbered strategy")
		}
	case StrategyNone:
	default:
		add("pagination.strategy", d.Pagination.Strategy, "must be load_more, next_button, numbered or none")
	}

	if d.Login.URL != "" {
		if d.Login.Username == "" || d.Login.Password == "" || d.Login.Submit == "" {
			add("login", d.Login.URL, "username, password and submit selectors are required")
		}
		switch d.Login.ChallengeMode {
		case "", ChallengeManual, ChallengeSolver:
		default:
			add("login.challenge_mode", d.Login.ChallengeMode, "must be manual or solver")
		}
	}

	if d.Search.URL != "" && !strings.Contains(d.Search.URL, "{query}") {
		add("search.url", d.Search.URL, "must contain the {query} placeholder")
	}

	patterns := map[string][]string{
		"url_patterns.detail": d.URLPatterns.Detail,
		"url_patterns.list":   d.URLPatterns.List,
		"url_patterns.search": d.URLPatterns.Search,
	}
	if d.KeyPattern != "" {
		patterns["key_pattern"] = []string{d.KeyPattern}
	}
	for _, field := range sortedKeys(patterns) {
		for _, p := range patterns[field] {
			if _, err := regexp.Compile(p); err != nil {
				add(field, p, "invalid regular expression")
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
