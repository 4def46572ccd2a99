// internal/site/definition.go
package site

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Field describes how to read one value from a DOM subtree
type Field struct {
	Selector  string        `yaml:"selector" json:"selector"`
	Attr      string        `yaml:"attr,omitempty" json:"attr,omitempty"`
	Multiple  bool          `yaml:"multiple,omitempty" json:"multiple,omitempty"`
	Transform TransformList `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// UnmarshalYAML accepts either a bare selector string or a full mapping
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Selector = node.Value
		return nil
	}
	type plain Field
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = Field(p)
	return nil
}

// LoginConfig drives the credential login flow
type LoginConfig struct {
	URL              string        `yaml:"url" json:"url"`
	Username         string        `yaml:"username" json:"username"`
	Password         string        `yaml:"password" json:"password"`
	Submit           string        `yaml:"submit" json:"submit"`
	Success          string        `yaml:"success" json:"success"`
	ChallengeMode    string        `yaml:"challenge_mode,omitempty" json:"challenge_mode,omitempty"` // manual, solver
	ChallengeTimeout time.Duration `yaml:"challenge_timeout,omitempty" json:"challenge_timeout,omitempty"`
}

// SessionConfig configures session liveness probing
type SessionConfig struct {
	CheckURL     string        `yaml:"check_url" json:"check_url"`
	LoginMarkers []string      `yaml:"login_markers" json:"login_markers"`
	LoggedIn     string        `yaml:"logged_in" json:"logged_in"`
	LoginForm    string        `yaml:"login_form" json:"login_form"`
	MaxAge       time.Duration `yaml:"max_age" json:"max_age"`
}

// SearchConfig configures keyword search
type SearchConfig struct {
	URL    string `yaml:"url" json:"url"` // {query} is replaced with the escaped query
	Input  string `yaml:"input,omitempty" json:"input,omitempty"`
	Submit string `yaml:"submit,omitempty" json:"submit,omitempty"`
}

// PaginationConfig configures how a listing reveals more items
type PaginationConfig struct {
	Strategy      string        `yaml:"strategy" json:"strategy"` // load_more, next_button, numbered, none
	LoadMore      string        `yaml:"load_more,omitempty" json:"load_more,omitempty"`
	Next          string        `yaml:"next,omitempty" json:"next,omitempty"`
	PageParam     string        `yaml:"page_param,omitempty" json:"page_param,omitempty"`
	StartPage     int           `yaml:"start_page,omitempty" json:"start_page,omitempty"`
	SettleTimeout time.Duration `yaml:"settle_timeout,omitempty" json:"settle_timeout,omitempty"`
}

// ListConfig configures product card extraction on listings
type ListConfig struct {
	Ready        string           `yaml:"ready" json:"ready"`
	Item         string           `yaml:"item" json:"item"`
	Placeholder  string           `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Link         Field            `yaml:"link" json:"link"`
	PositionAttr string           `yaml:"position_attr,omitempty" json:"position_attr,omitempty"`
	Fields       map[string]Field `yaml:"fields" json:"fields"`
}

// DetailConfig configures product page extraction
type DetailConfig struct {
	Ready          string           `yaml:"ready" json:"ready"`
	SizeTrigger    string           `yaml:"size_trigger,omitempty" json:"size_trigger,omitempty"`
	SizeOption     string           `yaml:"size_option,omitempty" json:"size_option,omitempty"`
	Fields         map[string]Field `yaml:"fields" json:"fields"`
	RequiredFields []string         `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
}

// URLPatterns classify URLs by regular expression
type URLPatterns struct {
	Detail []string `yaml:"detail,omitempty" json:"detail,omitempty"`
	List   []string `yaml:"list,omitempty" json:"list,omitempty"`
	Search []string `yaml:"search,omitempty" json:"search,omitempty"`
}

// BatchAttributeRules map an attribute value to the URL keywords that imply it
type BatchAttributeRules struct {
	Gender   map[string][]string `yaml:"gender,omitempty" json:"gender,omitempty"`
	Category map[string][]string `yaml:"category,omitempty" json:"category,omitempty"`
}

// Definition is the complete adapter configuration of one site
type Definition struct {
	ID              string              `yaml:"id" json:"id"`
	Name            string              `yaml:"name" json:"name"`
	BaseURL         string              `yaml:"base_url" json:"base_url"`
	Currency        string              `yaml:"currency,omitempty" json:"currency,omitempty"`
	Sequential      bool                `yaml:"sequential,omitempty" json:"sequential,omitempty"`
	RateLimit       float64             `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	KeyPattern      string              `yaml:"key_pattern,omitempty" json:"key_pattern,omitempty"`
	Login           LoginConfig         `yaml:"login" json:"login"`
	Session         SessionConfig       `yaml:"session" json:"session"`
	Search          SearchConfig        `yaml:"search" json:"search"`
	Pagination      PaginationConfig    `yaml:"pagination" json:"pagination"`
	List            ListConfig          `yaml:"list" json:"list"`
	Detail          DetailConfig        `yaml:"detail" json:"detail"`
	URLPatterns     URLPatterns         `yaml:"url_patterns" json:"url_patterns"`
	BatchAttributes BatchAttributeRules `yaml:"batch_attributes" json:"batch_attributes"`
}

// Pagination strategies
const (
	StrategyLoadMore   = "load_more"
	StrategyNextButton = "next_button"
	StrategyNumbered   = "numbered"
	StrategyNone       = "none"
)

// Challenge modes
const (
	ChallengeManual = "manual"
	ChallengeSolver = "solver"
)

func applyDefaults(d *Definition) {
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Pagination.Strategy == "" {
		switch {
		case d.Pagination.LoadMore != "":
			d.Pagination.Strategy = StrategyLoadMore
		case d.Pagination.Next != "":
			d.Pagination.Strategy = StrategyNextButton
		case d.Pagination.PageParam != "":
			d.Pagination.Strategy = StrategyNumbered
		default:
			d.Pagination.Strategy = StrategyNone
		}
	}
	if d.Pagination.StartPage <= 0 {
		d.Pagination.StartPage = 1
	}
	if d.Pagination.SettleTimeout <= 0 {
		d.Pagination.SettleTimeout = 10 * time.Second
	}
	if d.Login.ChallengeTimeout <= 0 {
		d.Login.ChallengeTimeout = 2 * time.Minute
	}
	if d.Session.MaxAge <= 0 {
		d.Session.MaxAge = 24 * time.Hour
	}
	if d.Session.CheckURL == "" {
		d.Session.CheckURL = d.BaseURL
	}
	if len(d.Session.LoginMarkers) == 0 && d.Login.URL != "" {
		d.Session.LoginMarkers = []string{"/login", "/signin", "/sign-in"}
	}
	if len(d.Detail.RequiredFields) == 0 {
		d.Detail.RequiredFields = []string{"sku", "name", "price"}
	}
	if d.List.Link.Selector == "" && d.List.Link.Attr == "" {
		d.List.Link = Field{Selector: "a", Attr: "href"}
	}
	if d.List.Link.Attr == "" {
		d.List.Link.Attr = "href"
	}
	if d.BatchAttributes.Gender == nil {
		d.BatchAttributes.Gender = defaultGenderKeywords()
	}
}

func defaultGenderKeywords() map[string][]string {
	return map[string][]string{
		"women":  {"women", "womens", "woman", "ladies", "damen", "femme", "mujer", "donna"},
		"men":    {"men", "mens", "man", "herren", "homme", "hombre", "uomo"},
		"kids":   {"kids", "children", "kinder", "enfant", "ninos", "bambini"},
		"unisex": {"unisex"},
	}
}

// HasLogin reports whether the site supports credential login
func (d *Definition) HasLogin() bool {
	return d.Login.URL != "" && d.Login.Username != "" && d.Login.Password != ""
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s (%s)", d.ID, d.BaseURL)
}
