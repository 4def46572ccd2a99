// internal/site/adapter.go
package site

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Selectors is the flattened set of selectors the engine waits on and clicks
type Selectors struct {
	ListReady   string
	Item        string
	LoadMore    string
	Next        string
	DetailReady string
	SizeTrigger string
	SizeOption  string
	LoggedIn    string
	LoginForm   string
}

// Adapter isolates everything site specific behind a narrow interface
type Adapter interface {
	Definition() *Definition
	Selectors() Selectors
	ClassifyPage(rawURL string) types.Label
	ExtractList(doc *goquery.Document, pageURL string) []*types.Record
	ExtractDetail(doc *goquery.Document, pageURL string) *types.Record
	InferBatchAttributes(seedURL string) types.BatchAttributes
	ExternalKey(rawURL string) string
}

// multiValued fields always collect every match
var multiValued = map[string]bool{
	"sizes":       true,
	"tags":        true,
	"images":      true,
	"breadcrumbs": true,
}

// urlValued fields are resolved against the page URL
var urlValued = map[string]bool{
	"thumbnail": true,
	"images":    true,
}

// SelectorAdapter is an Adapter driven entirely by a Definition
type SelectorAdapter struct {
	def       Definition
	keyRe     *regexp.Regexp
	detailRes []*regexp.Regexp
	listRes   []*regexp.Regexp
	searchRes []*regexp.Regexp
	now       func() time.Time
}

// NewSelectorAdapter applies defaults, validates def and compiles its patterns
func NewSelectorAdapter(def Definition) (*SelectorAdapter, error) {
	applyDefaults(&def)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	a := &SelectorAdapter{def: def, now: time.Now}
	if def.KeyPattern != "" {
		a.keyRe = regexp.MustCompile(def.KeyPattern)
	}
	a.detailRes = compileAll(def.URLPatterns.Detail)
	a.listRes = compileAll(def.URLPatterns.List)
	a.searchRes = compileAll(def.URLPatterns.Search)
	return a, nil
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Definition returns the adapter configuration
func (a *SelectorAdapter) Definition() *Definition {
	return &a.def
}

// Selectors returns the engine-facing selectors
func (a *SelectorAdapter) Selectors() Selectors {
	return Selectors{
		ListReady:   a.def.List.Ready,
		Item:        a.def.List.Item,
		LoadMore:    a.def.Pagination.LoadMore,
		Next:        a.def.Pagination.Next,
		DetailReady: a.def.Detail.Ready,
		SizeTrigger: a.def.Detail.SizeTrigger,
		SizeOption:  a.def.Detail.SizeOption,
		LoggedIn:    a.def.Session.LoggedIn,
		LoginForm:   a.def.Session.LoginForm,
	}
}

// ClassifyPage labels a URL by the configured patterns. Unmatched URLs are
// treated as listings.
func (a *SelectorAdapter) ClassifyPage(rawURL string) types.Label {
	switch {
	case matchAny(a.detailRes, rawURL):
		return types.LabelDetail
	case matchAny(a.searchRes, rawURL):
		return types.LabelSearch
	default:
		return types.LabelList
	}
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// ExternalKey derives the stable dedup key of a product URL
func (a *SelectorAdapter) ExternalKey(rawURL string) string {
	if a.keyRe != nil {
		if m := a.keyRe.FindStringSubmatch(rawURL); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	normalized, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return rawURL
	}
	return normalized
}

// ExtractList enumerates product cards. Placeholder cards and cards without a
// link are skipped.
func (a *SelectorAdapter) ExtractList(doc *goquery.Document, pageURL string) []*types.Record {
	base := parseBase(pageURL, a.def.BaseURL)
	list := a.def.List

	var out []*types.Record
	doc.Find(list.Item).Each(func(_ int, card *goquery.Selection) {
		if list.Placeholder != "" && (card.Is(list.Placeholder) || card.Find(list.Placeholder).Length() > 0) {
			return
		}

		link := first(list.Link.Values(card))
		if link == "" {
			if href, ok := card.Attr("href"); ok {
				link = strings.TrimSpace(href)
			}
		}
		if link == "" {
			return
		}
		abs := resolve(base, link)

		rec := &types.Record{
			ExternalKey: a.ExternalKey(abs),
			URL:         abs,
			Site:        a.def.ID,
			Stage:       types.StageList,
			Currency:    a.def.Currency,
			ExtractedAt: a.now(),
		}
		if list.PositionAttr != "" {
			if v, ok := card.Attr(list.PositionAttr); ok {
				rec.Position = strings.TrimSpace(v)
			}
		}
		a.applyFields(rec, card, list.Fields, base)
		out = append(out, rec)
	})
	return out
}

// ExtractDetail reads a product page. Fields the selectors miss are filled
// from schema.org Product JSON-LD when the page carries it.
func (a *SelectorAdapter) ExtractDetail(doc *goquery.Document, pageURL string) *types.Record {
	base := parseBase(pageURL, a.def.BaseURL)
	rec := &types.Record{
		ExternalKey: a.ExternalKey(pageURL),
		URL:         pageURL,
		Site:        a.def.ID,
		Stage:       types.StageDetail,
		Currency:    a.def.Currency,
		ExtractedAt: a.now(),
	}
	a.applyFields(rec, doc.Selection, a.def.Detail.Fields, base)
	fillFromJSONLD(rec, doc, base)
	return rec
}

// InferBatchAttributes derives gender and category from the seed URL path
// and query. When several keywords match, the one appearing first wins.
func (a *SelectorAdapter) InferBatchAttributes(seedURL string) types.BatchAttributes {
	u, err := url.Parse(seedURL)
	if err != nil {
		return types.BatchAttributes{}
	}
	text := u.Path
	for _, vs := range u.Query() {
		text += " " + strings.Join(vs, " ")
	}
	tokens := Tokens(text)

	return types.BatchAttributes{
		Gender:   bestMatch(tokens, a.def.BatchAttributes.Gender),
		Category: bestMatch(tokens, a.def.BatchAttributes.Category),
	}
}

func bestMatch(tokens []string, rules map[string][]string) string {
	best, bestPos := "", -1
	for _, value := range sortedKeys(rules) {
		for _, kw := range rules[value] {
			pos := indexSeq(tokens, Tokens(kw))
			if pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestPos = value, pos
			}
		}
	}
	return best
}

// indexSeq returns the first index at which needle appears contiguously in hay
func indexSeq(hay, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// Values reads the field from scope. An empty selector reads scope itself.
func (f Field) Values(scope *goquery.Selection) []string {
	sel := scope
	if f.Selector != "" {
		sel = scope.Find(f.Selector)
	}
	if !f.Multiple {
		sel = sel.First()
	}

	var out []string
	sel.Each(func(_ int, n *goquery.Selection) {
		var v string
		if f.Attr != "" {
			v, _ = n.Attr(f.Attr)
		} else {
			v = n.Text()
		}
		v = CleanText(v)
		if len(f.Transform) > 0 {
			var err error
			if v, err = f.Transform.Apply(v); err != nil {
				return
			}
		}
		if v != "" {
			out = append(out, v)
		}
	})
	return out
}

func (a *SelectorAdapter) applyFields(rec *types.Record, scope *goquery.Selection, fields map[string]Field, base *url.URL) {
	for _, name := range sortedKeys(fields) {
		f := fields[name]
		if multiValued[name] {
			f.Multiple = true
		}
		vals := f.Values(scope)
		if len(vals) == 0 {
			continue
		}
		if urlValued[name] {
			for i, v := range vals {
				vals[i] = resolve(base, v)
			}
		}
		setField(rec, name, vals)
	}
}

func setField(rec *types.Record, name string, vals []string) {
	v := vals[0]
	switch name {
	case "name":
		rec.Name = v
	case "brand":
		rec.Brand = v
	case "price":
		amount, currency := ParsePrice(v)
		rec.Price = amount
		if currency != "" {
			rec.Currency = currency
		}
	case "currency":
		rec.Currency = strings.ToUpper(v)
	case "thumbnail":
		rec.Thumbnail = v
	case "sizes":
		rec.Sizes = dedupe(vals)
	case "tags":
		rec.Tags = dedupe(vals)
	case "images":
		rec.Images = dedupe(vals)
	case "breadcrumbs":
		rec.Breadcrumbs = vals
	case "category":
		rec.Category = v
	case "gender":
		rec.Gender = v
	case "position":
		rec.Position = v
	case "description":
		rec.Description = v
	case "composition":
		rec.Composition = v
	case "sku":
		rec.SKU = v
	default:
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string)
		}
		rec.Attributes[name] = strings.Join(vals, ", ")
	}
}

type jsonLDProduct struct {
	Type   interface{}     `json:"@type"`
	Name   string          `json:"name"`
	SKU    string          `json:"sku"`
	Brand  json.RawMessage `json:"brand"`
	Image  json.RawMessage `json:"image"`
	Offers json.RawMessage `json:"offers"`
	Desc   string          `json:"description"`
}

type jsonLDOffer struct {
	Price         json.Number `json:"price"`
	PriceCurrency string      `json:"priceCurrency"`
}

func fillFromJSONLD(rec *types.Record, doc *goquery.Document, base *url.URL) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		p, ok := findProduct([]byte(s.Text()))
		if !ok {
			return true
		}
		if rec.Name == "" {
			rec.Name = CleanText(p.Name)
		}
		if rec.SKU == "" {
			rec.SKU = strings.TrimSpace(p.SKU)
		}
		if rec.Description == "" {
			rec.Description = CleanText(p.Desc)
		}
		if rec.Brand == "" {
			rec.Brand = nameOrString(p.Brand)
		}
		if len(rec.Images) == 0 {
			for _, img := range stringOrList(p.Image) {
				rec.Images = append(rec.Images, resolve(base, img))
			}
		}
		if rec.Price == "" {
			if offer, ok := firstOffer(p.Offers); ok {
				rec.Price, _ = ParsePrice(offer.Price.String())
				if offer.PriceCurrency != "" {
					rec.Currency = offer.PriceCurrency
				}
			}
		}
		return false
	})
}

func findProduct(data []byte) (jsonLDProduct, bool) {
	var single jsonLDProduct
	if err := json.Unmarshal(data, &single); err == nil && isProduct(single.Type) {
		return single, true
	}
	var many []jsonLDProduct
	if err := json.Unmarshal(data, &many); err == nil {
		for _, p := range many {
			if isProduct(p.Type) {
				return p, true
			}
		}
	}
	var graph struct {
		Graph []jsonLDProduct `json:"@graph"`
	}
	if err := json.Unmarshal(data, &graph); err == nil {
		for _, p := range graph.Graph {
			if isProduct(p.Type) {
				return p, true
			}
		}
	}
	return jsonLDProduct{}, false
}

func isProduct(t interface{}) bool {
	switch v := t.(type) {
	case string:
		return v == "Product"
	case []interface{}:
		for _, x := range v {
			if s, ok := x.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

func nameOrString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return CleanText(s)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return CleanText(obj.Name)
	}
	return ""
}

func stringOrList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	return nil
}

func firstOffer(raw json.RawMessage) (jsonLDOffer, bool) {
	if len(raw) == 0 {
		return jsonLDOffer{}, false
	}
	var o jsonLDOffer
	if json.Unmarshal(raw, &o) == nil && o.Price != "" {
		return o, true
	}
	var list []jsonLDOffer
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0], true
	}
	return jsonLDOffer{}, false
}

func parseBase(pageURL, fallback string) *url.URL {
	if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
		return u
	}
	u, _ := url.Parse(fallback)
	return u
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func dedupe(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// SearchURL fills the search template with query
func (d *Definition) SearchURL(query string) (string, error) {
	if d.Search.URL == "" {
		return "", fmt.Errorf("site %s does not support search", d.ID)
	}
	return strings.ReplaceAll(d.Search.URL, "{query}", url.QueryEscape(query)), nil
}
