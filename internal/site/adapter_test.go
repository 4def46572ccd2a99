// internal/site/adapter_test.go
package site

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/pkg/types"
)

func testDefinition() Definition {
	return Definition{
		ID:         "demo",
		BaseURL:    "https://shop.example.com",
		Currency:   "EUR",
		KeyPattern: `/p/([A-Za-z0-9-]+)`,
		List: ListConfig{
			Ready:        ".grid",
			Item:         ".grid .card",
			Placeholder:  ".skeleton",
			Link:         Field{Selector: "a.title", Attr: "href"},
			PositionAttr: "data-pos",
			Fields: map[string]Field{
				"name":      {Selector: "a.title"},
				"price":     {Selector: ".price"},
				"thumbnail": {Selector: "img", Attr: "src"},
				"badge":     {Selector: ".badge"},
			},
		},
		Detail: DetailConfig{
			Ready: "h1",
			Fields: map[string]Field{
				"name":        {Selector: "h1"},
				"sku":         {Selector: "[data-sku]", Attr: "data-sku"},
				"price":       {Selector: ".price"},
				"sizes":       {Selector: ".sizes li"},
				"breadcrumbs": {Selector: ".crumbs a"},
				"composition": {Selector: ".composition", Transform: TransformList{{Type: "lowercase"}}},
			},
		},
		Pagination: PaginationConfig{LoadMore: "button.more"},
		URLPatterns: URLPatterns{
			Detail: []string{`/p/`},
			Search: []string{`/search\?`},
		},
		BatchAttributes: BatchAttributeRules{
			Category: map[string][]string{
				"shoes":   {"shoes", "sneakers"},
				"t-shirt": {"t-shirts"},
			},
		},
	}
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const listHTML = `<html><body><div class="grid">
  <div class="card" data-pos="1">
    <a class="title" href="/p/abc-1">  Runner   One </a>
    <span class="price">1.299,00 €</span><img src="/img/1.jpg"><span class="badge">New</span>
  </div>
  <div class="card skeleton"><a class="title" href="/p/ghost">Loading</a></div>
  <div class="card" data-pos="2"><span class="price">9,99 €</span></div>
  <div class="card" data-pos="3">
    <a class="title" href="https://shop.example.com/p/xyz-9?ref=list">Runner Two</a>
    <span class="price">19,99 €</span>
  </div>
</div></body></html>`

func TestExtractList(t *testing.T) {
	a, err := NewSelectorAdapter(testDefinition())
	require.NoError(t, err)

	recs := a.ExtractList(mustDoc(t, listHTML), "https://shop.example.com/women/shoes")
	require.Len(t, recs, 2, "placeholder and link-less cards are skipped")

	first := recs[0]
	assert.Equal(t, "abc-1", first.ExternalKey)
	assert.Equal(t, "https://shop.example.com/p/abc-1", first.URL)
	assert.Equal(t, "Runner One", first.Name)
	assert.Equal(t, "1299.00", first.Price)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "https://shop.example.com/img/1.jpg", first.Thumbnail)
	assert.Equal(t, "1", first.Position)
	assert.Equal(t, "New", first.Attributes["badge"])
	assert.Equal(t, types.StageList, first.Stage)

	assert.Equal(t, "xyz-9", recs[1].ExternalKey)
	assert.Equal(t, "3", recs[1].Position)
}

const detailHTML = `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"ignored","brand":{"name":"Acme"},
 "image":["/img/a.jpg","/img/b.jpg"],"offers":{"price":"129.5","priceCurrency":"EUR"}}</script>
</head><body>
<nav class="crumbs"><a>Shoes Home</a><a>Women</a><a>Acme</a><a>Sneakers</a></nav>
<h1>Runner One</h1><div data-sku="SKU-1"></div>
<ul class="sizes"><li>38</li><li>39</li><li>39</li></ul>
<p class="composition">Cotton 100%</p>
</body></html>`

func TestExtractDetail(t *testing.T) {
	a, err := NewSelectorAdapter(testDefinition())
	require.NoError(t, err)

	rec := a.ExtractDetail(mustDoc(t, detailHTML), "https://shop.example.com/p/abc-1")
	assert.Equal(t, types.StageDetail, rec.Stage)
	assert.Equal(t, "abc-1", rec.ExternalKey)
	assert.Equal(t, "Runner One", rec.Name, "selector value wins over JSON-LD")
	assert.Equal(t, "SKU-1", rec.SKU)
	assert.Equal(t, "Acme", rec.Brand)
	assert.Equal(t, "129.5", rec.Price)
	assert.Equal(t, []string{"38", "39"}, rec.Sizes)
	assert.Equal(t, []string{"Shoes Home", "Women", "Acme", "Sneakers"}, rec.Breadcrumbs)
	assert.Equal(t, "cotton 100%", rec.Composition)
	assert.Equal(t, []string{"https://shop.example.com/img/a.jpg", "https://shop.example.com/img/b.jpg"}, rec.Images)
}

func TestClassifyPage(t *testing.T) {
	a, err := NewSelectorAdapter(testDefinition())
	require.NoError(t, err)

	assert.Equal(t, types.LabelDetail, a.ClassifyPage("https://shop.example.com/p/abc-1"))
	assert.Equal(t, types.LabelSearch, a.ClassifyPage("https://shop.example.com/search?q=boots"))
	assert.Equal(t, types.LabelList, a.ClassifyPage("https://shop.example.com/women/shoes"))
}

func TestInferBatchAttributes(t *testing.T) {
	a, err := NewSelectorAdapter(testDefinition())
	require.NoError(t, err)

	tests := []struct {
		url      string
		gender   string
		category string
	}{
		{"https://shop.example.com/women/shoes", "women", "shoes"},
		{"https://shop.example.com/mens-t-shirts", "men", "t-shirt"},
		{"https://shop.example.com/damen/sneakers?sort=new", "women", "shoes"},
		{"https://shop.example.com/sale", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := a.InferBatchAttributes(tt.url)
			assert.Equal(t, tt.gender, got.Gender)
			assert.Equal(t, tt.category, got.Category)
		})
	}
}

func TestExternalKeyFallsBackToNormalizedURL(t *testing.T) {
	def := testDefinition()
	def.KeyPattern = ""
	a, err := NewSelectorAdapter(def)
	require.NoError(t, err)

	assert.Equal(t,
		a.ExternalKey("https://SHOP.example.com/item/7/?b=2&a=1#reviews"),
		a.ExternalKey("https://shop.example.com/item/7?a=1&b=2"))
}

func TestSearchURL(t *testing.T) {
	def := testDefinition()
	_, err := def.SearchURL("boots")
	assert.Error(t, err)

	def.Search.URL = "https://shop.example.com/search?q={query}"
	u, err := def.SearchURL("red boots")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/search?q=red+boots", u)
}
