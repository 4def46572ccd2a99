// internal/pagination/strategies_test.go
package pagination

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/internal/browser/browsertest"
	"github.com/valpere/SiteHarvester/internal/site"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func cards(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(`<div class="card"><a href="/p/x">x</a></div>`)
	}
	return sb.String()
}

func TestNew(t *testing.T) {
	s, err := New(site.PaginationConfig{Strategy: site.StrategyLoadMore, LoadMore: ".more"}, ".card", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, site.StrategyLoadMore, s.Name())

	s, err = New(site.PaginationConfig{}, ".card", 0)
	require.NoError(t, err)
	assert.Equal(t, site.StrategyNone, s.Name())

	_, err = New(site.PaginationConfig{Strategy: "infinite"}, ".card", 0)
	assert.Error(t, err)
}

func TestNextButtonStrategy_HasNext(t *testing.T) {
	s := &NextButtonStrategy{Selector: ".next"}
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"link", `<a class="next" href="?page=2">Next</a>`, true},
		{"missing", `<a class="prev" href="?page=1">Prev</a>`, false},
		{"disabled class", `<a class="next disabled" href="?page=2">Next</a>`, false},
		{"disabled attr", `<a class="next" disabled href="?page=2">Next</a>`, false},
		{"aria disabled", `<a class="next" aria-disabled="true" href="?page=2">Next</a>`, false},
		{"span", `<span class="next">Next</span>`, false},
		{"hash", `<a class="next" href="#">Next</a>`, false},
		{"hidden", `<a class="next" style="display: none" href="?page=2">Next</a>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.HasNext(doc(t, tt.html)))
		})
	}
}

func TestNextButtonStrategy_Advance(t *testing.T) {
	s := &NextButtonStrategy{Selector: ".next"}
	d := doc(t, `<a class="next" href="/women/shoes?page=3">Next</a>`)

	next, err := s.Advance(context.Background(), nil, "https://shop.test/women/shoes?page=2", d, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/women/shoes?page=3", next)

	d = doc(t, `<a class="next" href="?page=2">Next</a>`)
	_, err = s.Advance(context.Background(), nil, "https://shop.test/women?page=2", d, 2)
	assert.Error(t, err)
}

func TestNumberedStrategy(t *testing.T) {
	s := &NumberedStrategy{ItemSelector: ".card"}

	next, err := s.Advance(context.Background(), nil, "https://shop.test/women?sort=new", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/women?page=2&sort=new", next)

	tmpl := &NumberedStrategy{PageParam: "p"}
	u, err := tmpl.PageURL("https://shop.test/list/{page}", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/list/3", u)

	offset := &NumberedStrategy{PageParam: "p", StartPage: 1}
	u, err = offset.PageURL("https://shop.test/list?p=1", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/list?p=2", u)

	assert.True(t, s.HasNext(doc(t, cards(2))))
	assert.False(t, s.HasNext(doc(t, `<p>No results</p>`)))
}

func TestLoadMoreStrategy_Advance(t *testing.T) {
	ctx := context.Background()
	web := browsertest.NewSite()
	web.SetPage("https://shop.test/women", cards(2)+`<button class="more">More</button>`)

	clicks := 0
	web.OnClick = func(p *browsertest.Page, selector string) error {
		clicks++
		if clicks == 1 {
			p.SetHTML(cards(4) + `<button class="more">More</button>`)
		}
		return nil
	}

	page, err := browsertest.NewBrowser(web).NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, "https://shop.test/women"))

	s := &LoadMoreStrategy{
		Selector:      ".more",
		ItemSelector:  ".card",
		SettleTimeout: 30 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}

	html, err := page.HTML(ctx)
	require.NoError(t, err)
	assert.True(t, s.HasNext(doc(t, html)))

	next, err := s.Advance(ctx, page, "https://shop.test/women", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, next)
	n, _ := page.Count(ctx, ".card")
	assert.Equal(t, 4, n)

	// second click reveals nothing; settle timeout is not an error
	next, err = s.Advance(ctx, page, "https://shop.test/women", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, next)
	n, _ = page.Count(ctx, ".card")
	assert.Equal(t, 4, n)
}

func TestLoadMoreStrategy_DisabledButton(t *testing.T) {
	s := &LoadMoreStrategy{Selector: ".more"}
	assert.False(t, s.HasNext(doc(t, `<button class="more" disabled>More</button>`)))
	assert.False(t, s.HasNext(doc(t, cards(3))))
}
