// internal/pagination/strategies.go
package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// Strategy reveals the next batch of items of a listing
type Strategy interface {
	Name() string
	// HasNext reports whether doc exposes a usable control to continue
	HasNext(doc *goquery.Document) bool
	// Advance moves to the next batch. In-place strategies grow the current
	// page and return an empty URL; navigating strategies return the URL of
	// page pageNum+1 without touching page.
	Advance(ctx context.Context, page browser.Page, currentURL string, doc *goquery.Document, pageNum int) (string, error)
}

// New builds the strategy configured for a site
func New(cfg site.PaginationConfig, itemSelector string, pollInterval time.Duration) (Strategy, error) {
	switch cfg.Strategy {
	case site.StrategyLoadMore:
		return &LoadMoreStrategy{
			Selector:      cfg.LoadMore,
			ItemSelector:  itemSelector,
			SettleTimeout: cfg.SettleTimeout,
			PollInterval:  pollInterval,
		}, nil
	case site.StrategyNextButton:
		return &NextButtonStrategy{Selector: cfg.Next}, nil
	case site.StrategyNumbered:
		return &NumberedStrategy{
			PageParam:    cfg.PageParam,
			StartPage:    cfg.StartPage,
			ItemSelector: itemSelector,
		}, nil
	case site.StrategyNone, "":
		return NoneStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown pagination strategy %q", cfg.Strategy)
	}
}

// LoadMoreStrategy clicks a button that appends items to the current page
type LoadMoreStrategy struct {
	Selector      string
	ItemSelector  string
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

func (s *LoadMoreStrategy) Name() string { return site.StrategyLoadMore }

func (s *LoadMoreStrategy) HasNext(doc *goquery.Document) bool {
	return controlEnabled(doc.Find(s.Selector).First())
}

// Advance clicks the control and waits until the item count grows. A click
// that reveals nothing within the settle timeout is not an error; the caller
// sees zero new items and counts an idle attempt.
func (s *LoadMoreStrategy) Advance(ctx context.Context, page browser.Page, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	before, err := page.Count(ctx, s.ItemSelector)
	if err != nil {
		return "", fmt.Errorf("failed to count items: %w", err)
	}
	if err := page.Click(ctx, s.Selector); err != nil {
		return "", fmt.Errorf("failed to click load more: %w", err)
	}

	settle := s.SettleTimeout
	if settle <= 0 {
		settle = 10 * time.Second
	}
	err = utils.PollUntil(ctx, s.PollInterval, settle, func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, s.ItemSelector)
		if err != nil {
			return false, err
		}
		return n > before, nil
	})
	if err != nil && !errors.Is(err, utils.ErrPollTimeout) {
		return "", err
	}
	return "", nil
}

// NextButtonStrategy follows a "next page" link
type NextButtonStrategy struct {
	Selector string
}

func (s *NextButtonStrategy) Name() string { return site.StrategyNextButton }

func (s *NextButtonStrategy) HasNext(doc *goquery.Document) bool {
	button := doc.Find(s.Selector).First()
	if !controlEnabled(button) || button.Is("span") {
		return false
	}
	href, exists := button.Attr("href")
	return exists && href != "" && href != "#"
}

func (s *NextButtonStrategy) Advance(ctx context.Context, page browser.Page, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	href, _ := doc.Find(s.Selector).First().Attr("href")
	next, err := resolveURL(currentURL, href)
	if err != nil {
		return "", err
	}
	if next == currentURL {
		return "", fmt.Errorf("next page link points to the current page")
	}
	return next, nil
}

// NumberedStrategy walks ?page=N style listings until a page comes back empty
type NumberedStrategy struct {
	PageParam    string
	StartPage    int
	ItemSelector string
}

func (s *NumberedStrategy) Name() string { return site.StrategyNumbered }

func (s *NumberedStrategy) HasNext(doc *goquery.Document) bool {
	return doc.Find(s.ItemSelector).Length() > 0
}

// Advance returns the URL of the page after pageNum. pageNum counts pages of
// this listing from 1 regardless of StartPage.
func (s *NumberedStrategy) Advance(ctx context.Context, page browser.Page, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	return s.PageURL(currentURL, pageNum+1)
}

// PageURL renders the URL of listing page pageNum
func (s *NumberedStrategy) PageURL(currentURL string, pageNum int) (string, error) {
	param := s.PageParam
	if param == "" {
		param = "page"
	}
	start := s.StartPage
	if start <= 0 {
		start = 1
	}
	value := strconv.Itoa(start + pageNum - 1)

	if strings.Contains(currentURL, "{page}") {
		return strings.ReplaceAll(currentURL, "{page}", value), nil
	}
	u, err := url.Parse(currentURL)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %q: %w", currentURL, err)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NoneStrategy never paginates
type NoneStrategy struct{}

func (NoneStrategy) Name() string                       { return site.StrategyNone }
func (NoneStrategy) HasNext(doc *goquery.Document) bool { return false }
func (NoneStrategy) Advance(ctx context.Context, page browser.Page, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	return "", nil
}

// controlEnabled reports whether sel is present and not disabled
func controlEnabled(sel *goquery.Selection) bool {
	if sel.Length() == 0 {
		return false
	}
	if _, disabled := sel.Attr("disabled"); disabled {
		return false
	}
	if v, _ := sel.Attr("aria-disabled"); v == "true" {
		return false
	}
	if sel.HasClass("disabled") || sel.HasClass("is-disabled") {
		return false
	}
	if style, _ := sel.Attr("style"); strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
		return false
	}
	return true
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
