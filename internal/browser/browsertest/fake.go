// internal/browser/browsertest/fake.go
// Package browsertest provides a scripted in-memory Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Site is the scripted web the fake browser navigates
type Site struct {
	mu sync.Mutex

	// Pages maps a URL to its HTML
	Pages map[string]string
	// Redirects maps a URL to the URL the browser ends up on
	Redirects map[string]string
	// NavigateErr returns an error for a navigation, or nil to proceed
	NavigateErr func(url string, attempt int) error
	// OnClick lets a test mutate the current page when selector is clicked
	OnClick func(p *Page, selector string) error

	navigations map[string]int
	cookies     []types.Cookie
}

// NewSite creates an empty scripted site
func NewSite() *Site {
	return &Site{
		Pages:       make(map[string]string),
		Redirects:   make(map[string]string),
		navigations: make(map[string]int),
	}
}

// SetPage registers html for url
func (s *Site) SetPage(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pages[url] = html
}

// SetRedirect sends navigations of from to to. An empty to removes the
// redirect.
func (s *Site) SetRedirect(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to == "" {
		delete(s.Redirects, from)
		return
	}
	s.Redirects[from] = to
}

// Navigations returns how many times url was requested
func (s *Site) Navigations(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations[url]
}

// Cookies returns the shared cookie jar
func (s *Site) Cookies() []types.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Cookie(nil), s.cookies...)
}

// Browser implements browser.Browser over a Site
type Browser struct {
	Site *Site

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewBrowser creates a fake browser over site
func NewBrowser(site *Site) *Browser {
	return &Browser{Site: site}
}

// NewPage opens a fake tab
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser closed")
	}
	p := &Page{site: b.Site}
	b.pages = append(b.pages, p)
	return p, nil
}

// Pages returns every tab opened so far
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Close marks the browser closed
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Page implements browser.Page over a Site
type Page struct {
	site *Site

	mu          sync.Mutex
	url         string
	html        string
	clicks      []string
	typed       map[string]string
	scripts     []string
	mouseMoves  int
	scrolls     int
	reloads     int
	screenshots int
	closed      bool
}

// SetHTML replaces the current document
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// Clicks returns clicked selectors in order
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed returns the text typed into selector
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// Scripts returns evaluated scripts
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// Interactions returns the number of mouse moves and scrolls
func (p *Page) Interactions() (mouseMoves, scrolls int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mouseMoves, p.scrolls
}

// Reloads returns the number of reloads
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Closed reports whether Close was called
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.site.mu.Lock()
	p.site.navigations[url]++
	attempt := p.site.navigations[url]
	navErr := p.site.NavigateErr
	p.site.mu.Unlock()

	if navErr != nil {
		if err := navErr(url, attempt); err != nil {
			return err
		}
	}

	p.site.mu.Lock()
	final := url
	if to, ok := p.site.Redirects[url]; ok {
		final = to
	}
	html := p.site.Pages[final]
	p.site.mu.Unlock()

	p.mu.Lock()
	p.url = final
	p.html = html
	p.mu.Unlock()
	return nil
}

func (p *Page) document() (*goquery.Document, error) {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	n, err := p.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("element %q not visible: %w", selector, context.DeadlineExceeded)
	}
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, err := p.document()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	n, err := p.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed to click %q: no such element", selector)
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()

	if p.site.OnClick != nil {
		return p.site.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typed == nil {
		p.typed = make(map[string]string)
	}
	p.typed[selector] = text
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots++
	return []byte("\x89PNG fake"), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	doc, err := p.document()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.reloads++
	url := p.url
	p.mu.Unlock()
	return p.Navigate(ctx, url)
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mouseMoves++
	return ctx.Err()
}

func (p *Page) Scroll(ctx context.Context, deltaY int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return ctx.Err()
}

func (p *Page) Cookies(ctx context.Context) ([]types.Cookie, error) {
	return p.site.Cookies(), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.cookies = append([]types.Cookie(nil), cookies...)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var (
	_ browser.Browser = (*Browser)(nil)
	_ browser.Page    = (*Page)(nil)
)
