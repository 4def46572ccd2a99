// internal/browser/chromedp.go
package browser

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Option customizes a Chrome instance
type Option func(*Chrome)

// WithInitScripts registers scripts evaluated before any page script in every new tab
func WithInitScripts(scripts ...string) Option {
	return func(c *Chrome) {
		c.initScripts = append(c.initScripts, scripts...)
	}
}

// WithLogger sets the logger
func WithLogger(logger utils.Logger) Option {
	return func(c *Chrome) {
		c.logger = logger
	}
}

// Chrome implements Browser on top of a single chromedp-driven Chrome process
type Chrome struct {
	config        Config
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	initScripts   []string
	logger        utils.Logger

	tabsOpened  atomic.Int64
	pagesLoaded atomic.Int64
	errs        atomic.Int64
	timeouts    atomic.Int64
}

// NewChrome starts a Chrome process
func NewChrome(config Config, opts ...Option) (*Chrome, error) {
	defaults := DefaultConfig()
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = defaults.NavigationTimeout
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = defaults.ActionTimeout
	}
	if config.ViewportWidth <= 0 || config.ViewportHeight <= 0 {
		config.ViewportWidth, config.ViewportHeight = defaults.ViewportWidth, defaults.ViewportHeight
	}

	c := &Chrome{config: config, logger: utils.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
	)
	if config.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(config.ExecPath))
	}
	if config.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(config.UserDataDir))
	}
	if config.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(config.ProxyServer))
	}
	if config.DisableImages {
		allocOpts = append(allocOpts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	// The first Run on the browser context launches the process.
	if err := chromedp.Run(c.browserCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c.logger.WithField("headless", config.Headless).Info("browser started")
	return c, nil
}

// NewPage opens a new tab with the viewport, user agent and init scripts
// applied. CDP overrides and new-document scripts are scoped to one target,
// so every tab needs them again; the profile is fixed per process and each
// tab presents the same fingerprint.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(c.config.ViewportWidth), int64(c.config.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if c.config.UserAgent == "" {
				return nil
			}
			override := emulation.SetUserAgentOverride(c.config.UserAgent)
			if c.config.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(c.config.AcceptLanguage)
			}
			return override.Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, script := range c.initScripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	if c.config.ProxyUsername != "" {
		c.answerProxyAuth(tabCtx)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		c.errs.Add(1)
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	c.tabsOpened.Add(1)
	return &chromePage{ctx: tabCtx, cancel: cancel, browser: c}, nil
}

// answerProxyAuth resumes requests paused by the Fetch domain and answers
// proxy auth challenges with the configured credentials
func (c *Chrome) answerProxyAuth(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go chromedp.Run(tabCtx, fetch.ContinueRequest(e.RequestID))
		case *fetch.EventAuthRequired:
			resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
			if e.AuthChallenge != nil && e.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
				resp = &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: c.config.ProxyUsername,
					Password: c.config.ProxyPassword,
				}
			}
			go chromedp.Run(tabCtx, fetch.ContinueWithAuth(e.RequestID, resp))
		}
	})
}

// Stats returns a snapshot of browser statistics
func (c *Chrome) Stats() Stats {
	return Stats{
		TabsOpened:  c.tabsOpened.Load(),
		PagesLoaded: c.pagesLoaded.Load(),
		Errors:      c.errs.Load(),
		Timeouts:    c.timeouts.Load(),
	}
}

// Close terminates the browser process
func (c *Chrome) Close() error {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	browser *Chrome
}

// run executes actions on the tab bounded by timeout and by the caller's ctx
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		p.browser.timeouts.Add(1)
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, p.browser.config.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		p.browser.errs.Add(1)
		if stderrors.Is(err, context.DeadlineExceeded) {
			return errors.NewNavigationTimeout(url, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewNetworkError("navigation failed: "+url, err)
	}
	p.browser.pagesLoaded.Add(1)
	return nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible: %w", selector, err)
	}
	return nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector))
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.Evaluate(script, &n)); err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return n, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.Click(selector, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	err := p.run(ctx, p.browser.config.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (p *chromePage) Reload(ctx context.Context) error {
	if err := p.run(ctx, p.browser.config.NavigationTimeout, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (p *chromePage) MouseMove(ctx context.Context, x, y float64) error {
	return p.run(ctx, p.browser.config.ActionTimeout, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (p *chromePage) Scroll(ctx context.Context, deltaY int) error {
	return p.run(ctx, p.browser.config.ActionTimeout, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil))
}

func (p *chromePage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	now := time.Now()
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := time.Unix(int64(c.Expires), 0)
			if expires.Before(now) {
				continue
			}
			ts := cdp.TimeSinceEpoch(expires)
			param.Expires = &ts
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none":
			param.SameSite = network.CookieSameSiteNone
		}
		params = append(params, param)
	}

	err := p.run(ctx, p.browser.config.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Close closes the tab
func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
