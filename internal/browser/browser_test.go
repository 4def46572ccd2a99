// internal/browser/browser_test.go
package browser_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/browser/browsertest"
)

func TestDefaultConfig(t *testing.T) {
	config := browser.DefaultConfig()

	if !config.Headless {
		t.Error("Expected headless mode by default")
	}
	if config.ViewportWidth != 1920 {
		t.Errorf("Expected viewport width 1920, got %d", config.ViewportWidth)
	}
	if config.ViewportHeight != 1080 {
		t.Errorf("Expected viewport height 1080, got %d", config.ViewportHeight)
	}
	if config.MaxTabs != 5 {
		t.Errorf("Expected 5 tabs, got %d", config.MaxTabs)
	}
}

func TestPool_BoundsOpenTabs(t *testing.T) {
	pool := browser.NewPool(browsertest.NewBrowser(browsertest.NewSite()), 2)
	defer pool.Close()

	ctx := context.Background()
	p1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if pool.InUse() != 2 {
		t.Errorf("Expected 2 tabs in use, got %d", pool.InUse())
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(waitCtx); err == nil {
		t.Error("Expected third Acquire to block until ctx expires")
	}

	p1.Close()
	p1.Close() // double close must not free two slots
	if pool.InUse() != 1 {
		t.Errorf("Expected 1 tab in use, got %d", pool.InUse())
	}

	p3, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	p2.Close()
	p3.Close()
	if pool.InUse() != 0 {
		t.Errorf("Expected 0 tabs in use, got %d", pool.InUse())
	}
}

func TestPool_Closed(t *testing.T) {
	pool := browser.NewPool(browsertest.NewBrowser(browsertest.NewSite()), 1)
	pool.Close()
	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Error("Expected error from closed pool")
	}
}

func TestChrome_DataURL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	found := false
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("Skipping browser test - Chrome is not available")
	}

	cfg := browser.DefaultConfig()
	cfg.NavigationTimeout = 20 * time.Second
	chrome, err := browser.NewChrome(cfg, browser.WithInitScripts("window.__marker = 1;"))
	if err != nil {
		t.Skipf("Skipping browser test - Chrome failed to start: %v", err)
	}
	defer chrome.Close()

	ctx := context.Background()
	page, err := chrome.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, "data:text/html,<html><head><title>T</title></head><body><h1>Test</h1></body></html>"); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		t.Fatalf("HTML failed: %v", err)
	}
	if !strings.Contains(html, "<h1>Test</h1>") {
		t.Errorf("Expected HTML to contain heading, got %s", html)
	}
	n, err := page.Count(ctx, "h1")
	if err != nil || n != 1 {
		t.Errorf("Count(h1) = %d, %v", n, err)
	}
	var marker int
	if err := page.Evaluate(ctx, "window.__marker", &marker); err != nil || marker != 1 {
		t.Errorf("init script not applied: %d, %v", marker, err)
	}
	if chrome.Stats().PagesLoaded != 1 {
		t.Errorf("Expected 1 page loaded, got %d", chrome.Stats().PagesLoaded)
	}
}
