// internal/antidetect/simulator_test.go
package antidetect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/internal/browser/browsertest"
	"github.com/valpere/SiteHarvester/internal/errors"
)

func fastConfig() Config {
	return Config{
		Enabled:     true,
		ScrollSteps: 2,
		MouseMoves:  1,
	}
}

func openPage(t *testing.T, site *browsertest.Site, url string) *browsertest.Page {
	t.Helper()
	b := browsertest.NewBrowser(site)
	p, err := b.NewPage(context.Background())
	require.NoError(t, err)
	page := p.(*browsertest.Page)
	require.NoError(t, page.Navigate(context.Background(), url))
	return page
}

func TestSimulator_DelayWithinRange(t *testing.T) {
	s := NewSimulator(Config{Enabled: true, MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}, Profile{}, nil)
	for i := 0; i < 50; i++ {
		d := s.Delay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestSimulator_Interact(t *testing.T) {
	site := browsertest.NewSite()
	site.SetPage("https://shop.test/p", "<html><body>ok</body></html>")
	page := openPage(t, site, "https://shop.test/p")

	s := NewSimulator(fastConfig(), Profile{Viewport: Viewport{800, 600}}, nil)
	require.NoError(t, s.Interact(context.Background(), page))

	moves, scrolls := page.Interactions()
	assert.Equal(t, 2, scrolls)
	assert.Greater(t, moves, 0)
}

func TestSimulator_Disabled(t *testing.T) {
	site := browsertest.NewSite()
	page := openPage(t, site, "https://shop.test/p")

	s := NewSimulator(Config{Enabled: false, MinDelay: time.Hour, ScrollSteps: 5}, Profile{}, nil)
	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Interact(context.Background(), page))
	moves, scrolls := page.Interactions()
	assert.Zero(t, moves)
	assert.Zero(t, scrolls)
}

func TestGenerateMousePath(t *testing.T) {
	s := NewSimulator(fastConfig(), Profile{Viewport: Viewport{1000, 800}}, nil)
	path := s.GenerateMousePath(10, 10, 500, 400)

	require.GreaterOrEqual(t, len(path), 4)
	last := path[len(path)-1]
	assert.Equal(t, "click", last.EventType)
	assert.Equal(t, 500, last.X)
	assert.Equal(t, 400, last.Y)
	for _, ev := range path {
		assert.True(t, ev.X >= 0 && ev.X < 1000 && ev.Y >= 0 && ev.Y < 800)
	}
}

func TestGuard_NotBlocked(t *testing.T) {
	site := browsertest.NewSite()
	site.SetPage("https://shop.test/p", "<html><head><title>Shirt</title></head><body>Shirt</body></html>")
	page := openPage(t, site, "https://shop.test/p")

	s := NewSimulator(fastConfig(), Profile{}, nil)
	assert.NoError(t, s.Guard(context.Background(), page))
	assert.Zero(t, page.Reloads())
}

func TestGuard_RecoversAfterReload(t *testing.T) {
	site := browsertest.NewSite()
	site.SetPage("https://shop.test/p", "<html><head><title>Just a moment...</title></head><body></body></html>")
	page := openPage(t, site, "https://shop.test/p")
	site.SetPage("https://shop.test/p", "<html><head><title>Shirt</title></head><body>Shirt</body></html>")

	s := NewSimulator(fastConfig(), Profile{}, nil)
	assert.NoError(t, s.Guard(context.Background(), page))
	assert.Equal(t, 1, page.Reloads())
}

func TestGuard_StillBlocked(t *testing.T) {
	site := browsertest.NewSite()
	site.SetPage("https://shop.test/p", "<html><head><title>Access Denied</title></head><body></body></html>")
	page := openPage(t, site, "https://shop.test/p")

	s := NewSimulator(fastConfig(), Profile{}, nil)
	err := s.Guard(context.Background(), page)
	require.Error(t, err)
	assert.Equal(t, errors.CodeBlocked, errors.Code(err))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 1, page.Reloads(), "exactly one recovery attempt")
}
