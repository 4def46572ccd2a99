// internal/browser/types.go
package browser

import (
	"context"
	"time"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// Config defines headless browser configuration
type Config struct {
	Headless          bool          `yaml:"headless" json:"headless"`
	ExecPath          string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserDataDir       string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout" json:"action_timeout"`
	ViewportWidth     int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent         string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	AcceptLanguage    string        `yaml:"accept_language,omitempty" json:"accept_language,omitempty"`
	DisableImages     bool          `yaml:"disable_images" json:"disable_images"`
	ProxyServer       string        `yaml:"proxy_server,omitempty" json:"proxy_server,omitempty"`
	ProxyUsername     string        `yaml:"proxy_username,omitempty" json:"proxy_username,omitempty"`
	ProxyPassword     string        `yaml:"proxy_password,omitempty" json:"-"`
	MaxTabs           int           `yaml:"max_tabs" json:"max_tabs"`
}

// DefaultConfig returns default browser configuration
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 45 * time.Second,
		ActionTimeout:     15 * time.Second,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		AcceptLanguage:    "en-US,en;q=0.9",
		DisableImages:     false,
		MaxTabs:           types.DefaultMaxConcurrency,
	}
}

// Page is one browser tab. Every method honors ctx cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Evaluate(ctx context.Context, script string, out interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	MouseMove(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, deltaY int) error
	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	Close() error
}

// Browser opens tabs that share one cookie jar
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Stats contains browser automation statistics
type Stats struct {
	TabsOpened  int64 `json:"tabs_opened"`
	PagesLoaded int64 `json:"pages_loaded"`
	Errors      int64 `json:"errors"`
	Timeouts    int64 `json:"timeouts"`
}
