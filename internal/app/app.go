// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valpere/SiteHarvester/internal/antidetect"
	"github.com/valpere/SiteHarvester/internal/api"
	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/config"
	"github.com/valpere/SiteHarvester/internal/dedup"
	"github.com/valpere/SiteHarvester/internal/engine"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/progress"
	"github.com/valpere/SiteHarvester/internal/proxy"
	"github.com/valpere/SiteHarvester/internal/session"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// App holds every long-lived component of a harvester process
type App struct {
	Config   *config.Config
	Logger   utils.Logger
	Registry *site.Registry
	Engine   *engine.Engine
	Metrics  *monitoring.Metrics
	Health   *monitoring.HealthManager
	Proxies  *proxy.Manager
	Profile  antidetect.Profile

	browser browser.Browser
	redis   *redis.Client
	watcher *config.Watcher
}

type options struct {
	browser browser.Browser
	sink    engine.RecordSink
	rng     *rand.Rand
	version string
}

// Option customizes New
type Option func(*options)

// WithBrowser uses b instead of launching Chrome
func WithBrowser(b browser.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithSink forwards every emitted record to sink
func WithSink(sink engine.RecordSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithRand seeds the fingerprint profile choice
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithVersion reports version on /health
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New loads the sites file and wires the engine with its browser, session
// store, dedup client, metrics and health checks
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*App, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	a := &App{Config: cfg, Logger: logger, Registry: site.NewRegistry()}
	if err := a.Registry.LoadFile(cfg.SitesFile); err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}
	logger.WithField("sites", a.Registry.IDs()).Info("Sites loaded")

	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if cfg.Metrics.Enabled {
		a.Metrics = monitoring.NewMetrics(cfg.Metrics.MetricsConfig)
	}
	a.Health = monitoring.NewHealthManager(o.version)
	a.Health.RegisterCheck(monitoring.DirectoryWritableCheck("storage", cfg.Storage.Root))
	a.Health.RegisterCheck(monitoring.GoroutineCheck(10000))

	a.Profile = antidetect.NewProfile(o.rng, cfg.AntiDetect.Languages)

	proxies, err := proxy.NewManager(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	a.Proxies = proxies
	imageClient := &http.Client{Timeout: 60 * time.Second}
	if proxies.Enabled() {
		imageClient = proxies.Client(60 * time.Second)
		a.Health.RegisterCheck(monitoring.PingCheck("proxies", false, proxies.HealthCheck))
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.browser = o.browser
	if a.browser == nil {
		b, err := a.launchBrowser()
		if err != nil {
			return nil, err
		}
		a.browser = b
	}

	sessions, err := a.sessionManager()
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithSessions(sessions),
		engine.WithDedup(dedup.NewClient(cfg.Dedup)),
		engine.WithHub(progress.NewHub()),
		engine.WithSimulator(antidetect.NewSimulator(cfg.AntiDetect.Config, a.Profile, logger)),
		engine.WithHTTPClient(imageClient, a.Profile.UserAgent),
		engine.WithMetrics(a.Metrics),
		engine.WithLogger(logger),
	}
	if o.sink != nil {
		engineOpts = append(engineOpts, engine.WithSink(o.sink))
	}
	a.Engine = engine.New(cfg.Engine, a.Registry, a.browser, engineOpts...)

	if cfg.WatchSites {
		w, err := config.NewWatcher(cfg.SitesFile, a.Registry.LoadFile, logger)
		if err != nil {
			return nil, err
		}
		a.watcher = w
	}

	ok = true
	return a, nil
}

func (a *App) launchBrowser() (browser.Browser, error) {
	bcfg := a.Config.Browser
	if bcfg.UserAgent == "" {
		bcfg.UserAgent = a.Profile.UserAgent
	}
	if a.Config.AntiDetect.Fingerprint {
		bcfg.AcceptLanguage = a.Profile.AcceptLanguage()
		bcfg.ViewportWidth, bcfg.ViewportHeight = a.Profile.Viewport.Width, a.Profile.Viewport.Height
	}

	if a.Proxies.Enabled() {
		u, err := a.Proxies.Next()
		if err != nil {
			return nil, err
		}
		bcfg.ProxyServer = proxy.ServerAddress(u)
		if u.User != nil {
			bcfg.ProxyUsername = u.User.Username()
			bcfg.ProxyPassword, _ = u.User.Password()
		}
		a.Logger.WithField("proxy", bcfg.ProxyServer).Info("Browser egress through proxy")
	}

	opts := []browser.Option{browser.WithLogger(a.Logger)}
	if a.Config.AntiDetect.Fingerprint {
		opts = append(opts, browser.WithInitScripts(antidetect.FingerprintScripts(a.Profile)...))
	}
	b, err := browser.NewChrome(bcfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return b, nil
}

func (a *App) sessionManager() (*session.Manager, error) {
	cfg := a.Config.Session

	var store session.Store
	switch cfg.Store {
	case config.SessionStoreRedis:
		client, err := session.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		a.redis = client
		store = session.NewRedisStore(client, cfg.Redis.KeyPrefix)
		a.Health.RegisterCheck(monitoring.PingCheck("redis", true, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	default:
		fs, err := session.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	opts := []session.Option{session.WithLogger(a.Logger), session.WithMetrics(a.Metrics)}
	if a.Config.AntiDetect.Captcha.APIKey != "" {
		solver, err := antidetect.NewTwoCaptchaSolver(a.Config.AntiDetect.Captcha)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithSolver(solver))
	}
	return session.NewManager(store, cfg.Config, opts...), nil
}

// APIServer builds the HTTP API over the engine
func (a *App) APIServer() *api.Server {
	srv := a.Config.Server
	opts := []api.Option{
		api.WithSites(a.Registry),
		api.WithHealth(a.Health),
		api.WithLogger(a.Logger),
	}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	return api.NewServer(api.Config{
		StorageRoot:       a.Config.Storage.Root,
		HeartbeatInterval: srv.HeartbeatInterval,
		APIKeys:           srv.APIKeys,
		RateLimit:         srv.RateLimit,
		RateBurst:         srv.RateBurst,
		MetricsPath:       a.Config.Metrics.Path,
	}, a.Engine, opts...)
}

// HTTPServer wraps the API in an http.Server using the configured timeouts
func (a *App) HTTPServer() *http.Server {
	srv := a.Config.Server
	return &http.Server{
		Addr:         srv.Address,
		Handler:      a.APIServer().Handler(),
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
	}
}

// Shutdown cancels running jobs and waits for them until ctx ends
func (a *App) Shutdown(ctx context.Context) error {
	if a.Engine == nil {
		return nil
	}
	return a.Engine.Shutdown(ctx)
}

// Close releases the browser, the session store and the sites watcher
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.watcher != nil {
		keep(a.watcher.Close())
	}
	if a.browser != nil {
		keep(a.browser.Close())
	}
	if a.redis != nil {
		keep(a.redis.Close())
	}
	return firstErr
}
