// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/SiteHarvester/internal/antidetect"
	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/dedup"
	"github.com/valpere/SiteHarvester/internal/proxy"
	"github.com/valpere/SiteHarvester/internal/engine"
	"github.com/valpere/SiteHarvester/internal/output"
	"github.com/valpere/SiteHarvester/internal/session"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// Default returns a complete configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file. Relative sites_file
// and storage paths resolve against the file's directory.
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	resolvePaths(cfg, filepath.Dir(filename))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromBytes loads configuration from YAML bytes
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}
	return LoadFromBytes(data)
}

// SaveToWriter writes the configuration as YAML
func SaveToWriter(cfg *Config, writer io.Writer) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}
	return enc.Close()
}

func parse(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(utils.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func resolvePaths(cfg *Config, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.SitesFile = abs(cfg.SitesFile)
	cfg.Storage.Root = abs(cfg.Storage.Root)
	cfg.Engine.StorageRoot = cfg.Storage.Root
	if cfg.Session.Store == SessionStoreFile {
		cfg.Session.Dir = abs(cfg.Session.Dir)
	}
}

// applyDefaults fills zero values. Booleans that default to true are only
// forced on when the whole section is absent.
func applyDefaults(cfg *Config) {
	srv := &cfg.Server
	if srv.Address == "" {
		srv.Address = ":8080"
	}
	if srv.ReadTimeout <= 0 {
		srv.ReadTimeout = 15 * time.Second
	}
	if srv.WriteTimeout < 0 {
		srv.WriteTimeout = 0
	}
	if srv.IdleTimeout <= 0 {
		srv.IdleTimeout = 60 * time.Second
	}
	if srv.ShutdownTimeout <= 0 {
		srv.ShutdownTimeout = 30 * time.Second
	}
	if srv.HeartbeatInterval <= 0 {
		srv.HeartbeatInterval = 15 * time.Second
	}
	if srv.RateLimit > 0 && srv.RateBurst <= 0 {
		srv.RateBurst = 20
	}

	if cfg.Engine == (engine.Config{}) {
		cfg.Engine = engine.DefaultConfig()
	} else {
		fillEngine(&cfg.Engine)
	}

	if cfg.Browser == (browser.Config{}) {
		cfg.Browser = browser.DefaultConfig()
	} else {
		fillBrowser(&cfg.Browser)
	}

	ad := antidetect.DefaultConfig()
	if isZeroAntiDetect(cfg.AntiDetect) {
		cfg.AntiDetect.Config = ad
		cfg.AntiDetect.Fingerprint = true
	}
	if cfg.AntiDetect.MinDelay <= 0 && cfg.AntiDetect.MaxDelay <= 0 {
		cfg.AntiDetect.MinDelay, cfg.AntiDetect.MaxDelay = ad.MinDelay, ad.MaxDelay
	}
	if cfg.AntiDetect.RecoveryWait <= 0 {
		cfg.AntiDetect.RecoveryWait = ad.RecoveryWait
	}
	if len(cfg.AntiDetect.Languages) == 0 {
		cfg.AntiDetect.Languages = ad.Languages
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = SessionStoreFile
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = "./sessions"
	}
	def := session.DefaultConfig()
	if cfg.Session.CheckTimeout <= 0 {
		cfg.Session.CheckTimeout = def.CheckTimeout
	}
	if cfg.Session.LoginTimeout <= 0 {
		cfg.Session.LoginTimeout = def.LoginTimeout
	}
	if cfg.Session.SuccessTimeout <= 0 {
		cfg.Session.SuccessTimeout = def.SuccessTimeout
	}
	if cfg.Session.PollInterval <= 0 {
		cfg.Session.PollInterval = def.PollInterval
	}

	dd := dedup.DefaultConfig()
	if cfg.Dedup.Source == "" {
		cfg.Dedup.Source = dd.Source
	}
	if cfg.Dedup.BatchSize <= 0 {
		cfg.Dedup.BatchSize = dd.BatchSize
	}
	if cfg.Dedup.Timeout <= 0 {
		cfg.Dedup.Timeout = dd.Timeout
	}
	if cfg.Dedup.Breaker.MaxFailures <= 0 {
		cfg.Dedup.Breaker = dd.Breaker
	}

	pd := proxy.DefaultConfig()
	if cfg.Proxy.Rotation == "" {
		cfg.Proxy.Rotation = pd.Rotation
	}
	if cfg.Proxy.FailureThreshold <= 0 {
		cfg.Proxy.FailureThreshold = pd.FailureThreshold
	}
	if cfg.Proxy.RecoveryTime <= 0 {
		cfg.Proxy.RecoveryTime = pd.RecoveryTime
	}

	if cfg.Storage.Root == "" {
		if cfg.Engine.StorageRoot != "" {
			cfg.Storage.Root = cfg.Engine.StorageRoot
		} else {
			cfg.Storage.Root = "./storage"
		}
	}
	cfg.Engine.StorageRoot = cfg.Storage.Root

	if cfg.Output.Format == "" {
		cfg.Output.Format = output.FormatJSON
	}
	if cfg.Output.Excel.SheetName == "" {
		cfg.Output.Excel = output.DefaultExcelConfig()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "harvester"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "engine"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.SitesFile == "" {
		cfg.SitesFile = "sites.yaml"
	}
}

func isZeroAntiDetect(a AntiDetectConfig) bool {
	return !a.Enabled && !a.Fingerprint && a.MinDelay == 0 && a.MaxDelay == 0 &&
		a.ScrollSteps == 0 && a.MouseMoves == 0 && a.RecoveryWait == 0 && len(a.Languages) == 0
}

func fillEngine(c *engine.Config) {
	def := engine.DefaultConfig()
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = def.HandlerTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.MaxImagesPerRecord <= 0 {
		c.MaxImagesPerRecord = def.MaxImagesPerRecord
	}
	if c.Retry == (engine.Config{}).Retry {
		c.Retry = def.Retry
	}
	if c.Budget.Buffer <= 0 {
		c.Budget.Buffer = def.Budget.Buffer
	}
	if c.Budget.Ceiling <= 0 {
		c.Budget.Ceiling = def.Budget.Ceiling
	}
	if c.Budget.MaxIdleAttempts <= 0 {
		c.Budget.MaxIdleAttempts = def.Budget.MaxIdleAttempts
	}
}

func fillBrowser(c *browser.Config) {
	def := browser.DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		c.ViewportWidth, c.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = def.AcceptLanguage
	}
	if c.MaxTabs <= 0 {
		c.MaxTabs = def.MaxTabs
	}
}
