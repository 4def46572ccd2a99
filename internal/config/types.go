// internal/config/types.go
package config

import (
	"time"

	"github.com/valpere/SiteHarvester/internal/antidetect"
	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/dedup"
	"github.com/valpere/SiteHarvester/internal/engine"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/output"
	"github.com/valpere/SiteHarvester/internal/proxy"
	"github.com/valpere/SiteHarvester/internal/session"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// Config is the process configuration of the harvester
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Engine     engine.Config    `yaml:"engine" json:"engine"`
	Browser    browser.Config   `yaml:"browser" json:"browser"`
	AntiDetect AntiDetectConfig `yaml:"antidetect" json:"antidetect"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Dedup      dedup.Config     `yaml:"dedup" json:"dedup"`
	Proxy      proxy.Config     `yaml:"proxy" json:"proxy"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Output     output.Config    `yaml:"output" json:"output"`
	Logging    utils.LogConfig  `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	SitesFile  string           `yaml:"sites_file" json:"sites_file"`
	WatchSites bool             `yaml:"watch_sites" json:"watch_sites"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Address           string        `yaml:"address" json:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	APIKeys           []string      `yaml:"api_keys,omitempty" json:"-"`
	RateLimit         float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst         int           `yaml:"rate_burst" json:"rate_burst"`
}

// AntiDetectConfig configures pacing, fingerprint spoofing and login
// challenge solving
type AntiDetectConfig struct {
	antidetect.Config `yaml:",inline"`
	Fingerprint       bool                     `yaml:"fingerprint" json:"fingerprint"`
	Captcha           antidetect.CaptchaConfig `yaml:"captcha" json:"captcha"`
}

// Session store backends
const (
	SessionStoreFile  = "file"
	SessionStoreRedis = "redis"
)

// SessionConfig selects where session state lives and tunes probing
type SessionConfig struct {
	session.Config `yaml:",inline"`
	Store          string              `yaml:"store" json:"store"`
	Dir            string              `yaml:"dir" json:"dir"`
	Redis          session.RedisConfig `yaml:"redis" json:"redis"`
}

// StorageConfig locates per-run storage
type StorageConfig struct {
	Root string `yaml:"root" json:"root"`
}

// MetricsConfig configures Prometheus collectors and their endpoint
type MetricsConfig struct {
	monitoring.MetricsConfig `yaml:",inline"`
	Path                     string `yaml:"path" json:"path"`
}
