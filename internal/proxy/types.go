// internal/proxy/types.go
package proxy

import (
	"net/url"
	"time"
)

// Type represents the type of proxy
type Type string

const (
	TypeHTTP   Type = "http"
	TypeHTTPS  Type = "https"
	TypeSOCKS5 Type = "socks5"
)

// Rotation defines how proxies are rotated
type Rotation string

const (
	RotationRoundRobin Rotation = "round_robin"
	RotationRandom     Rotation = "random"
	RotationWeighted   Rotation = "weighted"
)

// Config defines the egress proxy pool
type Config struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Rotation         Rotation      `yaml:"rotation" json:"rotation"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTime     time.Duration `yaml:"recovery_time" json:"recovery_time"`
	Providers        []Provider    `yaml:"providers" json:"providers"`
}

// DefaultConfig returns a disabled pool with round-robin rotation
func DefaultConfig() Config {
	return Config{
		Rotation:         RotationRoundRobin,
		FailureThreshold: 3,
		RecoveryTime:     10 * time.Minute,
	}
}

// Provider is one configured proxy endpoint
type Provider struct {
	Name     string `yaml:"name" json:"name"`
	Type     Type   `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	Weight   int    `yaml:"weight,omitempty" json:"weight,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Stats represents proxy pool statistics
type Stats struct {
	TotalProxies   int                     `json:"total_proxies"`
	HealthyProxies int                     `json:"healthy_proxies"`
	TotalRequests  int64                   `json:"total_requests"`
	Proxies        map[string]InstanceStat `json:"proxies"`
}

// InstanceStat represents statistics for a single proxy
type InstanceStat struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	UseCount     int64     `json:"use_count"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

type instance struct {
	provider Provider
	url      *url.URL

	failures    int
	lastFailure time.Time
	uses        int64
	successes   int64
	totalFails  int64
	lastUsed    time.Time
}
