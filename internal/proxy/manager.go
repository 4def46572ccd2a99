// internal/proxy/manager.go
package proxy

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrNoHealthyProxy is returned when every proxy is cooling down
var ErrNoHealthyProxy = stderrors.New("no healthy proxies available")

// Manager rotates requests over a pool of proxies and benches the ones
// that keep failing until RecoveryTime has passed
type Manager struct {
	config  Config
	proxies []*instance
	next    int
	rng     *rand.Rand
	now     func() time.Time

	mu       sync.Mutex
	requests int64
}

// NewManager builds the pool from cfg. Disabled providers are skipped.
func NewManager(cfg Config) (*Manager, error) {
	def := DefaultConfig()
	if cfg.Rotation == "" {
		cfg.Rotation = def.Rotation
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = def.RecoveryTime
	}
	switch cfg.Rotation {
	case RotationRoundRobin, RotationRandom, RotationWeighted:
	default:
		return nil, fmt.Errorf("unsupported proxy rotation: %s", cfg.Rotation)
	}

	m := &Manager{
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
	for i, p := range cfg.Providers {
		if p.Disabled {
			continue
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("proxy-%d", i+1)
		}
		u, err := BuildURL(p)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.Name, err)
		}
		m.proxies = append(m.proxies, &instance{provider: p, url: u})
	}
	if cfg.Enabled && len(m.proxies) == 0 {
		return nil, fmt.Errorf("proxy pool is enabled but has no providers")
	}
	return m, nil
}

// BuildURL constructs a proxy URL from provider configuration
func BuildURL(p Provider) (*url.URL, error) {
	switch p.Type {
	case TypeHTTP, TypeHTTPS, TypeSOCKS5:
	case "":
		p.Type = TypeHTTP
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
	if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
		return nil, fmt.Errorf("invalid proxy address %s:%d", p.Host, p.Port)
	}
	u := &url.URL{Scheme: string(p.Type), Host: p.Host + ":" + strconv.Itoa(p.Port)}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// ServerAddress returns u without credentials, the form Chrome's
// --proxy-server flag accepts
func ServerAddress(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Enabled reports whether requests go through the pool
func (m *Manager) Enabled() bool {
	return m != nil && m.config.Enabled && len(m.proxies) > 0
}

// Next returns the next proxy according to the rotation strategy.
// It returns nil, nil when the pool is disabled.
func (m *Manager) Next() (*url.URL, error) {
	if !m.Enabled() {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.available()
	if len(available) == 0 {
		return nil, ErrNoHealthyProxy
	}

	var picked *instance
	switch m.config.Rotation {
	case RotationRandom:
		picked = available[m.rng.Intn(len(available))]
	case RotationWeighted:
		picked = m.weighted(available)
	default:
		picked = m.roundRobin()
	}

	picked.uses++
	picked.lastUsed = m.now()
	m.requests++
	return picked.url, nil
}

// healthy reports whether p may take traffic, reviving it after RecoveryTime
func (m *Manager) healthy(p *instance) bool {
	if p.failures < m.config.FailureThreshold {
		return true
	}
	if m.now().Sub(p.lastFailure) >= m.config.RecoveryTime {
		p.failures = 0
		return true
	}
	return false
}

func (m *Manager) available() []*instance {
	out := make([]*instance, 0, len(m.proxies))
	for _, p := range m.proxies {
		if m.healthy(p) {
			out = append(out, p)
		}
	}
	return out
}

// roundRobin is only called when at least one proxy is healthy
func (m *Manager) roundRobin() *instance {
	for i := 0; i < len(m.proxies); i++ {
		idx := (m.next + i) % len(m.proxies)
		if m.healthy(m.proxies[idx]) {
			m.next = (idx + 1) % len(m.proxies)
			return m.proxies[idx]
		}
	}
	return nil
}

func (m *Manager) weighted(available []*instance) *instance {
	total := 0
	for _, p := range available {
		total += weight(p)
	}
	pick := m.rng.Intn(total)
	for _, p := range available {
		pick -= weight(p)
		if pick < 0 {
			return p
		}
	}
	return available[0]
}

func weight(p *instance) int {
	if p.provider.Weight <= 0 {
		return 1
	}
	return p.provider.Weight
}

func (m *Manager) find(u *url.URL) *instance {
	if u == nil {
		return nil
	}
	for _, p := range m.proxies {
		if p.url.Host == u.Host && p.url.Scheme == u.Scheme {
			return p
		}
	}
	return nil
}

// ReportSuccess clears the failure streak of the proxy at u
func (m *Manager) ReportSuccess(u *url.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(u); p != nil {
		p.failures = 0
		p.successes++
	}
}

// ReportFailure counts a failure of the proxy at u
func (m *Manager) ReportFailure(u *url.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(u); p != nil {
		p.failures++
		p.totalFails++
		p.lastFailure = m.now()
	}
}

// Stats returns a snapshot of pool statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalProxies:  len(m.proxies),
		TotalRequests: m.requests,
		Proxies:       make(map[string]InstanceStat, len(m.proxies)),
	}
	for _, p := range m.proxies {
		ok := m.healthy(p)
		if ok {
			s.HealthyProxies++
		}
		s.Proxies[p.provider.Name] = InstanceStat{
			Name:         p.provider.Name,
			Healthy:      ok,
			UseCount:     p.uses,
			SuccessCount: p.successes,
			FailureCount: p.totalFails,
			LastUsed:     p.lastUsed,
			LastFailure:  p.lastFailure,
		}
	}
	return s
}

// HealthCheck fails when the pool is enabled but every proxy is benched
func (m *Manager) HealthCheck(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	if s := m.Stats(); s.HealthyProxies == 0 {
		return fmt.Errorf("%w: %d benched", ErrNoHealthyProxy, s.TotalProxies)
	}
	return nil
}

type proxyKey struct{}

// Transport wraps base so every request goes through the next proxy of the
// pool. Transport errors and 407 or 502 answers count against the proxy used.
func (m *Manager) Transport(base *http.Transport) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	base.Proxy = func(req *http.Request) (*url.URL, error) {
		u, _ := req.Context().Value(proxyKey{}).(*url.URL)
		return u, nil
	}
	return &rotatingTransport{m: m, base: base}
}

// Client returns an HTTP client whose requests rotate over the pool
func (m *Manager) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: m.Transport(nil), Timeout: timeout}
}

type rotatingTransport struct {
	m    *Manager
	base *http.Transport
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := t.m.Next()
	if err != nil {
		return nil, err
	}
	if u == nil {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(req.WithContext(context.WithValue(req.Context(), proxyKey{}, u)))
	switch {
	case err != nil:
		if req.Context().Err() == nil {
			t.m.ReportFailure(u)
		}
	case resp.StatusCode == http.StatusProxyAuthRequired || resp.StatusCode == http.StatusBadGateway:
		t.m.ReportFailure(u)
	default:
		t.m.ReportSuccess(u)
	}
	return resp, err
}
