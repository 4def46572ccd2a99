// internal/dedup/gateway.go
package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// Config configures the existence check service
type Config struct {
	Endpoint  string                      `yaml:"endpoint" json:"endpoint"`
	Source    string                      `yaml:"source" json:"source"`
	APIToken  string                      `yaml:"api_token,omitempty" json:"-"`
	BatchSize int                         `yaml:"batch_size" json:"batch_size"`
	Timeout   time.Duration               `yaml:"timeout" json:"timeout"`
	Breaker   errors.CircuitBreakerConfig `yaml:"breaker" json:"breaker"`
}

// DefaultConfig returns batch size 100, a 10s timeout and a breaker opening
// after 5 consecutive failures for 30s
func DefaultConfig() Config {
	return Config{
		Source:    "siteharvester",
		BatchSize: 100,
		Timeout:   10 * time.Second,
		Breaker:   errors.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
	}
}

type checkRequest struct {
	URLs   []string `json:"urls"`
	Source string   `json:"source"`
}

type checkResponse struct {
	ExistingURLs []string `json:"existingUrls"`
}

// Client talks to the existence check service. It is shared by every run so
// the circuit breaker sees all failures.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *errors.CircuitBreaker
}

// NewClient creates a client. An empty endpoint yields a disabled client.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.Breaker.MaxFailures <= 0 {
		cfg.Breaker.MaxFailures = def.Breaker.MaxFailures
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		cfg.Breaker.ResetTimeout = def.Breaker.ResetTimeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: errors.NewCircuitBreaker("dedup", cfg.Breaker),
	}
}

// Enabled reports whether an endpoint is configured
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Endpoint != ""
}

// Breaker exposes the circuit breaker
func (c *Client) Breaker() *errors.CircuitBreaker {
	return c.breaker
}

// Existing returns the subset of urls the service already knows
func (c *Client) Existing(ctx context.Context, urls []string) ([]string, error) {
	body, err := json.Marshal(checkRequest{URLs: urls, Source: c.cfg.Source})
	if err != nil {
		return nil, fmt.Errorf("failed to encode check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("check service returned HTTP %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode check response: %w", err)
	}
	return out.ExistingURLs, nil
}

// Gateway filters candidate URLs for one run. URLs checked once are never
// checked again in the same run.
type Gateway struct {
	client  *Client
	logger  utils.Logger
	metrics *monitoring.Metrics

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewGateway creates a run-scoped gateway. A nil or disabled client makes
// every unseen URL new.
func NewGateway(client *Client, logger utils.Logger, metrics *monitoring.Metrics) *Gateway {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Gateway{
		client:    client,
		logger:    logger,
		metrics:   metrics,
		processed: make(map[string]struct{}),
	}
}

// Filter returns the urls that are neither processed in this run nor known
// to the service, in input order. Service failures never fail the call: the
// affected batch is treated as new.
func (g *Gateway) Filter(ctx context.Context, siteID string, urls []string) []string {
	fresh := g.claim(urls)
	if len(fresh) == 0 {
		return nil
	}
	if !g.client.Enabled() {
		g.metrics.DedupChecked(siteID, "disabled", len(fresh))
		return fresh
	}

	out := make([]string, 0, len(fresh))
	size := g.client.cfg.BatchSize
	for start := 0; start < len(fresh); start += size {
		end := start + size
		if end > len(fresh) {
			end = len(fresh)
		}
		out = append(out, g.filterBatch(ctx, siteID, fresh[start:end])...)
	}
	return out
}

func (g *Gateway) filterBatch(ctx context.Context, siteID string, batch []string) []string {
	breaker := g.client.breaker
	if !breaker.CanExecute() {
		g.metrics.DedupChecked(siteID, "skipped", len(batch))
		g.metrics.DedupBreakerOpen(siteID, true)
		return batch
	}

	existing, err := g.client.Existing(ctx, batch)
	if err != nil {
		breaker.RecordFailure()
		derr := errors.NewDedupServiceError("existence check failed, treating batch as new", err)
		g.logger.WithFields(map[string]interface{}{
			"site":       siteID,
			"batch_size": len(batch),
			"breaker":    breaker.State().String(),
		}).Warnf("%v", derr)
		g.metrics.DedupChecked(siteID, "failed_open", len(batch))
		g.metrics.DedupBreakerOpen(siteID, breaker.State() == errors.CircuitOpen)
		return batch
	}
	breaker.RecordSuccess()
	g.metrics.DedupBreakerOpen(siteID, false)

	known := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		known[normalize(u)] = struct{}{}
	}
	out := make([]string, 0, len(batch))
	for _, u := range batch {
		if _, ok := known[normalize(u)]; ok {
			continue
		}
		out = append(out, u)
	}
	g.metrics.DedupChecked(siteID, "existing", len(batch)-len(out))
	g.metrics.DedupChecked(siteID, "new", len(out))
	return out
}

// claim marks urls processed and returns those not processed before
func (g *Gateway) claim(urls []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := normalize(u)
		if _, ok := g.processed[key]; ok {
			continue
		}
		g.processed[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Processed returns the number of distinct URLs checked in this run
func (g *Gateway) Processed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.processed)
}

func normalize(raw string) string {
	n, err := utils.NormalizeURL(raw)
	if err != nil {
		return raw
	}
	return n
}
