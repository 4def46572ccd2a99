// internal/engine/engine.go
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/internal/antidetect"
	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/dedup"
	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/pagination"
	"github.com/valpere/SiteHarvester/internal/progress"
	"github.com/valpere/SiteHarvester/internal/session"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/storage"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

var (
	// ErrNotRunning is returned for executions this engine is not running
	ErrNotRunning = stderrors.New("execution is not running")
	// ErrAlreadyRunning is returned when an execution id is reused while live
	ErrAlreadyRunning = stderrors.New("execution is already running")
	// ErrExecutionExists is returned when an execution id belongs to a
	// finished run whose stream or storage is still around
	ErrExecutionExists = stderrors.New("execution already exists")
)

// Config tunes the dispatcher
type Config struct {
	StorageRoot        string                  `yaml:"storage_root" json:"storage_root"`
	HandlerTimeout     time.Duration           `yaml:"handler_timeout" json:"handler_timeout"`
	ActionTimeout      time.Duration           `yaml:"action_timeout" json:"action_timeout"`
	PollInterval       time.Duration           `yaml:"poll_interval" json:"poll_interval"`
	RateLimit          float64                 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst          int                     `yaml:"rate_burst" json:"rate_burst"`
	MaxImagesPerRecord int                     `yaml:"max_images_per_record" json:"max_images_per_record"`
	Retry              errors.RetryConfig      `yaml:"retry" json:"retry"`
	Budget             pagination.BudgetConfig `yaml:"budget" json:"budget"`
}

// DefaultConfig returns the dispatcher defaults
func DefaultConfig() Config {
	return Config{
		StorageRoot:        "./storage",
		HandlerTimeout:     3 * time.Minute,
		ActionTimeout:      15 * time.Second,
		PollInterval:       250 * time.Millisecond,
		RateLimit:          1,
		RateBurst:          2,
		MaxImagesPerRecord: 10,
		Retry:              errors.DefaultRetryConfig(),
		Budget:             pagination.DefaultBudgetConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.StorageRoot == "" {
		c.StorageRoot = def.StorageRoot
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = def.HandlerTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.MaxImagesPerRecord <= 0 {
		c.MaxImagesPerRecord = def.MaxImagesPerRecord
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.BackoffMin <= 0 && c.Retry.BackoffMax <= 0 {
		c.Retry.BackoffMin = def.Retry.BackoffMin
		c.Retry.BackoffMax = def.Retry.BackoffMax
	}
}

// Engine runs jobs against registered sites. One Engine serves many
// concurrent runs; everything mutable per run lives in the run itself.
type Engine struct {
	cfg       Config
	registry  *site.Registry
	browser   browser.Browser
	sessions  *session.Manager
	dedup     *dedup.Client
	hub       *progress.Hub
	sink      RecordSink
	simulator *antidetect.Simulator
	http      *http.Client
	userAgent string
	limiters  *utils.HostLimiters
	metrics   *monitoring.Metrics
	logger    utils.Logger

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithSessions enables authenticated runs
func WithSessions(m *session.Manager) Option {
	return func(e *Engine) { e.sessions = m }
}

// WithDedup sets the existence check client
func WithDedup(c *dedup.Client) Option {
	return func(e *Engine) { e.dedup = c }
}

// WithHub publishes progress on hub
func WithHub(h *progress.Hub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithSink forwards emitted records to sink
func WithSink(s RecordSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithSimulator sets the behavior simulator
func WithSimulator(s *antidetect.Simulator) Option {
	return func(e *Engine) { e.simulator = s }
}

// WithHTTPClient sets the client used for image downloads
func WithHTTPClient(c *http.Client, userAgent string) Option {
	return func(e *Engine) {
		e.http = c
		e.userAgent = userAgent
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l utils.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over a registry and a shared browser
func New(cfg Config, registry *site.Registry, b browser.Browser, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		browser:  b,
		hub:      progress.NewHub(),
		http:     &http.Client{Timeout: 60 * time.Second},
		limiters: utils.NewHostLimiters(cfg.RateLimit, cfg.RateBurst),
		logger:   utils.NewNopLogger(),
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.simulator == nil {
		sim := antidetect.DefaultConfig()
		sim.Enabled = false
		e.simulator = antidetect.NewSimulator(sim, antidetect.Profile{}, e.logger)
	}
	return e
}

// Hub returns the progress hub
func (e *Engine) Hub() *progress.Hub { return e.hub }

// Config returns the effective configuration
func (e *Engine) Config() Config { return e.cfg }

// Start validates job and runs it in the background. It returns the
// execution id as soon as the run is accepted.
func (e *Engine) Start(ctx context.Context, job types.JobRequest) (string, error) {
	r, err := e.prepare(job)
	if err != nil {
		return "", err
	}
	if err := r.validateSeeds(); err != nil {
		e.forget(r)
		return "", err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.execute(context.WithoutCancel(ctx))
	}()
	return r.exec.ExecutionID(), nil
}

// Run executes job synchronously and returns its summary. A fatal run
// returns the summary together with the fatal error.
func (e *Engine) Run(ctx context.Context, job types.JobRequest) (*types.RunSummary, error) {
	r, err := e.prepare(job)
	if err != nil {
		return nil, err
	}
	summary := r.execute(ctx)
	if summary.Reason == types.StopFatal {
		return summary, r.fatalErr
	}
	return summary, nil
}

// Cancel stops a run: the queue is discarded, in-flight requests finish and
// records emitted so far are kept
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	}
	r.cancel()
	return nil
}

// Progress returns the latest snapshot of a run and, once finished, its
// summary
func (e *Engine) Progress(executionID string) (*types.ProgressSnapshot, *types.RunSummary, bool) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if ok {
		snap := r.reporter.Snapshot()
		return &snap, nil, true
	}
	return e.hub.Latest(executionID)
}

// Active returns the ids of running executions
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every run and waits for them to finish or ctx to end
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, id := range e.Active() {
		e.Cancel(id)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) prepare(job types.JobRequest) (*run, error) {
	exec, err := types.NewExecutionContext(job)
	if err != nil {
		return nil, err
	}
	adapter, err := e.registry.Get(exec.SiteID())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := exec.ExecutionID()
	if _, dup := e.runs[id]; dup {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	if _, summary, ok := e.hub.Latest(id); ok && summary != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionExists, id)
	}
	if dir, err := storage.Locate(e.cfg.StorageRoot, id); err == nil {
		return nil, fmt.Errorf("%w: %s has storage at %s", ErrExecutionExists, id, dir)
	}
	r := newRun(e, exec, adapter)
	e.runs[exec.ExecutionID()] = r
	e.hub.Open(exec.ExecutionID())
	return r, nil
}

func (e *Engine) forget(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[r.exec.ExecutionID()] == r {
		delete(e.runs, r.exec.ExecutionID())
	}
}
