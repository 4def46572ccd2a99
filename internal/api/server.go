// internal/api/server.go
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/progress"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Jobs is the run lifecycle the API exposes
type Jobs interface {
	Start(ctx context.Context, job types.JobRequest) (string, error)
	Cancel(executionID string) error
	Progress(executionID string) (*types.ProgressSnapshot, *types.RunSummary, bool)
	Active() []string
	Hub() *progress.Hub
}

// SiteLister reports the configured site ids
type SiteLister interface {
	IDs() []string
}

// Config tunes the HTTP API
type Config struct {
	StorageRoot       string
	HeartbeatInterval time.Duration
	APIKeys           []string
	RateLimit         float64
	RateBurst         int
	MetricsPath       string
	MaxBodyBytes      int64
}

// Server routes the job API
type Server struct {
	cfg     Config
	jobs    Jobs
	sites   SiteLister
	health  *monitoring.HealthManager
	metrics *monitoring.Metrics
	logger  utils.Logger
	limiter *rate.Limiter
	router  *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithSites exposes the site list
func WithSites(s SiteLister) Option {
	return func(srv *Server) { srv.sites = s }
}

// WithHealth serves /health from hm
func WithHealth(hm *monitoring.HealthManager) Option {
	return func(srv *Server) { srv.health = hm }
}

// WithMetrics serves the Prometheus registry of m
func WithMetrics(m *monitoring.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithLogger sets the access and error logger
func WithLogger(l utils.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// NewServer builds the router
func NewServer(cfg Config, jobs Jobs, opts ...Option) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{cfg: cfg, jobs: jobs, logger: utils.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)

	if s.health != nil {
		r.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": monitoring.HealthStatusHealthy, "timestamp": time.Now()})
		}).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)
	api.HandleFunc("/jobs", s.createJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.cancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/events", s.streamEvents).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/dataset", s.exportDataset).Methods(http.MethodGet)
	api.HandleFunc("/sites", s.listSites).Methods(http.MethodGet)

	s.router = r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-API-Key")
		if auth := r.Header.Get("Authorization"); token == "" && auth != "" {
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !s.validKey(token) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(token string) bool {
	for _, key := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code; Unwrap keeps flushing and
// deadlines reachable through http.ResponseController
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.WithFields(fields).Error("Request failed")
		} else {
			s.logger.WithFields(fields).Debug("Request served")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
