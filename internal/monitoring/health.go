// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is a named check of one dependency
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// CheckResult is the outcome of one HealthCheck
type CheckResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemHealth is the aggregated health report
type SystemHealth struct {
	Status     HealthStatus  `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Version    string        `json:"version,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	Goroutines int           `json:"goroutines"`
	Checks     []CheckResult `json:"checks"`
}

// HealthManager runs registered checks on demand
type HealthManager struct {
	mu             sync.RWMutex
	checks         map[string]HealthCheck
	version        string
	defaultTimeout time.Duration
	started        time.Time
}

// NewHealthManager creates a manager reporting version
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:         make(map[string]HealthCheck),
		version:        version,
		defaultTimeout: 5 * time.Second,
		started:        time.Now(),
	}
}

// RegisterCheck adds or replaces a check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = hm.defaultTimeout
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name] = check
}

// GetHealth runs every check concurrently. A failing critical check makes the
// service unhealthy, any other failure degrades it.
func (hm *HealthManager) GetHealth(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		if r.Status == HealthStatusHealthy {
			continue
		}
		if r.Critical {
			status = HealthStatusUnhealthy
		} else if status == HealthStatusHealthy {
			status = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.started),
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
}

func runCheck(ctx context.Context, c HealthCheck) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	res := CheckResult{Name: c.Name, Critical: c.Critical, Status: HealthStatusHealthy}
	if err := c.Check(checkCtx); err != nil {
		res.Status = HealthStatusUnhealthy
		res.Error = err.Error()
	}
	res.Duration = time.Since(start)
	return res
}

// HealthHandler serves the health report; 503 when unhealthy
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// DirectoryWritableCheck verifies the run storage root accepts writes
func DirectoryWritableCheck(name, dir string) HealthCheck {
	return HealthCheck{
		Name:     name,
		Critical: true,
		Check: func(ctx context.Context) error {
			f, err := os.CreateTemp(dir, ".health-*")
			if err != nil {
				return fmt.Errorf("directory %s is not writable: %w", dir, err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// PingCheck wraps a dependency ping such as Redis
func PingCheck(name string, critical bool, ping func(ctx context.Context) error) HealthCheck {
	return HealthCheck{Name: name, Critical: critical, Check: ping}
}

// GoroutineCheck degrades health past a goroutine ceiling
func GoroutineCheck(maxGoroutines int) HealthCheck {
	return HealthCheck{
		Name: "goroutines",
		Check: func(ctx context.Context) error {
			if n := runtime.NumGoroutine(); n > maxGoroutines {
				return fmt.Errorf("%d goroutines exceed limit %d", n, maxGoroutines)
			}
			return nil
		},
	}
}
