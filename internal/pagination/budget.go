// internal/pagination/budget.go
package pagination

import (
	"fmt"
	"sync"

	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// BudgetConfig tunes the request ceiling and idle detection
type BudgetConfig struct {
	Buffer          int `yaml:"buffer" json:"buffer"`
	Ceiling         int `yaml:"ceiling" json:"ceiling"`
	MaxIdleAttempts int `yaml:"max_idle_attempts" json:"max_idle_attempts"`
}

// DefaultBudgetConfig returns buffer 20, ceiling 5000 and a 3-attempt idle stop
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{Buffer: 20, Ceiling: 5000, MaxIdleAttempts: 3}
}

// StopReason explains why pagination of a seed stopped
type StopReason string

const (
	Continue      StopReason = ""
	TargetReached StopReason = "target_reached"
	QuotaReached  StopReason = "quota_reached"
	ClicksSpent   StopReason = "click_budget_spent"
	NoControl     StopReason = "no_next_control"
	Idle          StopReason = "idle"
)

type seedState struct {
	enqueued  int
	processed int
	clicks    int
	idle      int
}

// SeedProgress is a read-only view of one seed
type SeedProgress = types.SeedProgress

// Budget bounds one execution: the number of DETAIL requests enqueued never
// exceeds the target, per seed and in total. It is execution scoped and safe
// for concurrent use.
type Budget struct {
	mu sync.Mutex

	target        int
	quota         int
	maxRequests   int
	maxLoadClicks int
	maxIdle       int

	enqueued int
	handled  int
	seeds    map[string]*seedState
}

// NewBudget derives the budget of a run from its options and seed count
func NewBudget(opts types.Options, seedCount int, cfg BudgetConfig) *Budget {
	def := DefaultBudgetConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.MaxIdleAttempts <= 0 {
		cfg.MaxIdleAttempts = def.MaxIdleAttempts
	}

	target := opts.MaxProducts
	if target <= 0 {
		target = types.DefaultMaxProducts
	}
	clicks := opts.MaxLoadClicks
	if clicks <= 0 {
		clicks = types.DefaultMaxLoadClicks
	}
	if seedCount < 1 {
		seedCount = 1
	}

	maxRequests := opts.MaxRequests
	if maxRequests < target+cfg.Buffer {
		maxRequests = target + cfg.Buffer
	}
	if maxRequests > cfg.Ceiling {
		maxRequests = cfg.Ceiling
	}

	return &Budget{
		target:        target,
		quota:         (target + seedCount - 1) / seedCount,
		maxRequests:   maxRequests,
		maxLoadClicks: clicks,
		maxIdle:       cfg.MaxIdleAttempts,
		seeds:         make(map[string]*seedState),
	}
}

// Target returns the target item count
func (b *Budget) Target() int { return b.target }

// Quota returns the per-seed share of the target
func (b *Budget) Quota() int { return b.quota }

// EffectiveMaxRequests returns the per-run request ceiling
func (b *Budget) EffectiveMaxRequests() int { return b.maxRequests }

func (b *Budget) seed(key string) *seedState {
	s, ok := b.seeds[key]
	if !ok {
		s = &seedState{}
		b.seeds[key] = s
	}
	return s
}

// Reserve grants up to n DETAIL enqueues for seed and returns the grant
func (b *Budget) Reserve(seed string, n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.seed(seed)
	grant := n
	if left := b.quota - s.enqueued; grant > left {
		grant = left
	}
	if left := b.target - b.enqueued; grant > left {
		grant = left
	}
	if grant < 0 {
		grant = 0
	}
	s.enqueued += grant
	b.enqueued += grant
	return grant
}

// MarkProcessed records a finished DETAIL request of seed
func (b *Budget) MarkProcessed(seed string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seed(seed).processed++
}

// Exhausted reports whether the target has been fully reserved
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueued >= b.target
}

// Enqueued returns the total DETAIL enqueues granted
func (b *Budget) Enqueued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueued
}

// ShouldContinue decides whether seed may fetch another page or click
// load-more. pendingAccepted counts candidates accepted but not yet reserved.
func (b *Budget) ShouldContinue(seed string, pendingAccepted int, hasNextControl bool) (bool, StopReason) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.seed(seed)
	switch {
	case b.enqueued >= b.target:
		return false, TargetReached
	case s.enqueued+pendingAccepted >= b.quota:
		return false, QuotaReached
	case s.clicks >= b.maxLoadClicks:
		return false, ClicksSpent
	case s.idle >= b.maxIdle:
		return false, Idle
	case !hasNextControl:
		return false, NoControl
	}
	return true, Continue
}

// RecordAttempt counts one pagination attempt of seed. Attempts yielding no
// new items extend the idle streak; any yield resets it.
func (b *Budget) RecordAttempt(seed string, newItems int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.seed(seed)
	s.clicks++
	if newItems > 0 {
		s.idle = 0
	} else {
		s.idle++
	}
}

// AllowRequest counts another handled request. Once the request ceiling is
// spent it returns ErrBudgetExhausted instead.
func (b *Budget) AllowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handled >= b.maxRequests {
		return fmt.Errorf("%w: %d of %d requests handled", errors.ErrBudgetExhausted, b.handled, b.maxRequests)
	}
	b.handled++
	return nil
}

// Handled returns the number of requests admitted so far
func (b *Budget) Handled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handled
}

// Seed returns the progress of one seed
func (b *Budget) Seed(seed string) SeedProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.seed(seed)
	return SeedProgress{
		Seed:      seed,
		Quota:     b.quota,
		Enqueued:  s.enqueued,
		Processed: s.processed,
		Clicks:    s.clicks,
		Idle:      s.idle,
	}
}
