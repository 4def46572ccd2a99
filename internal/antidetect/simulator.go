// internal/antidetect/simulator.go
package antidetect

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/utils"
)

// Config controls the behavior simulator
type Config struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MinDelay     time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	ScrollSteps  int           `yaml:"scroll_steps" json:"scroll_steps"`
	MouseMoves   int           `yaml:"mouse_moves" json:"mouse_moves"`
	RecoveryWait time.Duration `yaml:"recovery_wait" json:"recovery_wait"`
	Languages    []string      `yaml:"languages" json:"languages"`
}

// DefaultConfig returns default simulator settings
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MinDelay:     1 * time.Second,
		MaxDelay:     3 * time.Second,
		ScrollSteps:  3,
		MouseMoves:   2,
		RecoveryWait: 15 * time.Second,
		Languages:    []string{"en-US", "en"},
	}
}

// MouseEvent represents a mouse movement/click event
type MouseEvent struct {
	X         int
	Y         int
	Delay     time.Duration
	EventType string // move, click
}

// Simulator produces human-like pacing and page interaction
type Simulator struct {
	config   Config
	viewport Viewport
	logger   utils.Logger
	rng      *rand.Rand
	mu       sync.Mutex
}

// NewSimulator creates a simulator for a browser context presenting profile
func NewSimulator(config Config, profile Profile, logger utils.Logger) *Simulator {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}
	vp := profile.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = Viewport{1920, 1080}
	}
	return &Simulator{
		config:   config,
		viewport: vp,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Delay returns a random pre-navigation delay within [MinDelay, MaxDelay]
func (s *Simulator) Delay() time.Duration {
	diff := s.config.MaxDelay - s.config.MinDelay
	if diff <= 0 {
		return s.config.MinDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.MinDelay + time.Duration(s.rng.Int63n(int64(diff)))
}

// Prepare waits a randomized delay before a navigation
func (s *Simulator) Prepare(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	return utils.Sleep(ctx, s.Delay())
}

// Interact scrolls the loaded page and moves the pointer along a jittered path
func (s *Simulator) Interact(ctx context.Context, page browser.Page) error {
	if !s.config.Enabled {
		return nil
	}

	for i := 0; i < s.config.ScrollSteps; i++ {
		delta := 200 + s.intn(500)
		if i > 0 && s.float() < 0.15 {
			delta = -delta / 2
		}
		if err := page.Scroll(ctx, delta); err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		if err := utils.Sleep(ctx, time.Duration(80+s.intn(220))*time.Millisecond); err != nil {
			return err
		}
	}

	x, y := s.intn(s.viewport.Width), s.intn(s.viewport.Height)
	for i := 0; i < s.config.MouseMoves; i++ {
		endX, endY := s.intn(s.viewport.Width), s.intn(s.viewport.Height)
		for _, ev := range s.GenerateMousePath(x, y, endX, endY) {
			if ev.EventType != "move" {
				continue
			}
			if err := page.MouseMove(ctx, float64(ev.X), float64(ev.Y)); err != nil {
				return fmt.Errorf("mouse move failed: %w", err)
			}
			if err := utils.Sleep(ctx, ev.Delay); err != nil {
				return err
			}
		}
		x, y = endX, endY
	}
	return nil
}

// GenerateMousePath generates realistic mouse movements ending in a click
func (s *Simulator) GenerateMousePath(startX, startY, endX, endY int) []MouseEvent {
	distance := calculateDistance(startX, startY, endX, endY)
	steps := int(distance/40) + s.intn(5) + 3

	events := make([]MouseEvent, 0, steps+1)
	for i := 1; i <= steps; i++ {
		progress := easeInOut(float64(i) / float64(steps))
		noise := s.float()*6 - 3
		x := clamp(int(float64(startX)+float64(endX-startX)*progress+noise), 0, s.viewport.Width-1)
		y := clamp(int(float64(startY)+float64(endY-startY)*progress+noise), 0, s.viewport.Height-1)
		events = append(events, MouseEvent{
			X:         x,
			Y:         y,
			Delay:     time.Duration(s.intn(12)+4) * time.Millisecond,
			EventType: "move",
		})
	}

	events = append(events, MouseEvent{X: endX, Y: endY, EventType: "click"})
	return events
}

// Check inspects the current page for a block
func (s *Simulator) Check(ctx context.Context, page browser.Page) (BlockKind, bool, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return NotBlocked, false, err
	}
	title, err := page.Title(ctx)
	if err != nil {
		return NotBlocked, false, err
	}
	kind, blocked := Detect(html, title)
	return kind, blocked, nil
}

// Guard checks the loaded page for a block. A blocked page gets one recovery
// attempt (extended wait, then reload); if it is still blocked a retryable
// BlockedError is returned.
func (s *Simulator) Guard(ctx context.Context, page browser.Page) error {
	kind, blocked, err := s.Check(ctx, page)
	if err != nil || !blocked {
		return err
	}

	url, _ := page.URL(ctx)
	s.logger.WithFields(map[string]interface{}{"url": url, "kind": string(kind)}).
		Warn("block detected, attempting recovery")

	if err := utils.Sleep(ctx, s.config.RecoveryWait); err != nil {
		return err
	}
	if err := page.Reload(ctx); err != nil {
		return errors.NewBlockedError(fmt.Sprintf("%s on %s (reload failed: %v)", kind, url, err))
	}

	kind, blocked, err = s.Check(ctx, page)
	if err != nil {
		return err
	}
	if blocked {
		return errors.NewBlockedError(fmt.Sprintf("%s on %s", kind, url)).WithContext("kind", string(kind))
	}
	s.logger.WithField("url", url).Info("block cleared after recovery")
	return nil
}

func calculateDistance(x1, y1, x2, y2 int) float64 {
	dx := float64(x2 - x1)
	dy := float64(y2 - y1)
	return math.Sqrt(dx*dx + dy*dy)
}

func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
