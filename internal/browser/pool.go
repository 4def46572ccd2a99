// internal/browser/pool.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool bounds the number of tabs open at once on a Browser
type Pool struct {
	browser        Browser
	slots          chan struct{}
	maxSize        int
	acquireTimeout time.Duration
	inUse          int
	mu             sync.RWMutex
	closed         bool
}

// NewPool creates a tab pool of maxSize slots over browser
func NewPool(browser Browser, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5 // Default pool size
	}
	return &Pool{
		browser:        browser,
		slots:          make(chan struct{}, maxSize),
		maxSize:        maxSize,
		acquireTimeout: 30 * time.Second,
	}
}

// Acquire waits for a free slot and opens a fresh tab in it
func (p *Pool) Acquire(ctx context.Context) (Page, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.RUnlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.acquireTimeout):
		return nil, fmt.Errorf("timeout waiting for available tab")
	}

	page, err := p.browser.NewPage(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return &pooledPage{Page: page, pool: p}, nil
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	<-p.slots
}

// InUse returns the number of open tabs
func (p *Pool) InUse() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inUse
}

// Capacity returns the maximum number of tabs
func (p *Pool) Capacity() int {
	return p.maxSize
}

// Close stops handing out tabs. The browser is shared between runs and
// stays open.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// pooledPage returns its slot on Close
type pooledPage struct {
	Page
	pool *Pool
	once sync.Once
}

func (pp *pooledPage) Close() error {
	var err error
	pp.once.Do(func() {
		err = pp.Page.Close()
		pp.pool.release()
	})
	return err
}
