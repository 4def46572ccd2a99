// internal/progress/hub.go
package progress

import (
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// Publisher receives progress events
type Publisher interface {
	Publish(ev types.ProgressEvent)
}

const (
	DefaultSubscriberBuffer = 64
	DefaultRetention        = 30 * time.Minute
)

type stream struct {
	subs      map[int]chan types.ProgressEvent
	nextID    int
	latest    *types.ProgressSnapshot
	summary   *types.RunSummary
	doneAt    time.Time
	completed bool
}

// Hub fans progress events out to subscribers keyed by execution id. Every
// subscription starts with a connected event and ends with the completed
// event, after which its channel is closed.
type Hub struct {
	mu        sync.Mutex
	streams   map[string]*stream
	buffer    int
	retention time.Duration
	now       func() time.Time
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSubscriberBuffer sets the per-subscriber channel size
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithRetention sets how long finished streams stay available
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.retention = d
		}
	}
}

// NewHub creates an empty hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		streams:   make(map[string]*stream),
		buffer:    DefaultSubscriberBuffer,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) stream(id string) *stream {
	s, ok := h.streams[id]
	if !ok {
		s = &stream{subs: make(map[int]chan types.ProgressEvent)}
		h.streams[id] = s
	}
	return s
}

// Open registers an execution so Known reports it before any event
func (h *Hub) Open(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purge()
	h.stream(executionID)
}

// Known reports whether the hub tracks executionID
func (h *Hub) Known(executionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[executionID]
	return ok
}

// Publish delivers ev to every subscriber of its execution. Progress events
// are dropped for subscribers whose buffer is full; the completed event is
// always delivered and closes every subscription.
func (h *Hub) Publish(ev types.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stream(ev.ExecutionID)
	if s.completed {
		return
	}

	switch ev.Type {
	case types.EventProgress:
		s.latest = ev.Progress
		for _, ch := range s.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	case types.EventCompleted:
		s.summary = ev.Summary
		s.completed = true
		s.doneAt = h.now()
		for id, ch := range s.subs {
			deliverFinal(ch, ev)
			close(ch)
			delete(s.subs, id)
		}
	}
}

// deliverFinal makes room for ev by discarding the oldest queued event
func deliverFinal(ch chan types.ProgressEvent, ev types.ProgressEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns the event channel of executionID and a cancel func. The
// first event is connected, followed by the latest snapshot when one exists.
// Subscribers arriving after completion get connected, completed and a
// closed channel.
func (h *Hub) Subscribe(executionID string) (<-chan types.ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stream(executionID)
	ch := make(chan types.ProgressEvent, h.buffer+3)
	ch <- types.ProgressEvent{Type: types.EventConnected, ExecutionID: executionID, Timestamp: h.now()}

	if s.completed {
		ch <- types.ProgressEvent{
			Type:        types.EventCompleted,
			ExecutionID: executionID,
			Progress:    s.latest,
			Summary:     s.summary,
			Timestamp:   s.doneAt,
		}
		close(ch)
		return ch, func() {}
	}

	if s.latest != nil {
		ch <- types.ProgressEvent{Type: types.EventProgress, ExecutionID: executionID, Progress: s.latest, Timestamp: h.now()}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Latest returns the last snapshot and, once finished, the summary
func (h *Hub) Latest(executionID string) (*types.ProgressSnapshot, *types.RunSummary, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[executionID]
	if !ok {
		return nil, nil, false
	}
	return s.latest, s.summary, true
}

// Subscribers returns the number of live subscriptions of executionID
func (h *Hub) Subscribers(executionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[executionID]; ok {
		return len(s.subs)
	}
	return 0
}

// purge drops finished streams older than the retention. Callers hold mu.
func (h *Hub) purge() {
	cutoff := h.now().Add(-h.retention)
	for id, s := range h.streams {
		if s.completed && s.doneAt.Before(cutoff) {
			delete(h.streams, id)
		}
	}
}
