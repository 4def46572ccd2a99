// internal/engine/queue.go
package engine

import (
	"time"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// queue is the FIFO request queue of one run. Requests whose NotBefore lies
// in the future are skipped until due. Only the dispatcher goroutine touches
// it.
type queue struct {
	items []*types.LabeledRequest
}

func (q *queue) push(reqs ...*types.LabeledRequest) {
	q.items = append(q.items, reqs...)
}

// next removes and returns the oldest due request. When none is due it
// returns the time until the earliest one becomes due.
func (q *queue) next(now time.Time) (*types.LabeledRequest, time.Duration) {
	var wait time.Duration = -1
	for i, req := range q.items {
		if !req.NotBefore.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return req, 0
		}
		if d := req.NotBefore.Sub(now); wait < 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

func (q *queue) len() int {
	return len(q.items)
}

// drain empties the queue and returns what it held
func (q *queue) drain() []*types.LabeledRequest {
	out := q.items
	q.items = nil
	return out
}
