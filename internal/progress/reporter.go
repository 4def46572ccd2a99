// internal/progress/reporter.go
package progress

import (
	"sync"
	"time"

	"github.com/valpere/SiteHarvester/pkg/types"
)

const (
	etaWindow   = 20
	recentLimit = 10
)

// Worker states
const (
	WorkerIdle = "idle"
	WorkerBusy = "busy"
)

// Reporter derives the progress snapshot of one execution and publishes it
// on every transition. It is safe for concurrent use by workers.
type Reporter struct {
	executionID string
	pub         Publisher
	now         func() time.Time

	mu        sync.Mutex
	completed int
	failed    int
	running   int
	pending   int
	workers   []types.WorkerStatus
	recent    []string
	durations []time.Duration
	finished  bool
}

// NewReporter creates a reporter for workers workers. pub may be nil.
func NewReporter(executionID string, workers int, pub Publisher) *Reporter {
	if workers < 1 {
		workers = 1
	}
	ws := make([]types.WorkerStatus, workers)
	for i := range ws {
		ws[i] = types.WorkerStatus{ID: i, State: WorkerIdle}
	}
	return &Reporter{
		executionID: executionID,
		pub:         pub,
		now:         time.Now,
		workers:     ws,
	}
}

// SetPending records the dispatcher queue length
func (r *Reporter) SetPending(n int) {
	r.mu.Lock()
	r.pending = n
	r.mu.Unlock()
	r.publish()
}

// RequestStarted marks worker busy with req
func (r *Reporter) RequestStarted(worker int, req *types.LabeledRequest) {
	r.mu.Lock()
	r.running++
	if w := r.worker(worker); w != nil {
		*w = types.WorkerStatus{ID: worker, State: WorkerBusy, Label: req.Label, URL: req.URL, StartedAt: r.now()}
	}
	r.mu.Unlock()
	r.publish()
}

// RequestCompleted records a successful request that took d
func (r *Reporter) RequestCompleted(worker int, req *types.LabeledRequest, d time.Duration) {
	r.mu.Lock()
	r.completed++
	r.finish(worker, req, d)
	r.mu.Unlock()
	r.publish()
}

// RequestFailed records a request that will not be retried
func (r *Reporter) RequestFailed(worker int, req *types.LabeledRequest, d time.Duration) {
	r.mu.Lock()
	r.failed++
	r.finish(worker, req, d)
	r.mu.Unlock()
	r.publish()
}

// RequestRetried records a request put back on the queue
func (r *Reporter) RequestRetried(worker int, req *types.LabeledRequest) {
	r.mu.Lock()
	if r.running > 0 {
		r.running--
	}
	if w := r.worker(worker); w != nil {
		*w = types.WorkerStatus{ID: worker, State: WorkerIdle}
	}
	r.mu.Unlock()
	r.publish()
}

// finish updates counters shared by completion and failure. Callers hold mu.
func (r *Reporter) finish(worker int, req *types.LabeledRequest, d time.Duration) {
	if r.running > 0 {
		r.running--
	}
	if w := r.worker(worker); w != nil {
		*w = types.WorkerStatus{ID: worker, State: WorkerIdle}
	}
	r.durations = append(r.durations, d)
	if len(r.durations) > etaWindow {
		r.durations = r.durations[len(r.durations)-etaWindow:]
	}
	r.recent = append(r.recent, req.String())
	if len(r.recent) > recentLimit {
		r.recent = r.recent[len(r.recent)-recentLimit:]
	}
}

func (r *Reporter) worker(id int) *types.WorkerStatus {
	if id < 0 || id >= len(r.workers) {
		return nil
	}
	return &r.workers[id]
}

// Snapshot returns the current derived state
func (r *Reporter) Snapshot() types.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Reporter) snapshot() types.ProgressSnapshot {
	done := r.completed + r.failed
	total := done + r.running + r.pending

	var pct float64
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}

	var eta time.Duration
	if n := len(r.durations); n > 0 {
		var sum time.Duration
		for _, d := range r.durations {
			sum += d
		}
		eta = sum / time.Duration(n) * time.Duration(r.running+r.pending)
	}

	workers := make([]types.WorkerStatus, len(r.workers))
	copy(workers, r.workers)
	recent := make([]string, len(r.recent))
	copy(recent, r.recent)

	return types.ProgressSnapshot{
		Completed:              r.completed,
		Failed:                 r.failed,
		Running:                r.running,
		Pending:                r.pending,
		Percentage:             pct,
		EstimatedTimeRemaining: eta,
		Workers:                workers,
		RecentCompletedTasks:   recent,
	}
}

func (r *Reporter) publish() {
	r.mu.Lock()
	if r.finished || r.pub == nil {
		r.mu.Unlock()
		return
	}
	snap := r.snapshot()
	r.mu.Unlock()

	r.pub.Publish(types.ProgressEvent{
		Type:        types.EventProgress,
		ExecutionID: r.executionID,
		Progress:    &snap,
		Timestamp:   r.now(),
	})
}

// Complete publishes the terminal event. Later transitions are not published.
func (r *Reporter) Complete(summary types.RunSummary) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	snap := r.snapshot()
	r.mu.Unlock()

	if r.pub == nil {
		return
	}
	r.pub.Publish(types.ProgressEvent{
		Type:        types.EventCompleted,
		ExecutionID: r.executionID,
		Progress:    &snap,
		Summary:     &summary,
		Timestamp:   r.now(),
	})
}
