// pkg/types/progress.go
package types

import "time"

// Event types emitted on the per-execution progress stream
const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventCompleted = "completed"
)

// StopReason explains why a run terminated
type StopReason string

const (
	StopCompleted       StopReason = "completed"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopCancelled       StopReason = "cancelled"
	StopFatal           StopReason = "fatal"
)

// WorkerStatus describes what a single worker is doing
type WorkerStatus struct {
	ID        int       `json:"id"`
	State     string    `json:"state"`
	Label     Label     `json:"label,omitempty"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// ProgressSnapshot is derived run state, recomputed on every transition
type ProgressSnapshot struct {
	Completed              int            `json:"completed"`
	Failed                 int            `json:"failed"`
	Running                int            `json:"running"`
	Pending                int            `json:"pending"`
	Percentage             float64        `json:"percentage"`
	EstimatedTimeRemaining time.Duration  `json:"estimatedTimeRemaining"`
	Workers                []WorkerStatus `json:"workers"`
	RecentCompletedTasks   []string       `json:"recentCompletedTasks"`
}

// RunSummary is the terminal report of a run
type RunSummary struct {
	ExecutionID      string     `json:"executionId"`
	SiteID           string     `json:"siteId"`
	Reason           StopReason `json:"reason"`
	Error            string     `json:"error,omitempty"`
	Completed        int        `json:"completed"`
	Failed           int        `json:"failed"`
	Retried          int        `json:"retried"`
	RecordsExtracted int        `json:"recordsExtracted"`

	// Discarded counts requests still queued when the run stopped
	Discarded          int            `json:"discarded"`
	RequestsHandled    int            `json:"requestsHandled"`
	DetailsReserved    int            `json:"detailsReserved"`
	ProductsDiscovered int            `json:"productsDiscovered"`
	Seeds              []SeedProgress `json:"seeds,omitempty"`

	ByLabel    map[Label]Counts `json:"byLabel"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Duration   time.Duration    `json:"duration"`
}

// SeedProgress is the pagination budget state of one seed
type SeedProgress struct {
	Seed      string `json:"seed"`
	Quota     int    `json:"quota"`
	Enqueued  int    `json:"enqueued"`
	Processed int    `json:"processed"`
	Clicks    int    `json:"clicks"`
	Idle      int    `json:"idle"`
}

// Counts are per-outcome totals for one label
type Counts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ProgressEvent is one message on the progress stream
type ProgressEvent struct {
	Type        string            `json:"type"`
	ExecutionID string            `json:"executionId"`
	Progress    *ProgressSnapshot `json:"progress,omitempty"`
	Summary     *RunSummary       `json:"summary,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
