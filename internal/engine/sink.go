// internal/engine/sink.go
package engine

import (
	"context"
	"time"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// RecordSink receives every record a run emits. Persistence beyond the run
// dataset lives behind this interface.
type RecordSink interface {
	Write(ctx context.Context, executionID string, rec *types.Record) error
}

// RecordSinkFunc adapts a function to RecordSink
type RecordSinkFunc func(ctx context.Context, executionID string, rec *types.Record) error

// Write calls f
func (f RecordSinkFunc) Write(ctx context.Context, executionID string, rec *types.Record) error {
	return f(ctx, executionID, rec)
}

// HandlerResult is what a handler hands back to the dispatcher. Handlers
// never touch run counters or the queue directly.
type HandlerResult struct {
	Children []*types.LabeledRequest
	Records  []*types.Record
	Warnings []string
}

// outcome travels from a worker to the dispatcher
type outcome struct {
	worker   int
	req      *types.LabeledRequest
	result   HandlerResult
	err      error
	duration time.Duration
	gen      int
}
