// internal/api/events.go
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/SiteHarvester/pkg/types"
)

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent writes one SSE frame named after the event type
func writeEvent(w io.Writer, ev types.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func writeHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}

// streamEvents serves GET /jobs/{id}/events. The stream opens with connected
// and ends after completed.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hub := s.jobs.Hub()
	rc := http.NewResponseController(w)
	logger := s.logger.WithField("execution_id", id)

	if !hub.Known(id) {
		summary, err := s.storedSummary(id)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("execution %s not found", id))
			return
		}
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		now := time.Now()
		writeEvent(w, types.ProgressEvent{Type: types.EventConnected, ExecutionID: id, Timestamp: now})
		writeEvent(w, types.ProgressEvent{Type: types.EventCompleted, ExecutionID: id, Summary: summary, Timestamp: summary.FinishedAt})
		rc.Flush()
		return
	}

	events, cancel := hub.Subscribe(id)
	defer cancel()

	// Streams outlive the server write timeout
	rc.SetWriteDeadline(time.Time{})
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warnf("Streaming unsupported: %v", err)
		return
	}
	logger.WithField("subscribers", hub.Subscribers(id)).Debug("Event stream client connected")

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				logger.Debug("Event stream finished")
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logger.Debugf("Event write failed, client likely gone: %v", err)
				return
			}
			rc.Flush()
		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return
			}
			rc.Flush()
		case <-r.Context().Done():
			logger.Debug("Event stream client disconnected")
			return
		}
	}
}
