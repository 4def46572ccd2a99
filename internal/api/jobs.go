// internal/api/jobs.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/valpere/SiteHarvester/internal/engine"
	"github.com/valpere/SiteHarvester/internal/output"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/storage"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Job states reported by GET /jobs/{id}
const (
	StateRunning  = "running"
	StateFinished = "finished"
)

// JobStatus is the body of GET /jobs/{id}
type JobStatus struct {
	ExecutionID string                  `json:"executionId"`
	State       string                  `json:"state"`
	Progress    *types.ProgressSnapshot `json:"progress,omitempty"`
	Summary     *types.RunSummary       `json:"summary,omitempty"`
	// Requests counts the journaled requests of the run per state
	Requests map[types.RequestState]int `json:"requests,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var job types.JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job request: %v", err))
		return
	}

	id, err := s.jobs.Start(r.Context(), job)
	if err != nil {
		writeError(w, startStatus(err), err.Error())
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"execution_id": id,
		"site":         job.SiteID,
		"start_urls":   len(job.StartURLs),
	}).Info("Job accepted")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"executionId": id,
		"status":      "accepted",
		"events":      fmt.Sprintf("/api/v1/jobs/%s/events", id),
	})
}

// startStatus maps a rejected job to a status. Everything Start rejects
// besides an unknown site or a taken id is a problem with the request itself.
func startStatus(err error) int {
	switch {
	case stderrors.Is(err, site.ErrUnknownSite):
		return http.StatusNotFound
	case stderrors.Is(err, engine.ErrAlreadyRunning), stderrors.Is(err, engine.ErrExecutionExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": s.jobs.Active()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if snap, summary, ok := s.jobs.Progress(id); ok {
		status := JobStatus{ExecutionID: id, State: StateRunning, Progress: snap, Summary: summary}
		if summary != nil {
			status.State = StateFinished
		}
		status.Requests = s.requestCounts(id)
		writeJSON(w, http.StatusOK, status)
		return
	}

	summary, err := s.storedSummary(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("execution %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, JobStatus{
		ExecutionID: id,
		State:       StateFinished,
		Summary:     summary,
		Requests:    s.requestCounts(id),
	})
}

// requestCounts reads the per-state request counts from the run journal.
// A run without storage yet reports none.
func (s *Server) requestCounts(id string) map[types.RequestState]int {
	if s.cfg.StorageRoot == "" {
		return nil
	}
	dir, err := storage.Locate(s.cfg.StorageRoot, id)
	if err != nil {
		return nil
	}
	counts, err := storage.ReadRequestCounts(dir)
	if err != nil {
		s.logger.WithField("execution_id", id).Debugf("Request journal unavailable: %v", err)
		return nil
	}
	return counts
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.jobs.Cancel(id); err != nil {
		if _, summary, ok := s.jobs.Progress(id); ok && summary != nil {
			writeError(w, http.StatusConflict, fmt.Sprintf("execution %s already finished", id))
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.WithField("execution_id", id).Info("Job cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": id, "status": "cancelling"})
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if s.sites != nil {
		ids = s.sites.IDs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sites": ids})
}

func (s *Server) exportDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format, err := output.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dir, err := storage.Locate(s.cfg.StorageRoot, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	records, err := storage.ReadDataset(filepath.Join(dir, storage.DatasetFile))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writer, err := output.NewWriter(format, w, output.DefaultExcelConfig(), s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+format.Extension()))
	w.WriteHeader(http.StatusOK)

	if err := writer.Write(records); err != nil {
		s.logger.WithField("execution_id", id).Errorf("Dataset export failed: %v", err)
		return
	}
	if err := writer.Close(); err != nil {
		s.logger.WithField("execution_id", id).Errorf("Dataset export failed: %v", err)
	}
}

func (s *Server) storedSummary(id string) (*types.RunSummary, error) {
	if s.cfg.StorageRoot == "" {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	dir, err := storage.Locate(s.cfg.StorageRoot, id)
	if err != nil {
		return nil, err
	}
	return storage.ReadSummary(dir)
}
