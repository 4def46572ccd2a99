// internal/storage/run.go
package storage

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// File layout of a run directory
const (
	QueueDBFile    = "queue.db"
	DatasetFile    = "dataset.jsonl"
	SummaryFile    = "summary.json"
	ScreenshotsDir = "screenshots"
	ImagesDir      = "images"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	label       TEXT NOT NULL,
	state       TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	not_before  DATETIME,
	last_error  TEXT,
	user_data   TEXT,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
`

// Run is the private storage of one execution: a sqlite request journal, a
// JSONL dataset and binary artifacts. Runs never share a directory.
type Run struct {
	dir string
	db  *sql.DB

	mu      sync.Mutex
	dataset *os.File
	writer  *bufio.Writer
	records int
	closed  bool
}

// Dir returns the run directory for a site and execution under root
func Dir(root, siteID, executionID string) string {
	return filepath.Join(root, utils.CleanFileName(siteID), utils.CleanFileName(executionID))
}

// Open creates <root>/<siteID>/<executionID>/ with its journal and dataset
func Open(root, siteID, executionID string) (*Run, error) {
	if siteID == "" || executionID == "" {
		return nil, fmt.Errorf("site id and execution id are required")
	}
	dir := Dir(root, siteID, executionID)
	for _, sub := range []string{ScreenshotsDir, ImagesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, QueueDBFile)+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open request journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create request journal: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, DatasetFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	return &Run{
		dir:     dir,
		db:      db,
		dataset: f,
		writer:  bufio.NewWriter(f),
	}, nil
}

// Dir returns the run directory
func (r *Run) Dir() string { return r.dir }

// DatasetPath returns the path of the JSONL dataset
func (r *Run) DatasetPath() string { return filepath.Join(r.dir, DatasetFile) }

// Journal upserts the current state of req
func (r *Run) Journal(req *types.LabeledRequest) error {
	userData, err := json.Marshal(req.UserData)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}
	var notBefore interface{}
	if !req.NotBefore.IsZero() {
		notBefore = req.NotBefore.UTC()
	}

	_, err = r.db.Exec(`
		INSERT INTO requests (id, url, label, state, retry_count, not_before, last_error, user_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			retry_count = excluded.retry_count,
			not_before = excluded.not_before,
			last_error = excluded.last_error,
			user_data = excluded.user_data,
			updated_at = excluded.updated_at`,
		req.ID, req.URL, string(req.Label), string(req.State), req.UserData.RetryCount,
		notBefore, req.LastError, string(userData), req.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to journal request %s: %w", req.ID, err)
	}
	return nil
}

// PendingRequests returns journaled requests that have not reached a
// terminal state, oldest first
func (r *Run) PendingRequests() ([]*types.LabeledRequest, error) {
	return r.query(`SELECT id, url, label, state, retry_count, not_before, last_error, user_data, created_at
		FROM requests WHERE state IN (?, ?) ORDER BY created_at, rowid`,
		string(types.StatePending), string(types.StateRunning))
}

// Requests returns every journaled request, oldest first
func (r *Run) Requests() ([]*types.LabeledRequest, error) {
	return r.query(`SELECT id, url, label, state, retry_count, not_before, last_error, user_data, created_at
		FROM requests ORDER BY created_at, rowid`)
}

func (r *Run) query(q string, args ...interface{}) ([]*types.LabeledRequest, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request journal: %w", err)
	}
	defer rows.Close()

	var out []*types.LabeledRequest
	for rows.Next() {
		var (
			req       types.LabeledRequest
			label     string
			state     string
			notBefore sql.NullTime
			lastError sql.NullString
			userData  sql.NullString
		)
		if err := rows.Scan(&req.ID, &req.URL, &label, &state, &req.UserData.RetryCount,
			&notBefore, &lastError, &userData, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		req.Label = types.Label(label)
		req.State = types.RequestState(state)
		req.LastError = lastError.String
		if notBefore.Valid {
			req.NotBefore = notBefore.Time
		}
		if userData.Valid && userData.String != "" {
			if err := json.Unmarshal([]byte(userData.String), &req.UserData); err != nil {
				return nil, fmt.Errorf("failed to decode user data of %s: %w", req.ID, err)
			}
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

// CountByState returns the number of journaled requests per state
func (r *Run) CountByState() (map[types.RequestState]int, error) {
	return countByState(r.db)
}

// ReadRequestCounts opens the journal of a run directory read-only and
// counts its requests per state. It works while the run is still writing.
func ReadRequestCounts(dir string) (map[types.RequestState]int, error) {
	path := filepath.Join(dir, QueueDBFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open request journal: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open request journal: %w", err)
	}
	defer db.Close()
	return countByState(db)
}

func countByState(db *sql.DB) (map[types.RequestState]int, error) {
	rows, err := db.Query(`SELECT state, COUNT(*) FROM requests GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	out := make(map[types.RequestState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[types.RequestState(state)] = n
	}
	return out, rows.Err()
}

// AppendRecord writes rec as one JSON line of the dataset
func (r *Run) AppendRecord(rec *types.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("run storage closed")
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush dataset: %w", err)
	}
	r.records++
	return nil
}

// RecordCount returns the number of records appended through this handle
func (r *Run) RecordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Records reads the dataset back
func (r *Run) Records() ([]*types.Record, error) {
	r.mu.Lock()
	if !r.closed {
		r.writer.Flush()
	}
	r.mu.Unlock()
	return ReadDataset(r.DatasetPath())
}

// SaveScreenshot stores a PNG under screenshots/ and returns its path
func (r *Run) SaveScreenshot(name string, png []byte) (string, error) {
	name = utils.CleanFileName(name)
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	return r.writeArtifact(ScreenshotsDir, name, png)
}

// SaveImage stores a downloaded product image under images/ and returns its path
func (r *Run) SaveImage(name string, data []byte) (string, error) {
	return r.writeArtifact(ImagesDir, utils.CleanFileName(name), data)
}

func (r *Run) writeArtifact(sub, name string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	path := filepath.Join(r.dir, sub, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// SaveSummary writes the terminal run summary next to the dataset
func (r *Run) SaveSummary(summary types.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return os.WriteFile(filepath.Join(r.dir, SummaryFile), data, 0644)
}

// Close flushes the dataset and closes the journal. It is safe to call twice.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.writer.Flush(); err != nil {
		firstErr = err
	}
	if err := r.dataset.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReadDataset parses a JSONL dataset file
func ReadDataset(path string) ([]*types.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var out []*types.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode dataset line %d: %w", len(out)+1, err)
		}
		out = append(out, &rec)
	}
	return out, scanner.Err()
}

// Locate finds the directory of executionID under root
func Locate(root, executionID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", utils.CleanFileName(executionID)))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			return m, nil
		}
	}
	return "", fmt.Errorf("execution %s not found", executionID)
}

// ReadSummary loads the summary saved in a run directory
func ReadSummary(dir string) (*types.RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var summary types.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}
