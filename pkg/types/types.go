// pkg/types/types.go
package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Label identifies the processing stage of a crawl request
type Label string

const (
	LabelLogin         Label = "LOGIN"
	LabelSearch        Label = "SEARCH"
	LabelList          Label = "LIST"
	LabelDetail        Label = "DETAIL"
	LabelImageDownload Label = "IMAGE_DOWNLOAD"
)

// ValidLabels returns all valid request labels
func ValidLabels() []Label {
	return []Label{LabelLogin, LabelSearch, LabelList, LabelDetail, LabelImageDownload}
}

// IsValid checks if the label is a valid value
func (l Label) IsValid() bool {
	for _, valid := range ValidLabels() {
		if l == valid {
			return true
		}
	}
	return false
}

// RequestState represents the lifecycle state of a labeled request
type RequestState string

const (
	StatePending RequestState = "PENDING"
	StateRunning RequestState = "RUNNING"
	StateDone    RequestState = "DONE"
	StateFailed  RequestState = "FAILED"
)

// IsTerminal reports whether no further transition can happen
func (s RequestState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Default option values applied by NewExecutionContext
const (
	DefaultMaxProducts    = 50
	DefaultMaxConcurrency = 5
	DefaultMaxLoadClicks  = 10
)

// Credentials identify the account used to authenticate against a site
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Identity returns the owner identity used to key session state
func (c *Credentials) Identity() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.Username))
}

// Options bound a single run
type Options struct {
	MaxProducts    int    `json:"maxProducts" yaml:"max_products"`
	MaxRequests    int    `json:"maxRequests" yaml:"max_requests"`
	MaxConcurrency int    `json:"maxConcurrency" yaml:"max_concurrency"`
	MaxLoadClicks  int    `json:"maxLoadClicks" yaml:"max_load_clicks"`
	Headless       bool   `json:"headless" yaml:"headless"`
	IncludeDetails bool   `json:"includeDetails" yaml:"include_details"`
	DownloadImages bool   `json:"downloadImages" yaml:"download_images"`
	SearchQuery    string `json:"searchQuery,omitempty" yaml:"search_query,omitempty"`
}

// JobRequest is the inbound job trigger payload
type JobRequest struct {
	ExecutionID string       `json:"executionId,omitempty"`
	SiteID      string       `json:"siteId"`
	StartURLs   []string     `json:"startUrls"`
	Options     Options      `json:"options"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// ExecutionContext is the isolated identity of one run. It is built once by
// NewExecutionContext and never mutated afterwards.
type ExecutionContext struct {
	executionID string
	siteID      string
	credentials *Credentials
	options     Options
	startURLs   []string
	createdAt   time.Time
}

// NewExecutionContext validates a job request, applies option defaults and
// returns the immutable context for the run.
func NewExecutionContext(job JobRequest) (*ExecutionContext, error) {
	siteID := strings.TrimSpace(job.SiteID)
	if siteID == "" {
		return nil, fmt.Errorf("site id is required")
	}

	id := strings.TrimSpace(job.ExecutionID)
	if id == "" {
		id = uuid.NewString()
	}

	opts := job.Options
	if opts.MaxProducts <= 0 {
		opts.MaxProducts = DefaultMaxProducts
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxLoadClicks <= 0 {
		opts.MaxLoadClicks = DefaultMaxLoadClicks
	}
	if opts.MaxRequests < 0 {
		opts.MaxRequests = 0
	}

	urls := make([]string, 0, len(job.StartURLs))
	for _, raw := range job.StartURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid start url %q", raw)
		}
		urls = append(urls, u.String())
	}

	var creds *Credentials
	if job.Credentials != nil && job.Credentials.Username != "" {
		c := *job.Credentials
		creds = &c
	}

	return &ExecutionContext{
		executionID: id,
		siteID:      siteID,
		credentials: creds,
		options:     opts,
		startURLs:   urls,
		createdAt:   time.Now(),
	}, nil
}

// ExecutionID returns the opaque run identifier
func (e *ExecutionContext) ExecutionID() string { return e.executionID }

// SiteID returns the target site identifier
func (e *ExecutionContext) SiteID() string { return e.siteID }

// Options returns a copy of the run options
func (e *ExecutionContext) Options() Options { return e.options }

// CreatedAt returns the creation time of the run
func (e *ExecutionContext) CreatedAt() time.Time { return e.createdAt }

// Credentials returns a copy of the credentials, or nil when the run is anonymous
func (e *ExecutionContext) Credentials() *Credentials {
	if e.credentials == nil {
		return nil
	}
	c := *e.credentials
	return &c
}

// StartURLs returns a copy of the seed URLs
func (e *ExecutionContext) StartURLs() []string {
	out := make([]string, len(e.startURLs))
	copy(out, e.startURLs)
	return out
}

// BatchAttributes are attributes inferred once per seed rather than per item
type BatchAttributes struct {
	Gender   string `json:"gender,omitempty"`
	Category string `json:"category,omitempty"`
}

// UserData is the free-form payload carried by a labeled request
type UserData struct {
	ExecutionID string          `json:"executionId"`
	SeedKey     string          `json:"seedKey,omitempty"`
	SeedURL     string          `json:"seedUrl,omitempty"`
	Candidate   *Record         `json:"candidate,omitempty"`
	Batch       BatchAttributes `json:"batch,omitempty"`
	RetryCount  int             `json:"retryCount"`
	Page        int             `json:"page,omitempty"`
	Query       string          `json:"query,omitempty"`
	RecordKey   string          `json:"recordKey,omitempty"`
	ImageIndex  int             `json:"imageIndex,omitempty"`
	Relogin     bool            `json:"relogin,omitempty"`
}

// LabeledRequest is a unit of crawl work tagged with its processing stage
type LabeledRequest struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	Label     Label        `json:"label"`
	UserData  UserData     `json:"userData"`
	State     RequestState `json:"state"`
	NotBefore time.Time    `json:"notBefore,omitempty"`
	LastError string       `json:"lastError,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewRequest creates a pending request for the given execution
func NewRequest(executionID string, label Label, rawURL string) *LabeledRequest {
	return &LabeledRequest{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Label:     label,
		UserData:  UserData{ExecutionID: executionID},
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}

// String returns a short description used in logs
func (r *LabeledRequest) String() string {
	return fmt.Sprintf("%s %s", r.Label, r.URL)
}

// Cookie is a browser cookie in a driver-neutral form
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// SessionState is the persisted authenticated state of one (site, identity)
type SessionState struct {
	Site        string        `json:"site"`
	Owner       string        `json:"owner"`
	Cookies     []Cookie      `json:"cookies"`
	StorageBlob string        `json:"storageBlob,omitempty"`
	SavedAt     time.Time     `json:"savedAt"`
	MaxAge      time.Duration `json:"maxAge"`
}

// Expired reports whether the state is older than its MaxAge
func (s *SessionState) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.MaxAge <= 0 {
		return false
	}
	return now.Sub(s.SavedAt) > s.MaxAge
}
