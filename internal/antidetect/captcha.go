// internal/antidetect/captcha.go
package antidetect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valpere/SiteHarvester/internal/utils"
)

// CaptchaTask represents a CAPTCHA solving task
type CaptchaTask struct {
	Type       CaptchaType
	SiteKey    string
	SiteURL    string
	PageAction string
	MinScore   float64
	Invisible  bool
}

// CaptchaSolution represents a solved CAPTCHA
type CaptchaSolution struct {
	ID        string
	Token     string
	SolveTime time.Duration
}

// CaptchaSolver solves login-time challenges. Implementations are pluggable.
type CaptchaSolver interface {
	Solve(ctx context.Context, task CaptchaTask) (*CaptchaSolution, error)
}

// CaptchaConfig configures the 2captcha solver
type CaptchaConfig struct {
	APIKey          string        `yaml:"api_key" json:"-"`
	BaseURL         string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	SolveTimeout    time.Duration `yaml:"solve_timeout" json:"solve_timeout"`
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval"`
}

// TwoCaptchaSolver implements the 2Captcha API
type TwoCaptchaSolver struct {
	apiKey          string
	client          *http.Client
	baseURL         *url.URL
	requestTimeout  time.Duration
	solveTimeout    time.Duration
	pollingInterval time.Duration
	validateURL     bool
}

// NewTwoCaptchaSolver creates a 2Captcha solver
func NewTwoCaptchaSolver(cfg CaptchaConfig) (*TwoCaptchaSolver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("2Captcha: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://2captcha.com"
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = 120 * time.Second
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("2Captcha: invalid base URL: %w", err)
	}
	if err := validateCaptchaURL(base); err != nil {
		return nil, fmt.Errorf("2Captcha: %w", err)
	}

	return &TwoCaptchaSolver{
		apiKey: cfg.APIKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   2,
			},
		},
		baseURL:         base,
		requestTimeout:  15 * time.Second,
		solveTimeout:    cfg.SolveTimeout,
		pollingInterval: cfg.PollingInterval,
		validateURL:     true,
	}, nil
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
	Error   string `json:"error_text,omitempty"`
}

// Solve submits the task and polls until a token is ready or the solve timeout elapses
func (tc *TwoCaptchaSolver) Solve(ctx context.Context, task CaptchaTask) (*CaptchaSolution, error) {
	start := time.Now()
	taskID, err := tc.submit(ctx, task)
	if err != nil {
		return nil, err
	}

	var token string
	err = utils.PollUntil(ctx, tc.pollingInterval, tc.solveTimeout, func(ctx context.Context) (bool, error) {
		resp, err := tc.request(ctx, "res.php", map[string]string{
			"action": "get",
			"id":     taskID,
		})
		if err != nil {
			return false, err
		}
		if resp.Status == 0 && resp.Request == "CAPCHA_NOT_READY" {
			return false, nil
		}
		if resp.Status != 1 {
			return false, fmt.Errorf("2Captcha: solving failed: %s", firstNonEmpty(resp.Error, resp.Request))
		}
		token = resp.Request
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("2Captcha: task %s: %w", taskID, err)
	}

	return &CaptchaSolution{ID: taskID, Token: token, SolveTime: time.Since(start)}, nil
}

func (tc *TwoCaptchaSolver) submit(ctx context.Context, task CaptchaTask) (string, error) {
	params := map[string]string{"pageurl": task.SiteURL}

	switch task.Type {
	case RecaptchaV2:
		params["method"] = "userrecaptcha"
		params["googlekey"] = task.SiteKey
		if task.Invisible {
			params["invisible"] = "1"
		}
	case RecaptchaV3:
		params["method"] = "userrecaptcha"
		params["googlekey"] = task.SiteKey
		params["version"] = "v3"
		params["action"] = task.PageAction
		params["min_score"] = fmt.Sprintf("%.1f", task.MinScore)
	case HCaptcha:
		params["method"] = "hcaptcha"
		params["sitekey"] = task.SiteKey
	default:
		return "", fmt.Errorf("2Captcha: unsupported CAPTCHA type: %s", task.Type)
	}

	resp, err := tc.request(ctx, "in.php", params)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("2Captcha error: %s", firstNonEmpty(resp.Error, resp.Request))
	}
	return resp.Request, nil
}

func (tc *TwoCaptchaSolver) request(ctx context.Context, endpoint string, params map[string]string) (*twoCaptchaResponse, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	fullURL := tc.baseURL.ResolveReference(endpointURL)
	if tc.validateURL {
		if err := validateCaptchaURL(fullURL); err != nil {
			return nil, fmt.Errorf("URL validation failed: %w", err)
		}
	}

	values := url.Values{}
	values.Set("key", tc.apiKey)
	values.Set("json", "1")
	for key, value := range params {
		values.Set(key, value)
	}
	fullURL.RawQuery = values.Encode()

	requestCtx, cancel := context.WithTimeout(ctx, tc.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("2Captcha: failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("2Captcha: request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("2Captcha: API returned HTTP %d for %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("2Captcha: failed to read response: %w", err)
	}
	var out twoCaptchaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

// TokenInjectionScript returns a script that places a solved token into the
// hidden response field the widget of type t submits with the form.
func TokenInjectionScript(t CaptchaType, token string) string {
	quoted, _ := json.Marshal(token)
	field := "g-recaptcha-response"
	if t == HCaptcha {
		field = "h-captcha-response"
	}
	return fmt.Sprintf(`(() => {
  document.querySelectorAll('[name=%q], #%s').forEach((el) => {
    el.style.display = 'block';
    el.value = %s;
  });
  return true;
})();`, field, field, quoted)
}

func validateCaptchaURL(targetURL *url.URL) error {
	allowedDomains := map[string]bool{
		"2captcha.com":     true,
		"api.2captcha.com": true,
	}

	if targetURL.Scheme != "https" {
		return fmt.Errorf("only HTTPS scheme allowed, got: %s", targetURL.Scheme)
	}
	hostname := targetURL.Hostname()
	if !allowedDomains[hostname] {
		return fmt.Errorf("domain not in allowlist: %s", hostname)
	}
	if port := targetURL.Port(); port != "" && port != "443" {
		return fmt.Errorf("non-standard port not allowed: %s", port)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
