// internal/config/validation.go - Validation with detailed error messages
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/SiteHarvester/internal/output"
	"github.com/valpere/SiteHarvester/internal/proxy"
)

// ValidationError is one invalid setting
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func (r *ValidationResult) fail(field, value, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and returns every problem in one error
func (c *Config) Validate() error {
	result := c.ValidateWithDetails()
	if !result.Valid {
		return formatValidationError(result)
	}
	return nil
}

// ValidateWithDetails returns errors and warnings without failing fast
func (c *Config) ValidateWithDetails() *ValidationResult {
	result := &ValidationResult{
		Errors:   make([]ValidationError, 0),
		Warnings: make([]string, 0),
	}

	c.validateServer(result)
	c.validateEngine(result)
	c.validateAntiDetect(result)
	c.validateSession(result)
	c.validateDedup(result)
	c.validateProxy(result)
	c.validateOutput(result)
	c.validateLogging(result)

	if c.SitesFile == "" {
		result.fail("sites_file", "", "Sites file is required")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (c *Config) validateServer(result *ValidationResult) {
	if c.Server.Address == "" {
		result.fail("server.address", "", "Listen address is required")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Server.HeartbeatInterval {
		result.warn("server.write_timeout %s is shorter than the SSE heartbeat; event streams will be cut", c.Server.WriteTimeout)
	}
}

func (c *Config) validateEngine(result *ValidationResult) {
	e := c.Engine
	if e.RateLimit < 0 {
		result.fail("engine.rate_limit", fmt.Sprintf("%g", e.RateLimit), "Rate limit cannot be negative")
	}
	if e.Retry.MaxRetries < 0 {
		result.fail("engine.retry.max_retries", fmt.Sprintf("%d", e.Retry.MaxRetries), "Max retries cannot be negative")
	}
	if e.Retry.BackoffMax < e.Retry.BackoffMin {
		result.fail("engine.retry.backoff_max", e.Retry.BackoffMax.String(), "Backoff max must not be below backoff min")
	}
	if e.Budget.Ceiling < e.Budget.Buffer {
		result.fail("engine.budget.ceiling", fmt.Sprintf("%d", e.Budget.Ceiling), "Request ceiling must not be below the buffer")
	}
	if e.HandlerTimeout < e.ActionTimeout {
		result.warn("engine.handler_timeout %s is shorter than engine.action_timeout %s", e.HandlerTimeout, e.ActionTimeout)
	}
}

func (c *Config) validateAntiDetect(result *ValidationResult) {
	a := c.AntiDetect
	if a.MaxDelay < a.MinDelay {
		result.fail("antidetect.max_delay", a.MaxDelay.String(), "Max delay must not be below min delay")
	}
	if a.Captcha.BaseURL != "" {
		if err := validateHTTPURL(a.Captcha.BaseURL); err != nil {
			result.fail("antidetect.captcha.base_url", a.Captcha.BaseURL, err.Error())
		}
	}
}

func (c *Config) validateSession(result *ValidationResult) {
	switch c.Session.Store {
	case SessionStoreFile:
		if c.Session.Dir == "" {
			result.fail("session.dir", "", "Session directory is required for the file store")
		}
	case SessionStoreRedis:
		if c.Session.Redis.Address == "" {
			result.fail("session.redis.address", "", "Redis address is required for the redis store")
		}
	default:
		result.fail("session.store", c.Session.Store, "Session store must be 'file' or 'redis'")
	}
}

func (c *Config) validateDedup(result *ValidationResult) {
	if c.Dedup.Endpoint == "" {
		result.warn("dedup.endpoint is empty; every discovered product is treated as new")
		return
	}
	if err := validateHTTPURL(c.Dedup.Endpoint); err != nil {
		result.fail("dedup.endpoint", c.Dedup.Endpoint, err.Error())
	}
}

func (c *Config) validateProxy(result *ValidationResult) {
	if _, err := proxy.NewManager(c.Proxy); err != nil {
		result.fail("proxy", string(c.Proxy.Rotation), err.Error())
	}
}

func (c *Config) validateOutput(result *ValidationResult) {
	if _, err := output.ParseFormat(string(c.Output.Format)); err != nil {
		result.fail("output.format", string(c.Output.Format), err.Error())
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result.fail("logging.level", c.Logging.Level, "Log level must be one of debug, info, warn, error")
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func formatValidationError(result *ValidationResult) error {
	var msg strings.Builder
	msg.WriteString("configuration validation failed:\n")
	for i, err := range result.Errors {
		msg.WriteString(fmt.Sprintf("  %d. %s", i+1, err.Message))
		if err.Field != "" {
			msg.WriteString(fmt.Sprintf(" (field: %s)", err.Field))
		}
		if err.Value != "" {
			msg.WriteString(fmt.Sprintf(" (value: %s)", err.Value))
		}
		msg.WriteString("\n")
	}
	return fmt.Errorf("%s", msg.String())
}
