// internal/session/manager.go
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/valpere/SiteHarvester/internal/antidetect"
	"github.com/valpere/SiteHarvester/internal/browser"
	"github.com/valpere/SiteHarvester/internal/errors"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Config tunes session check and login timing
type Config struct {
	CheckTimeout   time.Duration `yaml:"check_timeout" json:"check_timeout"`
	LoginTimeout   time.Duration `yaml:"login_timeout" json:"login_timeout"`
	SuccessTimeout time.Duration `yaml:"success_timeout" json:"success_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultConfig returns the session manager defaults
func DefaultConfig() Config {
	return Config{
		CheckTimeout:   30 * time.Second,
		LoginTimeout:   5 * time.Minute,
		SuccessTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// loginTitleHints mark a page that is asking for credentials
var loginTitleHints = []string{"log in", "login", "sign in", "signin", "anmelden", "connexion"}

const storageDumpScript = `JSON.stringify(Object.assign({}, window.localStorage))`

// Manager owns authenticated state for every (site, identity) pair
type Manager struct {
	store   Store
	config  Config
	solver  antidetect.CaptchaSolver
	logger  utils.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	checks  singleflight.Group
	writeMu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithSolver enables automated challenge solving at login
func WithSolver(solver antidetect.CaptchaSolver) Option {
	return func(m *Manager) { m.solver = solver }
}

// WithLogger sets the logger
func WithLogger(logger utils.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records session checks and logins
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a session manager over store
func NewManager(store Store, config Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = def.CheckTimeout
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = def.LoginTimeout
	}
	if config.SuccessTimeout <= 0 {
		config.SuccessTimeout = def.SuccessTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}

	m := &Manager{
		store:  store,
		config: config,
		logger: utils.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HasValidSession restores the saved state into the browser and checks it.
// Any failed check deletes the state. Concurrent checks of the same
// (site, identity) collapse into one; cookies are browser-wide so every
// waiting caller's tab sees the restored state.
func (m *Manager) HasValidSession(ctx context.Context, page browser.Page, def *site.Definition, identity string) bool {
	key := def.ID + "\x00" + identity
	v, _, _ := m.checks.Do(key, func() (interface{}, error) {
		valid := m.verify(ctx, page, def, identity)
		m.metrics.SessionCheck(def.ID, valid)
		return valid, nil
	})
	return v.(bool)
}

func (m *Manager) verify(ctx context.Context, page browser.Page, def *site.Definition, identity string) bool {
	log := m.logger.WithFields(map[string]interface{}{"site": def.ID, "owner": identity})

	state, err := m.store.Load(ctx, def.ID, identity)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			log.Warnf("Failed to load session state: %v", err)
		}
		return false
	}
	if state.Expired(m.now()) {
		log.Info("Session state expired")
		m.Invalidate(ctx, def.ID, identity)
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	if reason := m.check(checkCtx, page, def, state); reason != "" {
		log.Infof("Session check failed: %s", reason)
		m.Invalidate(ctx, def.ID, identity)
		return false
	}
	log.Debug("Session check succeeded")
	return true
}

// check returns an empty string when the restored session looks authenticated
func (m *Manager) check(ctx context.Context, page browser.Page, def *site.Definition, state *types.SessionState) string {
	if err := page.SetCookies(ctx, state.Cookies); err != nil {
		return fmt.Sprintf("restore cookies: %v", err)
	}
	if err := page.Navigate(ctx, def.Session.CheckURL); err != nil {
		return fmt.Sprintf("navigate check url: %v", err)
	}
	if state.StorageBlob != "" {
		if err := page.Evaluate(ctx, restoreStorageScript(state.StorageBlob), nil); err != nil {
			return fmt.Sprintf("restore storage: %v", err)
		}
		if err := page.Reload(ctx); err != nil {
			return fmt.Sprintf("reload after storage restore: %v", err)
		}
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return fmt.Sprintf("read url: %v", err)
	}
	if marker := RedirectedToLogin(finalURL, def); marker != "" {
		return fmt.Sprintf("redirected to login (%s)", marker)
	}

	if def.Session.LoginForm != "" {
		n, err := page.Count(ctx, def.Session.LoginForm)
		if err != nil {
			return fmt.Sprintf("count login form: %v", err)
		}
		if n > 0 {
			return "login form present"
		}
	}
	if def.Session.LoggedIn != "" {
		n, err := page.Count(ctx, def.Session.LoggedIn)
		if err != nil {
			return fmt.Sprintf("count logged-in marker: %v", err)
		}
		if n == 0 {
			return "logged-in marker missing"
		}
		return ""
	}

	title, err := page.Title(ctx)
	if err != nil {
		return fmt.Sprintf("read title: %v", err)
	}
	lower := strings.ToLower(title)
	for _, hint := range loginTitleHints {
		if strings.Contains(lower, hint) {
			return fmt.Sprintf("title %q asks for login", title)
		}
	}
	return ""
}

// RedirectedToLogin returns the login marker or login URL that finalURL
// matches, or an empty string
func RedirectedToLogin(finalURL string, def *site.Definition) string {
	lower := strings.ToLower(finalURL)
	for _, marker := range def.Session.LoginMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return marker
		}
	}
	if def.Login.URL != "" && strings.HasPrefix(lower, strings.ToLower(def.Login.URL)) {
		return def.Login.URL
	}
	return ""
}

// LoginWall reports why a page loaded mid-run shows the login wall instead
// of content, or returns an empty string. Only the redirect markers and the
// login form selector count; title hints are too loose for content pages.
func LoginWall(ctx context.Context, page browser.Page, def *site.Definition, finalURL string) string {
	if marker := RedirectedToLogin(finalURL, def); marker != "" {
		return fmt.Sprintf("redirected to login (%s)", marker)
	}
	if def.Session.LoginForm == "" {
		return ""
	}
	if n, err := page.Count(ctx, def.Session.LoginForm); err == nil && n > 0 {
		return "login form present"
	}
	return ""
}

// Login drives the site login flow and persists the resulting state before
// returning. Every failure is an AuthError.
func (m *Manager) Login(ctx context.Context, page browser.Page, def *site.Definition, creds *types.Credentials) (*types.SessionState, error) {
	state, err := m.login(ctx, page, def, creds)
	m.metrics.LoginAttempt(def.ID, err == nil)
	return state, err
}

func (m *Manager) login(ctx context.Context, page browser.Page, def *site.Definition, creds *types.Credentials) (*types.SessionState, error) {
	if creds == nil || creds.Username == "" {
		return nil, errors.NewAuthError("credentials are required for login", nil)
	}
	if !def.HasLogin() {
		return nil, errors.NewAuthError(fmt.Sprintf("site %s has no login flow configured", def.ID), nil)
	}
	log := m.logger.WithFields(map[string]interface{}{"site": def.ID, "owner": creds.Identity()})

	ctx, cancel := context.WithTimeout(ctx, m.config.LoginTimeout)
	defer cancel()

	login := def.Login
	if err := page.Navigate(ctx, login.URL); err != nil {
		return nil, errors.NewAuthError("failed to open login page", err)
	}
	if err := page.WaitVisible(ctx, login.Username, m.config.SuccessTimeout); err != nil {
		return nil, errors.NewAuthError("login form did not appear", err)
	}
	if err := page.Type(ctx, login.Username, creds.Username); err != nil {
		return nil, errors.NewAuthError("failed to enter username", err)
	}
	if err := page.Type(ctx, login.Password, creds.Password); err != nil {
		return nil, errors.NewAuthError("failed to enter password", err)
	}

	if err := m.resolveChallenge(ctx, page, def, log); err != nil {
		return nil, err
	}

	if err := page.Click(ctx, login.Submit); err != nil {
		return nil, errors.NewAuthError("failed to submit login form", err)
	}

	err := utils.PollUntil(ctx, m.config.PollInterval, m.config.SuccessTimeout, func(ctx context.Context) (bool, error) {
		if login.Success != "" {
			n, err := page.Count(ctx, login.Success)
			return n > 0, err
		}
		u, err := page.URL(ctx)
		return err == nil && RedirectedToLogin(u, def) == "", err
	})
	if err != nil {
		return nil, errors.NewAuthError("login was not confirmed", err)
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, errors.NewAuthError("failed to read session cookies", err)
	}
	var blob string
	if err := page.Evaluate(ctx, storageDumpScript, &blob); err != nil {
		log.Warnf("Failed to capture local storage: %v", err)
	}

	state := &types.SessionState{
		Site:        def.ID,
		Owner:       creds.Identity(),
		Cookies:     cookies,
		StorageBlob: blob,
		SavedAt:     m.now(),
		MaxAge:      def.Session.MaxAge,
	}
	if err := m.save(ctx, state); err != nil {
		return nil, errors.NewAuthError("login succeeded but session could not be persisted", err)
	}
	log.Infof("Login succeeded, session saved with %d cookies", len(cookies))
	return state, nil
}

// resolveChallenge clears a captcha on the login form, if one is present
func (m *Manager) resolveChallenge(ctx context.Context, page browser.Page, def *site.Definition, log utils.Logger) error {
	html, err := page.HTML(ctx)
	if err != nil {
		return errors.NewAuthError("failed to read login page", err)
	}
	kind, found := antidetect.DetectCaptcha(html)
	if !found {
		return nil
	}

	mode := def.Login.ChallengeMode
	if mode == "" {
		mode = site.ChallengeManual
		if m.solver != nil {
			mode = site.ChallengeSolver
		}
	}

	switch mode {
	case site.ChallengeSolver:
		if m.solver == nil {
			return errors.NewAuthError("challenge solver requested but none configured", nil)
		}
		pageURL, _ := page.URL(ctx)
		solution, err := m.solver.Solve(ctx, antidetect.CaptchaTask{
			Type:    kind,
			SiteKey: antidetect.SiteKey(html),
			SiteURL: pageURL,
		})
		if err != nil {
			return errors.NewAuthError("challenge solver failed", err)
		}
		if err := page.Evaluate(ctx, antidetect.TokenInjectionScript(kind, solution.Token), nil); err != nil {
			return errors.NewAuthError("failed to inject challenge token", err)
		}
		log.Infof("Solved %s login challenge in %s", kind, solution.SolveTime)
		return nil

	default:
		log.Warnf("Login challenge %s detected, waiting up to %s for the operator", kind, def.Login.ChallengeTimeout)
		err := utils.PollUntil(ctx, m.config.PollInterval, def.Login.ChallengeTimeout, func(ctx context.Context) (bool, error) {
			html, err := page.HTML(ctx)
			if err != nil {
				return false, err
			}
			_, still := antidetect.DetectCaptcha(html)
			return !still, nil
		})
		if err != nil {
			return errors.NewAuthError("login challenge was not resolved in time", err)
		}
		return nil
	}
}

// save serializes all session writes
func (m *Manager) save(ctx context.Context, state *types.SessionState) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.store.Save(ctx, state)
}

// Invalidate deletes the saved state of (site, identity)
func (m *Manager) Invalidate(ctx context.Context, siteID, identity string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.store.Delete(ctx, siteID, identity); err != nil {
		m.logger.Warnf("Failed to delete session state for %s: %v", siteID, err)
	}
}

func restoreStorageScript(blob string) string {
	quoted, _ := json.Marshal(blob)
	return fmt.Sprintf(`(() => {
  const data = JSON.parse(%s);
  for (const [k, v] of Object.entries(data)) { window.localStorage.setItem(k, v); }
  return true;
})();`, quoted)
}
