// Package browser manages a bounded pool of automated browser sessions
// with login-state preservation and anti-detection countermeasures.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

const (
	loginPollInterval = 500 * time.Millisecond
	navigateTimeout   = 30 * time.Second
)

// Session is one automated browser identity. It is owned by the Pool and
// loaned to at most one caller at a time. Mutable flags are guarded by
// the pool lock, except alive, which is atomic: the fire-and-forget
// state save after release reads it without holding the lock.
type Session struct {
	id           string
	ctx          context.Context
	cancel       context.CancelFunc
	createdAt    time.Time
	lastUsed     time.Time
	requestCount int
	inUse        bool
	alive        atomic.Bool
	loggedIn     bool

	site      *config.SiteConfig
	stateFile string
	timeout   time.Duration
	logger    logger.Logger
}

// newSession launches a fresh browser context under the given allocator,
// installs the stealth script, and restores any persisted cookie snapshot.
func newSession(allocCtx context.Context, cfg *config.BrowserConfig, site *config.SiteConfig, log logger.Logger) (*Session, error) {
	id := uuid.NewString()
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
		site:      site,
		stateFile: filepath.Join(cfg.StateDir, "session_"+id+".json"),
		timeout:   cfg.Timeout(),
		logger:    log.With(logger.String("session_id", id)),
	}
	s.alive.Store(true)

	startCtx, cancelStart := context.WithTimeout(ctx, s.timeout)
	defer cancelStart()

	if err := chromedp.Run(startCtx,
		network.Enable(),
		installStealth(),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser session: %w", err)
	}

	if err := s.restoreState(startCtx); err != nil {
		// A missing or stale snapshot just means a fresh login later.
		s.logger.Debug("No session state restored", logger.Error(err))
	}

	s.logger.Info("Browser session created")
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Context returns the session's browser context. Tabs opened for fetch
// work should derive from it via NewTab.
func (s *Session) Context() context.Context { return s.ctx }

// NewTab opens a page context scoped to this session's browser.
func (s *Session) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(s.ctx)
}

// IsExpired reports whether the session has served its request budget or
// outlived the maximum age.
func (s *Session) IsExpired(maxRequests int, maxAge time.Duration) bool {
	if s.requestCount >= maxRequests {
		return true
	}
	return time.Since(s.createdAt) > maxAge
}

// UpdateUsage increments the request count and refreshes the last-used
// timestamp. Called once per completed unit of work, under the pool lock.
func (s *Session) UpdateUsage() {
	s.requestCount++
	s.lastUsed = time.Now()
}

// RequestCount returns the number of requests the session has served.
func (s *Session) RequestCount() int { return s.requestCount }

// Alive reports whether the session's browser resources are still usable.
func (s *Session) Alive() bool { return s.alive.Load() }

// LoggedIn reports the last known login determination.
func (s *Session) LoggedIn() bool { return s.loggedIn }

// Close marks the session dead and releases browser resources. The alive
// flag flips before teardown starts so concurrent readers never see a
// closing session as available. Teardown failures are logged, not returned.
func (s *Session) Close() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	s.loggedIn = false
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Browser session closed",
		logger.Int("requests_served", s.requestCount),
		logger.Duration("age", time.Since(s.createdAt)))
}

// EnsureLogin verifies the session is authenticated, performing the
// credential login flow if it is not. Returns false on any ambiguous
// outcome; the caller decides whether to retry or recreate the session.
// Browser actions run against the session's own context; the passed ctx
// only gates cancellation.
func (s *Session) EnsureLogin(ctx context.Context) bool {
	if s.site.Email == "" || s.site.Password == "" {
		// No credentials configured, anonymous browsing only.
		return false
	}
	if ctx.Err() != nil || !s.alive.Load() {
		return false
	}

	if s.loggedIn {
		ok, err := s.verifyLogin()
		if err != nil {
			s.logger.Warn("Login verification failed", logger.Error(err))
			s.loggedIn = false
		} else if ok {
			return true
		} else {
			s.logger.Info("Session no longer authenticated, logging in again")
			s.loggedIn = false
		}
	}

	if err := s.performLogin(); err != nil {
		s.logger.Warn("Login flow failed", logger.Error(err))
		return false
	}

	s.loggedIn = true
	if err := s.SaveState(); err != nil {
		s.logger.Warn("Failed to persist session state after login", logger.Error(err))
	}
	return true
}

// verifyLogin probes a known authenticated page and checks whether the
// browser was bounced to the login URL.
func (s *Session) verifyLogin() (bool, error) {
	probeCtx, cancel := context.WithTimeout(s.ctx, navigateTimeout)
	defer cancel()

	var location string
	err := chromedp.Run(probeCtx,
		chromedp.Navigate(s.site.AccountURL),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&location),
	)
	if err != nil {
		return false, fmt.Errorf("navigate to account page: %w", err)
	}

	if strings.Contains(strings.ToLower(location), "login") ||
		strings.Contains(strings.ToLower(location), "signin") {
		return false, nil
	}
	return true, nil
}

// performLogin drives the credential flow: navigate to the login page,
// fill the form, submit, then poll the location for a recognized success
// pattern until the timeout.
func (s *Session) performLogin() error {
	loginCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	sel := s.site.Selectors
	if err := chromedp.Run(loginCtx,
		chromedp.Navigate(s.site.LoginURL),
		chromedp.WaitVisible(sel.EmailInput, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open login form: %w", err)
	}

	if err := RandomDelay(loginCtx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
		return err
	}

	if err := chromedp.Run(loginCtx,
		chromedp.SendKeys(sel.EmailInput, s.site.Email, chromedp.ByQuery),
		chromedp.SendKeys(sel.PasswordInput, s.site.Password, chromedp.ByQuery),
		chromedp.Click(sel.SubmitButton, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	// Poll for a recognized post-login URL.
	for {
		var location string
		if err := chromedp.Run(loginCtx, chromedp.Location(&location)); err != nil {
			return fmt.Errorf("poll login result: %w", err)
		}
		for _, pattern := range s.site.LoginSuccessPatterns {
			if strings.Contains(location, pattern) {
				s.logger.Info("Login succeeded", logger.String("location", location))
				return nil
			}
		}

		select {
		case <-loginCtx.Done():
			return fmt.Errorf("%w: no success URL within timeout", ErrLoginFailed)
		case <-time.After(loginPollInterval):
		}
	}
}

// sessionState is the persisted cookie snapshot for a session.
type sessionState struct {
	SavedAt time.Time         `json:"saved_at"`
	Cookies []*network.Cookie `json:"cookies"`
}

// SaveState snapshots the session's cookies to its state file so a future
// session can skip the login flow.
func (s *Session) SaveState() error {
	if !s.alive.Load() || s.ctx == nil {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(saveCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}

	data, err := json.Marshal(sessionState{SavedAt: time.Now().UTC(), Cookies: cookies})
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.stateFile, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// restoreState loads the most recent cookie snapshot from the state dir
// into the browser. It looks for any prior session's snapshot, not just
// this session's own file, so login state survives session recycling.
func (s *Session) restoreState(ctx context.Context) error {
	path, state, err := loadLatestState(filepath.Dir(s.stateFile))
	if err != nil {
		return err
	}

	params := cookieParams(state.Cookies)
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}

	// The cookie jar looks authenticated; EnsureLogin still verifies.
	s.loggedIn = true
	s.logger.Info("Restored session state",
		logger.String("file", filepath.Base(path)),
		logger.Int("cookies", len(params)))
	return nil
}

// loadLatestState decodes the newest snapshot in dir. A snapshot without
// cookies is rejected, so restoring it can never flip a session to
// logged-in on an empty jar.
func loadLatestState(dir string) (string, *sessionState, error) {
	path, err := latestStateFile(dir)
	if err != nil {
		return "", nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read session state: %w", err)
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return "", nil, fmt.Errorf("decode session state: %w", err)
	}
	if len(state.Cookies) == 0 {
		return "", nil, fmt.Errorf("state file %s has no cookies", path)
	}
	return path, &state, nil
}

// cookieParams converts saved cookies back into settable cookie params.
func cookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// latestStateFile returns the most recently saved snapshot in dir.
func latestStateFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read state dir: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no session state in %s", dir)
	}
	return newest, nil
}
