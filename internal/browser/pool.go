package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

const (
	// maxAcquireWaitIterations bounds how long an acquire waits for a
	// session to be released before failing with ErrPoolExhausted.
	maxAcquireWaitIterations = 30
	acquireWaitStep          = time.Second

	closeAllParallelism = 4
)

// sessionFactory creates a session under the given allocator context.
// Tests substitute this to avoid launching a real browser.
type sessionFactory func(allocCtx context.Context, cfg *config.BrowserConfig, site *config.SiteConfig, log logger.Logger) (*Session, error)

// Pool manages a bounded set of browser sessions. All session map
// mutations happen under a single mutex; the lock is never held across
// browser I/O.
type Pool struct {
	cfg    *config.BrowserConfig
	site   *config.SiteConfig
	logger logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	// creating counts in-flight session launches so the capacity bound
	// holds without keeping the lock during the launch itself.
	creating int

	baseCtx     context.Context
	allocCtx    context.Context
	allocCancel context.CancelFunc

	creationFailures int64
	totalHandled     int64

	factory        sessionFactory
	waitIterations int
	waitStep       time.Duration
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithSessionFactory overrides how sessions are created. Used by tests.
func WithSessionFactory(f sessionFactory) PoolOption {
	return func(p *Pool) { p.factory = f }
}

// WithAcquireWait overrides the bounded wait for a free session.
func WithAcquireWait(iterations int, step time.Duration) PoolOption {
	return func(p *Pool) {
		p.waitIterations = iterations
		p.waitStep = step
	}
}

// NewPool creates a session pool. The browser engine is launched lazily
// on first acquire; call Start to fail fast at boot instead.
func NewPool(ctx context.Context, cfg *config.BrowserConfig, site *config.SiteConfig, log logger.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:      cfg,
		site:     site,
		logger:   log,
		sessions: make(map[string]*Session),
		baseCtx:  ctx,
		factory:  newSession,

		waitIterations: maxAcquireWaitIterations,
		waitStep:       acquireWaitStep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start validates that the browser engine can launch by creating and
// immediately releasing one session. An error here means the pool would
// run with zero capacity and must be treated as fatal by the caller.
func (p *Pool) Start(ctx context.Context) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("browser engine startup check: %w", err)
	}
	if releaseErr := p.Release(s.ID()); releaseErr != nil {
		return releaseErr
	}
	return nil
}

// Acquire returns a healthy session for exclusive use. It reuses an idle
// session when one exists, creates a new one under the capacity bound,
// or waits a bounded period for a release. Returns ErrPoolExhausted when
// the wait expires; callers should treat that as retryable.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for i := 0; i <= p.waitIterations; i++ {
		s, created, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if s != nil {
			p.verifyLoginState(ctx, s, created)
			return s, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.waitStep):
		}
	}

	p.logger.Warn("Session pool exhausted",
		logger.Int("max_sessions", p.cfg.MaxSessions))
	return nil, ErrPoolExhausted
}

// tryAcquire performs one atomic scan-or-create pass. It returns a nil
// session without error when the pool is at capacity with nothing idle.
func (p *Pool) tryAcquire() (s *Session, created bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}

	// Reuse an idle session, lazily recycling expired ones.
	for id, candidate := range p.sessions {
		if candidate.inUse || !candidate.Alive() {
			continue
		}
		if candidate.IsExpired(p.cfg.MaxRequestsPerSession, p.cfg.MaxSessionAge()) {
			p.logger.Info("Recycling expired session",
				logger.String("session_id", id),
				logger.Int("requests_served", candidate.requestCount))
			candidate.Close()
			delete(p.sessions, id)
			continue
		}
		candidate.inUse = true
		candidate.UpdateUsage()
		p.mu.Unlock()
		return candidate, false, nil
	}

	// Create a new session if the capacity bound allows it. The creating
	// counter reserves the slot so the launch can happen unlocked.
	if len(p.sessions)+p.creating < p.cfg.MaxSessions {
		p.creating++
		p.ensureAllocatorLocked()
		allocCtx := p.allocCtx
		p.mu.Unlock()

		session, createErr := p.factory(allocCtx, p.cfg, p.site, p.logger)

		p.mu.Lock()
		p.creating--
		if createErr != nil {
			p.creationFailures++
			p.mu.Unlock()
			return nil, false, fmt.Errorf("create browser session: %w", createErr)
		}
		session.inUse = true
		session.UpdateUsage()
		p.sessions[session.id] = session
		p.mu.Unlock()
		return session, true, nil
	}

	p.mu.Unlock()
	return nil, false, nil
}

// verifyLoginState runs the cheap login check on reused sessions and the
// full flow on new ones. Login failure is not an acquire failure; the
// fetch layer surfaces it per attempt.
func (p *Pool) verifyLoginState(ctx context.Context, s *Session, created bool) {
	if s.site.Email == "" {
		return
	}
	if !s.EnsureLogin(ctx) {
		p.logger.Warn("Session not authenticated after acquire",
			logger.String("session_id", s.id),
			logger.Bool("newly_created", created))
	}
}

// Release returns a session to the pool. Releasing an unknown id is a
// logged no-op that reports ErrSessionNotFound and changes nothing.
func (p *Pool) Release(sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("Release of unknown session", logger.String("session_id", sessionID))
		return ErrSessionNotFound
	}
	s.inUse = false
	p.totalHandled++
	p.mu.Unlock()

	// Persist cookie state off the caller's path; failures only log.
	go func() {
		if err := s.SaveState(); err != nil {
			p.logger.Debug("Session state persistence failed",
				logger.String("session_id", sessionID), logger.Error(err))
		}
	}()
	return nil
}

// CloseAll closes every session in parallel, clears the map, and shuts
// down the browser allocator. The pool is unusable afterwards; any
// racing Acquire fails with ErrPoolClosed instead of relaunching a
// browser mid-shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	closing := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		closing = append(closing, s)
	}
	p.sessions = make(map[string]*Session)
	allocCancel := p.allocCancel
	p.allocCtx = nil
	p.allocCancel = nil
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(closeAllParallelism)
	for _, s := range closing {
		s := s
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	_ = g.Wait()

	if allocCancel != nil {
		allocCancel()
	}
	p.logger.Info("All browser sessions closed", logger.Int("count", len(closing)))
}

// ensureAllocatorLocked lazily builds the shared exec allocator with the
// anti-detection flag set. Caller must hold the lock.
func (p *Pool) ensureAllocatorLocked() {
	if p.allocCtx != nil {
		return
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(randomUserAgent()),
	)
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(p.baseCtx, opts...)
}

// PoolStats is a point-in-time snapshot of pool health.
type PoolStats struct {
	MaxSessions      int   `json:"max_sessions"`
	LiveSessions     int   `json:"live_sessions"`
	InUseSessions    int   `json:"in_use_sessions"`
	CreationFailures int64 `json:"creation_failures"`
	TotalHandled     int64 `json:"total_requests_handled"`
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		MaxSessions:      p.cfg.MaxSessions,
		CreationFailures: p.creationFailures,
		TotalHandled:     p.totalHandled,
	}
	for _, s := range p.sessions {
		if s.Alive() {
			stats.LiveSessions++
		}
		if s.inUse {
			stats.InUseSessions++
		}
	}
	return stats
}
