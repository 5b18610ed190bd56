package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ticketwatch/internal/browser"
	"github.com/jonesrussell/ticketwatch/internal/cache"
	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/health"
	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/scheduler"
	"github.com/jonesrussell/ticketwatch/internal/stats"
)

const (
	readHeaderTimeout = 10 * time.Second
	// Listing fetches drive a real browser, so writes can take a while.
	writeTimeout    = 3 * time.Minute
	shutdownTimeout = 15 * time.Second
)

// Deps carries everything the HTTP server exposes. Optional fields may
// be nil; the matching endpoints degrade gracefully.
type Deps struct {
	Service   *ListingService
	Events    EventStore
	Publisher RefreshPublisher
	Checker   *health.Checker
	Collector *stats.Collector

	CacheStats func() cache.Stats
	PoolStats  func() browser.PoolStats
	Jobs       func() []scheduler.JobInfo
}

// Server is the HTTP API front end.
type Server struct {
	cfg    *config.ServerConfig
	engine *gin.Engine
	http   *http.Server
	logger logger.Logger

	service   *ListingService
	events    EventStore
	publisher RefreshPublisher
	checker   *health.Checker
	collector *stats.Collector

	cacheStats func() cache.Stats
	poolStats  func() browser.PoolStats
	jobs       func() []scheduler.JobInfo

	limiter *RateLimiter
}

// NewServer builds the router and wires all endpoints.
func NewServer(cfg *config.ServerConfig, deps Deps, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		engine:     gin.New(),
		logger:     log,
		service:    deps.Service,
		events:     deps.Events,
		publisher:  deps.Publisher,
		checker:    deps.Checker,
		collector:  deps.Collector,
		cacheStats: deps.CacheStats,
		poolStats:  deps.PoolStats,
		jobs:       deps.Jobs,
		limiter:    NewRateLimiter(),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.engine.Use(SecurityHeaders())
	s.engine.Use(CORS())

	if s.checker != nil {
		s.engine.GET("/health", s.checker.GinHandler())
		s.engine.GET("/health/detailed", s.checker.GinDetailedHandler())
	}
	s.engine.GET("/stats", s.getStats)

	v1 := s.engine.Group("/api/v1")
	v1.Use(APIKeyAuth(s.cfg.APIKey, s.logger))
	v1.Use(s.limiter.Middleware())
	{
		v1.GET("/listings/:event_id", s.getListings)
		v1.GET("/listings/:event_id/latest", s.getLatestSnapshot)
		v1.GET("/listings/:event_id/history", s.getPriceHistory)
		v1.GET("/events", s.getEvents)
		v1.POST("/events/:event_id/refresh", s.requestRefresh)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// PruneRateLimiter drops rate-limiter state for idle clients. Meant to
// be called periodically so the per-IP map stays bounded.
func (s *Server) PruneRateLimiter() {
	s.limiter.Cleanup()
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logger.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
