package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/health"
	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/stats"
)

type stubPublisher struct {
	published []string
	err       error
}

func (p *stubPublisher) PublishFetchRequest(_ context.Context, eventID, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, eventID)
	return nil
}

func newTestServer(t *testing.T, apiKey string, deps Deps) *Server {
	t.Helper()
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 8000, APIKey: apiKey}
	if deps.Checker == nil {
		checker := health.NewChecker()
		checker.Register("database", func(context.Context) error { return nil })
		deps.Checker = checker
	}
	if deps.Collector == nil {
		deps.Collector = stats.NewCollector()
	}
	return NewServer(cfg, deps, logger.NewNop())
}

func doRequest(srv *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestGetListingsEndpoint(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	svc := NewListingService(fetcher, newStubCache(), nil, nil, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.FetchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "evt-1", result.EventID)
	assert.Equal(t, 1, result.Stats.Total)
}

func TestGetListingsForceRefreshQuery(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	c := newStubCache()
	c.entries["evt-1"] = sampleResult("evt-1")
	svc := NewListingService(fetcher, c, nil, nil, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1?force_refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fetcher.calls)
}

func TestAPIKeyEnforcement(t *testing.T) {
	svc := NewListingService(&stubFetcher{result: sampleResult("evt-1")}, nil, nil, nil, logger.NewNop())
	srv := newTestServer(t, "secret", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	srv := newTestServer(t, "secret", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshEndpointQueuesRequest(t *testing.T) {
	c := newStubCache()
	c.entries["evt-7"] = sampleResult("evt-7")
	svc := NewListingService(&stubFetcher{}, c, nil, nil, logger.NewNop())
	pub := &stubPublisher{}
	srv := newTestServer(t, "", Deps{Service: svc, Publisher: pub})

	w := doRequest(srv, http.MethodPost, "/api/v1/events/evt-7/refresh", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"evt-7"}, pub.published)
	// A queued refresh drops the cached snapshot so readers do not keep
	// seeing the stale result as a hit.
	assert.Equal(t, []string{"evt-7"}, c.invalidated)
}

func TestRefreshEndpointWithoutQueue(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodPost, "/api/v1/events/evt-7/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsEndpoint(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 1, ViagogoID: "evt-1", Name: "Show", IsTracked: true},
	}}
	srv := newTestServer(t, "", Deps{Service: svc, Events: events})

	w := doRequest(srv, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestEventsEndpointIncludesUntracked(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 1, ViagogoID: "evt-1", Name: "Show", IsTracked: true},
		"evt-2": {ID: 2, ViagogoID: "evt-2", Name: "Past Show"},
	}}
	srv := newTestServer(t, "", Deps{Service: svc, Events: events})

	w := doRequest(srv, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doRequest(srv, http.MethodGet, "/api/v1/events?all=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestLatestSnapshotEndpoint(t *testing.T) {
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 1, ViagogoID: "evt-1", IsTracked: true},
	}}
	listings := &stubListingStore{latest: []domain.Listing{
		{Section: "Floor A", PricePerTicket: 180, Currency: "USD"},
	}}
	svc := NewListingService(&stubFetcher{}, nil, events, listings, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), "Floor A")

	w = doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1/latest?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	collector := stats.NewCollector()
	srv := newTestServer(t, "", Deps{Service: svc, Collector: collector})

	w := doRequest(srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "resources")
	assert.Contains(t, w.Body.String(), "requests")
}

func TestPriceHistoryBadHours(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, &stubEventStore{events: map[string]*domain.Event{}}, &stubListingStore{}, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1/history?hours=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := &RateLimiter{clients: make(map[string]*clientLimiter), limit: rate.Limit(1), burst: 1}
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	rl.Cleanup()
	assert.Len(t, rl.clients, 1)

	rl.clients["10.0.0.1"].lastSeen = time.Now().Add(-staleClientAge - time.Minute)
	rl.Cleanup()
	assert.Empty(t, rl.clients)
}

func TestServerPruneRateLimiter(t *testing.T) {
	svc := NewListingService(&stubFetcher{result: sampleResult("evt-1")}, nil, nil, nil, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	doRequest(srv, http.MethodGet, "/api/v1/listings/evt-1", nil)
	require.Len(t, srv.limiter.clients, 1)

	for _, entry := range srv.limiter.clients {
		entry.lastSeen = time.Now().Add(-staleClientAge - time.Minute)
	}
	srv.PruneRateLimiter()
	assert.Empty(t, srv.limiter.clients)
}

func TestSecurityHeadersApplied(t *testing.T) {
	svc := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	srv := newTestServer(t, "", Deps{Service: svc})

	w := doRequest(srv, http.MethodGet, "/stats", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
