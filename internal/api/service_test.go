package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

type stubFetcher struct {
	result *domain.FetchResult
	err    error
	calls  int
}

func (f *stubFetcher) FetchListings(_ context.Context, eventID string) (*domain.FetchResult, error) {
	f.calls++
	if f.err != nil {
		return domain.FailedFetchResult(eventID, "none", f.err), f.err
	}
	return f.result, nil
}

type stubCache struct {
	entries     map[string]*domain.FetchResult
	getErr      error
	sets        int
	invalidated []string
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]*domain.FetchResult)}
}

func (c *stubCache) Get(_ context.Context, eventID string) (*domain.FetchResult, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	result, ok := c.entries[eventID]
	return result, ok, nil
}

func (c *stubCache) Set(_ context.Context, eventID string, result *domain.FetchResult) error {
	c.sets++
	c.entries[eventID] = result
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, eventID string) error {
	c.invalidated = append(c.invalidated, eventID)
	delete(c.entries, eventID)
	return nil
}

type stubEventStore struct {
	events      map[string]*domain.Event
	fetchMarked []int64
}

func (s *stubEventStore) GetAll(context.Context) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out, nil
}

func (s *stubEventStore) GetTracked(ctx context.Context) ([]*domain.Event, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Event
	for _, ev := range all {
		if ev.IsTracked {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubEventStore) GetByViagogoID(_ context.Context, viagogoID string) (*domain.Event, error) {
	ev, ok := s.events[viagogoID]
	if !ok {
		return nil, errors.New("not found")
	}
	return ev, nil
}

func (s *stubEventStore) UpdateLastListingsFetch(_ context.Context, eventID int64) error {
	s.fetchMarked = append(s.fetchMarked, eventID)
	return nil
}

type stubListingStore struct {
	inserted []domain.Listing
	latest   []domain.Listing
	history  []domain.PricePoint
}

func (s *stubListingStore) BatchInsert(_ context.Context, _ int64, listings []domain.Listing) (int, error) {
	s.inserted = append(s.inserted, listings...)
	return len(listings), nil
}

func (s *stubListingStore) GetLatest(_ context.Context, _ int64, limit int) ([]domain.Listing, error) {
	if limit < len(s.latest) {
		return s.latest[:limit], nil
	}
	return s.latest, nil
}

func (s *stubListingStore) GetPriceHistory(context.Context, int64, time.Time, time.Time) ([]domain.PricePoint, error) {
	return s.history, nil
}

func sampleResult(eventID string) *domain.FetchResult {
	return domain.NewFetchResult(eventID, "intercepted", []domain.Listing{
		{Section: "Floor", Quantity: 2, PricePerTicket: 120, Currency: "USD"},
	})
}

func TestGetListingsServedFromCache(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	cached := sampleResult("evt-1")
	cached.Cached = true

	c := newStubCache()
	c.entries["evt-1"] = cached

	svc := NewListingService(fetcher, c, nil, nil, logger.NewNop())
	got, err := svc.GetListings(context.Background(), "evt-1", false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Zero(t, fetcher.calls)
}

func TestGetListingsForceRefreshBypassesCache(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	c := newStubCache()
	c.entries["evt-1"] = sampleResult("evt-1")

	svc := NewListingService(fetcher, c, nil, nil, logger.NewNop())
	got, err := svc.GetListings(context.Background(), "evt-1", true)
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, c.sets)
}

func TestGetListingsCacheErrorFallsThrough(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	c := newStubCache()
	c.getErr = errors.New("redis down")

	svc := NewListingService(fetcher, c, nil, nil, logger.NewNop())
	_, err := svc.GetListings(context.Background(), "evt-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestGetListingsPersistsForTrackedEvent(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-1")}
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 42, ViagogoID: "evt-1"},
	}}
	listings := &stubListingStore{}

	svc := NewListingService(fetcher, newStubCache(), events, listings, logger.NewNop())
	_, err := svc.GetListings(context.Background(), "evt-1", true)
	require.NoError(t, err)

	assert.Len(t, listings.inserted, 1)
	assert.Equal(t, []int64{42}, events.fetchMarked)
}

func TestGetListingsUntrackedEventSkipsPersistence(t *testing.T) {
	fetcher := &stubFetcher{result: sampleResult("evt-2")}
	events := &stubEventStore{events: map[string]*domain.Event{}}
	listings := &stubListingStore{}

	svc := NewListingService(fetcher, newStubCache(), events, listings, logger.NewNop())
	_, err := svc.GetListings(context.Background(), "evt-2", true)
	require.NoError(t, err)
	assert.Empty(t, listings.inserted)
}

func TestGetListingsFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("pool exhausted")}

	svc := NewListingService(fetcher, nil, nil, nil, logger.NewNop())
	result, err := svc.GetListings(context.Background(), "evt-1", false)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "evt-1", result.EventID)
	assert.NotEmpty(t, result.Error)
}

func TestPriceHistory(t *testing.T) {
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 7, ViagogoID: "evt-1"},
	}}
	listings := &stubListingStore{history: []domain.PricePoint{{MinPrice: 50, MaxPrice: 120}}}

	svc := NewListingService(&stubFetcher{}, nil, events, listings, logger.NewNop())
	points, err := svc.PriceHistory(context.Background(), "evt-1", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 50.0, points[0].MinPrice)
}

func TestLatestSnapshot(t *testing.T) {
	events := &stubEventStore{events: map[string]*domain.Event{
		"evt-1": {ID: 7, ViagogoID: "evt-1"},
	}}
	listings := &stubListingStore{latest: []domain.Listing{
		{Section: "Floor A", PricePerTicket: 180},
		{Section: "Balcony", PricePerTicket: 95},
	}}

	svc := NewListingService(&stubFetcher{}, nil, events, listings, logger.NewNop())

	got, err := svc.LatestSnapshot(context.Background(), "evt-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Floor A", got[0].Section)

	got, err = svc.LatestSnapshot(context.Background(), "evt-1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.LatestSnapshot(context.Background(), "evt-9", 10)
	assert.Error(t, err)
}

func TestInvalidateListings(t *testing.T) {
	c := newStubCache()
	c.entries["evt-1"] = sampleResult("evt-1")

	svc := NewListingService(&stubFetcher{}, c, nil, nil, logger.NewNop())
	svc.InvalidateListings(context.Background(), "evt-1")

	assert.Equal(t, []string{"evt-1"}, c.invalidated)
	assert.Empty(t, c.entries)

	// No cache wired is a no-op, not a panic.
	bare := NewListingService(&stubFetcher{}, nil, nil, nil, logger.NewNop())
	bare.InvalidateListings(context.Background(), "evt-1")
}
