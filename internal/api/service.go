// Package api exposes the HTTP interface for listings, events, health
// and operational stats.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// Fetcher performs a live listings fetch through the browser pipeline.
type Fetcher interface {
	FetchListings(ctx context.Context, eventID string) (*domain.FetchResult, error)
}

// ResultCache is the listing cache surface the service uses.
type ResultCache interface {
	Get(ctx context.Context, eventID string) (*domain.FetchResult, bool, error)
	Set(ctx context.Context, eventID string, result *domain.FetchResult) error
	Invalidate(ctx context.Context, eventID string) error
}

// EventStore reads tracked events.
type EventStore interface {
	GetAll(ctx context.Context) ([]*domain.Event, error)
	GetTracked(ctx context.Context) ([]*domain.Event, error)
	GetByViagogoID(ctx context.Context, viagogoID string) (*domain.Event, error)
	UpdateLastListingsFetch(ctx context.Context, eventID int64) error
}

// ListingStore persists and reads listing snapshots.
type ListingStore interface {
	BatchInsert(ctx context.Context, eventID int64, listings []domain.Listing) (int, error)
	GetLatest(ctx context.Context, eventID int64, limit int) ([]domain.Listing, error)
	GetPriceHistory(ctx context.Context, eventID int64, from, to time.Time) ([]domain.PricePoint, error)
}

// RefreshPublisher enqueues an asynchronous refresh request.
type RefreshPublisher interface {
	PublishFetchRequest(ctx context.Context, eventID, reason string) error
}

// ListingService answers listing reads cache-first and records live
// fetch results for history.
type ListingService struct {
	fetcher  Fetcher
	cache    ResultCache
	events   EventStore
	listings ListingStore
	logger   logger.Logger
}

// NewListingService wires the service. cache, events and listings may be
// nil; the corresponding steps are skipped.
func NewListingService(fetcher Fetcher, cache ResultCache, events EventStore, listings ListingStore, log logger.Logger) *ListingService {
	return &ListingService{
		fetcher:  fetcher,
		cache:    cache,
		events:   events,
		listings: listings,
		logger:   log,
	}
}

// GetListings returns listings for the event, serving from cache unless
// forceRefresh is set. Live results are cached and persisted.
func (s *ListingService) GetListings(ctx context.Context, eventID string, forceRefresh bool) (*domain.FetchResult, error) {
	if !forceRefresh && s.cache != nil {
		cached, found, err := s.cache.Get(ctx, eventID)
		if err != nil {
			s.logger.Warn("cache read failed, falling through to live fetch",
				logger.String("event_id", eventID),
				logger.Error(err))
		} else if found {
			return cached, nil
		}
	}

	result, err := s.fetcher.FetchListings(ctx, eventID)
	if err != nil {
		return result, fmt.Errorf("fetch listings for %s: %w", eventID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, eventID, result); err != nil {
			s.logger.Warn("cache write failed",
				logger.String("event_id", eventID),
				logger.Error(err))
		}
	}
	s.persist(ctx, eventID, result)

	return result, nil
}

// persist stores the snapshot when the event is known in the database.
// Unknown events still get served; they just leave no history.
func (s *ListingService) persist(ctx context.Context, eventID string, result *domain.FetchResult) {
	if s.events == nil || s.listings == nil || len(result.Listings) == 0 {
		return
	}

	event, err := s.events.GetByViagogoID(ctx, eventID)
	if err != nil {
		s.logger.Debug("skipping persistence for untracked event",
			logger.String("event_id", eventID),
			logger.Error(err))
		return
	}

	inserted, err := s.listings.BatchInsert(ctx, event.ID, result.Listings)
	if err != nil {
		s.logger.Error("persist listings failed",
			logger.String("event_id", eventID),
			logger.Error(err))
		return
	}
	if err := s.events.UpdateLastListingsFetch(ctx, event.ID); err != nil {
		s.logger.Warn("update fetch marker failed",
			logger.String("event_id", eventID),
			logger.Error(err))
	}

	s.logger.Debug("persisted listing snapshot",
		logger.String("event_id", eventID),
		logger.Int("rows", inserted))
}

// InvalidateListings drops the cached result for the event so the next
// read reaches live data. Used when a refresh has been queued and a
// stale cache hit would mask it.
func (s *ListingService) InvalidateListings(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, eventID); err != nil {
		s.logger.Warn("cache invalidation failed",
			logger.String("event_id", eventID),
			logger.Error(err))
	}
}

// PriceHistory returns hourly price buckets for a tracked event.
func (s *ListingService) PriceHistory(ctx context.Context, eventID string, window time.Duration) ([]domain.PricePoint, error) {
	if s.events == nil || s.listings == nil {
		return nil, fmt.Errorf("price history requires database access")
	}

	event, err := s.events.GetByViagogoID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	to := time.Now().UTC()
	return s.listings.GetPriceHistory(ctx, event.ID, to.Add(-window), to)
}

// LatestSnapshot returns the most recently persisted listings for a
// tracked event, without touching the browser.
func (s *ListingService) LatestSnapshot(ctx context.Context, eventID string, limit int) ([]domain.Listing, error) {
	if s.events == nil || s.listings == nil {
		return nil, fmt.Errorf("latest snapshot requires database access")
	}

	event, err := s.events.GetByViagogoID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.listings.GetLatest(ctx, event.ID, limit)
}
