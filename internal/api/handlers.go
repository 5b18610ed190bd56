package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/stats"
	"github.com/jonesrussell/ticketwatch/internal/storage"
)

const (
	defaultHistoryHours  = 24
	defaultSnapshotLimit = 100
)

// getListings handles GET /api/v1/listings/:event_id.
func (s *Server) getListings(c *gin.Context) {
	eventID := c.Param("event_id")
	forceRefresh, _ := strconv.ParseBool(c.Query("force_refresh"))

	result, err := s.service.GetListings(c.Request.Context(), eventID, forceRefresh)
	if err != nil {
		s.logger.Error("listings request failed",
			logger.String("event_id", eventID),
			logger.Error(err))
		status := http.StatusBadGateway
		if result == nil {
			c.JSON(status, gin.H{"error": "listing fetch failed", "event_id": eventID})
			return
		}
		// A failed fetch still carries an empty result with the error recorded.
		c.JSON(status, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// getPriceHistory handles GET /api/v1/listings/:event_id/history.
func (s *Server) getPriceHistory(c *gin.Context) {
	eventID := c.Param("event_id")

	hours := defaultHistoryHours
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	points, err := s.service.PriceHistory(c.Request.Context(), eventID, time.Duration(hours)*time.Hour)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not tracked", "event_id": eventID})
			return
		}
		s.logger.Error("price history request failed",
			logger.String("event_id", eventID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "price history unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id": eventID,
		"hours":    hours,
		"points":   points,
	})
}

// getLatestSnapshot handles GET /api/v1/listings/:event_id/latest. It
// serves the last persisted rows straight from the database.
func (s *Server) getLatestSnapshot(c *gin.Context) {
	eventID := c.Param("event_id")

	limit := defaultSnapshotLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	listings, err := s.service.LatestSnapshot(c.Request.Context(), eventID, limit)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not tracked", "event_id": eventID})
			return
		}
		s.logger.Error("latest snapshot request failed",
			logger.String("event_id", eventID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "latest snapshot unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id": eventID,
		"listings": listings,
		"count":    len(listings),
	})
}

// getEvents handles GET /api/v1/events. Tracked events only by default;
// all=true includes events dropped from the roster.
func (s *Server) getEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store unavailable"})
		return
	}

	list := s.events.GetTracked
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		list = s.events.GetAll
	}

	events, err := list(c.Request.Context())
	if err != nil {
		s.logger.Error("events request failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "events unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// requestRefresh handles POST /api/v1/events/:event_id/refresh. The
// refresh runs asynchronously through the queue.
func (s *Server) requestRefresh(c *gin.Context) {
	if s.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh queue unavailable"})
		return
	}

	eventID := c.Param("event_id")
	if err := s.publisher.PublishFetchRequest(c.Request.Context(), eventID, "api"); err != nil {
		s.logger.Error("refresh publish failed",
			logger.String("event_id", eventID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh request failed"})
		return
	}

	// Drop the cached snapshot so reads pick up the refresh once it lands.
	if s.service != nil {
		s.service.InvalidateListings(c.Request.Context(), eventID)
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": eventID, "status": "queued"})
}

// getStats handles GET /stats.
func (s *Server) getStats(c *gin.Context) {
	payload := gin.H{
		"resources": stats.Resources(),
	}
	if s.collector != nil {
		payload["requests"] = s.collector.Requests()
	}
	if s.cacheStats != nil {
		payload["cache"] = s.cacheStats()
	}
	if s.poolStats != nil {
		payload["browser_pool"] = s.poolStats()
	}
	if s.jobs != nil {
		payload["jobs"] = s.jobs()
	}

	c.JSON(http.StatusOK, payload)
}
