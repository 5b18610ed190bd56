// Package domain provides domain models used across the application.
package domain

import (
	"sort"
	"time"
)

// ListingStats summarizes the prices of one listing snapshot.
// All values are zero when the snapshot is empty.
type ListingStats struct {
	Total          int            `json:"total"`
	MinPrice       float64        `json:"min_price"`
	MaxPrice       float64        `json:"max_price"`
	AvgPrice       float64        `json:"avg_price"`
	MedianPrice    float64        `json:"median_price"`
	CountBySection map[string]int `json:"count_by_section"`
}

// FetchResult is the outcome of one listings fetch for one event.
// Listings is never nil, and Stats is always derived from Listings.
type FetchResult struct {
	EventID   string       `json:"event_id"`
	EventName string       `json:"event_name,omitempty"`
	Venue     string       `json:"venue,omitempty"`
	Listings  []Listing    `json:"listings"`
	Stats     ListingStats `json:"stats"`
	FetchedAt time.Time    `json:"fetched_at"`
	Source    string       `json:"source"`
	Cached    bool         `json:"cached"`
	Error     string       `json:"error,omitempty"`
}

// NewFetchResult builds a result for the given event with stats computed
// from the listings. A nil listings slice becomes an empty one.
func NewFetchResult(eventID, source string, listings []Listing) *FetchResult {
	if listings == nil {
		listings = []Listing{}
	}
	return &FetchResult{
		EventID:   eventID,
		Listings:  listings,
		Stats:     ComputeStats(listings),
		FetchedAt: time.Now().UTC(),
		Source:    source,
	}
}

// FailedFetchResult builds an empty result carrying the failure reason.
func FailedFetchResult(eventID, source string, err error) *FetchResult {
	res := NewFetchResult(eventID, source, nil)
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ComputeStats derives price statistics from a listing snapshot.
// The median is the lower-middle element of the sorted price list.
func ComputeStats(listings []Listing) ListingStats {
	stats := ListingStats{
		Total:          len(listings),
		CountBySection: make(map[string]int),
	}
	if len(listings) == 0 {
		return stats
	}

	prices := make([]float64, 0, len(listings))
	var sum float64
	for i := range listings {
		prices = append(prices, listings[i].PricePerTicket)
		sum += listings[i].PricePerTicket
		stats.CountBySection[listings[i].Section]++
	}
	sort.Float64s(prices)

	stats.MinPrice = prices[0]
	stats.MaxPrice = prices[len(prices)-1]
	stats.AvgPrice = sum / float64(len(prices))
	stats.MedianPrice = prices[len(prices)/2]
	return stats
}
