// Package domain provides domain models used across the application.
package domain

import "time"

// Listing represents one ticket offer for a tracked event.
type Listing struct {
	ID             int64     `db:"listing_pk"       json:"-"`
	EventID        int64     `db:"event_id"         json:"event_id,omitempty"`
	Section        string    `db:"section"          json:"section"`
	Row            string    `db:"row"              json:"row,omitempty"`
	Quantity       int       `db:"quantity"         json:"quantity"`
	PricePerTicket float64   `db:"price_per_ticket" json:"price_per_ticket"`
	Currency       string    `db:"currency"         json:"currency"`
	ListingID      string    `db:"listing_id"       json:"listing_id,omitempty"`
	ListingURL     string    `db:"listing_url"      json:"listing_url,omitempty"`
	Notes          string    `db:"notes"            json:"notes,omitempty"`
	CapturedAt     time.Time `db:"captured_at"      json:"captured_at"`
}

// PricePoint is one time-bucketed aggregate from the price history query.
type PricePoint struct {
	Bucket   time.Time `db:"bucket"    json:"bucket"`
	MinPrice float64   `db:"min_price" json:"min_price"`
	MaxPrice float64   `db:"max_price" json:"max_price"`
	AvgPrice float64   `db:"avg_price" json:"avg_price"`
	Count    int       `db:"count"     json:"count"`
}
