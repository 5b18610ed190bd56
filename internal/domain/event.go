// Package domain provides domain models used across the application.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event represents a tracked live event.
type Event struct {
	ID                int64      `db:"event_id"            json:"event_id"`
	ViagogoID         string     `db:"viagogo_id"          json:"viagogo_id"`
	Name              string     `db:"name"                json:"name"`
	EventDate         *time.Time `db:"event_date"          json:"event_date,omitempty"`
	Venue             string     `db:"venue"               json:"venue,omitempty"`
	City              string     `db:"city"                json:"city,omitempty"`
	Country           string     `db:"country"             json:"country,omitempty"`
	IsTracked         bool       `db:"is_tracked"          json:"is_tracked"`
	LastListingsFetch *time.Time `db:"last_listings_fetch" json:"last_listings_fetch,omitempty"`
	CreatedAt         time.Time  `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"          json:"updated_at"`
}

// Sheet column layout for the events worksheet.
const (
	sheetColViagogoID = 0
	sheetColName      = 1
	sheetColDate      = 2
	sheetColVenue     = 3
	sheetColCity      = 4
	sheetColCountry   = 5
	sheetColTracked   = 6
	sheetMinColumns   = 2
)

// EventFromSheetRow builds an Event from one spreadsheet row.
// Rows shorter than the tracked column default to tracked.
func EventFromSheetRow(row []string) (*Event, error) {
	if len(row) < sheetMinColumns {
		return nil, fmt.Errorf("sheet row has %d columns, need at least %d", len(row), sheetMinColumns)
	}

	viagogoID := strings.TrimSpace(row[sheetColViagogoID])
	name := strings.TrimSpace(row[sheetColName])
	if viagogoID == "" || name == "" {
		return nil, fmt.Errorf("sheet row missing viagogo id or name: %v", row)
	}

	ev := &Event{
		ViagogoID: viagogoID,
		Name:      name,
		IsTracked: true,
	}

	if len(row) > sheetColDate {
		if ts, err := parseSheetDate(row[sheetColDate]); err == nil {
			ev.EventDate = &ts
		}
	}
	if len(row) > sheetColVenue {
		ev.Venue = strings.TrimSpace(row[sheetColVenue])
	}
	if len(row) > sheetColCity {
		ev.City = strings.TrimSpace(row[sheetColCity])
	}
	if len(row) > sheetColCountry {
		ev.Country = strings.TrimSpace(row[sheetColCountry])
	}
	if len(row) > sheetColTracked {
		if v, err := strconv.ParseBool(strings.TrimSpace(row[sheetColTracked])); err == nil {
			ev.IsTracked = v
		}
	}

	return ev, nil
}

func parseSheetDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
