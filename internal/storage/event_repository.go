package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/ticketwatch/internal/domain"
)

// ErrEventNotFound is returned when an event lookup matches nothing.
var ErrEventNotFound = errors.New("event not found")

// EventRepository handles database operations for tracked events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `event_id, viagogo_id, name, event_date, venue, city, country,
	is_tracked, last_listings_fetch, created_at, updated_at`

// GetAll retrieves every event ordered by date.
func (r *EventRepository) GetAll(ctx context.Context) ([]*domain.Event, error) {
	var events []*domain.Event
	query := `SELECT ` + eventColumns + ` FROM events ORDER BY event_date`

	if err := r.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// GetByViagogoID retrieves an event by its marketplace identifier.
func (r *EventRepository) GetByViagogoID(ctx context.Context, viagogoID string) (*domain.Event, error) {
	var event domain.Event
	query := `SELECT ` + eventColumns + ` FROM events WHERE viagogo_id = $1`

	err := r.db.GetContext(ctx, &event, query, viagogoID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %s: %w", viagogoID, err)
	}
	return &event, nil
}

// GetTracked retrieves all events currently flagged for tracking.
func (r *EventRepository) GetTracked(ctx context.Context) ([]*domain.Event, error) {
	var events []*domain.Event
	query := `SELECT ` + eventColumns + ` FROM events WHERE is_tracked ORDER BY event_date`

	if err := r.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("failed to list tracked events: %w", err)
	}
	return events, nil
}

// GetEventsNeedingUpdate retrieves tracked events whose listings were
// last fetched more than thresholdHours ago, or never.
func (r *EventRepository) GetEventsNeedingUpdate(ctx context.Context, thresholdHours int) ([]*domain.Event, error) {
	var events []*domain.Event
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_tracked
		  AND (last_listings_fetch IS NULL
		       OR last_listings_fetch < NOW() - ($1 || ' hours')::interval)
		ORDER BY last_listings_fetch NULLS FIRST
	`

	if err := r.db.SelectContext(ctx, &events, query, thresholdHours); err != nil {
		return nil, fmt.Errorf("failed to list events needing update: %w", err)
	}
	return events, nil
}

// UpdateLastListingsFetch stamps the event's last fetch time.
func (r *EventRepository) UpdateLastListingsFetch(ctx context.Context, eventID int64) error {
	query := `
		UPDATE events
		SET last_listings_fetch = NOW(), updated_at = NOW()
		WHERE event_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to stamp event %d: %w", eventID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrEventNotFound
	}
	return nil
}

// SyncResult summarizes one sheet-to-database sync pass.
type SyncResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Untracked int `json:"untracked"`
}

// SyncFromSheet upserts the given events and untracks any event absent
// from the sheet, inside one transaction.
func (r *EventRepository) SyncFromSheet(ctx context.Context, events []*domain.Event) (*SyncResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &SyncResult{}
	seen := make([]string, 0, len(events))

	upsert := `
		INSERT INTO events (viagogo_id, name, event_date, venue, city, country, is_tracked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (viagogo_id) DO UPDATE SET
			name       = EXCLUDED.name,
			event_date = EXCLUDED.event_date,
			venue      = EXCLUDED.venue,
			city       = EXCLUDED.city,
			country    = EXCLUDED.country,
			is_tracked = EXCLUDED.is_tracked,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	for _, event := range events {
		var inserted bool
		err := tx.QueryRowContext(ctx, upsert,
			event.ViagogoID, event.Name, event.EventDate,
			event.Venue, event.City, event.Country, event.IsTracked,
		).Scan(&inserted)
		if err != nil {
			return nil, fmt.Errorf("sync event %s: %w", event.ViagogoID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		seen = append(seen, event.ViagogoID)
	}

	// Events dropped from the sheet stop being tracked but keep their
	// history.
	untrack := `
		UPDATE events SET is_tracked = FALSE, updated_at = NOW()
		WHERE is_tracked AND NOT (viagogo_id = ANY($1))
	`
	res, err := tx.ExecContext(ctx, untrack, pq.Array(seen))
	if err != nil {
		return nil, fmt.Errorf("untrack removed events: %w", err)
	}
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil {
		result.Untracked = int(rows)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}
	return result, nil
}
