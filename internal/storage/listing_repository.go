package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/ticketwatch/internal/domain"
)

// ListingRepository handles the listings time series.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// BatchInsert stores one snapshot of listings for an event and returns
// the number of rows written. An empty snapshot writes nothing.
func (r *ListingRepository) BatchInsert(ctx context.Context, eventID int64, listings []domain.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin listing insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings
			(event_id, section, row, quantity, price_per_ticket, currency,
			 listing_id, listing_url, notes, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare listing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for i := range listings {
		l := &listings[i]
		capturedAt := l.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			eventID, l.Section, l.Row, l.Quantity, l.PricePerTicket,
			l.Currency, l.ListingID, l.ListingURL, l.Notes, capturedAt,
		); err != nil {
			return 0, fmt.Errorf("insert listing for event %d: %w", eventID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit listing insert: %w", err)
	}
	return inserted, nil
}

// GetLatest retrieves the most recent listings for an event.
func (r *ListingRepository) GetLatest(ctx context.Context, eventID int64, limit int) ([]domain.Listing, error) {
	var listings []domain.Listing
	query := `
		SELECT listing_pk, event_id, section, row, quantity, price_per_ticket,
		       currency, listing_id, listing_url, notes, captured_at
		FROM listings
		WHERE event_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`

	if err := r.db.SelectContext(ctx, &listings, query, eventID, limit); err != nil {
		return nil, fmt.Errorf("failed to get latest listings for event %d: %w", eventID, err)
	}
	return listings, nil
}

// GetPriceHistory aggregates prices into hourly buckets over the given
// time range.
func (r *ListingRepository) GetPriceHistory(ctx context.Context, eventID int64, from, to time.Time) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	query := `
		SELECT date_trunc('hour', captured_at) AS bucket,
		       MIN(price_per_ticket)           AS min_price,
		       MAX(price_per_ticket)           AS max_price,
		       AVG(price_per_ticket)           AS avg_price,
		       COUNT(*)                        AS count
		FROM listings
		WHERE event_id = $1 AND captured_at BETWEEN $2 AND $3
		GROUP BY bucket
		ORDER BY bucket
	`

	if err := r.db.SelectContext(ctx, &points, query, eventID, from, to); err != nil {
		return nil, fmt.Errorf("failed to get price history for event %d: %w", eventID, err)
	}
	return points, nil
}

// PruneOlderThan deletes listing rows captured before the cutoff.
// Used by nightly maintenance when retention is bounded.
func (r *ListingRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune listings: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}
