package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id            BIGSERIAL PRIMARY KEY,
	viagogo_id          TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	event_date          TIMESTAMPTZ,
	venue               TEXT NOT NULL DEFAULT '',
	city                TEXT NOT NULL DEFAULT '',
	country             TEXT NOT NULL DEFAULT '',
	is_tracked          BOOLEAN NOT NULL DEFAULT TRUE,
	last_listings_fetch TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_tracked ON events (is_tracked) WHERE is_tracked;
`

const listingsSchema = `
CREATE TABLE IF NOT EXISTS listings (
	listing_pk       BIGSERIAL,
	event_id         BIGINT NOT NULL REFERENCES events (event_id) ON DELETE CASCADE,
	section          TEXT NOT NULL DEFAULT 'Unknown',
	row              TEXT NOT NULL DEFAULT '',
	quantity         INT NOT NULL DEFAULT 1,
	price_per_ticket DOUBLE PRECISION NOT NULL,
	currency         TEXT NOT NULL DEFAULT 'USD',
	listing_id       TEXT NOT NULL DEFAULT '',
	listing_url      TEXT NOT NULL DEFAULT '',
	notes            TEXT NOT NULL DEFAULT '',
	captured_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (listing_pk, captured_at)
);
CREATE INDEX IF NOT EXISTS idx_listings_event_time ON listings (event_id, captured_at DESC);
`

// hypertableStmt converts the listings table into a TimescaleDB
// hypertable. Skipped silently when the extension is absent so plain
// Postgres remains usable for development.
const hypertableStmt = `
SELECT create_hypertable('listings', 'captured_at', if_not_exists => TRUE)
`

// EnsureSchema creates the tables and, when TimescaleDB is installed,
// the listings hypertable.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range []string{eventsSchema, listingsSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var hasTimescale bool
	checkExt := `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`
	if err := db.GetContext(ctx, &hasTimescale, checkExt); err != nil {
		return fmt.Errorf("check timescaledb extension: %w", err)
	}
	if hasTimescale {
		if _, err := db.ExecContext(ctx, hypertableStmt); err != nil {
			return fmt.Errorf("create listings hypertable: %w", err)
		}
	}
	return nil
}
