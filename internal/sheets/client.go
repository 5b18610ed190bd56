// Package sheets reads the tracked-event roster from a Google Sheet
// published as CSV.
package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// ErrNoRows means the sheet export contained a header but no event rows.
var ErrNoRows = errors.New("sheet contains no event rows")

// Client fetches and parses the published sheet.
type Client struct {
	http   *resty.Client
	csvURL string
	logger logger.Logger
}

// New creates a sheet Client for the published CSV export URL.
func New(csvURL string, log logger.Logger) *Client {
	http := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)

	return &Client{http: http, csvURL: csvURL, logger: log}
}

// FetchEvents downloads the sheet and converts each data row to an Event.
// Rows that fail validation are logged and skipped so one bad row cannot
// block the whole sync.
func (c *Client) FetchEvents(ctx context.Context) ([]*domain.Event, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.csvURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch sheet: unexpected status %d", res.StatusCode())
	}

	events, skipped, err := parseCSV(string(res.Body()))
	if err != nil {
		return nil, err
	}
	for _, reason := range skipped {
		c.logger.Warn("skipping sheet row", logger.String("reason", reason))
	}

	c.logger.Info("fetched events from sheet",
		logger.Int("events", len(events)),
		logger.Int("skipped", len(skipped)))
	return events, nil
}

func parseCSV(data string) ([]*domain.Event, []string, error) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse sheet csv: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil, ErrNoRows
	}

	var (
		events  []*domain.Event
		skipped []string
	)
	// First record is the header row.
	for i, row := range records[1:] {
		if isBlankRow(row) {
			continue
		}
		event, err := domain.EventFromSheetRow(row)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, skipped, ErrNoRows
	}
	return events, skipped, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
