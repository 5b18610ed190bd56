package fetch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/ticketwatch/internal/domain"
)

const unknownSection = "Unknown"

// ParseInterceptedListings decodes the backend listings payload into
// domain listings. Two payload shapes are accepted: an object with a
// "listing" array, and a bare array of listing objects. Malformed items
// are skipped rather than failing the whole batch.
func ParseInterceptedListings(data []byte) ([]domain.Listing, error) {
	items, err := decodeListingItems(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listings := make([]domain.Listing, 0, len(items))
	for _, item := range items {
		l, ok := listingFromItem(item)
		if !ok {
			continue
		}
		l.CapturedAt = now
		listings = append(listings, l)
	}
	return listings, nil
}

func decodeListingItems(data []byte) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("decode listings payload: %w", err)
	}
	for _, key := range []string{"listing", "listings", "items"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("decode %q array: %w", key, err)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("listings payload has no recognized array key")
}

// listingFromItem maps one raw listing object to the domain model,
// handling both payload dialects seen in the wild.
func listingFromItem(item map[string]any) (domain.Listing, bool) {
	l := domain.Listing{
		Section:  stringField(item, "section", unknownSection),
		Row:      stringField(item, "row", ""),
		Quantity: 1,
		Currency: "USD",
	}

	if q, ok := intField(item, "availableTickets"); ok {
		l.Quantity = q
	} else if q, ok := intField(item, "quantity"); ok {
		l.Quantity = q
	}

	if price, ok := nestedFloat(item, "sellerAllInPrice", "amt"); ok {
		l.PricePerTicket = price
		if c := stringField(item, "currencyCode", ""); c != "" {
			l.Currency = c
		}
	} else if price, ok := nestedFloat(item, "currentPrice", "amount"); ok {
		l.PricePerTicket = price
		if nested, isMap := item["currentPrice"].(map[string]any); isMap {
			if c := stringField(nested, "currency", ""); c != "" {
				l.Currency = c
			}
		}
	} else {
		return domain.Listing{}, false
	}

	if id := stringField(item, "listingId", ""); id != "" {
		l.ListingID = id
		l.ListingURL = "https://www.stubhub.com/listing/" + id
	} else if id := stringField(item, "id", ""); id != "" {
		l.ListingID = id
	}

	return l, true
}

func stringField(m map[string]any, key, fallback string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fallback
	}
}

func intField(m map[string]any, key string) (int, bool) {
	if v, ok := m[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

func nestedFloat(m map[string]any, key, sub string) (float64, bool) {
	nested, ok := m[key].(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := nested[sub].(float64)
	return v, ok
}

// ExtractListingsFromDOM is the fallback path when nothing was
// intercepted: it parses the rendered page for listing rows.
func ExtractListingsFromDOM(html string, rowSelector string) []domain.Listing {
	if rowSelector == "" {
		rowSelector = `[data-testid="listing-item"]`
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	now := time.Now().UTC()
	var listings []domain.Listing
	doc.Find(rowSelector).Each(func(_ int, sel *goquery.Selection) {
		price := parsePrice(sel.Find(`[data-testid="listing-price"]`).First().Text())
		if price <= 0 {
			return
		}

		l := domain.Listing{
			Section:        textOr(sel, `[data-testid="listing-section"]`, unknownSection),
			Row:            textOr(sel, `[data-testid="listing-row"]`, ""),
			Quantity:       parseQuantity(sel.Find(`[data-testid="listing-quantity"]`).First().Text()),
			PricePerTicket: price,
			Currency:       "USD",
			CapturedAt:     now,
		}
		if id, ok := sel.Attr("id"); ok {
			l.ListingID = id
		}
		listings = append(listings, l)
	})
	return listings
}

// EventMeta is the event header information scraped from the page.
type EventMeta struct {
	Name  string
	Venue string
}

// ExtractEventMeta pulls the event name and venue from the rendered page.
func ExtractEventMeta(html string) EventMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return EventMeta{}
	}

	meta := EventMeta{
		Name:  strings.TrimSpace(doc.Find("h1").First().Text()),
		Venue: strings.TrimSpace(doc.Find(`[data-testid="event-venue"]`).First().Text()),
	}
	return meta
}

func textOr(sel *goquery.Selection, selector, fallback string) string {
	text := strings.TrimSpace(sel.Find(selector).First().Text())
	if text == "" {
		return fallback
	}
	return text
}

func parsePrice(text string) float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	price, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return price
}

func parseQuantity(text string) int {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	q, err := strconv.Atoi(b.String())
	if err != nil || q < 1 {
		return 1
	}
	return q
}
