// Package fetch orchestrates navigation, response interception, and
// extraction against a pooled browser session to produce listing data.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/jonesrussell/ticketwatch/internal/browser"
	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

const (
	maxNavigateAttempts = 3
	navigateBackoffBase = 2 * time.Second

	scrollTriggerPasses = 2

	// Source tags recorded on results.
	SourceIntercepted = "intercepted"
	SourceDOM         = "dom"
	SourceNone        = "none"
)

// ErrInterceptTimeout indicates the listings endpoint was never observed
// within the bounded wait, including the recovery pass.
var ErrInterceptTimeout = errors.New("listings interception timed out")

// Recorder receives per-request outcome metrics.
type Recorder interface {
	RecordRequest(success bool, latency time.Duration)
}

// Pipeline produces FetchResults for event ids using the session pool.
type Pipeline struct {
	pool    *browser.Pool
	site    *config.SiteConfig
	browser *config.BrowserConfig
	logger  logger.Logger
	limiter *rate.Limiter

	recorder Recorder
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// NewPipeline creates a fetch pipeline. The rate limiter enforces a
// minimum spacing between navigations across all sessions, derived from
// the configured page delay floor.
func NewPipeline(pool *browser.Pool, browserCfg *config.BrowserConfig, site *config.SiteConfig, log logger.Logger, opts ...PipelineOption) *Pipeline {
	minInterval := time.Duration(browserCfg.MinPageDelayMs) * time.Millisecond
	if minInterval <= 0 {
		minInterval = time.Second
	}

	p := &Pipeline{
		pool:    pool,
		site:    site,
		browser: browserCfg,
		logger:  log,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchListings retrieves the current listings for one event. The result
// is always non-nil; total failures come back as an empty result with the
// error recorded on it. The returned error is non-nil only for conditions
// the caller may want to branch on, such as browser.ErrPoolExhausted.
func (p *Pipeline) FetchListings(ctx context.Context, eventID string) (*domain.FetchResult, error) {
	started := time.Now()

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.FailedFetchResult(eventID, SourceNone, err), err
	}

	session, err := p.pool.Acquire(ctx)
	if err != nil {
		p.record(false, started)
		p.logger.Warn("Fetch aborted before navigation",
			logger.String("event_id", eventID), logger.Error(err))
		return domain.FailedFetchResult(eventID, SourceNone, err), err
	}
	// The session goes back to the pool no matter what happened above it.
	defer func() {
		if releaseErr := p.pool.Release(session.ID()); releaseErr != nil {
			p.logger.Warn("Session release failed", logger.Error(releaseErr))
		}
	}()

	result := p.fetchWithSession(ctx, session, eventID)
	p.record(result.Error == "", started)
	return result, nil
}

// fetchWithSession runs the navigate/intercept/extract sequence on a tab
// scoped to the session. All failures degrade to a flagged empty result.
func (p *Pipeline) fetchWithSession(ctx context.Context, session *browser.Session, eventID string) *domain.FetchResult {
	tabCtx, cancelTab := session.NewTab()
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 2*p.browser.Timeout())
	defer cancelTimeout()

	eventURL := fmt.Sprintf(p.site.EventURLTemplate, eventID)

	// The observer must be in place before navigation: the endpoint may
	// fire during initial page load.
	payloadCh := listenForPayload(tabCtx, p.site.ListingsEndpoint)

	if err := p.navigateWithRetry(tabCtx, eventURL); err != nil {
		p.logger.Warn("Navigation failed",
			logger.String("event_id", eventID),
			logger.String("url", eventURL),
			logger.Error(err))
		return domain.FailedFetchResult(eventID, SourceNone, err)
	}

	payload, intercepted := p.triggerAndAwait(tabCtx, payloadCh, eventURL)

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html)); err != nil {
		p.logger.Debug("Page snapshot failed", logger.Error(err))
	}
	meta := ExtractEventMeta(html)

	var result *domain.FetchResult
	switch {
	case intercepted:
		listings, parseErr := ParseInterceptedListings(payload)
		if parseErr != nil {
			p.logger.Warn("Intercepted payload unparseable",
				logger.String("event_id", eventID), logger.Error(parseErr))
			result = domain.FailedFetchResult(eventID, SourceIntercepted, parseErr)
			break
		}
		result = domain.NewFetchResult(eventID, SourceIntercepted, listings)

	default:
		p.logger.Warn("No listings intercepted, falling back to DOM extraction",
			logger.String("event_id", eventID))
		listings := ExtractListingsFromDOM(html, p.site.Selectors.ListingRow)
		if len(listings) > 0 {
			result = domain.NewFetchResult(eventID, SourceDOM, listings)
		} else {
			result = domain.FailedFetchResult(eventID, SourceNone, ErrInterceptTimeout)
		}
	}

	result.EventName = meta.Name
	result.Venue = meta.Venue
	p.logger.Info("Fetch completed",
		logger.String("event_id", eventID),
		logger.String("source", result.Source),
		logger.Int("listings", len(result.Listings)))
	return result
}

// navigateWithRetry loads the event page, verifying arrival through the
// configured page-identity selector, with bounded retries and backoff.
func (p *Pipeline) navigateWithRetry(tabCtx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= maxNavigateAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * navigateBackoffBase
			select {
			case <-tabCtx.Done():
				return tabCtx.Err()
			case <-time.After(backoff):
			}
		}

		navCtx, cancel := context.WithTimeout(tabCtx, p.browser.Timeout())
		err := chromedp.Run(navCtx, chromedp.Navigate(url))
		if err == nil {
			err = browser.RandomDelay(navCtx,
				time.Duration(p.browser.MinPageDelayMs)*time.Millisecond,
				time.Duration(p.browser.MaxPageDelayMs)*time.Millisecond)
		}
		if err == nil {
			err = p.verifyArrival(navCtx, url)
		}
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Debug("Navigation attempt failed",
			logger.Int("attempt", attempt), logger.Error(err))
	}
	return fmt.Errorf("navigate after %d attempts: %w", maxNavigateAttempts, lastErr)
}

// verifyArrival checks page-identity signals: the configured indicator
// element when one is set, otherwise that the browser did not land on an
// error or blank page.
func (p *Pipeline) verifyArrival(navCtx context.Context, wantURL string) error {
	if sel := p.site.Selectors.PageIndicator; sel != "" {
		var present bool
		script := fmt.Sprintf("document.querySelector(%q) !== null", sel)
		if err := chromedp.Run(navCtx, chromedp.Evaluate(script, &present)); err != nil {
			return fmt.Errorf("probe page indicator: %w", err)
		}
		if present {
			return nil
		}
	}

	var location string
	if err := chromedp.Run(navCtx, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	if location == "about:blank" || strings.Contains(location, "/error") {
		return fmt.Errorf("landed on %q instead of %q", location, wantURL)
	}
	return nil
}

// triggerAndAwait provokes the listings endpoint call and waits for the
// interception signal. The primary trigger is human-like scrolling; the
// fallback is the refresh control, then one full re-navigation recovery
// pass before giving up.
func (p *Pipeline) triggerAndAwait(tabCtx context.Context, payloadCh <-chan []byte, eventURL string) ([]byte, bool) {
	p.scrollTrigger(tabCtx)

	waitCtx, cancel := context.WithTimeout(tabCtx, p.browser.Timeout())
	payload, ok := awaitPayload(waitCtx, payloadCh)
	cancel()
	if ok {
		return payload, true
	}

	// Secondary trigger: the refresh control, when the site has one.
	if sel := p.site.Selectors.RefreshButton; sel != "" {
		if err := chromedp.Run(tabCtx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
			p.logger.Debug("Refresh control not clickable", logger.Error(err))
		} else {
			waitCtx, cancel = context.WithTimeout(tabCtx, p.browser.Timeout())
			payload, ok = awaitPayload(waitCtx, payloadCh)
			cancel()
			if ok {
				return payload, true
			}
		}
	}

	// Recovery pass: re-navigate once and wait again.
	if err := chromedp.Run(tabCtx, chromedp.Navigate(eventURL)); err == nil {
		p.scrollTrigger(tabCtx)
		waitCtx, cancel = context.WithTimeout(tabCtx, p.browser.Timeout())
		payload, ok = awaitPayload(waitCtx, payloadCh)
		cancel()
		if ok {
			return payload, true
		}
	}

	return nil, false
}

// scrollTrigger scrolls the page in human-paced passes; the listings
// endpoint fires when the listing grid enters the viewport.
func (p *Pipeline) scrollTrigger(tabCtx context.Context) {
	for i := 0; i < scrollTriggerPasses; i++ {
		if err := browser.HumanScroll(tabCtx); err != nil {
			return
		}
	}
}

func (p *Pipeline) record(success bool, started time.Time) {
	if p.recorder != nil {
		p.recorder.RecordRequest(success, time.Since(started))
	}
}
