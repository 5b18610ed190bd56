package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript runs before any page script and masks the fingerprint
// surface that headless Chrome exposes to bot-detection checks.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({ state: Notification.permission })
    : originalQuery(parameters)
);
`

// userAgents is the rotation set for new sessions.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// randomUserAgent picks one user agent from the rotation set.
func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// installStealth registers the fingerprint-masking script to run on every
// new document in the session.
func installStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}

// RandomDelay sleeps for a random duration in [min, max], honoring ctx
// cancellation. It paces page interactions to a human scale.
func RandomDelay(ctx context.Context, min, max time.Duration) error {
	if max < min {
		min, max = max, min
	}
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HumanScroll scrolls the page in a few uneven steps the way a reader would.
func HumanScroll(ctx context.Context) error {
	steps := 2 + rand.Intn(3)
	for i := 0; i < steps; i++ {
		distance := 200 + rand.Intn(500)
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(scrollByScript(distance), nil),
		); err != nil {
			return err
		}
		if err := RandomDelay(ctx, 200*time.Millisecond, 800*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func scrollByScript(distance int) string {
	return fmt.Sprintf("window.scrollBy({ top: %d, behavior: 'smooth' });", distance)
}
