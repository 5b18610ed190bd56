package fetch

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// listenForPayload installs a response observer on the tab that fires a
// one-shot signal when a response whose URL contains pattern arrives.
// The first matching response wins; later matches are dropped. The
// returned channel receives at most one body and is never closed, so
// callers must pair it with a timeout.
func listenForPayload(tabCtx context.Context, pattern string) <-chan []byte {
	ch := make(chan []byte, 1)
	var once sync.Once

	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if resp.Response.Status != http.StatusOK || !strings.Contains(resp.Response.URL, pattern) {
			return
		}

		requestID := resp.RequestID
		// The body has to be fetched outside the event callback; the
		// callback runs on the CDP message loop and must not block.
		go func() {
			c := chromedp.FromContext(tabCtx)
			if c == nil {
				return
			}
			body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(tabCtx, c.Target))
			if err != nil || len(body) == 0 {
				return
			}
			once.Do(func() { ch <- body })
		}()
	})

	return ch
}

// awaitPayload waits for the interception signal with a bounded timeout.
func awaitPayload(ctx context.Context, ch <-chan []byte) ([]byte, bool) {
	select {
	case body := <-ch:
		return body, true
	case <-ctx.Done():
		return nil, false
	}
}
