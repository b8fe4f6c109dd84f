package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"mikan/downloader"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Tab manages a chromedp browser context for one domain. It satisfies the
// download engine's tab contract: navigation, JavaScript evaluation, cookie
// lookup, and raw access to the browser's network stack.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	domain  string
	cookies []*network.CookieParam
}

var _ downloader.NetworkTab = (*Tab)(nil)

// NewTab launches a headless browser tab. The domain is only used for log
// prefixes; cookies injected later decide what the tab is authenticated for.
func NewTab(ctx context.Context, domain string) (*Tab, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser process and enable network domain events up front so
	// every later call sees a live tab.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Tab{
		ctx:    browserCtx,
		cancel: func() { cancelBrowser(); cancelAlloc() },
		domain: domain,
	}, nil
}

// InjectCookies stores session cookies to be set before every navigation,
// e.g. an authenticated session exported from a real browser.
func (t *Tab) InjectCookies(cookies []*network.CookieParam) {
	t.cookies = cookies
	log.Printf("[Browser:%s] ✓ Loaded %d cookies (will inject on navigation)", t.domain, len(cookies))
}

// Navigate loads a URL and waits for readiness. With a waitSelector the tab
// waits for that element to become visible, otherwise for the body.
func (t *Tab) Navigate(url, waitSelector string) error {
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()

	var tasks []chromedp.Action

	if len(t.cookies) > 0 {
		log.Printf("[Browser:%s] Injecting %d cookies before navigation", t.domain, len(t.cookies))
		cookies := t.cookies
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(cookies).Do(ctx)
		}))
	}

	tasks = append(tasks, chromedp.Navigate(url))
	if waitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	} else {
		tasks = append(tasks, chromedp.WaitReady("body"))
	}

	if err := chromedp.Run(ctx, tasks...); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	log.Printf("[Browser:%s] ✓ Navigation successful", t.domain)
	return nil
}

// Evaluate runs JavaScript in the page and unmarshals the result.
func (t *Tab) Evaluate(js string, res interface{}) error {
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()

	return chromedp.Run(ctx, chromedp.Evaluate(js, res))
}

// Cookies returns the serialized Cookie header the browser would send to the
// given URL.
func (t *Tab) Cookies(url string) (string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithUrls([]string{url}).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to get cookies: %w", err)
	}

	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; "), nil
}

// Listen subscribes a handler to the tab's network events. The returned stop
// function unsubscribes by cancelling the listener's derived context; the
// browser tab itself stays alive.
func (t *Tab) Listen(handler func(ev interface{})) (stop func()) {
	listenCtx, cancel := context.WithCancel(t.ctx)
	chromedp.ListenTarget(listenCtx, handler)
	return cancel
}

// ResponseBody fetches a finished response's body from the browser.
func (t *Tab) ResponseBody(requestID network.RequestID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()

	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get response body: %w", err)
	}
	return body, nil
}

// SetCacheDisabled toggles the browser response cache.
func (t *Tab) SetCacheDisabled(disabled bool) error {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	return chromedp.Run(ctx, network.SetCacheDisabled(disabled))
}

// HTML returns the current page's outer HTML.
func (t *Tab) HTML() (string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	var html string
	err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html))
	return html, err
}

// Close shuts the browser down.
func (t *Tab) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}
