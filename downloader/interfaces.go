package downloader

import (
	"context"
	"time"

	"mikan/config"
	"mikan/pages"
	"mikan/parser"

	"github.com/chromedp/cdproto/network"
)

// Tab is the controlled-browser collaborator. The engine never owns page
// navigation or scraping; it only asks the tab for the few cooperative
// operations a download needs. Implementations live in the browser package;
// tests supply fakes.
type Tab interface {
	// Navigate loads a URL and waits for readiness (body, or waitSelector
	// when non-empty).
	Navigate(url, waitSelector string) error

	// Evaluate runs JavaScript in the page and unmarshals the result.
	// A page-side exception surfaces as an error.
	Evaluate(js string, result interface{}) error

	// Cookies returns the serialized Cookie header for a URL from the
	// browser's jar. Failures degrade to an unauthenticated request.
	Cookies(url string) (string, error)
}

// NetworkTab extends Tab with access to the browser's own network stack. Only
// a NetworkTab can read bytes that never traverse a fetch initiated by this
// process (signed cookies, TLS fingerprinting, in-page decryption).
type NetworkTab interface {
	Tab

	// Listen subscribes a handler to the tab's network events
	// (cdproto/network event types). The returned stop function
	// unsubscribes; the subscription is scoped to one capture round.
	Listen(handler func(ev interface{})) (stop func())

	// ResponseBody fetches a finished response's body from the browser's
	// network inspection facility.
	ResponseBody(requestID network.RequestID) ([]byte, error)

	// SetCacheDisabled toggles the browser response cache. Capture disables
	// it for the round so repeat requests actually hit the wire.
	SetCacheDisabled(disabled bool) error
}

// Transport is one strategy for getting missing entries onto disk. The
// orchestrator is written once against this interface and re-invokes the
// transport once per round with the entries still missing.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string

	// Attempt tries to save the given missing entries and returns the page
	// indices it saved. Per-entry failures are not errors: they simply
	// leave the entry missing for the next round. A non-nil error means
	// the whole attempt could not run (e.g. ErrCaptureUnavailable).
	Attempt(ctx context.Context, missing []pages.Entry) ([]int, error)
}

// Strategy selects which transports a session runs.
type Strategy int

const (
	// StrategyAuto runs capture first when the tab supports it, with
	// direct fetch as the fallback.
	StrategyAuto Strategy = iota

	// StrategyDirect skips capture entirely.
	StrategyDirect

	// StrategyCapture never falls back to direct fetch.
	StrategyCapture
)

// Options holds the per-session knobs. Zero values mean defaults.
type Options struct {
	// Referer is the logical unit's URL, sent on every direct fetch.
	Referer string

	// Concurrency sizes the direct-fetch worker pool. Default 1.
	Concurrency int

	// Rounds bounds how many attempt passes a transport gets. Default 3.
	Rounds int

	// RoundDelay is slept between rounds. Default 1.2s.
	RoundDelay time.Duration

	// Retries is the per-request retry budget within a round. Default 2.
	Retries int

	// RetryDelay scales the linear backoff between retries. Default 1s.
	RetryDelay time.Duration

	// Timeout caps each direct fetch. Default 30s.
	Timeout time.Duration

	// CaptureStall ends a capture round after this long without a newly
	// saved page. Default 25s.
	CaptureStall time.Duration

	// RequireComplete turns a partial result into an error.
	RequireComplete bool

	// Strategy selects the transport policy. Default StrategyAuto.
	Strategy Strategy

	// Limiter, when set, paces every outbound fetch and page poke. Shared
	// across sessions that target the same origin.
	Limiter *parser.RateLimiter

	// ConvertToJPEG re-encodes every saved page as JPEG.
	ConvertToJPEG bool

	// UserAgent overrides the browser-like default.
	UserAgent string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Rounds < 1 {
		o.Rounds = 3
	}
	if o.RoundDelay <= 0 {
		o.RoundDelay = 1200 * time.Millisecond
	}
	if o.Retries < 0 {
		o.Retries = 0
	} else if o.Retries == 0 {
		o.Retries = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.CaptureStall <= 0 {
		o.CaptureStall = 25 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// OptionsFromSettings maps persisted user settings onto session options.
// Zero-valued settings fall through to the option defaults.
func OptionsFromSettings(s config.Settings) Options {
	opts := Options{
		Concurrency:     s.Concurrency,
		Rounds:          s.Rounds,
		RoundDelay:      time.Duration(s.RoundDelayMs) * time.Millisecond,
		Retries:         s.Retries,
		RetryDelay:      time.Duration(s.RetryDelayMs) * time.Millisecond,
		Timeout:         time.Duration(s.TimeoutSeconds) * time.Second,
		RequireComplete: s.RequireComplete,
		ConvertToJPEG:   s.ConvertToJPEG,
	}
	if s.RequestsPerMinute > 0 {
		opts.Limiter = parser.NewRateLimiter(s.RequestsPerMinute)
	}
	return opts
}

// Result summarizes one logical unit's download.
type Result struct {
	Saved        int
	Total        int
	Missing      int
	MissingPages []int
	Complete     bool
}
