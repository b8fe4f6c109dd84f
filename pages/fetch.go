package pages

import (
	"fmt"
	"log"
	"net/http/cookiejar"
	"strings"
	"time"

	"mikan/parser"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"golang.org/x/net/publicsuffix"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

// Fetcher retrieves chapter pages over plain HTTP so a collaborator can scan
// them for image URLs. It sends browser-like headers and can attach a Cookie
// header obtained from the controlled browser's jar.
type Fetcher struct {
	UserAgent string
	Timeout   time.Duration

	// CookieHeader is applied verbatim to every request when non-empty,
	// typically the serialized jar of the controlled browser tab.
	CookieHeader string
}

// NewFetcher returns a Fetcher with the defaults the rest of the engine uses.
func NewFetcher() *Fetcher {
	return &Fetcher{
		UserAgent: defaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// FetchHTML downloads a page and returns the (decompressed) HTML body.
func (f *Fetcher) FetchHTML(pageURL, referer string) (string, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent()),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(f.timeout())

	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		c.SetCookieJar(jar)
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
		if f.CookieHeader != "" {
			r.Headers.Set("Cookie", f.CookieHeader)
		}
	})

	var body []byte
	var statusCode int
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode

		decompressed, wasCompressed, err := parser.DecompressBody(r.Body, r.Headers.Get("Content-Encoding"))
		if err != nil {
			fetchErr = fmt.Errorf("failed to decompress response: %w", err)
			return
		}
		if wasCompressed {
			log.Printf("[Pages] ✓ Decompressed response: %d → %d bytes", len(r.Body), len(decompressed))
		}
		body = decompressed
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("request failed: %w", err)
	})

	if err := c.Visit(pageURL); err != nil {
		return "", fmt.Errorf("failed to visit URL: %w", err)
	}
	c.Wait()

	if fetchErr != nil {
		return "", fetchErr
	}
	if statusCode != 200 {
		return "", fmt.Errorf("unexpected status code: %d", statusCode)
	}

	return string(body), nil
}

// FetchDocument downloads a page and parses it for scanning.
func (f *Fetcher) FetchDocument(pageURL, referer string) (*goquery.Document, error) {
	html, err := f.FetchHTML(pageURL, referer)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func (f *Fetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return defaultUserAgent
}

func (f *Fetcher) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return 30 * time.Second
}
