package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"mikan/config"
	"mikan/pages"
	"mikan/parser"
)

// DirectFetchTransport downloads entry bytes itself over authenticated HTTP.
// It is independent of the controlled browser except for cookie lookup: each
// request carries a browser-like header set plus whatever Cookie header the
// tab's jar returns for the entry URL.
type DirectFetchTransport struct {
	tab     Tab // may be nil: requests go out unauthenticated
	saveDir string
	opts    Options
	client  *http.Client
}

// NewDirectFetchTransport creates the direct transport for one save directory.
func NewDirectFetchTransport(tab Tab, saveDir string, opts Options) *DirectFetchTransport {
	opts = opts.withDefaults()

	// Expand ~ once here so the write path and the disk scans agree on the
	// same directory.
	if expanded, err := parser.ExpandPath(saveDir); err == nil {
		saveDir = expanded
	}

	return &DirectFetchTransport{
		tab:     tab,
		saveDir: saveDir,
		opts:    opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// Name implements Transport.
func (t *DirectFetchTransport) Name() string { return "direct" }

// Attempt runs one round: a bounded worker pool pulls from the missing list,
// fetches each entry with retry/backoff, and persists successes under their
// page index. Per-entry failures are logged and left for the next round.
func (t *DirectFetchTransport) Attempt(ctx context.Context, missing []pages.Entry) ([]int, error) {
	if len(missing) == 0 {
		return nil, nil
	}

	workers := t.opts.Concurrency
	if workers > len(missing) {
		workers = len(missing)
	}

	var mu sync.Mutex
	var saved []int

	jobs := make(chan pages.Entry)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for entry := range jobs {
			if err := t.fetchEntry(ctx, entry); err != nil {
				log.Printf("[Fetcher] Page %d failed, leaving for next round: %v", entry.Index, err)
				continue
			}
			mu.Lock()
			saved = append(saved, entry.Index)
			mu.Unlock()
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}

	for _, entry := range missing {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return saved, ctx.Err()
		case jobs <- entry:
		}
	}

	close(jobs)
	wg.Wait()

	log.Printf("[Fetcher] Round complete: %d/%d pages saved", len(saved), len(missing))
	return saved, nil
}

// fetchEntry downloads one entry with retry and linear backoff. Retryable
// failures (timeout, reset, DNS, 429/5xx) consume the retry budget; permanent
// ones (404, placeholder, redirect loop) return immediately.
func (t *DirectFetchTransport) fetchEntry(ctx context.Context, entry pages.Entry) error {
	var lastErr error

	for attempt := 0; attempt <= t.opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := t.opts.RetryDelay * time.Duration(attempt)
			log.Printf("[Fetcher] Retry %d/%d for page %d after %v", attempt, t.opts.Retries, entry.Index, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := t.fetchOnce(ctx, entry)
		if err == nil {
			if attempt > 0 {
				log.Printf("[Fetcher] ✓ Page %d succeeded after %d retries", entry.Index, attempt)
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("failed after %d retries: %w", t.opts.Retries, lastErr)
}

// fetchOnce performs a single HTTP attempt for one entry.
func (t *DirectFetchTransport) fetchOnce(ctx context.Context, entry pages.Entry) error {
	// Another worker (or the capture transport) may have landed this index
	// since the round's missing list was built.
	if parser.IsPageSaved(t.saveDir, entry.Index) {
		return nil
	}

	if t.opts.Limiter != nil {
		t.opts.Limiter.Hit("fetch")
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.opts.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// Only advertise encodings DecompressBody can actually undo.
	req.Header.Set("Accept-Encoding", "gzip, br")
	if t.opts.Referer != "" {
		req.Header.Set("Referer", t.opts.Referer)
	}

	cookieLen := 0
	if t.tab != nil {
		if cookie, err := t.tab.Cookies(entry.URL); err != nil {
			log.Printf("[Fetcher] Cookie lookup failed for page %d, going unauthenticated: %v", entry.Index, err)
		} else if cookie != "" {
			req.Header.Set("Cookie", cookie)
			cookieLen = len(cookie)
		}
	}

	config.LogRequest(entry.URL, t.opts.UserAgent, cookieLen)

	resp, err := t.client.Do(req)
	if err != nil {
		config.LogDownloadError("direct fetch", entry.URL, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &statusError{code: resp.StatusCode}
		config.LogDownloadError("direct fetch", entry.URL, statusErr)
		return statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	body, wasCompressed, err := parser.DecompressBody(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return fmt.Errorf("failed to decompress response: %w", err)
	}
	if wasCompressed {
		log.Printf("[Fetcher] ✓ Decompressed page %d response", entry.Index)
	}

	config.LogResponse(entry.URL, resp.StatusCode, len(body), resp.Header.Get("Content-Type"))

	if len(body) == 0 {
		return errors.New("empty response body")
	}

	ext := resolveExtension(resp.Header.Get("Content-Type"), entry.URL, body)
	if ext == "" {
		return errors.New("could not determine image format")
	}
	if parser.IsPlaceholderExtension(ext) || parser.IsPlaceholderBody(body) {
		return errPlaceholder
	}

	written, err := writePage(t.saveDir, entry.Index, body, ext, t.opts.ConvertToJPEG)
	if err != nil {
		return fmt.Errorf("failed to write page %d: %w", entry.Index, err)
	}
	if written {
		log.Printf("[Fetcher] ✓ Saved page %d (%d bytes, %s)", entry.Index, len(body), ext)
		config.LogPageSaved(entry.Index, parser.PagePath(t.saveDir, entry.Index, savedExtension(ext, t.opts.ConvertToJPEG)), len(body))
	}
	return nil
}

// savedExtension is the extension a page actually lands under, accounting for
// JPEG conversion.
func savedExtension(ext string, convertJPEG bool) string {
	if convertJPEG {
		return ".jpg"
	}
	return ext
}

// resolveExtension determines the file extension for a response: content-type
// first, then URL suffix pattern, then magic bytes.
func resolveExtension(contentType, url string, body []byte) string {
	if ext := parser.ExtensionForContentType(contentType); ext != "" {
		return ext
	}
	if ext := parser.ExtensionFromURL(url); ext != "" {
		return ext
	}
	format, err := parser.DetectImageFormat(body)
	if err != nil {
		return ""
	}
	switch format {
	case "jpeg":
		return ".jpg"
	default:
		return "." + format
	}
}

// writePage persists one page's bytes, re-checking existence immediately
// before the write so racing workers never touch a saved index twice.
func writePage(dir string, index int, body []byte, ext string, convertJPEG bool) (bool, error) {
	if parser.IsPageSaved(dir, index) {
		return false, nil
	}
	if convertJPEG {
		return true, parser.ConvertImageToJPEG(body, parser.PagePath(dir, index, ".jpg"))
	}
	return true, os.WriteFile(parser.PagePath(dir, index, ext), body, 0644)
}

// statusError carries a non-200 response code through the retry classifier.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// isRetryable classifies a fetch failure. Timeouts, connection resets, DNS
// failures and 429/5xx responses are worth retrying within the round;
// everything else waits for the next round or the alternate transport.
func isRetryable(err error) bool {
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
	}

	if errors.Is(err, errPlaceholder) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "Client.Timeout exceeded") ||
		strings.Contains(msg, "context deadline exceeded")
}
