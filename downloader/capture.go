package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"mikan/config"
	"mikan/pages"
	"mikan/parser"

	"github.com/chromedp/cdproto/network"
)

// CaptureTransport saves entries by watching the controlled browser's own
// network traffic instead of fetching anything itself. Observed responses are
// matched against still-missing entries by exact or normalized URL, and the
// bodies are pulled out of the browser's network stack once loading finishes.
// Because the browser only emits events for requests it actually issues, each
// round provokes demand by injecting eager-loading image elements for the
// missing URLs into the page.
type CaptureTransport struct {
	tab     NetworkTab
	set     *pages.Set
	saveDir string
	opts    Options
}

// NewCaptureTransport creates the capture transport. The full entry set is
// needed for URL matching; the per-round missing subset arrives via Attempt.
func NewCaptureTransport(tab NetworkTab, set *pages.Set, saveDir string, opts Options) *CaptureTransport {
	if expanded, err := parser.ExpandPath(saveDir); err == nil {
		saveDir = expanded
	}

	return &CaptureTransport{
		tab:     tab,
		set:     set,
		saveDir: saveDir,
		opts:    opts.withDefaults(),
	}
}

// Name implements Transport.
func (t *CaptureTransport) Name() string { return "capture" }

// Attempt runs one capture round: subscribe to network events, provoke the
// page into (re)requesting the missing URLs, then poll disk state until every
// entry is present or nothing new has landed for the stall window. Listener
// and cache state are released on every exit path.
func (t *CaptureTransport) Attempt(ctx context.Context, missing []pages.Entry) ([]int, error) {
	if t.tab == nil {
		return nil, ErrCaptureUnavailable
	}
	if len(missing) == 0 {
		return nil, nil
	}

	wanted := make(map[int]struct{}, len(missing))
	for _, e := range missing {
		wanted[e.Index] = struct{}{}
	}

	// Cached responses never reach the wire, so no events fire for them.
	if err := t.tab.SetCacheDisabled(true); err != nil {
		log.Printf("[Capture] Could not disable browser cache: %v", err)
	}
	defer func() {
		if err := t.tab.SetCacheDisabled(false); err != nil {
			log.Printf("[Capture] Could not re-enable browser cache: %v", err)
		}
	}()

	type pendingResponse struct {
		entries  []pages.Entry
		mimeType string
		url      string
	}

	var mu sync.Mutex
	pending := make(map[network.RequestID]pendingResponse)

	stop := t.tab.Listen(func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			matched := t.matchMissing(ev.Response.URL, wanted)
			if len(matched) == 0 {
				return
			}
			mu.Lock()
			pending[ev.RequestID] = pendingResponse{
				entries:  matched,
				mimeType: ev.Response.MimeType,
				url:      ev.Response.URL,
			}
			mu.Unlock()

		case *network.EventLoadingFinished:
			mu.Lock()
			resp, ok := pending[ev.RequestID]
			delete(pending, ev.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// Body fetch goes back through the browser; never block the
			// event dispatch goroutine.
			go t.harvest(ev.RequestID, resp.url, resp.mimeType, resp.entries)
		}
	})
	defer stop()

	if err := t.provoke(missing); err != nil {
		log.Printf("[Capture] Preload injection failed, aborting round: %v", err)
		return t.savedFromDisk(wanted), nil
	}

	t.waitForPages(ctx, wanted)

	saved := t.savedFromDisk(wanted)
	log.Printf("[Capture] Round complete: %d/%d pages saved", len(saved), len(missing))
	return saved, nil
}

// matchMissing returns the still-missing entries whose URL matches the
// observed response URL, exactly or by normalized form.
func (t *CaptureTransport) matchMissing(url string, wanted map[int]struct{}) []pages.Entry {
	var matched []pages.Entry
	for _, entry := range t.set.Match(url) {
		if _, want := wanted[entry.Index]; want {
			matched = append(matched, entry)
		}
	}
	return matched
}

// harvest pulls a finished response's body out of the browser and persists it
// for every entry the response satisfies.
func (t *CaptureTransport) harvest(id network.RequestID, url, mimeType string, entries []pages.Entry) {
	body, err := t.tab.ResponseBody(id)
	if err != nil {
		log.Printf("[Capture] Failed to read response body for %s: %v", url, err)
		config.LogDownloadError("capture", url, err)
		return
	}
	if len(body) == 0 {
		log.Printf("[Capture] Empty response body for %s, skipping", url)
		return
	}

	ext := resolveExtension(mimeType, url, body)
	if ext == "" {
		log.Printf("[Capture] Could not determine image format for %s, skipping", url)
		return
	}
	if parser.IsPlaceholderExtension(ext) || parser.IsPlaceholderBody(body) {
		log.Printf("[Capture] Placeholder response for %s, skipping", url)
		return
	}

	for _, entry := range entries {
		written, err := writePage(t.saveDir, entry.Index, body, ext, t.opts.ConvertToJPEG)
		if err != nil {
			log.Printf("[Capture] Failed to write page %d: %v", entry.Index, err)
			continue
		}
		if written {
			log.Printf("[Capture] ✓ Saved page %d (%d bytes, %s)", entry.Index, len(body), ext)
			config.LogPageSaved(entry.Index, parser.PagePath(t.saveDir, entry.Index, savedExtension(ext, t.opts.ConvertToJPEG)), len(body))
		}
	}
}

// provoke instructs the page to (re)request the missing URLs: lazy-load
// attributes are flipped to eager, then a detached Image element is created
// for each missing URL.
func (t *CaptureTransport) provoke(missing []pages.Entry) error {
	urls := make([]string, 0, len(missing))
	for _, e := range missing {
		urls = append(urls, e.URL)
	}

	encoded, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to encode URL list: %w", err)
	}

	js := fmt.Sprintf(`(function(urls) {
		document.querySelectorAll('img[loading="lazy"]').forEach(function(img) {
			img.loading = 'eager';
		});
		for (const u of urls) {
			const img = new Image();
			img.loading = 'eager';
			img.decoding = 'async';
			img.src = u;
		}
		return urls.length;
	})(%s)`, encoded)

	if t.opts.Limiter != nil {
		t.opts.Limiter.Hit("capture-preload")
	}

	var injected int
	if err := t.tab.Evaluate(js, &injected); err != nil {
		return err
	}

	log.Printf("[Capture] Injected %d preload requests", injected)
	return nil
}

// waitForPages polls disk state until all wanted indices are present or no
// new page has been saved for longer than the stall window.
func (t *CaptureTransport) waitForPages(ctx context.Context, wanted map[int]struct{}) {
	const pollInterval = 500 * time.Millisecond

	lastCount := 0
	lastProgress := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		count := len(t.savedFromDisk(wanted))
		if count >= len(wanted) {
			return
		}
		if count > lastCount {
			lastCount = count
			lastProgress = time.Now()
			continue
		}
		if time.Since(lastProgress) > t.opts.CaptureStall {
			log.Printf("[Capture] No new pages for %v, ending round (%d/%d)",
				t.opts.CaptureStall, count, len(wanted))
			return
		}
	}
}

// savedFromDisk re-queries the directory for which wanted indices exist.
// Disk is the ground truth; no in-memory ledger is trusted.
func (t *CaptureTransport) savedFromDisk(wanted map[int]struct{}) []int {
	onDisk, err := parser.SavedPages(t.saveDir)
	if err != nil {
		log.Printf("[Capture] Failed to scan save directory: %v", err)
		return nil
	}

	var saved []int
	for index := range wanted {
		if _, ok := onDisk[index]; ok {
			saved = append(saved, index)
		}
	}
	return saved
}
