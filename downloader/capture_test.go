package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mikan/pages"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetworkTab replays scripted network events when the transport injects
// its preload script, mimicking a page that re-requests the missing images.
type fakeNetworkTab struct {
	mu        sync.Mutex
	handler   func(ev interface{})
	responses []*network.EventResponseReceived
	bodies    map[network.RequestID][]byte
	evalErr   error

	cacheCalls []bool
	stopped    bool
}

func (f *fakeNetworkTab) Navigate(url, waitSelector string) error { return nil }

func (f *fakeNetworkTab) Evaluate(js string, result interface{}) error {
	if f.evalErr != nil {
		return f.evalErr
	}

	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		for _, resp := range f.responses {
			handler(resp)
			handler(&network.EventLoadingFinished{RequestID: resp.RequestID})
		}
	}

	if n, ok := result.(*int); ok {
		*n = len(f.responses)
	}
	return nil
}

func (f *fakeNetworkTab) Cookies(url string) (string, error) { return "", nil }

func (f *fakeNetworkTab) Listen(handler func(ev interface{})) (stop func()) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.stopped = true
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *fakeNetworkTab) ResponseBody(requestID network.RequestID) ([]byte, error) {
	body, ok := f.bodies[requestID]
	if !ok {
		return nil, errors.New("no body for request")
	}
	return body, nil
}

func (f *fakeNetworkTab) SetCacheDisabled(disabled bool) error {
	f.mu.Lock()
	f.cacheCalls = append(f.cacheCalls, disabled)
	f.mu.Unlock()
	return nil
}

func responseEvent(id, url, mimeType string) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: network.RequestID(id),
		Response:  &network.Response{URL: url, MimeType: mimeType},
	}
}

func captureOpts() Options {
	return Options{CaptureStall: 100 * time.Millisecond}
}

func TestCaptureSavesMatchingResponses(t *testing.T) {
	set := pages.ResolveOrdered([]string{
		"https://cdn.example.com/1.png",
		"https://cdn.example.com/2.png",
	}, nil, pages.StripQuery)

	tab := &fakeNetworkTab{
		responses: []*network.EventResponseReceived{
			responseEvent("r1", "https://cdn.example.com/1.png", "image/png"),
			responseEvent("r2", "https://cdn.example.com/2.png", "image/png"),
		},
		bodies: map[network.RequestID][]byte{
			"r1": pngBody,
			"r2": pngBody,
		},
	}

	dir := t.TempDir()
	tr := NewCaptureTransport(tab, set, dir, captureOpts())

	saved, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 2}, saved)
	assert.FileExists(t, filepath.Join(dir, "001.png"))
	assert.FileExists(t, filepath.Join(dir, "002.png"))
}

func TestCaptureMatchesNormalizedURL(t *testing.T) {
	set := pages.ResolveOrdered([]string{
		"https://cdn.example.com/1.png?token=old",
	}, nil, pages.StripQuery)

	// The page re-requests the asset with a fresh signing token.
	tab := &fakeNetworkTab{
		responses: []*network.EventResponseReceived{
			responseEvent("r1", "https://cdn.example.com/1.png?token=new", "image/png"),
		},
		bodies: map[network.RequestID][]byte{"r1": pngBody},
	}

	dir := t.TempDir()
	tr := NewCaptureTransport(tab, set, dir, captureOpts())

	saved, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, saved)
	assert.FileExists(t, filepath.Join(dir, "001.png"))
}

func TestCaptureIgnoresUnrelatedResponses(t *testing.T) {
	set := pages.ResolveOrdered([]string{
		"https://cdn.example.com/1.png",
	}, nil, pages.StripQuery)

	tab := &fakeNetworkTab{
		responses: []*network.EventResponseReceived{
			responseEvent("r1", "https://ads.example.com/banner.png", "image/png"),
			responseEvent("r2", "https://cdn.example.com/1.png", "image/png"),
		},
		bodies: map[network.RequestID][]byte{
			"r1": pngBody,
			"r2": pngBody,
		},
	}

	dir := t.TempDir()
	tr := NewCaptureTransport(tab, set, dir, captureOpts())

	saved, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, saved)
	assert.NoFileExists(t, filepath.Join(dir, "002.png"))
}

func TestCaptureRejectsPlaceholderBody(t *testing.T) {
	set := pages.ResolveOrdered([]string{
		"https://cdn.example.com/1.png",
	}, nil, pages.StripQuery)

	tab := &fakeNetworkTab{
		responses: []*network.EventResponseReceived{
			responseEvent("r1", "https://cdn.example.com/1.png", "image/png"),
		},
		// The CDN answered with a loader gif despite the content-type.
		bodies: map[network.RequestID][]byte{"r1": gifBody},
	}

	tr := NewCaptureTransport(tab, set, t.TempDir(), captureOpts())

	saved, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestCaptureNilTabIsUnavailable(t *testing.T) {
	set := pages.ResolveOrdered([]string{"https://cdn.example.com/1.png"}, nil, nil)
	tr := NewCaptureTransport(nil, set, t.TempDir(), captureOpts())

	_, err := tr.Attempt(context.Background(), set.Entries())
	assert.ErrorIs(t, err, ErrCaptureUnavailable)
}

func TestCaptureEvaluateFailureEndsRoundWithoutError(t *testing.T) {
	set := pages.ResolveOrdered([]string{"https://cdn.example.com/1.png"}, nil, nil)
	tab := &fakeNetworkTab{evalErr: errors.New("execution context destroyed")}

	tr := NewCaptureTransport(tab, set, t.TempDir(), captureOpts())

	saved, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestCaptureCleansUpListenerAndCache(t *testing.T) {
	set := pages.ResolveOrdered([]string{"https://cdn.example.com/1.png"}, nil, nil)
	tab := &fakeNetworkTab{
		responses: []*network.EventResponseReceived{
			responseEvent("r1", "https://cdn.example.com/1.png", "image/png"),
		},
		bodies: map[network.RequestID][]byte{"r1": pngBody},
	}

	tr := NewCaptureTransport(tab, set, t.TempDir(), captureOpts())

	_, err := tr.Attempt(context.Background(), set.Entries())
	require.NoError(t, err)

	assert.True(t, tab.stopped)
	assert.Equal(t, []bool{true, false}, tab.cacheCalls)
}
