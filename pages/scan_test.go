package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanHTMLPrefersLazyLoadAttributes(t *testing.T) {
	html := `<html><body>
		<img data-src="https://cdn.example.com/real1.png" src="data:image/gif;base64,R0lGOD">
		<img data-lazy-src="https://cdn.example.com/real2.png" src="/placeholder.gif">
		<img src="https://cdn.example.com/real3.png">
	</body></html>`

	urls, err := ScanHTML(html, "https://reader.example.com/ch/1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.com/real1.png",
		"https://cdn.example.com/real2.png",
		"https://cdn.example.com/real3.png",
	}, urls)
}

func TestScanHTMLResolvesRelativeURLs(t *testing.T) {
	html := `<html><body>
		<img src="/images/001.png">
		<img src="002.png">
	</body></html>`

	urls, err := ScanHTML(html, "https://reader.example.com/ch/5/")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://reader.example.com/images/001.png",
		"https://reader.example.com/ch/5/002.png",
	}, urls)
}

func TestScanHTMLSkipsInlineAndScriptSources(t *testing.T) {
	html := `<html><body>
		<img src="data:image/png;base64,AAAA">
		<img src="javascript:void(0)">
		<img src="https://cdn.example.com/ok.png">
	</body></html>`

	urls, err := ScanHTML(html, "https://reader.example.com/")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn.example.com/ok.png"}, urls)
}

func TestScanHTMLReadsSourceSrcset(t *testing.T) {
	html := `<html><body>
		<picture>
			<source srcset="https://cdn.example.com/a.webp 1x, https://cdn.example.com/a@2x.webp 2x">
		</picture>
	</body></html>`

	urls, err := ScanHTML(html, "https://reader.example.com/")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.com/a.webp",
		"https://cdn.example.com/a@2x.webp",
	}, urls)
}

func TestScanHTMLPreservesDocumentOrder(t *testing.T) {
	html := `<html><body>
		<div><img src="https://cdn.example.com/1.png"></div>
		<div><img src="https://cdn.example.com/2.png"></div>
		<div><img src="https://cdn.example.com/3.png"></div>
	</body></html>`

	urls, err := ScanHTML(html, "")
	require.NoError(t, err)
	require.Len(t, urls, 3)

	set := ResolveOrdered(urls, nil, StripQuery)
	assert.Equal(t, []int{1, 2, 3}, set.Indices())
	assert.Equal(t, "https://cdn.example.com/2.png", set.Entries()[1].URL)
}
