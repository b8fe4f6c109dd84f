package pages

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// srcAttributes are checked in order on each img element. Lazy-loading themes
// park the real URL in a data attribute and point src at a placeholder.
var srcAttributes = []string{"data-src", "data-lazy-src", "data-original", "src"}

// ScanDocument extracts an ordered list of candidate image URLs from a chapter
// page document. It is deliberately site-agnostic: it walks every img element
// (and source srcset entries) in document order, resolves relative URLs
// against baseURL, and leaves acceptance filtering to the resolver's predicate.
//
// The returned list is what a site collaborator would hand to ResolveOrdered.
func ScanDocument(doc *goquery.Document, baseURL string) []string {
	var urls []string

	base, baseErr := url.Parse(baseURL)

	resolve := func(raw string) string {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
			return ""
		}
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		if u.IsAbs() || baseErr != nil {
			return u.String()
		}
		return base.ResolveReference(u).String()
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range srcAttributes {
			if v, ok := img.Attr(attr); ok {
				if resolved := resolve(v); resolved != "" {
					urls = append(urls, resolved)
					return
				}
			}
		}
	})

	doc.Find("source[srcset]").Each(func(_ int, src *goquery.Selection) {
		ss, _ := src.Attr("srcset")
		for _, part := range strings.Split(ss, ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) == 0 {
				continue
			}
			if resolved := resolve(fields[0]); resolved != "" {
				urls = append(urls, resolved)
			}
		}
	})

	return urls
}

// ScanHTML is a convenience wrapper around ScanDocument for raw HTML.
func ScanHTML(html, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return ScanDocument(doc, baseURL), nil
}
