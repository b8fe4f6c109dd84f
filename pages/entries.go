package pages

import (
	"sort"
	"strings"
)

// Entry associates one page index with the source URL it must be downloaded from.
// Entries are immutable once resolved; within one Set every index is unique.
type Entry struct {
	URL   string
	Index int
}

// IndexedURL is the explicit input form for ResolveIndexed, used when the
// collaborator already knows which page index each URL belongs to.
type IndexedURL struct {
	URL   string
	Index int
}

// AcceptFunc decides whether a candidate URL belongs to the entry set at all.
// A nil AcceptFunc accepts everything.
type AcceptFunc func(url string) bool

// NormalizeFunc reduces a URL to a site-dependent canonical form, typically by
// stripping the query string and fragment. A nil NormalizeFunc disables the
// normalized lookup map.
type NormalizeFunc func(url string) string

// Set is an ordered, read-only collection of entries with two lookup maps:
// exact URL and normalized URL. It is built once by the resolver and only
// queried during a download.
type Set struct {
	entries []Entry

	byExact map[string][]Entry
	byNorm  map[string][]Entry

	normalize NormalizeFunc
}

// ResolveOrdered builds a Set from an ordered URL list. Page indices are
// assigned by position of first occurrence among accepted, non-empty URLs,
// starting at 1. Duplicate URLs (case-insensitive exact match) collapse to the
// first index they appeared at.
func ResolveOrdered(urls []string, accept AcceptFunc, normalize NormalizeFunc) *Set {
	set := newSet(normalize)

	seen := make(map[string]struct{}, len(urls))
	index := 0

	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if accept != nil && !accept(u) {
			continue
		}

		key := strings.ToLower(u)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		index++
		set.add(Entry{URL: u, Index: index})
	}

	set.finish()
	return set
}

// ResolveIndexed builds a Set from explicit url+index pairs. Entries with a
// duplicate index, a rejected URL, an empty URL, or a non-positive index are
// dropped; the first entry wins a contested index.
func ResolveIndexed(items []IndexedURL, accept AcceptFunc, normalize NormalizeFunc) *Set {
	set := newSet(normalize)

	taken := make(map[int]struct{}, len(items))

	for _, it := range items {
		u := strings.TrimSpace(it.URL)
		if u == "" || it.Index < 1 {
			continue
		}
		if accept != nil && !accept(u) {
			continue
		}
		if _, dup := taken[it.Index]; dup {
			continue
		}
		taken[it.Index] = struct{}{}

		set.add(Entry{URL: u, Index: it.Index})
	}

	set.finish()
	return set
}

func newSet(normalize NormalizeFunc) *Set {
	return &Set{
		byExact:   make(map[string][]Entry),
		byNorm:    make(map[string][]Entry),
		normalize: normalize,
	}
}

func (s *Set) add(e Entry) {
	s.entries = append(s.entries, e)
	s.byExact[e.URL] = append(s.byExact[e.URL], e)
}

// finish sorts the entries by ascending index and builds the normalized lookup
// map. A normalized key that maps back to more than one distinct original URL
// is ambiguous and removed: such entries can only be matched by exact URL.
func (s *Set) finish() {
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].Index < s.entries[j].Index
	})

	if s.normalize == nil {
		return
	}

	origins := make(map[string]string)
	ambiguous := make(map[string]struct{})

	for _, e := range s.entries {
		key := s.normalize(e.URL)
		if key == "" {
			continue
		}

		if orig, ok := origins[key]; ok && orig != e.URL {
			ambiguous[key] = struct{}{}
			continue
		}
		origins[key] = e.URL
		s.byNorm[key] = append(s.byNorm[key], e)
	}

	for key := range ambiguous {
		delete(s.byNorm, key)
	}
}

// Len returns the number of entries in the set.
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries returns the entries in ascending page-index order.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Indices returns the page indices in ascending order.
func (s *Set) Indices() []int {
	out := make([]int, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Index
	}
	return out
}

// MatchExact returns the entries whose source URL is exactly url.
func (s *Set) MatchExact(url string) []Entry {
	return s.byExact[url]
}

// MatchNormalized returns the entries whose normalized source URL equals the
// normalized form of url. It returns nil when no normalizer is configured, the
// key is unknown, or the key was dropped as ambiguous.
func (s *Set) MatchNormalized(url string) []Entry {
	if s.normalize == nil {
		return nil
	}
	key := s.normalize(url)
	if key == "" {
		return nil
	}
	return s.byNorm[key]
}

// Match tries an exact URL match first and falls back to the normalized map.
func (s *Set) Match(url string) []Entry {
	if found := s.byExact[url]; len(found) > 0 {
		return found
	}
	return s.MatchNormalized(url)
}

// StripQuery is the common NormalizeFunc: it removes the query string and
// fragment from a URL, leaving scheme, host and path.
func StripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
