package downloader

import (
	"errors"
	"fmt"
)

// ErrCaptureUnavailable signals that no browser network-event channel is
// attached, so the capture transport cannot run at all. The session degrades
// transparently to direct fetch when it sees this.
var ErrCaptureUnavailable = errors.New("no network event channel attached")

// IncompleteError is returned when completeness is mandatory and the round
// budget ran out with entries still missing. It carries the same counts a
// partial result would.
type IncompleteError struct {
	Saved        int
	Total        int
	MissingPages []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("download incomplete: saved %d/%d pages, missing %v",
		e.Saved, e.Total, e.MissingPages)
}

// errPlaceholder marks a response that resolved to a loader placeholder
// (gif/svg) instead of real page content. Permanent for the current
// transport; the alternate transport may still succeed.
var errPlaceholder = errors.New("placeholder response, not page content")
