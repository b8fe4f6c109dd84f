package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"mikan/pages"
	"mikan/parser"
)

// Session drives one logical unit's download to completion. It owns no fetch
// mechanics itself: each configured transport is given up to Rounds passes
// over whatever entries the save directory still lacks, with the directory
// itself as the only progress ledger. Re-running a session over a partially
// populated directory resumes instead of re-downloading.
type Session struct {
	set        *pages.Set
	saveDir    string
	opts       Options
	transports []Transport
}

// NewSession creates a session over an ordered entry set. Transports run in
// the order given; a later transport only sees entries the earlier ones left
// missing.
func NewSession(set *pages.Set, saveDir string, opts Options, transports ...Transport) *Session {
	if expanded, err := parser.ExpandPath(saveDir); err == nil {
		saveDir = expanded
	}

	return &Session{
		set:        set,
		saveDir:    saveDir,
		opts:       opts.withDefaults(),
		transports: transports,
	}
}

// Run executes the session and reports the final completeness state. When
// RequireComplete is set a partial outcome is returned as an *IncompleteError
// alongside the result; otherwise a partial result is not an error.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	total := s.set.Len()
	if total == 0 {
		log.Printf("[Session] No pages to download")
		return &Result{Complete: true}, nil
	}

	if err := os.MkdirAll(s.saveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	missing, err := s.missingEntries()
	if err != nil {
		return nil, err
	}
	if resumed := total - len(missing); resumed > 0 {
		log.Printf("[Session] Resuming: %d/%d pages already on disk", resumed, total)
	}

	for i, transport := range s.transports {
		if len(missing) == 0 {
			break
		}

		err := s.runTransport(ctx, transport)
		if errors.Is(err, ErrCaptureUnavailable) {
			log.Printf("[Session] %s transport unavailable, trying next", transport.Name())
			continue
		}
		if err != nil {
			return s.result(), err
		}

		missing, err = s.missingEntries()
		if err != nil {
			return nil, err
		}
		if len(missing) == 0 {
			break
		}

		log.Printf("[Session] ⚠️ %s transport left %d pages missing", transport.Name(), len(missing))

		// With completeness mandatory a transport that ran but fell short
		// is a hard failure; quietly degrading to the next transport would
		// mask whatever blocked it.
		if s.opts.RequireComplete && i < len(s.transports)-1 {
			break
		}
	}

	res := s.result()
	log.Printf("[Session] Finished: %d/%d pages saved", res.Saved, res.Total)

	if s.opts.RequireComplete && !res.Complete {
		return res, &IncompleteError{
			Saved:        res.Saved,
			Total:        res.Total,
			MissingPages: res.MissingPages,
		}
	}
	return res, nil
}

// runTransport gives one transport its round budget. Each round re-derives
// the missing list from disk, so pages landed by any path (a racing worker,
// an earlier transport, a previous process) are never re-fetched.
func (s *Session) runTransport(ctx context.Context, transport Transport) error {
	for round := 1; round <= s.opts.Rounds; round++ {
		missing, err := s.missingEntries()
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			return nil
		}

		if round > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.RoundDelay):
			}
		}

		log.Printf("[Session] %s round %d/%d: %d pages missing",
			transport.Name(), round, s.opts.Rounds, len(missing))

		saved, err := transport.Attempt(ctx, missing)
		if err != nil {
			return err
		}
		if len(saved) == len(missing) {
			return nil
		}
	}
	return nil
}

// missingEntries returns the entries whose page index is absent from the save
// directory, in index order.
func (s *Session) missingEntries() ([]pages.Entry, error) {
	onDisk, err := parser.SavedPages(s.saveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan save directory: %w", err)
	}

	var missing []pages.Entry
	for _, entry := range s.set.Entries() {
		if _, ok := onDisk[entry.Index]; !ok {
			missing = append(missing, entry)
		}
	}
	return missing, nil
}

// result summarizes the session from current disk state.
func (s *Session) result() *Result {
	total := s.set.Len()

	onDisk, err := parser.SavedPages(s.saveDir)
	if err != nil {
		log.Printf("[Session] Failed to scan save directory: %v", err)
		onDisk = nil
	}

	var missingPages []int
	saved := 0
	for _, index := range s.set.Indices() {
		if _, ok := onDisk[index]; ok {
			saved++
		} else {
			missingPages = append(missingPages, index)
		}
	}

	return &Result{
		Saved:        saved,
		Total:        total,
		Missing:      len(missingPages),
		MissingPages: missingPages,
		Complete:     saved == total,
	}
}

// Download is the package entry point: it assembles transports for the chosen
// strategy and runs a session over them. With StrategyAuto, capture runs first
// when the tab exposes the browser network stack and direct fetch covers the
// remainder; a tab without network access degrades to direct fetch alone.
func Download(ctx context.Context, tab Tab, set *pages.Set, saveDir string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	netTab, hasNetwork := tab.(NetworkTab)

	var transports []Transport
	switch opts.Strategy {
	case StrategyDirect:
		transports = append(transports, NewDirectFetchTransport(tab, saveDir, opts))
	case StrategyCapture:
		if !hasNetwork {
			return nil, ErrCaptureUnavailable
		}
		transports = append(transports, NewCaptureTransport(netTab, set, saveDir, opts))
	default:
		if hasNetwork {
			transports = append(transports, NewCaptureTransport(netTab, set, saveDir, opts))
		}
		transports = append(transports, NewDirectFetchTransport(tab, saveDir, opts))
	}

	return NewSession(set, saveDir, opts, transports...).Run(ctx)
}
