// Package scan walks a directory tree and produces an inventory snapshot.
//
// The walk is strictly sequential and post-order: a subdirectory's contents
// are recorded before the subdirectory's own entry, and a directory's files
// follow its subdirectories. Per-entry failures (listing, stat, checksum) are
// recorded on the entry and do not abort the walk.
package scan

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"vsync/internal/checksum"
	"vsync/internal/snapshot"
	"vsync/internal/vsync"
)

// Options controls a scan.
type Options struct {
	// Blacklist filters files by exact name match, case-insensitively.
	// Blacklisted files are skipped entirely.
	Blacklist []string

	// ComputeChecksum computes a CRC32 per file. This is the dominant cost
	// on large trees; leave it off for metadata-only scans.
	ComputeChecksum bool

	// FailFast cancels the whole walk on the first per-entry error instead
	// of recording it and continuing.
	FailFast bool

	// YieldEvery inserts a cooperative delay after this many entries, so a
	// scan of a very large tree does not monopolize I/O. Zero uses the
	// default.
	YieldEvery int

	// YieldDelay is the length of the cooperative delay. Zero uses the
	// default.
	YieldDelay time.Duration
}

const (
	defaultYieldEvery = 4096
	defaultYieldDelay = time.Millisecond
)

// Scanner walks directory trees. Safe for reuse across calls; each Scan is a
// single logical task with no internal parallelism.
type Scanner struct {
	provider checksum.Provider
	logger   vsync.Logger
	clock    vsync.Clock
	idgen    vsync.IDGenerator
	opts     Options
}

// New creates a Scanner. provider may be nil when Options.ComputeChecksum is
// false.
func New(provider checksum.Provider, logger vsync.Logger, clock vsync.Clock, idgen vsync.IDGenerator, opts Options) *Scanner {
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = defaultYieldEvery
	}
	if opts.YieldDelay <= 0 {
		opts.YieldDelay = defaultYieldDelay
	}
	return &Scanner{
		provider: provider,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// Scan inventories the tree rooted at root. Cancellation does not fail the
// call: the partial snapshot gathered so far is returned, with the entry
// being processed at the time marked with a cancellation error. Only an
// unusable root (missing, not a directory, unlistable) is an error.
func (s *Scanner) Scan(ctx context.Context, root string) (*snapshot.Snapshot, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("scan root is not a directory: " + absRoot)
	}

	walkCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.opts.FailFast {
		walkCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	w := &walker{
		scanner:   s,
		ctx:       walkCtx,
		cancel:    cancel,
		root:      absRoot,
		blacklist: lowerSet(s.opts.Blacklist),
	}

	listErr, _ := w.walk(absRoot, "")
	if listErr != nil && len(w.entries) == 0 {
		// The root itself could not be listed; there is nothing useful
		// to return.
		return nil, listErr
	}

	snap := &snapshot.Snapshot{
		ID:        s.idgen.New(),
		RootPath:  absRoot,
		CreatedAt: s.clock.Now().UTC(),
		Entries:   w.entries,
	}
	s.logger.Debug("scan finished", "root", absRoot, "entries", len(snap.Entries))
	return snap, nil
}

func lowerSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// walker carries the mutable state of one Scan call.
type walker struct {
	scanner   *Scanner
	ctx       context.Context
	cancel    context.CancelFunc
	root      string
	blacklist map[string]struct{}
	entries   []snapshot.Entry
	appended  int
}

// walk processes the directory at absDir (relDir relative to the root, empty
// for the root itself). It returns the directory's own listing error, if any,
// and whether cancellation was observed.
func (w *walker) walk(absDir, relDir string) (listErr error, cancelled bool) {
	children, listErr := os.ReadDir(absDir)
	if listErr != nil {
		if w.scanner.opts.FailFast {
			w.cancel()
		}
		return listErr, false
	}

	// Subdirectories first: each child subtree is recorded, then the
	// subdirectory's own entry.
	for _, d := range children {
		if !d.IsDir() {
			continue
		}
		childRel := joinRel(relDir, d.Name())
		if w.checkCancelled(childRel, d.Name(), snapshot.KindDirectory) {
			return nil, true
		}

		childErr, childCancelled := w.walk(filepath.Join(absDir, d.Name()), childRel)
		if childCancelled {
			return nil, true
		}
		w.appendDir(childRel, d, childErr)
	}

	for _, d := range children {
		if d.IsDir() || !d.Type().IsRegular() {
			continue
		}
		if _, skip := w.blacklist[strings.ToLower(d.Name())]; skip {
			continue
		}
		childRel := joinRel(relDir, d.Name())
		if w.checkCancelled(childRel, d.Name(), snapshot.KindFile) {
			return nil, true
		}
		w.appendFile(filepath.Join(absDir, d.Name()), childRel, d)
	}

	return nil, false
}

// checkCancelled observes the walk context before a unit of work. When
// cancellation has fired, the pending entry is recorded with a cancellation
// marker so the partial snapshot shows where the walk stopped.
func (w *walker) checkCancelled(rel, name string, kind snapshot.Kind) bool {
	if w.ctx.Err() == nil {
		return false
	}
	w.append(snapshot.Entry{
		RelativePath: rel,
		Name:         name,
		Kind:         kind,
		RecordedAt:   w.scanner.clock.Now().UTC(),
		Err:          &snapshot.EntryError{Code: snapshot.ErrCodeCancelled, Message: "scan cancelled"},
	})
	return true
}

func (w *walker) appendDir(rel string, d os.DirEntry, childListErr error) {
	e := snapshot.Entry{
		RelativePath: rel,
		Name:         d.Name(),
		Kind:         snapshot.KindDirectory,
		RecordedAt:   w.scanner.clock.Now().UTC(),
	}
	if info, err := d.Info(); err == nil {
		e.ModifiedAt = info.ModTime().UTC()
	}
	if childListErr != nil {
		e.Err = w.entryError(rel, childListErr)
	}
	w.append(e)
}

func (w *walker) appendFile(abs, rel string, d os.DirEntry) {
	e := snapshot.Entry{
		RelativePath: rel,
		Name:         d.Name(),
		Kind:         snapshot.KindFile,
		RecordedAt:   w.scanner.clock.Now().UTC(),
	}

	info, err := d.Info()
	if err != nil {
		e.Err = w.entryError(rel, err)
		w.append(e)
		return
	}
	e.Size = info.Size()
	e.ModifiedAt = info.ModTime().UTC()

	if w.scanner.opts.ComputeChecksum {
		sum, err := w.scanner.provider.File(w.ctx, abs)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.Err = &snapshot.EntryError{Code: snapshot.ErrCodeCancelled, Message: "scan cancelled"}
		case err != nil:
			e.Err = w.entryError(rel, err)
		default:
			e.Checksum = &sum
		}
	}
	w.append(e)
}

// entryError wraps a per-entry failure and, under FailFast, trips the shared
// walk cancellation.
func (w *walker) entryError(rel string, err error) *snapshot.EntryError {
	w.scanner.logger.Debug("scan entry failed", "path", rel, "error", err)
	if w.scanner.opts.FailFast {
		w.cancel()
	}
	return &snapshot.EntryError{Code: snapshot.ErrCodeIO, Message: err.Error()}
}

// append records an entry and, periodically, yields so very large scans do
// not monopolize I/O. The yield itself is cancellable.
func (w *walker) append(e snapshot.Entry) {
	w.entries = append(w.entries, e)
	w.appended++
	if w.appended%w.scanner.opts.YieldEvery != 0 {
		return
	}
	select {
	case <-w.ctx.Done():
	case <-time.After(w.scanner.opts.YieldDelay):
	}
}

// joinRel joins snapshot-relative paths with forward slashes regardless of
// the host separator.
func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
