// Package syncer reconciles a target directory against an inventory
// snapshot: it creates missing directories, copies missing or changed files
// through the verified copy engine, and deletes entries the snapshot does not
// know about.
package syncer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/disk"

	"vsync/internal/checksum"
	"vsync/internal/copier"
	"vsync/internal/model"
	"vsync/internal/scan"
	"vsync/internal/snapshot"
	"vsync/internal/vsync"
)

// Options controls a sync run.
type Options struct {
	// MaxAttempts and RetryDelay bound the retry wrapper around each copy.
	MaxAttempts int
	RetryDelay  time.Duration

	// CheckFreeSpace compares the target filesystem's free space against
	// the planned copy volume before starting. Advisory only: a shortfall
	// is logged, the sync proceeds.
	CheckFreeSpace bool
}

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
)

// Syncer drives snapshot-based reconciliation. The run is strictly
// sequential: extras are deleted only after every snapshot entry has been
// processed.
type Syncer struct {
	engine   *copier.Engine
	provider checksum.Provider
	logger   vsync.Logger
	clock    vsync.Clock
	idgen    vsync.IDGenerator
	opts     Options
}

// New creates a Syncer.
func New(engine *copier.Engine, provider checksum.Provider, logger vsync.Logger, clock vsync.Clock, idgen vsync.IDGenerator, opts Options) *Syncer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Syncer{
		engine:   engine,
		provider: provider,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// Sync brings targetRoot in line with snap. A failure on one file is logged
// and counted, and the loop moves on; likewise a failed directory creation
// simply surfaces as copy failures for the files beneath it. The returned
// error is reserved for cancellation and for setup problems (unusable target
// root).
func (s *Syncer) Sync(ctx context.Context, snap *snapshot.Snapshot, targetRoot string) (*model.SyncStats, error) {
	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return nil, err
	}

	stats := &model.SyncStats{}
	plan := s.buildPlan(snap, stats)

	withChecksum := false
	for _, e := range plan {
		if e.Checksum != nil {
			withChecksum = true
			break
		}
	}

	target := scan.New(s.provider, s.logger, s.clock, s.idgen, scan.Options{ComputeChecksum: withChecksum})
	current, err := target.Scan(ctx, targetRoot)
	if err != nil {
		return nil, err
	}
	if len(current.Cancelled()) > 0 {
		return stats, context.Canceled
	}

	if s.opts.CheckFreeSpace {
		s.checkFreeSpace(targetRoot, plan)
	}

	// Working list of the target's current state. Matched entries are
	// removed as they are accounted for; what remains is extraneous.
	work := make(map[workKey]snapshot.Entry, len(current.Entries))
	for _, e := range current.Entries {
		work[workKey{e.Kind, e.RelativePath}] = e
	}

	for _, e := range plan {
		if ctx.Err() != nil {
			return stats, context.Canceled
		}
		switch e.Kind {
		case snapshot.KindDirectory:
			s.syncDir(e, targetRoot, work, stats)
		case snapshot.KindFile:
			s.syncFile(ctx, snap.RootPath, e, targetRoot, work, stats)
		}
	}

	s.deleteExtraneous(ctx, targetRoot, work, stats)
	if ctx.Err() != nil {
		return stats, context.Canceled
	}
	return stats, nil
}

// buildPlan filters the snapshot down to usable entries: error entries are
// skipped, and entries whose source has since vanished are dropped with a
// warning (the persisted snapshot is stale in that direction, just as
// extraneous target files mean it is stale in the other). Directories sort
// before files so parents exist before their contents are copied.
func (s *Syncer) buildPlan(snap *snapshot.Snapshot, stats *model.SyncStats) []snapshot.Entry {
	var plan []snapshot.Entry
	for _, e := range snap.OK() {
		src := filepath.Join(snap.RootPath, filepath.FromSlash(e.RelativePath))
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("snapshot is stale: source entry no longer exists, dropped from plan",
				"path", e.RelativePath)
			stats.StaleDropped++
			continue
		}
		plan = append(plan, e)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].IsDir() != plan[j].IsDir() {
			return plan[i].IsDir()
		}
		return plan[i].RelativePath < plan[j].RelativePath
	})
	return plan
}

type workKey struct {
	kind snapshot.Kind
	path string
}

func (s *Syncer) syncDir(e snapshot.Entry, targetRoot string, work map[workKey]snapshot.Entry, stats *model.SyncStats) {
	key := workKey{snapshot.KindDirectory, e.RelativePath}
	_, present := work[key]
	delete(work, key)
	if present {
		return
	}

	dst := filepath.Join(targetRoot, filepath.FromSlash(e.RelativePath))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		s.logger.Error("creating directory failed", "path", e.RelativePath, "error", err)
		stats.Failed++
		stats.Events = append(stats.Events, model.FileEvent{
			RelativePath: e.RelativePath, Action: "mkdir", Outcome: "error",
		})
		return
	}
	stats.DirsCreated++
	stats.Events = append(stats.Events, model.FileEvent{
		RelativePath: e.RelativePath, Action: "mkdir", Outcome: "success",
	})
}

func (s *Syncer) syncFile(ctx context.Context, sourceRoot string, e snapshot.Entry, targetRoot string, work map[workKey]snapshot.Entry, stats *model.SyncStats) {
	key := workKey{snapshot.KindFile, e.RelativePath}
	tgt, present := work[key]
	delete(work, key)

	if present && !differs(e, tgt) {
		stats.FilesSkipped++
		return
	}

	src := filepath.Join(sourceRoot, filepath.FromSlash(e.RelativePath))
	dst := filepath.Join(targetRoot, filepath.FromSlash(e.RelativePath))

	outcome, err := s.engine.RetryVerifiedCopy(ctx, src, dst, s.opts.MaxAttempts, s.opts.RetryDelay)
	event := model.FileEvent{RelativePath: e.RelativePath, Action: "copy", Outcome: outcome.String()}
	switch outcome {
	case copier.Success:
		stats.FilesCopied++
	case copier.NoMetadata:
		stats.FilesCopied++
		s.logger.Warn("copied without metadata", "path", e.RelativePath, "error", err)
	case copier.Cancelled:
		// Recorded by the caller via the returned context error; the
		// temp file is retained for a later resume.
		return
	default:
		stats.Failed++
		s.logger.Error("copy failed", "path", e.RelativePath, "outcome", outcome.String(), "error", err)
	}
	stats.Events = append(stats.Events, event)
}

// differs compares the populated fields of a snapshot entry against the
// target's current entry. Any divergence triggers a copy.
func differs(want, got snapshot.Entry) bool {
	if want.Size != got.Size {
		return true
	}
	if !want.ModifiedAt.Equal(got.ModifiedAt) {
		return true
	}
	if want.Checksum != nil && got.Checksum != nil && *want.Checksum != *got.Checksum {
		return true
	}
	return false
}

// deleteExtraneous removes everything left in the working list: entries
// present under the target but absent from the snapshot. Deletion is
// deepest-first so children go before their parents.
func (s *Syncer) deleteExtraneous(ctx context.Context, targetRoot string, work map[workKey]snapshot.Entry, stats *model.SyncStats) {
	extras := make([]snapshot.Entry, 0, len(work))
	for _, e := range work {
		extras = append(extras, e)
	}
	sort.Slice(extras, func(i, j int) bool {
		if len(extras[i].RelativePath) != len(extras[j].RelativePath) {
			return len(extras[i].RelativePath) > len(extras[j].RelativePath)
		}
		return extras[i].RelativePath < extras[j].RelativePath
	})

	for _, e := range extras {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(targetRoot, filepath.FromSlash(e.RelativePath))
		var err error
		if e.IsDir() {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("deleting extraneous entry failed", "path", e.RelativePath, "error", err)
			stats.Failed++
			stats.Events = append(stats.Events, model.FileEvent{
				RelativePath: e.RelativePath, Action: "delete", Outcome: "error",
			})
			continue
		}
		s.logger.Warn("snapshot is stale: extraneous target entry deleted", "path", e.RelativePath)
		stats.Deleted++
		stats.Events = append(stats.Events, model.FileEvent{
			RelativePath: e.RelativePath, Action: "delete", Outcome: "success",
		})
	}
}

// checkFreeSpace warns when the target filesystem looks too small for the
// planned copy volume. Best effort: usage probes can fail on exotic mounts.
func (s *Syncer) checkFreeSpace(targetRoot string, plan []snapshot.Entry) {
	var planned uint64
	for _, e := range plan {
		if !e.IsDir() && e.Size > 0 {
			planned += uint64(e.Size)
		}
	}
	usage, err := disk.Usage(targetRoot)
	if err != nil {
		s.logger.Debug("free space check unavailable", "target", targetRoot, "error", err)
		return
	}
	if usage.Free < planned {
		s.logger.Warn("target filesystem may be too small for planned copies",
			"free", usage.Free, "planned", planned)
	}
}

var _ vsync.Synchronizer = (*Syncer)(nil)
