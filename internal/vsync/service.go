package vsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"vsync/internal/model"
	"vsync/internal/snapshot"
)

// SyncService coordinates the scanner, snapshot store, synchronizer and the
// operation-history database to perform the high-level operations the CLI
// exposes.
type SyncService struct {
	db      Database
	store   SnapshotStore
	scanner Scanner
	syncer  Synchronizer
	logger  Logger
	clock   Clock
}

// NewSyncService creates a SyncService with the provided dependencies.
func NewSyncService(db Database, store SnapshotStore, scanner Scanner, syncer Synchronizer, logger Logger, clock Clock) *SyncService {
	return &SyncService{
		db:      db,
		store:   store,
		scanner: scanner,
		syncer:  syncer,
		logger:  logger,
		clock:   clock,
	}
}

// CaptureSnapshot scans root and persists the resulting snapshot under name.
// The snapshot is returned even when some entries carry errors; persisting is
// skipped only if the scan was cancelled before completing.
func (s *SyncService) CaptureSnapshot(ctx context.Context, root string, name string) (*snapshot.Snapshot, error) {
	op, err := s.beginOperation("Scan", fmt.Sprintf("root=%s name=%s", root, name))
	if err != nil {
		return nil, err
	}

	snap, err := s.scanner.Scan(ctx, root)
	if err != nil {
		s.finishOperation(op, "failed")
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	if len(snap.Cancelled()) > 0 {
		s.logger.Warn("scan cancelled, snapshot not persisted", "root", root, "entries", len(snap.Entries))
		s.finishOperation(op, "failed")
		return snap, context.Canceled
	}

	if snap.HasErrors() {
		s.logger.Warn("scan completed with errors", "root", root, "errors", len(snap.Errors()))
	}

	var buf bytes.Buffer
	if err := snap.Write(&buf); err != nil {
		s.finishOperation(op, "failed")
		return snap, err
	}
	if err := s.store.Put(ctx, name, &buf); err != nil {
		s.finishOperation(op, "failed")
		return snap, fmt.Errorf("persisting snapshot %q: %w", name, err)
	}

	s.logger.Info("snapshot captured", "name", name, "root", root, "entries", len(snap.Entries))
	s.finishOperation(op, "success")
	return snap, nil
}

// SyncFromSnapshot loads the named snapshot and reconciles targetRoot against
// it. Per-file failures are reflected in the stats, not the error.
func (s *SyncService) SyncFromSnapshot(ctx context.Context, name string, targetRoot string) (*model.SyncStats, error) {
	op, err := s.beginOperation("Sync", fmt.Sprintf("snapshot=%s target=%s", name, targetRoot))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := s.store.Get(ctx, name, &buf); err != nil {
		s.finishOperation(op, "failed")
		return nil, fmt.Errorf("loading snapshot %q: %w", name, err)
	}
	snap, err := snapshot.Read(&buf)
	if err != nil {
		s.finishOperation(op, "failed")
		return nil, fmt.Errorf("decoding snapshot %q: %w", name, err)
	}

	stats, syncErr := s.syncer.Sync(ctx, snap, targetRoot)

	if stats != nil && op != nil {
		if err := s.db.RecordFileEvents(op.ID, stats.Events); err != nil {
			s.logger.Error("recording file events", "error", err)
		}
	}

	switch {
	case errors.Is(syncErr, context.Canceled):
		s.finishOperation(op, "failed")
		return stats, syncErr
	case syncErr != nil:
		s.finishOperation(op, "failed")
		return stats, fmt.Errorf("syncing %s: %w", targetRoot, syncErr)
	case stats.Failed > 0:
		s.finishOperation(op, "failed")
	default:
		s.finishOperation(op, "success")
	}
	return stats, nil
}

// ListSnapshots returns the names of the persisted snapshots.
func (s *SyncService) ListSnapshots(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// History returns the most recent recorded operations.
func (s *SyncService) History(limit int) ([]*model.SyncOperation, error) {
	return s.db.ListSyncOperations(limit)
}

// beginOperation records the start of an operation. A history failure is
// logged but never blocks the operation itself.
func (s *SyncService) beginOperation(operation, parameters string) (*model.SyncOperation, error) {
	op, err := s.db.CreateSyncOperation(operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("recording operation: %w", err)
	}
	return op, nil
}

func (s *SyncService) finishOperation(op *model.SyncOperation, status string) {
	if op == nil {
		return
	}
	if err := s.db.FinishSyncOperation(op.ID, status); err != nil {
		s.logger.Error("finishing operation record", "id", op.ID, "error", err)
	}
}
