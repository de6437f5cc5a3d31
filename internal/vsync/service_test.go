package vsync_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsync/internal/checksum"
	"vsync/internal/copier"
	"vsync/internal/scan"
	"vsync/internal/store"
	"vsync/internal/syncer"
	"vsync/internal/testutil"
	"vsync/internal/vsync"
)

type serviceFixture struct {
	svc    *vsync.SyncService
	db     vsync.Database
	store  *store.MemoryStore
	logger *testutil.RecordingLogger
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	snapStore := store.NewMemoryStore()
	logger := testutil.NewRecordingLogger()
	provider := checksum.NewCRC32Provider()
	clock := vsync.RealClock{}
	idgen := &testutil.SeqIDGenerator{}

	scanner := scan.New(provider, logger, clock, idgen, scan.Options{})
	engine := copier.NewEngine(logger, nil)
	sy := syncer.New(engine, provider, logger, clock, idgen,
		syncer.Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

	return &serviceFixture{
		svc:    vsync.NewSyncService(db, snapStore, scanner, sy, logger, clock),
		db:     db,
		store:  snapStore,
		logger: logger,
	}
}

func TestSyncService_CaptureSnapshot(t *testing.T) {
	t.Run("scans and persists", func(t *testing.T) {
		f := newServiceFixture(t)
		root := t.TempDir()
		testutil.WriteTree(t, root, map[string]string{
			"a.txt":     "aaa",
			"dir/b.txt": "bbb",
		})

		snap, err := f.svc.CaptureSnapshot(context.Background(), root, "photos")
		if err != nil {
			t.Fatalf("CaptureSnapshot() error = %v", err)
		}
		if len(snap.Entries) != 3 {
			t.Errorf("snapshot has %d entries, want 3", len(snap.Entries))
		}

		names, err := f.svc.ListSnapshots(context.Background())
		if err != nil {
			t.Fatalf("ListSnapshots() error = %v", err)
		}
		if len(names) != 1 || names[0] != "photos" {
			t.Errorf("ListSnapshots() = %v, want [photos]", names)
		}

		ops, err := f.svc.History(10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(ops) != 1 || ops[0].Operation != "Scan" || ops[0].Status != "success" {
			t.Errorf("History() = %+v, want one successful Scan", ops)
		}
	})

	t.Run("cancelled scan is not persisted", func(t *testing.T) {
		f := newServiceFixture(t)
		root := t.TempDir()
		testutil.WriteTree(t, root, map[string]string{"a.txt": "aaa"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		snap, err := f.svc.CaptureSnapshot(ctx, root, "partial")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("CaptureSnapshot() error = %v, want context.Canceled", err)
		}
		if snap == nil {
			t.Fatal("CaptureSnapshot() snapshot = nil, want partial snapshot")
		}

		names, _ := f.svc.ListSnapshots(context.Background())
		if len(names) != 0 {
			t.Errorf("cancelled snapshot was persisted: %v", names)
		}

		ops, _ := f.svc.History(10)
		if len(ops) != 1 || ops[0].Status != "failed" {
			t.Errorf("History() = %+v, want one failed operation", ops)
		}
	})

	t.Run("unusable root is an error", func(t *testing.T) {
		f := newServiceFixture(t)
		if _, err := f.svc.CaptureSnapshot(context.Background(),
			filepath.Join(t.TempDir(), "absent"), "x"); err == nil {
			t.Error("CaptureSnapshot() expected error for missing root, got nil")
		}
	})
}

func TestSyncService_SyncFromSnapshot(t *testing.T) {
	t.Run("end to end", func(t *testing.T) {
		f := newServiceFixture(t)
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{
			"a.txt":     "aaa",
			"dir/b.txt": "bbb",
		})
		testutil.WriteTree(t, target, map[string]string{"stale.txt": "old"})

		if _, err := f.svc.CaptureSnapshot(context.Background(), source, "photos"); err != nil {
			t.Fatalf("CaptureSnapshot() error = %v", err)
		}

		stats, err := f.svc.SyncFromSnapshot(context.Background(), "photos", target)
		if err != nil {
			t.Fatalf("SyncFromSnapshot() error = %v", err)
		}
		if stats.FilesCopied != 2 || stats.DirsCreated != 1 || stats.Deleted != 1 {
			t.Errorf("stats = %+v, want 2 copies, 1 dir, 1 delete", stats)
		}

		data, err := os.ReadFile(filepath.Join(target, "dir", "b.txt"))
		if err != nil || string(data) != "bbb" {
			t.Errorf("dir/b.txt = %q, %v, want bbb", data, err)
		}

		ops, err := f.svc.History(10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("History() returned %d operations, want 2", len(ops))
		}
		syncOp := ops[0] // newest first
		if syncOp.Operation != "Sync" || syncOp.Status != "success" {
			t.Errorf("sync operation = %+v, want successful Sync", syncOp)
		}

		events, err := f.db.ListFileEvents(syncOp.ID)
		if err != nil {
			t.Fatalf("ListFileEvents() error = %v", err)
		}
		if len(events) != 4 { // mkdir, 2 copies, 1 delete
			t.Errorf("ListFileEvents() returned %d events, want 4", len(events))
		}
	})

	t.Run("missing snapshot", func(t *testing.T) {
		f := newServiceFixture(t)
		if _, err := f.svc.SyncFromSnapshot(context.Background(), "absent", t.TempDir()); err == nil {
			t.Error("SyncFromSnapshot() expected error for missing snapshot, got nil")
		}

		ops, _ := f.svc.History(10)
		if len(ops) != 1 || ops[0].Status != "failed" {
			t.Errorf("History() = %+v, want one failed operation", ops)
		}
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		f := newServiceFixture(t)
		if err := f.store.Put(context.Background(), "garbage",
			bytes.NewReader([]byte("not json"))); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.SyncFromSnapshot(context.Background(), "garbage", t.TempDir()); err == nil {
			t.Error("SyncFromSnapshot() expected error for corrupt snapshot, got nil")
		}
	})
}
