package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsync/internal/checksum"
	"vsync/internal/copier"
	"vsync/internal/scan"
	"vsync/internal/snapshot"
	"vsync/internal/testutil"
	"vsync/internal/vsync"
)

func newTestSyncer(logger vsync.Logger, opts Options) *Syncer {
	provider := checksum.NewCRC32Provider()
	engine := copier.NewEngine(logger, nil)
	return New(engine, provider, logger, vsync.RealClock{}, &testutil.SeqIDGenerator{}, opts)
}

func scanTree(t *testing.T, root string, withChecksum bool) *snapshot.Snapshot {
	t.Helper()
	s := scan.New(checksum.NewCRC32Provider(), vsync.NewNopLogger(), vsync.RealClock{},
		&testutil.SeqIDGenerator{}, scan.Options{ComputeChecksum: withChecksum})
	snap, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("scanning %s: %v", root, err)
	}
	return snap
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSyncer_Sync(t *testing.T) {
	t.Run("converges the target to the snapshot", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{
			"a.txt":     "fresh content",
			"dir/b.txt": "bbb",
		})
		testutil.WriteTree(t, target, map[string]string{
			"a.txt": "old", // differs in size
			"c.txt": "extraneous",
		})

		snap := scanTree(t, source, false)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}

		if stats.DirsCreated != 1 || stats.FilesCopied != 2 || stats.Deleted != 1 || stats.Failed != 0 {
			t.Errorf("stats = %+v, want 1 dir, 2 copies, 1 delete, 0 failures", stats)
		}
		if got := readAll(t, filepath.Join(target, "a.txt")); got != "fresh content" {
			t.Errorf("a.txt = %q, want %q", got, "fresh content")
		}
		if got := readAll(t, filepath.Join(target, "dir", "b.txt")); got != "bbb" {
			t.Errorf("dir/b.txt = %q, want %q", got, "bbb")
		}
		if _, err := os.Stat(filepath.Join(target, "c.txt")); !os.IsNotExist(err) {
			t.Error("extraneous c.txt still present")
		}

		actions := map[string]string{}
		for _, e := range stats.Events {
			actions[e.Action+":"+e.RelativePath] = e.Outcome
		}
		for _, want := range []string{"mkdir:dir", "copy:a.txt", "copy:dir/b.txt", "delete:c.txt"} {
			if actions[want] != "success" {
				t.Errorf("event %s outcome = %q, want success", want, actions[want])
			}
		}
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{
			"a.txt":     "aaa",
			"dir/b.txt": "bbb",
		})

		snap := scanTree(t, source, false)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		if _, err := sy.Sync(context.Background(), snap, target); err != nil {
			t.Fatalf("first Sync() error = %v", err)
		}
		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("second Sync() error = %v", err)
		}

		if stats.FilesCopied != 0 || stats.DirsCreated != 0 || stats.Deleted != 0 {
			t.Errorf("second run stats = %+v, want all zero", stats)
		}
		if stats.FilesSkipped != 2 {
			t.Errorf("FilesSkipped = %d, want 2", stats.FilesSkipped)
		}
	})

	t.Run("checksum divergence forces a copy despite equal size and mtime", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{"a.txt": "aaaa"})
		testutil.WriteTree(t, target, map[string]string{"a.txt": "bbbb"})

		mtime := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		for _, p := range []string{filepath.Join(source, "a.txt"), filepath.Join(target, "a.txt")} {
			if err := os.Chtimes(p, mtime, mtime); err != nil {
				t.Fatal(err)
			}
		}

		snap := scanTree(t, source, true)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if stats.FilesCopied != 1 {
			t.Errorf("FilesCopied = %d, want 1", stats.FilesCopied)
		}
		if got := readAll(t, filepath.Join(target, "a.txt")); got != "aaaa" {
			t.Errorf("a.txt = %q, want %q", got, "aaaa")
		}
	})

	t.Run("without checksums equal size and mtime means skip", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{"a.txt": "aaaa"})
		testutil.WriteTree(t, target, map[string]string{"a.txt": "bbbb"})

		mtime := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		for _, p := range []string{filepath.Join(source, "a.txt"), filepath.Join(target, "a.txt")} {
			if err := os.Chtimes(p, mtime, mtime); err != nil {
				t.Fatal(err)
			}
		}

		snap := scanTree(t, source, false)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if stats.FilesSkipped != 1 || stats.FilesCopied != 0 {
			t.Errorf("stats = %+v, want 1 skip, 0 copies", stats)
		}
	})

	t.Run("stale source entries are dropped with a warning", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{
			"keep.txt": "k",
			"gone.txt": "g",
		})

		snap := scanTree(t, source, false)
		if err := os.Remove(filepath.Join(source, "gone.txt")); err != nil {
			t.Fatal(err)
		}

		logger := testutil.NewRecordingLogger()
		sy := newTestSyncer(logger, Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if stats.StaleDropped != 1 {
			t.Errorf("StaleDropped = %d, want 1", stats.StaleDropped)
		}
		if stats.Failed != 0 {
			t.Errorf("Failed = %d, want 0", stats.Failed)
		}
		if _, err := os.Stat(filepath.Join(target, "gone.txt")); !os.IsNotExist(err) {
			t.Error("stale entry was copied anyway")
		}
		if !logger.HasMessage("WARN", "snapshot is stale") {
			t.Error("no staleness warning was logged")
		}
	})

	t.Run("extraneous entries are deleted deepest-first", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, target, map[string]string{
			"extra/sub/file.txt": "x",
		})

		snap := scanTree(t, source, false)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if stats.Deleted != 3 {
			t.Errorf("Deleted = %d, want 3", stats.Deleted)
		}

		var order []string
		for _, e := range stats.Events {
			if e.Action == "delete" {
				order = append(order, e.RelativePath)
			}
		}
		want := []string{"extra/sub/file.txt", "extra/sub", "extra"}
		for i := range want {
			if i >= len(order) || order[i] != want[i] {
				t.Fatalf("delete order = %v, want %v", order, want)
			}
		}

		entries, err := os.ReadDir(target)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("target not empty after sync: %v", entries)
		}
	})

	t.Run("cancellation surfaces as context.Canceled", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{"a.txt": "a"})
		testutil.WriteTree(t, target, map[string]string{"b.txt": "b"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		snap := scanTree(t, source, false)
		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(ctx, snap, target)
		if err != context.Canceled {
			t.Fatalf("Sync() error = %v, want context.Canceled", err)
		}
		if stats == nil {
			t.Fatal("Sync() stats = nil, want partial stats")
		}
		if _, statErr := os.Stat(filepath.Join(target, "b.txt")); statErr != nil {
			t.Error("cancelled sync deleted extraneous entries")
		}
	})

	t.Run("per-file failure is counted, not fatal", func(t *testing.T) {
		source := t.TempDir()
		target := t.TempDir()
		testutil.WriteTree(t, source, map[string]string{
			"good.txt": "fine",
			"bad.txt":  "doomed",
		})

		snap := scanTree(t, source, false)

		// Turn the file into a directory after the scan: the plan keeps the
		// entry (the path still exists) but the copy cannot read it.
		if err := os.Remove(filepath.Join(source, "bad.txt")); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(source, "bad.txt"), 0o755); err != nil {
			t.Fatal(err)
		}

		logger := testutil.NewRecordingLogger()
		sy := newTestSyncer(logger, Options{MaxAttempts: 1, RetryDelay: time.Millisecond})

		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v, want nil despite per-file failure", err)
		}
		if stats.Failed != 1 || stats.FilesCopied != 1 {
			t.Errorf("stats = %+v, want 1 failure and 1 copy", stats)
		}
		if got := readAll(t, filepath.Join(target, "good.txt")); got != "fine" {
			t.Errorf("good.txt = %q, want %q", got, "fine")
		}
		if !logger.HasMessage("ERROR", "copy failed") {
			t.Error("failed copy was not logged")
		}
	})

	t.Run("error entries in the snapshot are ignored", func(t *testing.T) {
		target := t.TempDir()
		snap := &snapshot.Snapshot{
			RootPath: t.TempDir(),
			Entries: []snapshot.Entry{
				{RelativePath: "broken.txt", Name: "broken.txt", Kind: snapshot.KindFile,
					Err: &snapshot.EntryError{Code: snapshot.ErrCodeIO, Message: "unreadable"}},
			},
		}

		sy := newTestSyncer(vsync.NewNopLogger(), Options{MaxAttempts: 1, RetryDelay: time.Millisecond})
		stats, err := sy.Sync(context.Background(), snap, target)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if stats.FilesCopied != 0 || stats.Failed != 0 {
			t.Errorf("stats = %+v, want nothing attempted", stats)
		}
	})
}

func TestDiffers(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sumA, sumB := uint32(1), uint32(2)

	base := snapshot.Entry{Size: 10, ModifiedAt: mtime, Checksum: &sumA}

	cases := []struct {
		name string
		got  snapshot.Entry
		want bool
	}{
		{"identical", snapshot.Entry{Size: 10, ModifiedAt: mtime, Checksum: &sumA}, false},
		{"identical without checksums", snapshot.Entry{Size: 10, ModifiedAt: mtime}, false},
		{"size differs", snapshot.Entry{Size: 11, ModifiedAt: mtime, Checksum: &sumA}, true},
		{"mtime differs", snapshot.Entry{Size: 10, ModifiedAt: mtime.Add(time.Second), Checksum: &sumA}, true},
		{"checksum differs", snapshot.Entry{Size: 10, ModifiedAt: mtime, Checksum: &sumB}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := differs(base, c.got); got != c.want {
				t.Errorf("differs() = %v, want %v", got, c.want)
			}
		})
	}
}
