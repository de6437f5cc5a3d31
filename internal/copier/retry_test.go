package copier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsync/internal/vsync"
)

func TestRetry(t *testing.T) {
	t.Run("transient failures are retried until success", func(t *testing.T) {
		attempts := 0
		outcome, err := retry(context.Background(), 5, time.Millisecond, func(int) (Outcome, error) {
			attempts++
			if attempts < 3 {
				return ErrorDuringCopy, errors.New("transient")
			}
			return Success, nil
		})
		if outcome != Success || err != nil {
			t.Errorf("retry() = %v, %v, want Success, nil", outcome, err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("fatal errors are not retried", func(t *testing.T) {
		attempts := 0
		fatal := errors.New("permission denied")
		outcome, err := retry(context.Background(), 5, time.Millisecond, func(int) (Outcome, error) {
			attempts++
			return FatalError, fatal
		})
		if outcome != FatalError || !errors.Is(err, fatal) {
			t.Errorf("retry() = %v, %v, want FatalError, %v", outcome, err, fatal)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("no metadata is terminal", func(t *testing.T) {
		attempts := 0
		outcome, _ := retry(context.Background(), 5, time.Millisecond, func(int) (Outcome, error) {
			attempts++
			return NoMetadata, errors.New("chtimes failed")
		})
		if outcome != NoMetadata || attempts != 1 {
			t.Errorf("retry() = %v after %d attempts, want NoMetadata after 1", outcome, attempts)
		}
	})

	t.Run("exhaustion returns the last transient error", func(t *testing.T) {
		attempts := 0
		last := errors.New("still broken")
		outcome, err := retry(context.Background(), 3, time.Millisecond, func(int) (Outcome, error) {
			attempts++
			return ErrorDuringCopy, last
		})
		if outcome != ErrorDuringCopy || !errors.Is(err, last) {
			t.Errorf("retry() = %v, %v, want ErrorDuringCopy, %v", outcome, err, last)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("cancellation during the delay", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		outcome, err := retry(ctx, 3, time.Hour, func(int) (Outcome, error) {
			attempts++
			cancel()
			return ErrorDuringCopy, errors.New("transient")
		})
		if outcome != Cancelled || err != nil {
			t.Errorf("retry() = %v, %v, want Cancelled, nil", outcome, err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("attempt budget below one still runs once", func(t *testing.T) {
		attempts := 0
		outcome, _ := retry(context.Background(), 0, time.Millisecond, func(int) (Outcome, error) {
			attempts++
			return Success, nil
		})
		if outcome != Success || attempts != 1 {
			t.Errorf("retry() = %v after %d attempts, want Success after 1", outcome, attempts)
		}
	})
}

func TestRetryVerifiedCopy(t *testing.T) {
	t.Run("fatal error short-circuits the budget", func(t *testing.T) {
		dir := t.TempDir()
		e := NewEngine(vsync.NewNopLogger(), smallTiers)

		start := time.Now()
		outcome, err := e.RetryVerifiedCopy(context.Background(),
			filepath.Join(dir, "absent.bin"), filepath.Join(dir, "dst.bin"), 3, time.Second)
		if outcome != FatalError || err == nil {
			t.Errorf("RetryVerifiedCopy() = %v, %v, want FatalError with error", outcome, err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Error("fatal error still waited out retry delays")
		}
	})

	t.Run("transient failure exhausts the budget", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bin")
		writeFile(t, src, []byte("payload"))

		e := NewEngine(vsync.NewNopLogger(), smallTiers)
		outcome, err := e.RetryVerifiedCopy(context.Background(), src,
			filepath.Join(dir, "nonexistent", "dst.bin"), 2, time.Millisecond)
		if outcome != ErrorDuringCopy || err == nil {
			t.Errorf("RetryVerifiedCopy() = %v, %v, want ErrorDuringCopy with error", outcome, err)
		}
	})

	t.Run("succeeds like a plain copy", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.bin")
		dst := filepath.Join(dir, "dst.bin")
		writeFile(t, src, []byte("payload"))

		e := NewEngine(vsync.NewNopLogger(), smallTiers)
		outcome, err := e.RetryVerifiedCopy(context.Background(), src, dst, 3, time.Millisecond)
		if outcome != Success || err != nil {
			t.Fatalf("RetryVerifiedCopy() = %v, %v, want Success, nil", outcome, err)
		}
		if _, err := os.Stat(dst); err != nil {
			t.Error("destination missing after successful copy")
		}
	})
}
