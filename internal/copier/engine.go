// Package copier implements verified, resumable single-file copies.
//
// A copy writes to a deterministic temp file derived from the destination
// path. A later invocation against the same destination finds the partial
// temp file, verifies its bytes against the source block by block, truncates
// at the first divergence, and resumes from there. The destination is only
// ever replaced by a single rename, after the temp file is complete.
//
// Two concurrent copies to the same destination race on the same temp path;
// callers must not do that.
package copier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"vsync/internal/vsync"
)

// Outcome classifies the result of a verified copy. The retry wrapper
// switches on it: only ErrorDuringCopy is retryable.
type Outcome int

const (
	// Success: the destination holds an exact copy with replicated metadata.
	Success Outcome = iota

	// Cancelled: cancellation observed; the temp file is retained so a
	// later call resumes from the verified prefix. Not an error.
	Cancelled

	// ErrorDuringCopy: transient I/O failure during the verify or copy
	// streaming phases. Retryable.
	ErrorDuringCopy

	// FatalError: missing source, permission failure, or a failed commit
	// (delete + rename). Retrying is pointless.
	FatalError

	// NoMetadata: bytes are correctly in place but attribute/timestamp
	// replication failed. Terminal success with a caveat.
	NoMetadata
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	case ErrorDuringCopy:
		return "error_during_copy"
	case FatalError:
		return "error"
	case NoMetadata:
		return "no_metadata"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// BufferTier maps a maximum source size to an I/O buffer size. Tiers are a
// throughput/memory tradeoff, not a correctness concern.
type BufferTier struct {
	MaxSize    int64 // source files up to this many bytes use BufferSize
	BufferSize int
}

// defaultTiers: small files get a small buffer, multi-hundred-MB files a
// large one. The last tier's BufferSize also serves anything larger.
var defaultTiers = []BufferTier{
	{MaxSize: 1 << 20, BufferSize: 32 * 1024},
	{MaxSize: 256 << 20, BufferSize: 256 * 1024},
	{MaxSize: 1 << 40, BufferSize: 1 << 20},
}

// Engine performs verified copies.
type Engine struct {
	logger vsync.Logger
	tiers  []BufferTier
}

// NewEngine creates an Engine. tiers may be nil for the defaults; tests pass
// small tiers to exercise block boundaries cheaply.
func NewEngine(logger vsync.Logger, tiers []BufferTier) *Engine {
	if len(tiers) == 0 {
		tiers = defaultTiers
	}
	return &Engine{logger: logger, tiers: tiers}
}

// TempPath returns the deterministic staging path for destination: a dotfile
// in the destination's directory whose name embeds a stable hash of the full
// destination path. Repeated copies to one destination always stage through
// the same file.
func TempPath(destination string) string {
	sum := crc32.ChecksumIEEE([]byte(destination))
	name := fmt.Sprintf(".vsync-%08x.tmp", sum)
	return filepath.Join(filepath.Dir(destination), name)
}

// VerifiedCopy copies source to destination with resume support. The error
// carries detail for logging and is nil exactly when the outcome is Success
// or Cancelled.
func (e *Engine) VerifiedCopy(ctx context.Context, source, destination string) (Outcome, error) {
	srcInfo, err := os.Stat(source)
	if err != nil {
		return FatalError, fmt.Errorf("source not readable: %w", err)
	}

	tmpPath := TempPath(destination)
	outcome, err := e.transfer(ctx, source, tmpPath, bufferFor(e.tiers, srcInfo.Size()))
	if outcome != Success {
		return outcome, err
	}

	// Commit: the copied bytes exist; failing to move them into place is
	// fatal, not retryable.
	if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return FatalError, fmt.Errorf("removing old destination: %w", err)
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		return FatalError, fmt.Errorf("committing destination: %w", err)
	}

	if err := replicateMetadata(srcInfo, destination); err != nil {
		e.logger.Warn("metadata replication failed", "destination", destination, "error", err)
		return NoMetadata, err
	}

	e.logger.Debug("copy complete", "source", source, "destination", destination, "size", srcInfo.Size())
	return Success, nil
}

// transfer runs the verify and copy phases against the temp file. On return
// with Success the temp file is complete, synced and closed.
func (e *Engine) transfer(ctx context.Context, source, tmpPath string, bufSize int) (Outcome, error) {
	src, err := os.Open(source)
	if err != nil {
		return classify(err), fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return classify(err), fmt.Errorf("opening temp file: %w", err)
	}
	defer tmp.Close()

	tmpInfo, err := tmp.Stat()
	if err != nil {
		return classify(err), fmt.Errorf("stat temp file: %w", err)
	}

	verified, outcome, err := e.verify(ctx, src, tmp, tmpInfo.Size(), bufSize)
	if outcome != Success {
		return outcome, err
	}
	if verified > 0 {
		e.logger.Debug("resuming copy", "temp", tmpPath, "verified", verified)
	}

	if err := tmp.Truncate(verified); err != nil {
		return classify(err), fmt.Errorf("truncating temp file: %w", err)
	}
	if _, err := src.Seek(verified, io.SeekStart); err != nil {
		return classify(err), fmt.Errorf("seeking source: %w", err)
	}
	if _, err := tmp.Seek(verified, io.SeekStart); err != nil {
		return classify(err), fmt.Errorf("seeking temp file: %w", err)
	}

	if outcome, err := e.copy(ctx, src, tmp, bufSize); outcome != Success {
		return outcome, err
	}

	if err := tmp.Close(); err != nil {
		return classify(err), fmt.Errorf("closing temp file: %w", err)
	}
	return Success, nil
}

// verify compares existing temp-file bytes against the source and returns the
// last verified offset. A block that mismatches, or whose reads return
// different lengths at the same position, stops verification at the block's
// start; partial-block equality is never assumed.
func (e *Engine) verify(ctx context.Context, src, tmp *os.File, tmpLen int64, bufSize int) (int64, Outcome, error) {
	srcBuf := make([]byte, bufSize)
	tmpBuf := make([]byte, bufSize)
	var verified int64

	for verified < tmpLen {
		if ctx.Err() != nil {
			return 0, Cancelled, nil
		}
		n1, err1 := readBlock(src, srcBuf)
		if err1 != nil {
			return 0, classify(err1), fmt.Errorf("reading source during verify: %w", err1)
		}
		n2, err2 := readBlock(tmp, tmpBuf)
		if err2 != nil {
			return 0, classify(err2), fmt.Errorf("reading temp file during verify: %w", err2)
		}
		if n1 != n2 || !bytes.Equal(srcBuf[:n1], tmpBuf[:n2]) {
			break
		}
		verified += int64(n1)
		if n1 < bufSize {
			break // end of one or both streams
		}
	}
	return verified, Success, nil
}

// copy streams the remaining source bytes into the temp file, flushing after
// every block so cancellation loses at most one unflushed block.
func (e *Engine) copy(ctx context.Context, src, tmp *os.File, bufSize int) (Outcome, error) {
	buf := make([]byte, bufSize)
	for {
		if ctx.Err() != nil {
			return Cancelled, nil
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return classify(werr), fmt.Errorf("writing temp file: %w", werr)
			}
			if serr := tmp.Sync(); serr != nil {
				return classify(serr), fmt.Errorf("flushing temp file: %w", serr)
			}
		}
		if rerr == io.EOF {
			return Success, nil
		}
		if rerr != nil {
			return classify(rerr), fmt.Errorf("reading source: %w", rerr)
		}
	}
}

// readBlock reads up to len(buf) bytes, treating end-of-stream as a short
// read rather than an error.
func readBlock(f *os.File, buf []byte) (int, error) {
	n, err := io.ReadFull(f, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// classify maps a streaming-phase failure onto the retry taxonomy:
// permission problems are fatal, everything else is presumed transient.
func classify(err error) Outcome {
	if errors.Is(err, fs.ErrPermission) {
		return FatalError
	}
	return ErrorDuringCopy
}

// replicateMetadata copies mode and timestamps from the source onto the
// committed destination.
func replicateMetadata(srcInfo fs.FileInfo, destination string) error {
	if err := os.Chmod(destination, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("replicating mode: %w", err)
	}
	atime := accessTime(srcInfo)
	mtime := srcInfo.ModTime().UTC()
	if err := os.Chtimes(destination, atime, mtime); err != nil {
		return fmt.Errorf("replicating timestamps: %w", err)
	}
	return nil
}

// bufferFor picks the I/O buffer size for a source of the given length from
// the monotonically increasing tier table.
func bufferFor(tiers []BufferTier, size int64) int {
	for _, t := range tiers {
		if size <= t.MaxSize {
			return t.BufferSize
		}
	}
	return tiers[len(tiers)-1].BufferSize
}
