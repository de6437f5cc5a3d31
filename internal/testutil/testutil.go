// Package testutil provides shared helpers for unit tests: an in-memory
// history database, a tree builder, and recording fakes for the engine's
// small dependency interfaces.
package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vsync/internal/checksum"
	"vsync/internal/database"
	"vsync/internal/vsync"
)

// NewTestDatabase creates a migrated in-memory history database that is
// closed when the test finishes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		t.Fatalf("migrating test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteTree materializes files under root. Keys are slash-separated relative
// paths; intermediate directories are created. A key ending in "/" creates an
// empty directory.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(abs, 0o755); err != nil {
				t.Fatalf("creating directory %s: %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

// RecordingLogger captures log calls for assertions. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogRecord is one captured log call.
type LogRecord struct {
	Level   string
	Message string
	Args    []any
}

var _ vsync.Logger = (*RecordingLogger)(nil)

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, LogRecord{Level: level, Message: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// Records returns a copy of everything logged so far.
func (l *RecordingLogger) Records() []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogRecord(nil), l.records...)
}

// HasMessage reports whether a record at level contains substr in its
// message.
func (l *RecordingLogger) HasMessage(level, substr string) bool {
	for _, r := range l.Records() {
		if r.Level == level && strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

// StubClock returns a fixed time from Now.
type StubClock struct {
	Time time.Time
}

var _ vsync.Clock = StubClock{}

func (c StubClock) Now() time.Time { return c.Time }

// SeqIDGenerator hands out "id-1", "id-2", ... deterministically.
type SeqIDGenerator struct {
	mu sync.Mutex
	n  int
}

var _ vsync.IDGenerator = (*SeqIDGenerator)(nil)

func (g *SeqIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

// FaultProvider wraps a checksum provider and fails for chosen file names.
type FaultProvider struct {
	Inner checksum.Provider

	// FailNames lists base names whose File calls return Err.
	FailNames []string
	Err       error
}

var _ checksum.Provider = (*FaultProvider)(nil)

func (p *FaultProvider) File(ctx context.Context, path string) (uint32, error) {
	base := filepath.Base(path)
	for _, n := range p.FailNames {
		if n == base {
			return 0, p.Err
		}
	}
	return p.Inner.File(ctx, path)
}

func (p *FaultProvider) Sum(ctx context.Context, r io.Reader) (uint32, error) {
	return p.Inner.Sum(ctx, r)
}
