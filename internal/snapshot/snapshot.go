// Package snapshot defines the persisted inventory model: a point-in-time
// description of a directory tree that later drives synchronization.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Kind distinguishes the two entry variants. Files and directories share the
// relative-path namespace within one snapshot and are disambiguated by Kind.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Error codes attached to entries whose own processing failed.
const (
	ErrCodeIO        = "io"
	ErrCodeCancelled = "cancelled"
)

// EntryError records a per-entry failure as data rather than aborting the
// scan that produced it.
type EntryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *EntryError) Error() string { return e.Message }

// IsCancelled reports whether this error marks a cancellation rather than a
// genuine failure.
func (e *EntryError) IsCancelled() bool { return e.Code == ErrCodeCancelled }

// Entry is one filesystem node discovered by a scan.
//
// Size is meaningful only for files; Checksum is only ever set for files and
// only when checksum computation was requested and succeeded. RecordedAt is
// audit metadata and is never used for comparison.
type Entry struct {
	RelativePath string      `json:"relative_path"`
	Name         string      `json:"name"`
	Kind         Kind        `json:"kind"`
	Size         int64       `json:"size,omitempty"`
	ModifiedAt   time.Time   `json:"modified_at"`
	RecordedAt   time.Time   `json:"recorded_at"`
	Checksum     *uint32     `json:"checksum,omitempty"`
	Err          *EntryError `json:"error,omitempty"`
}

// IsDir reports whether the entry describes a directory.
func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

// Snapshot owns the entry list produced by one scan invocation. It is
// immutable once returned by the scanner.
type Snapshot struct {
	ID        string    `json:"id"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// OK returns the entries with no error.
func (s *Snapshot) OK() []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Errors returns the entries that failed for a reason other than cancellation.
func (s *Snapshot) Errors() []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Err != nil && !e.Err.IsCancelled() {
			out = append(out, e)
		}
	}
	return out
}

// Cancelled returns the entries recorded at the point a cancellation was
// observed.
func (s *Snapshot) Cancelled() []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Err != nil && e.Err.IsCancelled() {
			out = append(out, e)
		}
	}
	return out
}

// HasErrors reports whether any entry carries a non-cancellation error.
func (s *Snapshot) HasErrors() bool {
	for _, e := range s.Entries {
		if e.Err != nil && !e.Err.IsCancelled() {
			return true
		}
	}
	return false
}

// Write serializes the snapshot as JSON. The format round-trips: Read on the
// output reproduces an equivalent snapshot for all stored fields.
func (s *Snapshot) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// Read deserializes a snapshot previously written with Write, possibly by a
// different process run.
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}
