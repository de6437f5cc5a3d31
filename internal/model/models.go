package model

import (
	"database/sql"
	"time"
)

// SyncOperation is one recorded CLI run that mutated or inspected a target
// tree (a scan or a sync). FinishedAt is null while the operation is running
// or if the process died before finishing.
type SyncOperation struct {
	ID         int64
	Operation  string // "Scan", "Sync", "Copy"
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string // "running", "success", "failed"
}

// FileEvent is one filesystem mutation (or skip) performed during a sync,
// recorded for audit under its parent operation.
type FileEvent struct {
	ID           int64
	OperationID  int64
	RelativePath string
	Action       string // "copy", "mkdir", "delete"
	Outcome      string // "success", "no_metadata", "skipped", "error_during_copy", "error"
	CreatedAt    time.Time
}

// SyncStats summarizes a single Sync run. Events carries the per-file audit
// trail; OperationID and CreatedAt are filled in when the events are persisted.
type SyncStats struct {
	DirsCreated  int
	FilesCopied  int
	FilesSkipped int
	Deleted      int
	Failed       int
	StaleDropped int // snapshot entries whose source had vanished

	Events []FileEvent
}
