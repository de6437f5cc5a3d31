// Package database records operation history in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"vsync/internal/database/migrations"
	"vsync/internal/model"
	"vsync/internal/vsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements vsync.Database.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens (and configures) a SQLite database at path, which
// may be ":memory:" for tests.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs the history
// schema relies on. Exported for tests and tools.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func (s *SQLiteDatabase) CreateSyncOperation(operation string, parameters string) (*model.SyncOperation, error) {
	op := &model.SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}

	res, err := s.db.Exec(
		`INSERT INTO sync_operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)`,
		op.Operation, op.Parameters, op.StartedAt, op.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading sync operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishSyncOperation(id int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return nil
}

// RecordFileEvents inserts the events of one operation in a single
// transaction.
func (s *SQLiteDatabase) RecordFileEvents(operationID int64, events []model.FileEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO file_events (operation_id, relative_path, action, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range events {
		if _, err := stmt.Exec(operationID, e.RelativePath, e.Action, e.Outcome, now); err != nil {
			return fmt.Errorf("inserting file event for %s: %w", e.RelativePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing file events: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListSyncOperations(limit int) ([]*model.SyncOperation, error) {
	rows, err := s.db.Query(
		`SELECT id, operation, parameters, started_at, finished_at, status
		 FROM sync_operations ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.SyncOperation
	for rows.Next() {
		var op model.SyncOperation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) ListFileEvents(operationID int64) ([]*model.FileEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, operation_id, relative_path, action, outcome, created_at
		 FROM file_events WHERE operation_id = ? ORDER BY id`, operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing file events: %w", err)
	}
	defer rows.Close()

	var events []*model.FileEvent
	for rows.Next() {
		var e model.FileEvent
		if err := rows.Scan(&e.ID, &e.OperationID, &e.RelativePath, &e.Action, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning file event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file events: %w", err)
	}
	return events, nil
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ vsync.Database = (*SQLiteDatabase)(nil)
