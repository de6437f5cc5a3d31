package vsync

import (
	"context"
	"io"

	"vsync/internal/model"
	"vsync/internal/snapshot"
)

// Scanner produces an inventory snapshot of a directory tree. The snapshot is
// always returned, even partial after cancellation; only an unusable root is
// an error.
type Scanner interface {
	Scan(ctx context.Context, root string) (*snapshot.Snapshot, error)
}

// Synchronizer reconciles a target tree against a snapshot. Per-file failures
// are logged and counted in the stats rather than aborting the run; the
// returned error is reserved for cancellation and setup failures.
type Synchronizer interface {
	Sync(ctx context.Context, snap *snapshot.Snapshot, targetRoot string) (*model.SyncStats, error)
}

// SnapshotStore persists serialized snapshots by name. Backends stream bytes
// and never interpret them, which lets an encrypting wrapper sit in front of
// any backend.
type SnapshotStore interface {
	// Put stores the bytes readable from r under name, replacing any
	// previous snapshot with that name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Get writes the stored bytes for name to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// List returns the stored snapshot names.
	List(ctx context.Context) ([]string, error)

	// Delete removes the named snapshot.
	Delete(ctx context.Context, name string) error
}

// Database records operation history for auditing.
type Database interface {
	CreateSyncOperation(operation string, parameters string) (*model.SyncOperation, error)
	FinishSyncOperation(id int64, status string) error
	RecordFileEvents(operationID int64, events []model.FileEvent) error
	ListSyncOperations(limit int) ([]*model.SyncOperation, error)
	ListFileEvents(operationID int64) ([]*model.FileEvent, error)
	Close() error
}

// Encryptor encrypts snapshot bytes at rest. Encryption needs only the
// public key; decryption requires unlocking the private key with the
// passphrase first.
type Encryptor interface {
	// Setup generates and stores a new key pair protected by passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a decryption context.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether key material is present.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked identity for decrypting snapshots.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
