// Package app assembles the engine components from configuration and exposes
// the high-level operations the CLI runs.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"vsync/internal/checksum"
	"vsync/internal/config"
	"vsync/internal/copier"
	"vsync/internal/database"
	"vsync/internal/encryption"
	"vsync/internal/model"
	"vsync/internal/scan"
	"vsync/internal/snapshot"
	"vsync/internal/store"
	"vsync/internal/syncer"
	"vsync/internal/vsync"
)

// App is the application layer between the CLI and the engine. The caller
// must call Close when done.
type App struct {
	cfg       *config.Config
	db        vsync.Database
	store     vsync.SnapshotStore
	encryptor vsync.Encryptor
	engine    *copier.Engine
	service   *vsync.SyncService
	logger    vsync.Logger
	logCloser io.Closer
}

// NewApp wires a fully configured App. operation identifies the CLI command
// being run (for log tagging). passphrase is only consulted when snapshot
// encryption is enabled and the operation needs to read snapshots back; it
// may be empty otherwise.
func NewApp(cfg *config.Config, operation string, passphrase string) (*App, error) {
	opID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	slogger, logCloser, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	snapStore, err := store.NewStoreFromConfig(context.Background(), cfg.Store)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	if cfg.Encryption.Enabled {
		var dec vsync.DecryptionContext
		if passphrase != "" {
			dec, err = encryptor.Unlock(passphrase)
			if err != nil {
				db.Close()
				logCloser.Close()
				return nil, fmt.Errorf("unlocking snapshot encryption: %w", err)
			}
		}
		snapStore = store.NewEncryptedStore(snapStore, encryptor, dec)
	}

	provider := checksum.NewCRC32Provider()
	clock := vsync.RealClock{}
	idgen := vsync.UUIDGenerator{}

	scanner := scan.New(provider, logger, clock, idgen, scan.Options{
		Blacklist:       cfg.Scan.Blacklist,
		ComputeChecksum: cfg.Scan.Checksum,
		FailFast:        cfg.Scan.FailFast,
		YieldEvery:      cfg.Scan.YieldEvery,
		YieldDelay:      time.Duration(cfg.Scan.YieldDelayMs) * time.Millisecond,
	})

	engine := copier.NewEngine(logger, nil)

	sy := syncer.New(engine, provider, logger, clock, idgen, syncer.Options{
		MaxAttempts:    cfg.Copy.MaxAttempts,
		RetryDelay:     time.Duration(cfg.Copy.RetryDelayMs) * time.Millisecond,
		CheckFreeSpace: cfg.Sync.CheckFreeSpace,
	})

	service := vsync.NewSyncService(db, snapStore, scanner, sy, logger, clock)

	return &App{
		cfg:       cfg,
		db:        db,
		store:     snapStore,
		encryptor: encryptor,
		engine:    engine,
		service:   service,
		logger:    logger,
		logCloser: logCloser,
	}, nil
}

// Scan inventories root and persists the snapshot under name.
func (a *App) Scan(ctx context.Context, root string, name string) (*snapshot.Snapshot, error) {
	return a.service.CaptureSnapshot(ctx, root, name)
}

// Sync reconciles targetRoot against the named snapshot.
func (a *App) Sync(ctx context.Context, name string, targetRoot string) (*model.SyncStats, error) {
	return a.service.SyncFromSnapshot(ctx, name, targetRoot)
}

// Copy performs one retry-wrapped verified copy.
func (a *App) Copy(ctx context.Context, source, destination string) (copier.Outcome, error) {
	op, err := a.db.CreateSyncOperation("Copy", fmt.Sprintf("source=%s destination=%s", source, destination))
	if err != nil {
		return copier.FatalError, err
	}

	outcome, copyErr := a.engine.RetryVerifiedCopy(ctx, source, destination,
		a.cfg.Copy.MaxAttempts, time.Duration(a.cfg.Copy.RetryDelayMs)*time.Millisecond)

	status := "failed"
	if outcome == copier.Success || outcome == copier.NoMetadata {
		status = "success"
	}
	if err := a.db.FinishSyncOperation(op.ID, status); err != nil {
		a.logger.Error("finishing operation record", "id", op.ID, "error", err)
	}
	return outcome, copyErr
}

// Snapshots lists the persisted snapshot names.
func (a *App) Snapshots(ctx context.Context) ([]string, error) {
	return a.service.ListSnapshots(ctx)
}

// History returns the most recent recorded operations.
func (a *App) History(limit int) ([]*model.SyncOperation, error) {
	return a.service.History(limit)
}

// InitKeys generates the snapshot encryption key pair.
func (a *App) InitKeys(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}
