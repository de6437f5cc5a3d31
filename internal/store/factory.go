package store

import (
	"context"
	"fmt"

	"vsync/internal/config"
	"vsync/internal/vsync"
)

// NewStoreFromConfig creates a SnapshotStore backend based on the config
// type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (vsync.SnapshotStore, error) {
	switch cfg.Type {
	case "filesystem", "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
