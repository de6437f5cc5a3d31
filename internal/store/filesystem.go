// Package store persists serialized snapshots by name. Backends stream
// opaque bytes; serialization and optional encryption happen in front of
// them.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vsync/internal/vsync"
)

const snapshotExt = ".snap"

// FileSystemStore keeps snapshots as files under a root directory, one
// <name>.snap per snapshot. Writes go through a temp file and a rename so a
// crash never leaves a half-written snapshot under its final name.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the given directory, creating
// it if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot store directory: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) Put(ctx context.Context, name string, r io.Reader) error {
	if err := validateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	committed = true
	return nil
}

func (s *FileSystemStore) Get(ctx context.Context, name string, w io.Writer) error {
	if err := validateName(name); err != nil {
		return err
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot not found: %s", name)
		}
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

func (s *FileSystemStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot store: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSystemStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot not found: %s", name)
		}
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

func (s *FileSystemStore) path(name string) string {
	return filepath.Join(s.root, name+snapshotExt)
}

// validateName keeps snapshot names flat: they become file names and S3 key
// suffixes, never paths.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("snapshot name must not contain path separators: %q", name)
	}
	return nil
}

var _ vsync.SnapshotStore = (*FileSystemStore)(nil)
