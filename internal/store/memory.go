package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"vsync/internal/vsync"
)

// MemoryStore is an in-memory snapshot store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, name string, r io.Reader) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string, w io.Writer) error {
	s.mu.Lock()
	data, ok := s.blobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("snapshot not found: %s", name)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[name]; !ok {
		return fmt.Errorf("snapshot not found: %s", name)
	}
	delete(s.blobs, name)
	return nil
}

var _ vsync.SnapshotStore = (*MemoryStore)(nil)
