package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"vsync/internal/vsync"
)

// EncryptedStore wraps another store and encrypts snapshot bytes before the
// inner store sees them. Writing needs only the public key; reading requires
// an unlocked decryption context, so a machine that captures snapshots never
// has to hold the passphrase.
type EncryptedStore struct {
	inner vsync.SnapshotStore
	enc   vsync.Encryptor
	dec   vsync.DecryptionContext // nil until Unlock
}

// NewEncryptedStore wraps inner with enc. dec may be nil when only Put/List/
// Delete will be used.
func NewEncryptedStore(inner vsync.SnapshotStore, enc vsync.Encryptor, dec vsync.DecryptionContext) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc, dec: dec}
}

func (s *EncryptedStore) Put(ctx context.Context, name string, r io.Reader) error {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(r, &buf); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return s.inner.Put(ctx, name, &buf)
}

func (s *EncryptedStore) Get(ctx context.Context, name string, w io.Writer) error {
	if s.dec == nil {
		return fmt.Errorf("snapshot store is encrypted: unlock required")
	}

	var buf bytes.Buffer
	if err := s.inner.Get(ctx, name, &buf); err != nil {
		return err
	}
	if err := s.dec.Decrypt(&buf, w); err != nil {
		return fmt.Errorf("decrypting snapshot %q: %w", name, err)
	}
	return nil
}

func (s *EncryptedStore) List(ctx context.Context) ([]string, error) {
	return s.inner.List(ctx)
}

func (s *EncryptedStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

var _ vsync.SnapshotStore = (*EncryptedStore)(nil)
