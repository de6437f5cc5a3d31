package encryption

import (
	"bytes"
	"fmt"
	"io"

	"vsync/internal/vsync"
)

// marker distinguishes "encrypted" output from plaintext in tests without
// involving real crypto.
var marker = []byte("VSENC\x00")

// TestEncryptor is a deterministic, reversible stand-in for AgeEncryptor used
// by unit tests: it prefixes data with a fixed marker and nothing else.
type TestEncryptor struct{}

var _ vsync.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor { return &TestEncryptor{} }

func (*TestEncryptor) Setup(string) error { return nil }

func (*TestEncryptor) IsConfigured() bool { return true }

func (*TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(marker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (*TestEncryptor) Unlock(string) (vsync.DecryptionContext, error) {
	return &testDecryptionContext{}, nil
}

type testDecryptionContext struct{}

var _ vsync.DecryptionContext = (*testDecryptionContext)(nil)

func (*testDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(marker))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(head, marker) {
		return fmt.Errorf("data was not produced by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
