package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"vsync/internal/config"
)

func newTestAge(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "vsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "vsync.key"),
	})
}

func TestAgeEncryptor(t *testing.T) {
	t.Run("setup then round trip", func(t *testing.T) {
		e := newTestAge(t)

		if e.IsConfigured() {
			t.Error("IsConfigured() = true before Setup")
		}
		if err := e.Setup("correct horse"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup")
		}

		plaintext := []byte("snapshot payload")
		var ciphertext bytes.Buffer
		if err := e.Encrypt(bytes.NewReader(plaintext), &ciphertext); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if bytes.Contains(ciphertext.Bytes(), plaintext) {
			t.Error("ciphertext contains the plaintext")
		}

		dec, err := e.Unlock("correct horse")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}

		var out bytes.Buffer
		if err := dec.Decrypt(bytes.NewReader(ciphertext.Bytes()), &out); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(out.Bytes(), plaintext) {
			t.Errorf("Decrypt() = %q, want %q", out.Bytes(), plaintext)
		}
	})

	t.Run("wrong passphrase fails to unlock", func(t *testing.T) {
		e := newTestAge(t)
		if err := e.Setup("right"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase expected error, got nil")
		}
	})

	t.Run("unlock without setup fails", func(t *testing.T) {
		e := newTestAge(t)
		if _, err := e.Unlock("whatever"); err == nil {
			t.Error("Unlock() without keys expected error, got nil")
		}
	})

	t.Run("encrypt without setup fails", func(t *testing.T) {
		e := newTestAge(t)
		var buf bytes.Buffer
		if err := e.Encrypt(strings.NewReader("data"), &buf); err == nil {
			t.Error("Encrypt() without keys expected error, got nil")
		}
	})
}

func TestTestEncryptor(t *testing.T) {
	e := NewTestEncryptor()

	t.Run("round trip", func(t *testing.T) {
		var sealed bytes.Buffer
		if err := e.Encrypt(strings.NewReader("hello"), &sealed); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if sealed.String() == "hello" {
			t.Error("Encrypt() output equals input")
		}

		dec, err := e.Unlock("")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		var out bytes.Buffer
		if err := dec.Decrypt(&sealed, &out); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if out.String() != "hello" {
			t.Errorf("Decrypt() = %q, want hello", out.String())
		}
	})

	t.Run("rejects foreign data", func(t *testing.T) {
		dec, _ := e.Unlock("")
		var out bytes.Buffer
		if err := dec.Decrypt(strings.NewReader("plain bytes"), &out); err == nil {
			t.Error("Decrypt() of unmarked data expected error, got nil")
		}
	})
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Run("age by default", func(t *testing.T) {
		e, err := NewEncryptorFromConfig(config.EncryptionConfig{})
		if err != nil {
			t.Fatalf("NewEncryptorFromConfig() error = %v", err)
		}
		if _, ok := e.(*AgeEncryptor); !ok {
			t.Errorf("NewEncryptorFromConfig() = %T, want *AgeEncryptor", e)
		}
	})

	t.Run("test encryptor", func(t *testing.T) {
		e, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "test"})
		if err != nil {
			t.Fatalf("NewEncryptorFromConfig() error = %v", err)
		}
		if _, ok := e.(*TestEncryptor); !ok {
			t.Errorf("NewEncryptorFromConfig() = %T, want *TestEncryptor", e)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "rot13"}); err == nil {
			t.Error("NewEncryptorFromConfig() expected error for unknown type, got nil")
		}
	})
}
