package encryption

import (
	"fmt"

	"vsync/internal/config"
	"vsync/internal/vsync"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (vsync.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
