package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for vsync.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Scan       ScanConfig       `toml:"scan"`
	Copy       CopyConfig       `toml:"copy"`
	Sync       SyncConfig       `toml:"sync"`
	Store      StoreConfig      `toml:"store"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
}

// ScanConfig holds tree-scanner settings.
type ScanConfig struct {
	// Blacklist lists file names (case-insensitive, exact match) excluded
	// from every scan.
	Blacklist []string `toml:"blacklist"`

	// Checksum enables CRC32 computation during scans by default.
	Checksum bool `toml:"checksum"`

	// FailFast stops a scan at the first entry error instead of recording
	// it and carrying on.
	FailFast bool `toml:"fail_fast,omitempty"`

	// YieldEvery/YieldDelayMs tune the cooperative throttle on large trees.
	YieldEvery   int `toml:"yield_every,omitempty"`
	YieldDelayMs int `toml:"yield_delay_ms,omitempty"`
}

// CopyConfig holds verified-copy settings.
type CopyConfig struct {
	MaxAttempts  int `toml:"max_attempts"`
	RetryDelayMs int `toml:"retry_delay_ms"`
}

// SyncConfig holds synchronizer settings.
type SyncConfig struct {
	CheckFreeSpace bool `toml:"check_free_space"`
}

// StoreConfig configures the snapshot store. A tagged union: Type selects
// the backend and determines which other fields apply.
type StoreConfig struct {
	Type string `toml:"type"` // "filesystem", "s3", or "memory"

	// Filesystem-specific (Type == "filesystem").
	Root string `toml:"root,omitempty"`

	// S3-specific (Type == "s3").
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig configures snapshot encryption at rest.
type EncryptionConfig struct {
	// Enabled turns on encryption of stored snapshots.
	Enabled bool `toml:"enabled"`

	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig configures the operation-history database.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a Config with sensible defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Scan: ScanConfig{
			Blacklist: []string{".DS_Store"},
		},
		Copy: CopyConfig{
			MaxAttempts:  3,
			RetryDelayMs: 2000,
		},
		Sync: SyncConfig{
			CheckFreeSpace: true,
		},
		Store: StoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "snapshots"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "vsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "vsync.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes a new config file at path, refusing to overwrite an existing
// one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
