package cryfscfg

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cipher"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MinBlocksizeBytes and MaxBlocksizeBytes bound blocksize_bytes to a
// range that leaves room for the header overhead of every layer below
// the node store and still fits comfortably in a single allocation.
const (
	MinBlocksizeBytes = 64
	MaxBlocksizeBytes = 1 << 24 // 16 MiB
)

// Config is the filesystem configuration the core consumes: the
// fields a mount adapter loads from the on-disk config file before
// opening the block store stack.
type Config struct {
	RootBlobID                       string  `yaml:"root_blob_id" validate:"required,len=32,hexadecimal"`
	Cipher                           string  `yaml:"cipher" validate:"required,cipher_name"`
	BlocksizeBytes                   uint64  `yaml:"blocksize_bytes" validate:"required,gte=64,lte=16777216"`
	FilesystemID                     string  `yaml:"filesystem_id" validate:"required,len=32,hexadecimal"`
	EncryptionKey                    string  `yaml:"encryption_key" validate:"required,hexadecimal"`
	ExclusiveClientID                *uint32 `yaml:"exclusive_client_id,omitempty"`
	MissingBlockIsIntegrityViolation bool    `yaml:"missing_block_is_integrity_violation"`
	AllowIntegrityViolations         bool    `yaml:"allow_integrity_violations"`
}

// validateCipherName reports whether the field value names a cipher
// pkg/cipher knows how to construct.
func validateCipherName(fl validator.FieldLevel) bool {
	_, err := cipher.KeySize(cipher.Name(fl.Field().String()))
	return err == nil
}

// validateEncryptionKeyLength is a struct-level check: the hex-decoded
// encryption_key must be exactly the key length the configured cipher
// requires. Struct-level rather than field-level because it needs
// both fields at once.
func validateEncryptionKeyLength(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	size, err := cipher.KeySize(cipher.Name(cfg.Cipher))
	if err != nil {
		// cipher_name validation on the Cipher field already reports this.
		return
	}
	keyBytes, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		// hexadecimal validation on the EncryptionKey field already reports this.
		return
	}
	if len(keyBytes) != size {
		sl.ReportError(cfg.EncryptionKey, "EncryptionKey", "EncryptionKey", "key_len_matches_cipher", fmt.Sprintf("%d", size))
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cipher_name", validateCipherName)
	v.RegisterStructValidation(validateEncryptionKeyLength, Config{})
	return v
}

// Load reads path as YAML, unmarshals it into a Config, and validates
// the result. On validation failure the returned error wraps a
// validator.ValidationErrors; on malformed YAML it wraps a
// yaml.TypeError (or similar).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cryfscfg: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cryfscfg: parsing %s: %w", path, err)
	}
	if err := newValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("cryfscfg: validating %s: %w", path, err)
	}
	return &cfg, nil
}

// CipherName returns Cipher as a pkg/cipher.Name, valid after Load has
// already validated the struct.
func (c *Config) CipherName() cipher.Name {
	return cipher.Name(c.Cipher)
}

// RootBlobIDParsed decodes RootBlobID into a blockid.ID.
func (c *Config) RootBlobIDParsed() (blockid.ID, error) {
	return blockid.ParseHex(c.RootBlobID)
}

// FilesystemIDBytes decodes FilesystemID into its 16 raw bytes.
func (c *Config) FilesystemIDBytes() ([]byte, error) {
	b, err := hex.DecodeString(c.FilesystemID)
	if err != nil {
		return nil, fmt.Errorf("cryfscfg: decoding filesystem_id: %w", err)
	}
	if len(b) != blockid.Length {
		return nil, fmt.Errorf("cryfscfg: filesystem_id must decode to %d bytes, got %d", blockid.Length, len(b))
	}
	return b, nil
}

// EncryptionKeyBytes decodes EncryptionKey into raw key bytes, already
// known (by Load's validation) to match CipherName's required length.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	b, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cryfscfg: decoding encryption_key: %w", err)
	}
	return b, nil
}

// IsSingleClientMode reports whether ExclusiveClientID was set,
// restricting the filesystem to writes from exactly one client id.
func (c *Config) IsSingleClientMode() bool {
	return c.ExclusiveClientID != nil
}
