package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Name identifies a cipher algorithm by the string stored in a
// filesystem's config file.
type Name string

const (
	AES256GCM         Name = "aes-256-gcm"
	XChaCha20Poly1305 Name = "xchacha20-poly1305"
)

// AEAD is the subset of crypto/cipher.AEAD this package's constructors
// return. Kept as its own alias so callers depend on pkg/cipher, not
// directly on crypto/cipher.
type AEAD = stdcipher.AEAD

// Constructor builds an AEAD from a raw key of the registered size.
type Constructor func(key []byte) (AEAD, error)

type registration struct {
	keySize int
	ctor    Constructor
}

var (
	registryMu sync.RWMutex
	registry   = map[Name]registration{}
)

// Register adds an algorithm under name. The config layer accepts any
// registered name for the cipher field, so a new algorithm needs no
// change anywhere else in the stack. Re-registering a name replaces
// the previous entry.
func Register(name Name, keySize int, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{keySize: keySize, ctor: ctor}
}

// RegisteredNames returns every registered algorithm name, sorted.
func RegisteredNames() []Name {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func lookup(name Name) (registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return registration{}, fmt.Errorf("cipher: unknown algorithm %q", name)
	}
	return reg, nil
}

func init() {
	Register(AES256GCM, 32, newAESGCM)
	Register(XChaCha20Poly1305, chacha20poly1305.KeySize, chacha20poly1305.NewX)
}

// KeySize returns the required key length in bytes for name, or an
// error if name is not registered.
func KeySize(name Name) (int, error) {
	reg, err := lookup(name)
	if err != nil {
		return 0, err
	}
	return reg.keySize, nil
}

// New constructs an AEAD for the given algorithm and key. The key
// slice is copied into the underlying cipher state by the stdlib/x
// constructors; callers should still Zero the key they were holding
// once this returns.
func New(name Name, key []byte) (AEAD, error) {
	reg, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if len(key) != reg.keySize {
		return nil, fmt.Errorf("cipher: %s requires a %d-byte key, got %d", name, reg.keySize, len(key))
	}
	return reg.ctor(key)
}

func newAESGCM(key []byte) (AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return stdcipher.NewGCM(block)
}

// GenerateKey returns a random key of the size required by name,
// read from crypto/rand.
func GenerateKey(name Name) ([]byte, error) {
	size, err := KeySize(name)
	if err != nil {
		return nil, err
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cipher: generating key: %w", err)
	}
	return key, nil
}
