package cipher

import (
	"crypto/subtle"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
)

// KeyBuffer holds a symmetric key in locked memory for as long as a
// filesystem is mounted: the key's pages are pinned into RAM (mlock,
// where the platform supports it) so they can never be written to
// swap, and Close zeroes them before the pin is released. It is the
// one place the raw key exists outside the AEAD it was handed to.
type KeyBuffer struct {
	key    []byte
	locked bool
	closed bool
}

// NewKeyBuffer takes ownership of key and pins its pages into RAM.
// The caller must not retain or reuse the slice afterwards. A failed
// pin (typically an exhausted memlock rlimit) is logged and the buffer
// still works; zeroing on Close does not depend on it.
func NewKeyBuffer(key []byte) *KeyBuffer {
	b := &KeyBuffer{key: key}
	if err := lockMemory(key); err != nil {
		logger := cryfslog.WithComponent("cipher")
		logger.Warn().Err(err).
			Msg("could not lock key memory, key pages may be written to swap")
	} else {
		b.locked = true
	}
	return b
}

// Bytes returns the key. Panics if the buffer has been closed.
func (b *KeyBuffer) Bytes() []byte {
	if b.closed {
		panic(fmt.Errorf("cipher: KeyBuffer used after Close"))
	}
	return b.key
}

// Equal reports whether other holds the same key, in constant time.
func (b *KeyBuffer) Equal(other *KeyBuffer) bool {
	if b.closed || other.closed {
		return false
	}
	return subtle.ConstantTimeCompare(b.key, other.key) == 1
}

// Close overwrites the key with zeroes and releases the memory pin.
// Idempotent.
func (b *KeyBuffer) Close() error {
	if b.closed {
		return nil
	}
	for i := range b.key {
		b.key[i] = 0
	}
	if b.locked {
		if err := unlockMemory(b.key); err != nil {
			logger := cryfslog.WithComponent("cipher")
			logger.Warn().Err(err).
				Msg("could not unlock key memory")
		}
		b.locked = false
	}
	b.closed = true
	return nil
}
