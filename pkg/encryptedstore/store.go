// Package encryptedstore implements the encrypted block store (L2):
// an AEAD wrapper around pkg/physicalstore. Every stored block is
// nonce || ciphertext || auth_tag, with the block id as associated
// data so a ciphertext can never be replayed under a different id.
package encryptedstore

import (
	"crypto/rand"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cipher"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/cryfs/cryfs-sub004/pkg/cryfsmetrics"
	"github.com/rs/zerolog"
)

// BaseStore is the subset of pkg/physicalstore's interface this layer
// needs. Kept minimal so tests can substitute a fake base store
// without depending on pkg/physicalstore.
type BaseStore interface {
	Exists(id blockid.ID) (bool, error)
	Load(id blockid.ID) ([]byte, error)
	Store(id blockid.ID, payload []byte) error
	TryCreate(id blockid.ID, payload []byte) error
	Remove(id blockid.ID) error
	NumBlocks() (uint64, error)
	AllBlocks() ([]blockid.ID, error)
	EstimateNumFreeBytes() (uint64, error)
}

// Store is the L2 encrypted block store.
type Store struct {
	base   BaseStore
	aead   cipher.AEAD
	keyBuf *cipher.KeyBuffer
	logger zerolog.Logger
}

// New constructs an encrypted store over base, using the AEAD
// algorithm name with the key held by keyBuf. New takes ownership of
// keyBuf: the Store's Close will close it.
func New(base BaseStore, name cipher.Name, keyBuf *cipher.KeyBuffer) (*Store, error) {
	aead, err := cipher.New(name, keyBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encryptedstore: %w", err)
	}
	return &Store{
		base:   base,
		aead:   aead,
		keyBuf: keyBuf,
		logger: cryfslog.WithComponent("encryptedstore"),
	}, nil
}

// Close zeroes the encryption key. The underlying base store is not
// closed; callers own its lifecycle.
func (s *Store) Close() error {
	return s.keyBuf.Close()
}

// Overhead is the number of bytes this layer adds to every plaintext
// it seals: a fresh nonce plus the AEAD's authentication tag.
func (s *Store) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

func (s *Store) seal(id blockid.ID, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encryptedstore: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, id.Bytes())
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (s *Store) open(id blockid.ID, data []byte) ([]byte, error) {
	nonceLen := s.aead.NonceSize()
	if len(data) < nonceLen {
		return nil, &cryfserr.DecryptionFailure{BlockID: id.String(), Cause: fmt.Errorf("stored block shorter than nonce")}
	}
	nonce, sealed := data[:nonceLen], data[nonceLen:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, id.Bytes())
	if err != nil {
		cryfsmetrics.DecryptionFailures.Inc()
		logEvt := cryfslog.WithBlockID(s.logger, id.String())
		logEvt.Error().Err(err).Msg("AEAD authentication failed")
		return nil, &cryfserr.DecryptionFailure{BlockID: id.String(), Cause: err}
	}
	return plaintext, nil
}

// Exists delegates to the base store; existence does not require
// decryption.
func (s *Store) Exists(id blockid.ID) (bool, error) {
	return s.base.Exists(id)
}

// Load reads and decrypts the block for id. Returns (nil, nil) if the
// base store has no block for id.
func (s *Store) Load(id blockid.ID) ([]byte, error) {
	raw, err := s.base.Load(id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	plaintext, err := s.open(id, raw)
	if err != nil {
		return nil, err
	}
	cryfsmetrics.BlocksLoaded.WithLabelValues("encryptedstore").Inc()
	return plaintext, nil
}

// Store encrypts plaintext and writes it for id, overwriting any
// existing block.
func (s *Store) Store(id blockid.ID, plaintext []byte) error {
	sealed, err := s.seal(id, plaintext)
	if err != nil {
		return err
	}
	if err := s.base.Store(id, sealed); err != nil {
		return err
	}
	cryfsmetrics.BlocksStored.WithLabelValues("encryptedstore").Inc()
	return nil
}

// TryCreate encrypts plaintext and writes it for id only if no block
// for id exists yet.
func (s *Store) TryCreate(id blockid.ID, plaintext []byte) error {
	sealed, err := s.seal(id, plaintext)
	if err != nil {
		return err
	}
	if err := s.base.TryCreate(id, sealed); err != nil {
		return err
	}
	cryfsmetrics.BlocksStored.WithLabelValues("encryptedstore").Inc()
	return nil
}

// Remove deletes the block for id.
func (s *Store) Remove(id blockid.ID) error {
	return s.base.Remove(id)
}

// NumBlocks delegates to the base store.
func (s *Store) NumBlocks() (uint64, error) {
	return s.base.NumBlocks()
}

// AllBlocks delegates to the base store.
func (s *Store) AllBlocks() ([]blockid.ID, error) {
	return s.base.AllBlocks()
}

// EstimateNumFreeBytes delegates to the base store, adjusted down by
// nothing: free space is a physical-disk notion, not a usable-payload
// notion, so this layer passes it through unchanged.
func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	return s.base.EstimateNumFreeBytes()
}
