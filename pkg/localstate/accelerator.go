package localstate

import (
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var knownBlocksBucket = []byte("known_blocks")

// AcceleratorIndex is a best-effort bbolt-backed cache of the block
// ids a physical store's shard tree holds, keyed by the raw 16-byte
// block id mapped to an empty value. It is never authoritative: every
// consumer must reconcile it against a real directory walk before
// trusting its count, and rebuild it wholesale on mismatch.
type AcceleratorIndex struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// OpenAcceleratorIndex opens (creating if necessary) the bbolt
// database at path and ensures the known_blocks bucket exists.
func OpenAcceleratorIndex(path string) (*AcceleratorIndex, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("localstate: open accelerator index %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(knownBlocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("localstate: create known_blocks bucket: %w", err)
	}
	return &AcceleratorIndex{db: db, logger: cryfslog.WithComponent("localstate")}, nil
}

// Close closes the underlying database.
func (a *AcceleratorIndex) Close() error {
	return a.db.Close()
}

// MarkKnown records id as present. Called after a successful
// try_create.
func (a *AcceleratorIndex) MarkKnown(id blockid.ID) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(knownBlocksBucket).Put(id.Bytes(), []byte{})
	})
}

// MarkRemoved drops id from the index. Called after a successful
// remove.
func (a *AcceleratorIndex) MarkRemoved(id blockid.ID) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(knownBlocksBucket).Delete(id.Bytes())
	})
}

// Count returns the number of ids currently indexed.
func (a *AcceleratorIndex) Count() (uint64, error) {
	var n uint64
	err := a.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(knownBlocksBucket).Stats().KeyN)
		return nil
	})
	return n, err
}

// KnownBlocks returns every id currently indexed, in bbolt's
// lexicographic key order (not meaningful beyond that).
func (a *AcceleratorIndex) KnownBlocks() ([]blockid.ID, error) {
	var ids []blockid.ID
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(knownBlocksBucket).ForEach(func(k, _ []byte) error {
			id, err := blockid.FromBytes(k)
			if err != nil {
				return fmt.Errorf("localstate: malformed key in known_blocks: %w", err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Reconcile compares the index's count against actual (a fresh
// directory walk's result) and, on mismatch, rebuilds the index from
// actual wholesale. Returns whether a rebuild happened.
func (a *AcceleratorIndex) Reconcile(actual []blockid.ID) (rebuilt bool, err error) {
	indexed, err := a.Count()
	if err != nil {
		return false, err
	}
	if indexed == uint64(len(actual)) {
		return false, nil
	}
	a.logger.Warn().
		Uint64("indexed_count", indexed).
		Int("actual_count", len(actual)).
		Msg("known-blocks accelerator index out of sync, rebuilding from directory walk")
	err = a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(knownBlocksBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(knownBlocksBucket)
		if err != nil {
			return err
		}
		for _, id := range actual {
			if err := b.Put(id.Bytes(), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("localstate: rebuild known_blocks index: %w", err)
	}
	return true, nil
}
