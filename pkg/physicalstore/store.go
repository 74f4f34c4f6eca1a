// Package physicalstore implements the lowest layer of the block
// store stack: durable storage of fixed-size byte blobs by BlockId on
// a local filesystem, sharded two levels deep to keep directory
// fan-out bounded.
package physicalstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/cryfs/cryfs-sub004/pkg/cryfsmetrics"
	"github.com/cryfs/cryfs-sub004/pkg/localstate"
	"github.com/rs/zerolog"
)

// Magic is the fixed 14-byte header prefixed to every block file on
// disk, ahead of whatever the upper layers wrote.
var Magic = [14]byte{'c', 'r', 'y', 'f', 's', ';', 'b', 'l', 'o', 'c', 'k', ';', '0', 0}

const tempSuffix = ".tmp"

// Store is the L0 physical block store. One Store instance owns one
// base directory; concurrent Stores over the same directory from
// different processes are not supported.
type Store struct {
	baseDir string
	logger  zerolog.Logger
	free    freeSpaceCache
	accel   *localstate.AcceleratorIndex
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("physicalstore: create base dir %s: %w", baseDir, err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  cryfslog.WithComponent("physicalstore"),
	}, nil
}

// UseAccelerator attaches a known-block-ids index to short-circuit
// NumBlocks/AllBlocks enumeration. The index is reconciled against a
// full directory walk before it is trusted; afterwards it is kept
// current on every create and remove, best-effort (an index write
// failure is logged, never propagated; the walk remains the ground
// truth and the index is rebuilt on the next open's reconcile).
func (s *Store) UseAccelerator(accel *localstate.AcceleratorIndex) error {
	var actual []blockid.ID
	if err := s.walk(func(id blockid.ID) error {
		actual = append(actual, id)
		return nil
	}); err != nil {
		return err
	}
	if _, err := accel.Reconcile(actual); err != nil {
		return err
	}
	s.accel = accel
	return nil
}

func (s *Store) accelMarkKnown(id blockid.ID) {
	if s.accel == nil {
		return
	}
	if err := s.accel.MarkKnown(id); err != nil {
		s.logger.Warn().Err(err).Str("block_id", id.String()).Msg("known-blocks index update failed")
	}
}

func (s *Store) accelMarkRemoved(id blockid.ID) {
	if s.accel == nil {
		return
	}
	if err := s.accel.MarkRemoved(id); err != nil {
		s.logger.Warn().Err(err).Str("block_id", id.String()).Msg("known-blocks index update failed")
	}
}

// path returns the on-disk path for id, sharded by blockid.ShardPath.
func (s *Store) path(id blockid.ID) string {
	dir, name := id.ShardPath()
	return filepath.Join(s.baseDir, dir, name)
}

// Exists reports whether id has a block on disk.
func (s *Store) Exists(id blockid.ID) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("physicalstore: stat %s: %w", id, err)
}

// Load reads the block for id. It returns (nil, nil) if the block does
// not exist; absence is not an error at this layer.
func (s *Store) Load(id blockid.ID) ([]byte, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("physicalstore: open %s: %w", id, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("physicalstore: read %s: %w", id, err)
	}
	if len(data) < len(Magic) {
		return nil, &cryfserr.FormatError{Layer: "physicalstore", Detail: fmt.Sprintf("block %s shorter than magic header", id)}
	}
	for i, b := range Magic {
		if data[i] != b {
			return nil, &cryfserr.FormatError{Layer: "physicalstore", Detail: fmt.Sprintf("block %s has wrong magic header", id)}
		}
	}
	cryfsmetrics.BlocksLoaded.WithLabelValues("physicalstore").Inc()
	cryfsmetrics.BytesRead.WithLabelValues("physicalstore").Add(float64(len(data) - len(Magic)))
	return data[len(Magic):], nil
}

// Store writes payload for id, overwriting any existing block.
func (s *Store) Store(id blockid.ID, payload []byte) error {
	if err := s.writeAtomic(id, payload); err != nil {
		return err
	}
	s.accelMarkKnown(id)
	cryfsmetrics.BlocksStored.WithLabelValues("physicalstore").Inc()
	cryfsmetrics.BytesWritten.WithLabelValues("physicalstore").Add(float64(len(payload)))
	return nil
}

// TryCreate writes payload for id only if no block for id exists yet.
// Returns cryfserr.ErrAlreadyExists if one does.
func (s *Store) TryCreate(id blockid.ID, payload []byte) error {
	exists, err := s.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("physicalstore: block %s: %w", id, cryfserr.ErrAlreadyExists)
	}
	if err := s.writeAtomic(id, payload); err != nil {
		return err
	}
	s.accelMarkKnown(id)
	cryfsmetrics.BlocksStored.WithLabelValues("physicalstore").Inc()
	cryfsmetrics.BytesWritten.WithLabelValues("physicalstore").Add(float64(len(payload)))
	return nil
}

// writeAtomic writes the magic header plus payload to a temp file in
// the same shard directory and renames it into place, so a reader
// never observes a partially written block under the final name. A
// crash between write and rename leaves only an orphaned .tmp file,
// never a truncated live block.
func (s *Store) writeAtomic(id blockid.ID, payload []byte) error {
	dir, name := id.ShardPath()
	shardDir := filepath.Join(s.baseDir, dir)
	if err := os.MkdirAll(shardDir, 0o700); err != nil {
		return fmt.Errorf("physicalstore: create shard dir %s: %w", shardDir, err)
	}

	final := filepath.Join(shardDir, name)
	tmp := final + tempSuffix

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("physicalstore: create temp file for %s: %w", id, err)
	}
	if _, err := f.Write(Magic[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("physicalstore: write header for %s: %w", id, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("physicalstore: write payload for %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("physicalstore: sync %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("physicalstore: close temp file for %s: %w", id, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("physicalstore: rename into place for %s: %w", id, err)
	}
	return nil
}

// Remove deletes the block for id. Returns ErrNotRemovedBecauseItDoesntExist
// if id has no block.
func (s *Store) Remove(id blockid.ID) error {
	err := os.Remove(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return cryfserr.ErrNotRemovedBecauseItDoesntExist
		}
		return fmt.Errorf("physicalstore: remove %s: %w", id, err)
	}
	s.accelMarkRemoved(id)
	cryfsmetrics.BlocksRemoved.WithLabelValues("physicalstore").Inc()
	return nil
}

// NumBlocks counts all blocks currently on disk, answered from the
// accelerator index when one is attached, otherwise by walking the
// full two-level shard tree.
func (s *Store) NumBlocks() (uint64, error) {
	if s.accel != nil {
		n, err := s.accel.Count()
		if err == nil {
			return n, nil
		}
		s.logger.Warn().Err(err).Msg("known-blocks index count failed, falling back to directory walk")
	}
	var count uint64
	err := s.walk(func(blockid.ID) error {
		count++
		return nil
	})
	return count, err
}

// AllBlocks returns every block id currently on disk. The snapshot is
// not guaranteed consistent with concurrent creates or removes; a
// block created or removed mid-walk may or may not appear.
func (s *Store) AllBlocks() ([]blockid.ID, error) {
	if s.accel != nil {
		ids, err := s.accel.KnownBlocks()
		if err == nil {
			return ids, nil
		}
		s.logger.Warn().Err(err).Msg("known-blocks index listing failed, falling back to directory walk")
	}
	var ids []blockid.ID
	err := s.walk(func(id blockid.ID) error {
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func (s *Store) walk(visit func(blockid.ID) error) error {
	shardDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("physicalstore: list base dir: %w", err)
	}
	for _, shard := range shardDirs {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.baseDir, shard.Name()))
		if err != nil {
			return fmt.Errorf("physicalstore: list shard dir %s: %w", shard.Name(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if filepath.Ext(name) == tempSuffix {
				continue
			}
			id, err := blockid.ParseHex(shard.Name() + name)
			if err != nil {
				s.logger.Warn().Str("path", filepath.Join(shard.Name(), name)).Msg("skipping unparseable entry")
				continue
			}
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// HeaderOverhead is the number of bytes this layer prepends to every
// stored payload, subtracted from the configured physical block size
// to compute the size available to the next layer up.
const HeaderOverhead = len(Magic)
