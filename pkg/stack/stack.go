package stack

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cryfs/cryfs-sub004/pkg/blobstore"
	"github.com/cryfs/cryfs-sub004/pkg/blockcache"
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/blockstore"
	"github.com/cryfs/cryfs-sub004/pkg/cipher"
	"github.com/cryfs/cryfs-sub004/pkg/cryfscfg"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/cryfs/cryfs-sub004/pkg/encryptedstore"
	"github.com/cryfs/cryfs-sub004/pkg/fsblob"
	"github.com/cryfs/cryfs-sub004/pkg/integritystore"
	"github.com/cryfs/cryfs-sub004/pkg/localstate"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
	"github.com/cryfs/cryfs-sub004/pkg/physicalstore"
	"github.com/cryfs/cryfs-sub004/pkg/treestore"
	"github.com/cryfs/cryfs-sub004/pkg/violations"
)

// Stack owns one mounted filesystem's fully composed storage stack and
// its local state. Obtain one with Open and release it with Close; the
// zero value is not usable.
type Stack struct {
	physical  *physicalstore.Store
	encrypted *encryptedstore.Store
	integrity *integritystore.Store
	cache     *blockcache.Cache
	nodes     *nodestore.Store
	trees     *treestore.Store
	blobs     *blobstore.Store
	fsblobs   *fsblob.Store

	accel  *localstate.AcceleratorIndex
	broker *violations.Broker
	unsub  func()

	clientID   blockid.ClientID
	rootBlobID blockid.ID
	atime      cryfscfg.AtimePolicy
	logger     zerolog.Logger
}

// Open builds the stack over the block directory at blocksDir using
// cfg's cipher, key, and policy knobs, with local state (integrity
// ledger, client id, known-blocks index) under env.LocalStateDir. The
// callbacks come from the mount adapter; all three hooks are optional.
//
// On any error, everything already constructed is released before Open
// returns.
func Open(blocksDir string, cfg *cryfscfg.Config, env cryfscfg.RuntimeEnv, callbacks blockstore.MountCallbacks) (*Stack, error) {
	rootBlobID, err := cfg.RootBlobIDParsed()
	if err != nil {
		return nil, err
	}

	dir := localstate.New(env.LocalStateDir, cfg.FilesystemID)
	if err := dir.Ensure(); err != nil {
		return nil, fmt.Errorf("stack: create local state dir: %w", err)
	}

	s := &Stack{
		rootBlobID: rootBlobID,
		atime:      callbacks.AtimePolicy,
		logger:     cryfslog.WithComponent("stack"),
	}

	// Tear down whatever exists so far if a later step fails.
	ok := false
	defer func() {
		if !ok {
			s.closePartial()
		}
	}()

	s.accel, err = localstate.OpenAcceleratorIndex(dir.AcceleratorIndexPath())
	if err != nil {
		return nil, err
	}

	s.physical, err = physicalstore.New(blocksDir)
	if err != nil {
		return nil, err
	}
	if err := s.physical.UseAccelerator(s.accel); err != nil {
		return nil, err
	}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	s.encrypted, err = encryptedstore.New(s.physical, cfg.CipherName(), cipher.NewKeyBuffer(key))
	if err != nil {
		return nil, err
	}

	if cfg.IsSingleClientMode() {
		s.clientID = blockid.ClientID(*cfg.ExclusiveClientID)
	} else {
		s.clientID, err = dir.LoadOrCreateClientID()
		if err != nil {
			return nil, err
		}
	}

	s.broker = violations.NewBroker()
	if callbacks.OnIntegrityViolation != nil {
		s.unsub = s.broker.Subscribe(callbacks.OnIntegrityViolation)
	}

	integrityCfg := integritystore.Config{
		MyClientID:                       s.clientID,
		MissingBlockIsIntegrityViolation: cfg.MissingBlockIsIntegrityViolation,
		AllowIntegrityViolations:         cfg.AllowIntegrityViolations,
		OnViolation:                      s.broker,
	}
	if cfg.IsSingleClientMode() {
		exclusive := blockid.ClientID(*cfg.ExclusiveClientID)
		integrityCfg.ExclusiveClientID = &exclusive
	}
	s.integrity, err = integritystore.Open(s.encrypted, dir.IntegrityStatePath(), integrityCfg)
	if err != nil {
		return nil, err
	}

	s.cache, err = blockcache.New(s.integrity, blockcache.DefaultMaxEntries, blockcache.DefaultPruneInterval)
	if err != nil {
		return nil, err
	}

	overhead := physicalstore.HeaderOverhead + s.encrypted.Overhead() + integritystore.HeaderOverhead
	layout, err := nodestore.NewLayout(int(cfg.BlocksizeBytes), overhead)
	if err != nil {
		return nil, err
	}
	s.nodes = nodestore.New(s.cache, layout)
	s.trees = treestore.New(s.nodes)
	s.blobs = blobstore.New(s.trees)
	s.fsblobs = fsblob.New(s.blobs)

	ok = true
	return s, nil
}

// closePartial releases whatever Open managed to build before failing,
// in the same order Close uses, skipping absent pieces.
func (s *Stack) closePartial() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing block cache during failed open")
		}
	}
	if s.integrity != nil {
		if err := s.integrity.Flush(); err != nil {
			s.logger.Warn().Err(err).Msg("flushing integrity state during failed open")
		}
	}
	if s.encrypted != nil {
		_ = s.encrypted.Close()
	}
	if s.accel != nil {
		if err := s.accel.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing known-blocks index during failed open")
		}
	}
}

// Close shuts the stack down cleanly. The order matters: stop the
// cache's prune task and flush every dirty block first (writes flow
// down through integrity and encryption while both still work), then
// persist the integrity ledger, then zero the encryption key, then
// release the local state database.
func (s *Stack) Close() error {
	var firstErr error
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if err := s.cache.Close(); err != nil {
		firstErr = err
	}
	if err := s.integrity.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.encrypted.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.accel.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// FsBlobs returns the filesystem blob store at the top of the stack.
func (s *Stack) FsBlobs() *fsblob.Store { return s.fsblobs }

// Blobs returns the blob store.
func (s *Stack) Blobs() *blobstore.Store { return s.blobs }

// Trees returns the tree store.
func (s *Stack) Trees() *treestore.Store { return s.trees }

// Blocks returns the top of the block store stack behind the uniform
// dynamic-dispatch façade, for callers (fsck-style tooling, the mount
// adapter's statfs path) that need raw block enumeration.
func (s *Stack) Blocks() *blockstore.Stack { return blockstore.NewStack(s.cache) }

// Violations returns the broker integrity violations are published on,
// for additional subscribers beyond the mount callback.
func (s *Stack) Violations() *violations.Broker { return s.broker }

// ClientID returns the client id this stack writes blocks under.
func (s *Stack) ClientID() blockid.ClientID { return s.clientID }

// RootBlobID returns the configured root directory blob id.
func (s *Stack) RootBlobID() blockid.ID { return s.rootBlobID }

// AtimePolicy returns the mount's access-timestamp policy.
func (s *Stack) AtimePolicy() cryfscfg.AtimePolicy { return s.atime }

// OpenOrCreateRootDirectory loads the root directory blob, creating it
// (with the fixed all-zero parent) if this is the filesystem's first
// mount.
func (s *Stack) OpenOrCreateRootDirectory() (*fsblob.Directory, error) {
	node, err := s.fsblobs.Load(s.rootBlobID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return s.fsblobs.CreateRootDirectory(s.rootBlobID)
	}
	typ, err := node.Type()
	if err != nil {
		return nil, err
	}
	if typ != fsblob.TypeDirectory {
		return nil, &cryfserr.FormatError{Layer: "stack", Detail: fmt.Sprintf("root blob %s is not a directory (type %d)", s.rootBlobID, typ)}
	}
	return node.AsDirectory()
}
