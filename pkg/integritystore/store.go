// Package integritystore implements the integrity block store (L1):
// rollback and reintroduction protection on top of an encrypted block
// store, backed by a local version ledger that is the only thing this
// process trusts to detect a stale or foreign author replaying an old
// block.
package integritystore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/cryfs/cryfs-sub004/pkg/cryfsmetrics"
	"github.com/cryfs/cryfs-sub004/pkg/violations"
	"github.com/rs/zerolog"
)

const headerLen = 4 + 8 // client_id u32 LE + version u64 LE

// BaseStore is the subset of pkg/encryptedstore's interface this
// layer needs.
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

// Config controls the integrity store's policy knobs, all sourced
// from the filesystem configuration.
type Config struct {
	// MyClientID is this process's writer identity.
	MyClientID blockid.ClientID
	// MissingBlockIsIntegrityViolation promotes an expected-but-absent
	// block to a violation instead of a plain (nil, nil) result.
	MissingBlockIsIntegrityViolation bool
	// AllowIntegrityViolations downgrades violations to warnings
	// instead of sticky hard failures. Needed by repair tooling; never
	// set by the default mount path.
	AllowIntegrityViolations bool
	// ExclusiveClientID, when set, puts the filesystem in single-client
	// mode: any block authored by a different client id is a violation.
	ExclusiveClientID *blockid.ClientID
	// ShouldBlockExist answers "does the tree/directory structure imply
	// id should be present", used only when
	// MissingBlockIsIntegrityViolation is set. A nil value treats every
	// missing block as violation-eligible. Tombstoned blocks (removed
	// by this client) are never expected to exist, regardless of this
	// callback.
	ShouldBlockExist func(id blockid.ID) bool
	// OnViolation, if set, is published to synchronously before
	// markViolated returns the error to its caller.
	OnViolation *violations.Broker
}

// Store is the L1 integrity block store.
type Store struct {
	base   BaseStore
	cfg    Config
	state  *state
	logger zerolog.Logger
}

// Open loads (or initializes) the state file at statePath and wraps
// base. If the state file records integrity_violation_in_previous_run
// and AllowIntegrityViolations is not set, Open fails: violations are
// sticky until a human clears the state file.
func Open(base BaseStore, statePath string, cfg Config) (*Store, error) {
	st, err := loadState(statePath)
	if err != nil {
		return nil, err
	}
	if st.integrityViolationInPrior && !cfg.AllowIntegrityViolations {
		return nil, &cryfserr.IntegrityViolation{
			BlockID: "",
			Reason:  "integrity violation recorded in a previous run; state file must be cleared before reopening",
		}
	}
	return &Store{
		base:   base,
		cfg:    cfg,
		state:  st,
		logger: cryfslog.WithComponent("integritystore"),
	}, nil
}

func (s *Store) markViolated(id blockid.ID, kind violations.Kind, reason string, cause error) error {
	iv := &cryfserr.IntegrityViolation{BlockID: id.String(), Reason: reason, Cause: cause}
	logEvt := cryfslog.WithBlockID(s.logger, id.String())
	cryfsmetrics.IntegrityViolations.WithLabelValues(reason).Inc()

	if s.cfg.OnViolation != nil {
		s.cfg.OnViolation.Publish(violations.Violation{BlockID: id, Kind: kind, Reason: reason})
	}

	if s.cfg.AllowIntegrityViolations {
		// Downgraded to a warning: the sticky flag is not set, so the
		// filesystem stays openable for repair tooling.
		logEvt.Warn().Err(iv).Msg("integrity violation (downgraded to warning)")
		return nil
	}

	s.state.mu.Lock()
	s.state.integrityViolationInPrior = true
	s.state.mu.Unlock()

	logEvt.Error().Err(iv).Msg("integrity violation")
	_ = s.state.save()
	return iv
}

// Exists delegates to the base store.
func (s *Store) Exists(id blockid.ID) (bool, error) {
	return s.base.Exists(id)
}

// Load reads id, verifies its integrity header against the local
// ledger, and returns the node payload with the header stripped.
// Returns (nil, nil) for an absent block unless the missing-block
// policy promotes it to a violation.
func (s *Store) Load(id blockid.ID) ([]byte, error) {
	raw, err := s.base.Load(id)
	if err != nil {
		var df *cryfserr.DecryptionFailure
		if errors.As(err, &df) {
			// A failed tag check means the block was tampered with or
			// truncated, which is this layer's problem to report.
			if verr := s.markViolated(id, violations.KindDecryptionFailure, "decryption failure", err); verr != nil {
				return nil, verr
			}
			return nil, nil
		}
		return nil, err
	}
	if raw == nil {
		if s.cfg.MissingBlockIsIntegrityViolation && s.shouldExist(id) {
			return nil, s.markViolated(id, violations.KindMissingBlock, "missing block that should exist", nil)
		}
		return nil, nil
	}
	if len(raw) < headerLen {
		return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: fmt.Sprintf("block %s shorter than integrity header", id)}
	}

	clientID := blockid.ClientID(binary.LittleEndian.Uint32(raw[0:4]))
	version := binary.LittleEndian.Uint64(raw[4:12])
	payload := raw[headerLen:]

	s.state.mu.Lock()
	lastUpdate, haveLastUpdate := s.state.lastUpdateClientID[id]
	knownVersion, haveKnownVersion := s.state.knownBlockVersions[versionKey{clientID: clientID, blockID: id}]
	s.state.mu.Unlock()

	if s.cfg.ExclusiveClientID != nil && clientID != *s.cfg.ExclusiveClientID {
		if err := s.markViolated(id, violations.KindForeignClientTamper, "block authored by foreign client in single-client mode", fmt.Errorf("client %d, exclusive client %d", clientID, *s.cfg.ExclusiveClientID)); err != nil {
			return nil, err
		}
	}
	if haveKnownVersion && version < knownVersion {
		if err := s.markViolated(id, violations.KindRollback, "replay of older self-write", fmt.Errorf("version %d < known %d", version, knownVersion)); err != nil {
			return nil, err
		}
	}
	if haveLastUpdate && clientID != lastUpdate {
		if haveKnownVersion && version <= knownVersion {
			if err := s.markViolated(id, violations.KindForeignClientTamper, "rollback across authors", fmt.Errorf("client %d version %d <= known %d", clientID, version, knownVersion)); err != nil {
				return nil, err
			}
		}
	}

	s.state.mu.Lock()
	s.state.lastUpdateClientID[id] = clientID
	key := versionKey{clientID: clientID, blockID: id}
	if version > s.state.knownBlockVersions[key] {
		// The observed version becomes the new floor. Never lowered: in
		// allow-violations mode a replayed older block is returned to the
		// caller after the warning, but it must not roll the ledger back
		// with it.
		s.state.knownBlockVersions[key] = version
	}
	s.state.mu.Unlock()

	cryfsmetrics.BlocksLoaded.WithLabelValues("integritystore").Inc()
	return payload, nil
}

// shouldExist decides whether a missing block is surprising. A block
// this client removed (tombstoned) is never expected to exist; beyond
// that, the mount adapter's reachability callback decides, defaulting
// to "every missing block is surprising" when no callback is wired.
func (s *Store) shouldExist(id blockid.ID) bool {
	s.state.mu.Lock()
	last, known := s.state.lastUpdateClientID[id]
	s.state.mu.Unlock()
	if known && last.IsTombstone() {
		return false
	}
	if s.cfg.ShouldBlockExist == nil {
		return true
	}
	return s.cfg.ShouldBlockExist(id)
}

// prependHeader increments this client's version for id and builds
// the stored plaintext: header || payload.
func (s *Store) prependHeader(id blockid.ID, payload []byte) []byte {
	s.state.mu.Lock()
	key := versionKey{clientID: s.cfg.MyClientID, blockID: id}
	version := s.state.knownBlockVersions[key] + 1
	s.state.knownBlockVersions[key] = version
	s.state.lastUpdateClientID[id] = s.cfg.MyClientID
	s.state.mu.Unlock()

	out := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(s.cfg.MyClientID))
	binary.LittleEndian.PutUint64(out[4:12], version)
	copy(out[headerLen:], payload)
	return out
}

// Store writes payload for id under the write protocol: increment
// this client's known version and claim last-update authorship.
func (s *Store) Store(id blockid.ID, payload []byte) error {
	if err := s.base.Store(id, s.prependHeader(id, payload)); err != nil {
		return err
	}
	cryfsmetrics.BlocksStored.WithLabelValues("integritystore").Inc()
	return nil
}

// TryCreate writes payload for id only if no block for id exists yet,
// under the same write protocol as Store.
func (s *Store) TryCreate(id blockid.ID, payload []byte) error {
	if err := s.base.TryCreate(id, s.prependHeader(id, payload)); err != nil {
		return err
	}
	cryfsmetrics.BlocksStored.WithLabelValues("integritystore").Inc()
	return nil
}

// Remove deletes id from the base store and tombstones it in the
// ledger: the block id remains known so a future reintroduction by a
// stale author is still detected.
func (s *Store) Remove(id blockid.ID) error {
	if err := s.base.Remove(id); err != nil {
		return err
	}
	s.state.mu.Lock()
	s.state.lastUpdateClientID[id] = blockid.DeletedClientID
	s.state.mu.Unlock()
	cryfsmetrics.BlocksRemoved.WithLabelValues("integritystore").Inc()
	return nil
}

// NumBlocks delegates to the base store.
func (s *Store) NumBlocks() (uint64, error) {
	return s.base.NumBlocks()
}

// AllBlocks delegates to the base store.
func (s *Store) AllBlocks() ([]blockid.ID, error) {
	return s.base.AllBlocks()
}

// EstimateNumFreeBytes delegates to the base store.
func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	return s.base.EstimateNumFreeBytes()
}

// Flush persists the in-memory ledger to the state file. Called on
// clean shutdown; also safe to call periodically.
func (s *Store) Flush() error {
	return s.state.save()
}

// HeaderOverhead is the number of bytes this layer prepends to every
// block's plaintext.
const HeaderOverhead = headerLen
