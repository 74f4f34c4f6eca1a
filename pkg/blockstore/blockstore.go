// Package blockstore defines the capability set shared by every layer
// of the block store stack (L0 through L3+L4) and a thin dynamic-
// dispatch façade for callers at the top of the stack that need to
// hold one of several concrete store types behind a single type.
//
// Every concrete layer (pkg/physicalstore, pkg/encryptedstore,
// pkg/integritystore, pkg/blockcache) already implements this
// interface structurally; they are composed by direct reference to
// their concrete types wherever possible (static composition, cheaper
// on the hot path than an interface indirection at every layer), and
// only wrapped in Stack where a caller genuinely needs to hold "a
// block store" without naming which one.
package blockstore

import (
	"errors"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// BlockStore is the capability set every layer of the stack
// implements: existence checks, load/store/create/remove by id, and
// the two enumeration operations whose consistency is deliberately
// unspecified under concurrent mutation.
type BlockStore interface {
	Exists(id blockid.ID) (bool, error)
	Load(id blockid.ID) ([]byte, error)
	Store(id blockid.ID, data []byte) error
	TryCreate(id blockid.ID, data []byte) error
	Remove(id blockid.ID) error
	NumBlocks() (uint64, error)
	AllBlocks() ([]blockid.ID, error)
	EstimateNumFreeBytes() (uint64, error)
}

// Stack is a dynamic-dispatch façade over any BlockStore, used only
// where the top of the stack needs to pick between implementations at
// runtime (e.g. a test harness swapping in a fake base store, or a
// future second on-disk format). Layers compose statically against
// each other's concrete types and never go through Stack internally.
type Stack struct {
	store BlockStore
}

// NewStack wraps store in a Stack.
func NewStack(store BlockStore) *Stack {
	return &Stack{store: store}
}

func (s *Stack) Exists(id blockid.ID) (bool, error)         { return s.store.Exists(id) }
func (s *Stack) Load(id blockid.ID) ([]byte, error)         { return s.store.Load(id) }
func (s *Stack) Store(id blockid.ID, data []byte) error     { return s.store.Store(id, data) }
func (s *Stack) TryCreate(id blockid.ID, data []byte) error { return s.store.TryCreate(id, data) }
func (s *Stack) Remove(id blockid.ID) error                 { return s.store.Remove(id) }
func (s *Stack) NumBlocks() (uint64, error)                 { return s.store.NumBlocks() }
func (s *Stack) AllBlocks() ([]blockid.ID, error)           { return s.store.AllBlocks() }
func (s *Stack) EstimateNumFreeBytes() (uint64, error)      { return s.store.EstimateNumFreeBytes() }

// Create generates a fresh random id and tries to create a block for
// it, retrying on the (astronomically unlikely) chance of an id
// collision. Callers that don't care which id they get should use
// this instead of generating their own blockid.ID and racing another
// writer for it.
func Create(s BlockStore, data []byte) (blockid.ID, error) {
	for {
		id, err := blockid.New()
		if err != nil {
			return blockid.ID{}, err
		}
		err = s.TryCreate(id, data)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, cryfserr.ErrAlreadyExists) {
			return blockid.ID{}, err
		}
	}
}
