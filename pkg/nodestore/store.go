package nodestore

import (
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/blockstore"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// Layout captures the numeric constants derived from the configured
// physical block size and the cumulative header overhead of every
// layer below this one.
type Layout struct {
	// MaxBytesPerLeaf is physical_block_size minus every header below
	// this layer minus this layer's own HeaderLen.
	MaxBytesPerLeaf int
	// MaxChildrenPerInnerNode is MaxBytesPerLeaf / blockid.Length,
	// integer division: however many child ids fit in a leaf-sized body.
	MaxChildrenPerInnerNode int
}

// NewLayout derives a Layout from physicalBlockSize and
// belowLayersOverhead, the combined overhead of every layer below the
// node store (L0 magic + L1 integrity header + L2 nonce/tag). This
// layer's own HeaderLen is subtracted on top of it.
func NewLayout(physicalBlockSize, belowLayersOverhead int) (Layout, error) {
	maxBytesPerLeaf := physicalBlockSize - belowLayersOverhead - HeaderLen
	if maxBytesPerLeaf <= 0 {
		return Layout{}, fmt.Errorf("nodestore: physical block size %d too small for header overhead %d", physicalBlockSize, belowLayersOverhead+HeaderLen)
	}
	maxChildren := maxBytesPerLeaf / blockid.Length
	if maxChildren < 2 {
		return Layout{}, fmt.Errorf("nodestore: physical block size %d leaves room for only %d children per inner node", physicalBlockSize, maxChildren)
	}
	return Layout{MaxBytesPerLeaf: maxBytesPerLeaf, MaxChildrenPerInnerNode: maxChildren}, nil
}

// NumLeavesPerFullSubtree returns MaxChildrenPerInnerNode^depth,
// i.e. how many leaves a fully packed subtree of the given depth
// holds. depth 0 means a single leaf (1). Returns an error on
// overflow rather than silently truncating.
func (l Layout) NumLeavesPerFullSubtree(depth uint8) (uint64, error) {
	result := uint64(1)
	factor := uint64(l.MaxChildrenPerInnerNode)
	for i := uint8(0); i < depth; i++ {
		next := result * factor
		if factor != 0 && next/factor != result {
			return 0, &cryfserr.OverflowInTreeArithmetic{Operation: "num_leaves_per_full_subtree"}
		}
		result = next
	}
	return result, nil
}

// Store is the L5 node store, parsing and emitting fixed-size blocks
// as Node values over an underlying BlockStore (normally
// pkg/blockcache.Cache).
type Store struct {
	base   blockstore.BlockStore
	layout Layout
}

// New wraps base with layout.
func New(base blockstore.BlockStore, layout Layout) *Store {
	return &Store{base: base, layout: layout}
}

// Layout returns the store's numeric layout.
func (s *Store) Layout() Layout { return s.layout }

// CreateNewLeafNode stores data (which must fit within
// Layout.MaxBytesPerLeaf) as a fresh leaf node under a newly chosen id.
func (s *Store) CreateNewLeafNode(data []byte) (*Node, error) {
	if len(data) > s.layout.MaxBytesPerLeaf {
		return nil, fmt.Errorf("nodestore: leaf data %d bytes exceeds max %d: %w", len(data), s.layout.MaxBytesPerLeaf, cryfserr.ErrInvalidArgument)
	}
	n := &Node{depth: 0, leafData: append([]byte{}, data...), maxBytes: s.layout.MaxBytesPerLeaf}
	id, err := blockstore.Create(s.base, n.serialize())
	if err != nil {
		return nil, err
	}
	n.id = id
	return n, nil
}

// CreateNewLeafNodeWithID stores data as a fresh leaf node under the
// caller-chosen id, failing with cryfserr.ErrAlreadyExists if id is
// already taken. Used by try_create_with_id callers (blob store
// restoring a specific blob id, the filesystem's fixed root blob id).
func (s *Store) CreateNewLeafNodeWithID(id blockid.ID, data []byte) (*Node, error) {
	if len(data) > s.layout.MaxBytesPerLeaf {
		return nil, fmt.Errorf("nodestore: leaf data %d bytes exceeds max %d: %w", len(data), s.layout.MaxBytesPerLeaf, cryfserr.ErrInvalidArgument)
	}
	n := &Node{id: id, depth: 0, leafData: append([]byte{}, data...), maxBytes: s.layout.MaxBytesPerLeaf}
	if err := s.base.TryCreate(id, n.serialize()); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateNewInnerNode stores children as a fresh inner node at depth
// under a newly chosen id.
func (s *Store) CreateNewInnerNode(depth uint8, children []blockid.ID) (*Node, error) {
	if depth == 0 {
		return nil, fmt.Errorf("nodestore: inner node depth must be > 0: %w", cryfserr.ErrInvalidArgument)
	}
	if depth > MaxDepth {
		return nil, fmt.Errorf("nodestore: inner node depth %d exceeds max %d: %w", depth, MaxDepth, cryfserr.ErrInvalidArgument)
	}
	if len(children) == 0 || len(children) > s.layout.MaxChildrenPerInnerNode {
		return nil, fmt.Errorf("nodestore: inner node has %d children, want 1..%d: %w", len(children), s.layout.MaxChildrenPerInnerNode, cryfserr.ErrInvalidArgument)
	}
	n := &Node{depth: depth, children: append([]blockid.ID{}, children...), maxBytes: s.layout.MaxBytesPerLeaf}
	id, err := blockstore.Create(s.base, n.serialize())
	if err != nil {
		return nil, err
	}
	n.id = id
	return n, nil
}

// Load reads and parses the node for id. Returns (nil, nil) if no
// block exists for id.
func (s *Store) Load(id blockid.ID) (*Node, error) {
	raw, err := s.base.Load(id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return parse(id, raw, s.layout.MaxBytesPerLeaf, s.layout.MaxChildrenPerInnerNode)
}

// Remove deletes the node at id.
func (s *Store) Remove(id blockid.ID) error {
	return s.base.Remove(id)
}

// OverwriteNodeWith replaces target's on-disk contents with source's,
// keeping target's id. Used when collapsing an inner node into its
// sole remaining child without changing the parent's reference to it.
func (s *Store) OverwriteNodeWith(target blockid.ID, source *Node) error {
	overwritten := &Node{id: target, depth: source.depth, leafData: source.leafData, children: source.children, maxBytes: s.layout.MaxBytesPerLeaf}
	return s.base.Store(target, overwritten.serialize())
}

// ConvertToNewInnerNode rewrites oldRoot's own block in place into a
// new inner node one level deeper, whose sole child is firstChild.
// This is how resize_num_bytes grows the tree's depth: the root's
// block id is kept stable across the conversion (callers elsewhere
// don't need to learn a new root id), only its content changes from
// whatever oldRoot was to an inner node pointing at firstChild, which
// must already hold oldRoot's former content under its own fresh id.
func (s *Store) ConvertToNewInnerNode(oldRoot *Node, firstChild blockid.ID) (*Node, error) {
	newDepth := oldRoot.depth + 1
	if newDepth > MaxDepth {
		return nil, fmt.Errorf("nodestore: converting %s would exceed max depth %d: %w", oldRoot.id, MaxDepth, &cryfserr.OverflowInTreeArithmetic{Operation: "convert_to_new_inner_node"})
	}
	n := &Node{id: oldRoot.id, depth: newDepth, children: []blockid.ID{firstChild}, maxBytes: s.layout.MaxBytesPerLeaf}
	if err := s.base.Store(oldRoot.id, n.serialize()); err != nil {
		return nil, err
	}
	return n, nil
}

// AllBlocks delegates to the base store.
func (s *Store) AllBlocks() ([]blockid.ID, error) {
	return s.base.AllBlocks()
}

// flusher is implemented by pkg/blockcache.Cache. Stores that don't
// buffer writes (and so have nothing to flush) simply don't satisfy
// it, and Flush becomes a no-op.
type flusher interface {
	Flush(id blockid.ID) error
}

// Flush asks the underlying store to write id through if it is
// holding it dirty in a write-back cache. It is the node store's half
// of the tree store's "flush all dirty descendants" operation.
func (s *Store) Flush(id blockid.ID) error {
	if f, ok := s.base.(flusher); ok {
		return f.Flush(id)
	}
	return nil
}
