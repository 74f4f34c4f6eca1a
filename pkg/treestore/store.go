package treestore

import (
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
)

// Store owns trees of nodes over a node store.
type Store struct {
	nodes *nodestore.Store
}

// New wraps a node store as a tree store.
func New(nodes *nodestore.Store) *Store {
	return &Store{nodes: nodes}
}

// Layout returns the underlying node store's numeric layout.
func (s *Store) Layout() nodestore.Layout {
	return s.nodes.Layout()
}

// CreateEmptyTree creates a fresh single-leaf tree of zero bytes. Its
// id is the tree's root id, stable for the tree's lifetime.
func (s *Store) CreateEmptyTree() (*Tree, error) {
	leaf, err := s.nodes.CreateNewLeafNode(nil)
	if err != nil {
		return nil, err
	}
	return newTree(s.nodes, leaf.ID(), sizeCache{state: cacheNumBytesKnown, numLeaves: 1, rightmostLeafNumBytes: 0}), nil
}

// CreateEmptyTreeWithID creates a fresh single-leaf tree of zero bytes
// under the caller-chosen root id, failing with cryfserr.ErrAlreadyExists
// if id is already taken.
func (s *Store) CreateEmptyTreeWithID(id blockid.ID) (*Tree, error) {
	leaf, err := s.nodes.CreateNewLeafNodeWithID(id, nil)
	if err != nil {
		return nil, err
	}
	return newTree(s.nodes, leaf.ID(), sizeCache{state: cacheNumBytesKnown, numLeaves: 1, rightmostLeafNumBytes: 0}), nil
}

// LoadTree opens the tree rooted at rootID. Returns (nil, nil) if no
// block exists at rootID.
func (s *Store) LoadTree(rootID blockid.ID) (*Tree, error) {
	root, err := s.nodes.Load(rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	return newTree(s.nodes, rootID, sizeCache{}), nil
}
