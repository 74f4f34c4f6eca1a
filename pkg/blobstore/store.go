package blobstore

import (
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/treestore"
)

// Store owns blobs over a tree store.
type Store struct {
	trees *treestore.Store
}

// New wraps a tree store as a blob store.
func New(trees *treestore.Store) *Store {
	return &Store{trees: trees}
}

// Create makes a fresh, empty blob of the given type under parent,
// choosing a random id for it.
func (s *Store) Create(blobType Type, parent blockid.ID) (*Blob, error) {
	tree, err := s.trees.CreateEmptyTree()
	if err != nil {
		return nil, err
	}
	blob := newBlob(tree)
	if err := tree.WriteBytes(header{blobType: blobType, parent: parent}.encode(), 0); err != nil {
		return nil, err
	}
	return blob, nil
}

// TryCreateWithID makes a fresh, empty blob under the caller-chosen
// id, failing with cryfserr.ErrAlreadyExists if id is taken. Used to
// restore a blob at a previously known id (notably the filesystem's
// fixed root directory blob id).
func (s *Store) TryCreateWithID(id blockid.ID, blobType Type, parent blockid.ID) (*Blob, error) {
	tree, err := s.trees.CreateEmptyTreeWithID(id)
	if err != nil {
		return nil, err
	}
	blob := newBlob(tree)
	if err := tree.WriteBytes(header{blobType: blobType, parent: parent}.encode(), 0); err != nil {
		return nil, err
	}
	return blob, nil
}

// Load opens the blob rooted at id. Returns (nil, nil) if no block
// exists at id.
func (s *Store) Load(id blockid.ID) (*Blob, error) {
	tree, err := s.trees.LoadTree(id)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}
	return newBlob(tree), nil
}

// RemoveByID loads and removes the blob rooted at id. A no-op if no
// blob exists there.
func (s *Store) RemoveByID(id blockid.ID) error {
	blob, err := s.Load(id)
	if err != nil {
		return err
	}
	if blob == nil {
		return nil
	}
	return blob.remove()
}
