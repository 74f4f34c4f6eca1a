package fsblob

import (
	"github.com/cryfs/cryfs-sub004/pkg/blobstore"
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
)

// Store creates and loads filesystem blobs over a blob store.
type Store struct {
	blobs *blobstore.Store
}

// New wraps a blob store as a filesystem blob store.
func New(blobs *blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

// CreateFile makes a fresh, empty file under parent.
func (s *Store) CreateFile(parent blockid.ID) (*File, error) {
	blob, err := s.blobs.Create(TypeFile, parent)
	if err != nil {
		return nil, err
	}
	return &File{blob: blob}, nil
}

// CreateSymlink makes a fresh symlink under parent pointing at target.
func (s *Store) CreateSymlink(parent blockid.ID, target string) (*Symlink, error) {
	blob, err := s.blobs.Create(TypeSymlink, parent)
	if err != nil {
		return nil, err
	}
	sym := &Symlink{blob: blob}
	if err := sym.SetTarget(target); err != nil {
		return nil, err
	}
	return sym, nil
}

// CreateDirectory makes a fresh, empty directory under parent.
func (s *Store) CreateDirectory(parent blockid.ID) (*Directory, error) {
	blob, err := s.blobs.Create(TypeDirectory, parent)
	if err != nil {
		return nil, err
	}
	return newDirectory(blob, NewDirEntryList()), nil
}

// CreateRootDirectory makes the filesystem's root directory at the
// caller-chosen id, with the fixed all-zero parent that marks a
// directory as having no container. Fails with cryfserr.ErrAlreadyExists
// if id is already taken.
func (s *Store) CreateRootDirectory(id blockid.ID) (*Directory, error) {
	blob, err := s.blobs.TryCreateWithID(id, TypeDirectory, blockid.Zero)
	if err != nil {
		return nil, err
	}
	return newDirectory(blob, NewDirEntryList()), nil
}

// Load opens the blob at id without committing to a type. Returns
// (nil, nil) if no blob exists there.
func (s *Store) Load(id blockid.ID) (*Node, error) {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return &Node{blob: blob}, nil
}

// RemoveByID removes the blob at id, whatever its type.
func (s *Store) RemoveByID(id blockid.ID) error {
	return s.blobs.RemoveByID(id)
}
