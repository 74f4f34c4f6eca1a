package fsblob

import (
	"github.com/cryfs/cryfs-sub004/pkg/blobstore"
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
)

// The three blob type tags, matching the on-disk blob header's type
// byte (0=dir, 1=file, 2=symlink).
const (
	TypeDirectory blobstore.Type = 0
	TypeFile      blobstore.Type = 1
	TypeSymlink   blobstore.Type = 2
)

// File is a blob whose body is raw content bytes.
type File struct {
	blob *blobstore.Blob
}

func (f *File) ID() blockid.ID               { return f.blob.ID() }
func (f *File) Parent() (blockid.ID, error)  { return f.blob.Parent() }
func (f *File) SetParent(p blockid.ID) error { return f.blob.SetParent(p) }
func (f *File) NumBytes() (uint64, error)    { return f.blob.NumBytes() }

func (f *File) Read(off uint64, buf []byte) error           { return f.blob.Read(off, buf) }
func (f *File) TryRead(off uint64, buf []byte) (int, error) { return f.blob.TryRead(off, buf) }
func (f *File) Write(off uint64, src []byte) error           { return f.blob.Write(off, src) }
func (f *File) Resize(newSize uint64) error                  { return f.blob.Resize(newSize) }
func (f *File) Flush() error                                 { return f.blob.Flush() }

// Symlink is a blob whose body is the UTF-8 bytes of its target path.
type Symlink struct {
	blob *blobstore.Blob
}

func (s *Symlink) ID() blockid.ID               { return s.blob.ID() }
func (s *Symlink) Parent() (blockid.ID, error)  { return s.blob.Parent() }
func (s *Symlink) SetParent(p blockid.ID) error { return s.blob.SetParent(p) }

// Target returns the symlink's target path.
func (s *Symlink) Target() (string, error) {
	n, err := s.blob.NumBytes()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := s.blob.Read(0, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// SetTarget overwrites the symlink's target path.
func (s *Symlink) SetTarget(target string) error {
	if err := s.blob.Resize(uint64(len(target))); err != nil {
		return err
	}
	return s.blob.Write(0, []byte(target))
}

func (s *Symlink) Flush() error { return s.blob.Flush() }

// Node is a blob opened without committing to a type; Type reports
// which of AsFile/AsSymlink/AsDirectory is valid to call.
type Node struct {
	blob *blobstore.Blob
}

func (n *Node) ID() blockid.ID { return n.blob.ID() }

// Type returns the blob's type tag, read from its header.
func (n *Node) Type() (blobstore.Type, error) { return n.blob.Type() }

func (n *Node) AsFile() *File       { return &File{blob: n.blob} }
func (n *Node) AsSymlink() *Symlink { return &Symlink{blob: n.blob} }

// AsDirectory decodes the blob's body as a DirEntryList.
func (n *Node) AsDirectory() (*Directory, error) { return openDirectory(n.blob) }
