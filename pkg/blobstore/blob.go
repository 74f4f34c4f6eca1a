package blobstore

import (
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/treestore"
)

// Blob is a tree whose logical byte stream starts with a blob header;
// everything from HeaderLen onward is the blob's user-visible content.
type Blob struct {
	tree *treestore.Tree
}

func newBlob(tree *treestore.Tree) *Blob {
	return &Blob{tree: tree}
}

// ID returns the blob's id, which is the id of its tree's root block
// and never changes across the blob's lifetime.
func (b *Blob) ID() blockid.ID { return b.tree.ID() }

func (b *Blob) readHeader() (header, error) {
	buf := make([]byte, HeaderLen)
	if err := b.tree.ReadBytes(0, buf); err != nil {
		return header{}, err
	}
	return decodeHeader(buf)
}

// Type returns the blob's type tag.
func (b *Blob) Type() (Type, error) {
	h, err := b.readHeader()
	if err != nil {
		return 0, err
	}
	return h.blobType, nil
}

// Parent returns the id of the directory blob that contains this
// blob. The root directory's own parent is the all-zero id.
func (b *Blob) Parent() (blockid.ID, error) {
	h, err := b.readHeader()
	if err != nil {
		return blockid.ID{}, err
	}
	return h.parent, nil
}

// SetParent rewrites the blob's parent pointer. The header lives
// entirely within the tree's first leaf, so this never requires
// traversing more than that one leaf.
func (b *Blob) SetParent(parent blockid.ID) error {
	h, err := b.readHeader()
	if err != nil {
		return err
	}
	h.parent = parent
	return b.tree.WriteBytes(h.encode(), 0)
}

// NumBytes returns the blob's user-visible length: the tree's length
// minus the header.
func (b *Blob) NumBytes() (uint64, error) {
	treeBytes, err := b.tree.NumBytes()
	if err != nil {
		return 0, err
	}
	if treeBytes < HeaderLen {
		return 0, fmt.Errorf("blobstore: blob %s tree shorter than header", b.ID())
	}
	return treeBytes - HeaderLen, nil
}

// NumNodes returns the number of blocks (header leaf included)
// backing the blob.
func (b *Blob) NumNodes() (int, error) {
	return b.tree.NumNodes()
}

// Read fills buf with the blob's content starting at offset,
// failing if offset+len(buf) exceeds NumBytes.
func (b *Blob) Read(offset uint64, buf []byte) error {
	return b.tree.ReadBytes(offset+HeaderLen, buf)
}

// TryRead fills as much of buf as the blob's current content allows,
// returning the number of bytes actually read.
func (b *Blob) TryRead(offset uint64, buf []byte) (int, error) {
	return b.tree.TryReadBytes(offset+HeaderLen, buf)
}

// Write overwrites the blob's content starting at offset, growing the
// blob first if the write extends past its current end.
func (b *Blob) Write(offset uint64, src []byte) error {
	return b.tree.WriteBytes(src, offset+HeaderLen)
}

// Resize grows or shrinks the blob to exactly newSize user-visible
// bytes.
func (b *Blob) Resize(newSize uint64) error {
	return b.tree.ResizeNumBytes(newSize + HeaderLen)
}

// Flush writes every dirty block backing the blob through to the
// underlying store.
func (b *Blob) Flush() error {
	return b.tree.Flush()
}

// AllBlocks returns every block id backing the blob.
func (b *Blob) AllBlocks() ([]blockid.ID, error) {
	return b.tree.AllBlocks()
}

// remove frees every block backing the blob. Exported only via
// Store.RemoveByID so the header can't be removed out from under a
// still-open handle by accident.
func (b *Blob) remove() error {
	return b.tree.Remove()
}
