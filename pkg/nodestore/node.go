// Package nodestore implements the node store (L5): parsing and
// emitting fixed-size blocks as leaf or inner tree nodes. It is the
// lowest layer that understands tree structure; everything below it
// (pkg/blockcache and down) only ever sees opaque bytes.
package nodestore

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// FormatVersion is the only node block plaintext layout this store
// understands. A mismatch is a hard format error, never silently
// upgraded.
const FormatVersion uint16 = 0

// HeaderLen is the fixed prefix of every node block's plaintext:
// format_version(2) + unused(1) + depth(1) + size/num_children(4).
const HeaderLen = 8

// MaxDepth bounds inner node depth; a node claiming a deeper value is
// rejected as malformed rather than followed.
const MaxDepth = 10

// kind tags a node as a leaf or an inner node. Nodes are tagged, never
// polymorphic by inheritance: depth 0 is always a leaf, depth > 0 is
// always inner.
type kind uint8

const (
	kindLeaf  kind = 0
	kindInner kind = 1
)

// Node is the parsed form of one block's plaintext, either a leaf
// carrying raw bytes or an inner node carrying child block ids.
type Node struct {
	id       blockid.ID
	depth    uint8
	leafData []byte         // non-nil iff depth == 0
	children []blockid.ID   // non-nil iff depth > 0
	maxBytes int            // capacity this node's layout allows, used for re-serialization sizing
}

// NewLeaf constructs a detached leaf node carrying data, for use as
// the source argument to Store.OverwriteNodeWith. maxBytes must match
// the owning store's Layout.MaxBytesPerLeaf.
func NewLeaf(data []byte, maxBytes int) *Node {
	return &Node{depth: 0, leafData: append([]byte{}, data...), maxBytes: maxBytes}
}

// NewInner constructs a detached inner node carrying children, for
// use as the source argument to Store.OverwriteNodeWith.
func NewInner(depth uint8, children []blockid.ID, maxBytes int) *Node {
	return &Node{depth: depth, children: append([]blockid.ID{}, children...), maxBytes: maxBytes}
}

// ID returns the block id this node was loaded from or created for.
func (n *Node) ID() blockid.ID { return n.id }

// IsLeaf reports whether n is a leaf node (depth 0).
func (n *Node) IsLeaf() bool { return n.depth == 0 }

// Depth returns the node's depth; 0 for a leaf.
func (n *Node) Depth() uint8 { return n.depth }

// Data returns a leaf node's raw bytes. Panics if n is an inner node.
func (n *Node) Data() []byte {
	if !n.IsLeaf() {
		panic(fmt.Errorf("nodestore: Data called on inner node"))
	}
	return n.leafData
}

// Children returns an inner node's child block ids, in order. Panics
// if n is a leaf.
func (n *Node) Children() []blockid.ID {
	if n.IsLeaf() {
		panic(fmt.Errorf("nodestore: Children called on leaf node"))
	}
	return n.children
}

// NumChildren returns the number of children of an inner node, or the
// byte length of a leaf's data: the size/num_children header field is
// overloaded by node kind.
func (n *Node) NumChildren() uint32 {
	if n.IsLeaf() {
		return uint32(len(n.leafData))
	}
	return uint32(len(n.children))
}

// serialize renders n to its fixed-size plaintext layout, padded with
// zeros up to maxBytes so every node of a given store occupies
// identical physical space.
func (n *Node) serialize() []byte {
	body := n.bodyBytes()
	out := make([]byte, HeaderLen+n.maxBytes)
	binary.LittleEndian.PutUint16(out[0:2], FormatVersion)
	out[2] = 0 // unused
	out[3] = n.depth
	binary.LittleEndian.PutUint32(out[4:8], n.NumChildren())
	copy(out[HeaderLen:], body)
	return out
}

func (n *Node) bodyBytes() []byte {
	if n.IsLeaf() {
		return n.leafData
	}
	out := make([]byte, len(n.children)*blockid.Length)
	for i, child := range n.children {
		copy(out[i*blockid.Length:], child.Bytes())
	}
	return out
}

// parse decodes plaintext (a node block's full plaintext, not
// including any layer header below this one) into a Node. maxBytes is
// the expected body capacity, used to validate the block's physical
// size matches the store's configured layout.
func parse(id blockid.ID, plaintext []byte, maxBytes int, maxChildrenPerInner int) (*Node, error) {
	if len(plaintext) != HeaderLen+maxBytes {
		return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("block %s has wrong physical size: got %d, want %d", id, len(plaintext), HeaderLen+maxBytes)}
	}
	version := binary.LittleEndian.Uint16(plaintext[0:2])
	if version != FormatVersion {
		return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("block %s has unsupported format version %d", id, version)}
	}
	depth := plaintext[3]
	size := binary.LittleEndian.Uint32(plaintext[4:8])
	body := plaintext[HeaderLen:]

	if depth == 0 {
		if int(size) > maxBytes {
			return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("leaf %s claims %d bytes, more than capacity %d", id, size, maxBytes)}
		}
		data := make([]byte, size)
		copy(data, body[:size])
		return &Node{id: id, depth: 0, leafData: data, maxBytes: maxBytes}, nil
	}

	if depth > MaxDepth {
		return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("inner node %s has depth %d > max %d", id, depth, MaxDepth)}
	}
	if size == 0 {
		return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("inner node %s has zero children", id)}
	}
	if int(size) > maxChildrenPerInner {
		return nil, &cryfserr.FormatError{Layer: "nodestore", Detail: fmt.Sprintf("inner node %s has %d children, more than max %d", id, size, maxChildrenPerInner)}
	}
	children := make([]blockid.ID, size)
	for i := range children {
		off := i * blockid.Length
		childID, err := blockid.FromBytes(body[off : off+blockid.Length])
		if err != nil {
			return nil, fmt.Errorf("nodestore: %w", err)
		}
		children[i] = childID
	}
	return &Node{id: id, depth: depth, children: children, maxBytes: maxBytes}, nil
}
