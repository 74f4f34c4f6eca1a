package treestore

import (
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
)

// ReadBytes fills buf from offset. It fails without partial reads if
// offset+len(buf) exceeds the tree's current size.
func (t *Tree) ReadBytes(offset uint64, buf []byte) error {
	t.mu.Lock()
	numBytes, err := t.numBytesLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if offset+uint64(len(buf)) > numBytes {
		return fmt.Errorf("treestore: read [%d, %d) exceeds tree size %d: %w", offset, offset+uint64(len(buf)), numBytes, cryfserr.ErrReadPastEnd)
	}

	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	n, err := t.readFromNode(root, offset, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("treestore: short read at offset %d: got %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

// TryReadBytes fills as much of buf as the tree's current size
// allows and returns the number of bytes actually read, never failing
// on a short read.
func (t *Tree) TryReadBytes(offset uint64, buf []byte) (int, error) {
	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return 0, err
	}
	if root == nil {
		return 0, fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	return t.readFromNode(root, offset, buf)
}

// readFromNode copies into buf from offsetInSubtree within the
// subtree rooted at node, returning how many bytes it could supply
// (less than len(buf) only at the true end of the tree).
func (t *Tree) readFromNode(node *nodestore.Node, offsetInSubtree uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if node.IsLeaf() {
		data := node.Data()
		if offsetInSubtree >= uint64(len(data)) {
			return 0, nil
		}
		return copy(buf, data[offsetInSubtree:]), nil
	}

	layout := t.nodes.Layout()
	subtreeLeaves, err := layout.NumLeavesPerFullSubtree(node.Depth() - 1)
	if err != nil {
		return 0, err
	}
	subtreeBytes := subtreeLeaves * uint64(layout.MaxBytesPerLeaf)
	children := node.Children()

	childIdx := int(offsetInSubtree / subtreeBytes)
	childOffset := offsetInSubtree % subtreeBytes
	total := 0
	for childIdx < len(children) && total < len(buf) {
		child, err := t.nodes.Load(children[childIdx])
		if err != nil {
			return total, err
		}
		if child == nil {
			return total, fmt.Errorf("treestore: dangling child %s", children[childIdx])
		}
		n, err := t.readFromNode(child, childOffset, buf[total:])
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			break
		}
		childOffset = 0
		childIdx++
	}
	return total, nil
}

// WriteBytes overwrites the tree's bytes starting at offset with src,
// growing the tree first if offset+len(src) exceeds its current size.
// Writes past the current end are allowed; the gap is zero-filled by
// the same growth path resize_num_bytes uses.
func (t *Tree) WriteBytes(src []byte, offset uint64) error {
	if len(src) == 0 {
		return nil
	}

	t.mu.Lock()
	numBytes, err := t.numBytesLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}
	need := offset + uint64(len(src))
	if need > numBytes {
		if err := t.ResizeNumBytes(need); err != nil {
			return err
		}
	}

	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	return t.writeIntoNode(root, offset, src)
}

func (t *Tree) writeIntoNode(node *nodestore.Node, offsetInSubtree uint64, src []byte) error {
	if node.IsLeaf() {
		data := node.Data()
		end := offsetInSubtree + uint64(len(src))
		if end > uint64(len(data)) {
			return fmt.Errorf("treestore: write [%d,%d) exceeds leaf %s size %d after resize", offsetInSubtree, end, node.ID(), len(data))
		}
		newData := append([]byte{}, data...)
		copy(newData[offsetInSubtree:], src)
		return t.nodes.OverwriteNodeWith(node.ID(), nodestore.NewLeaf(newData, t.nodes.Layout().MaxBytesPerLeaf))
	}

	layout := t.nodes.Layout()
	subtreeLeaves, err := layout.NumLeavesPerFullSubtree(node.Depth() - 1)
	if err != nil {
		return err
	}
	subtreeBytes := subtreeLeaves * uint64(layout.MaxBytesPerLeaf)
	children := node.Children()

	childIdx := int(offsetInSubtree / subtreeBytes)
	childOffset := offsetInSubtree % subtreeBytes
	written := 0
	for written < len(src) {
		if childIdx >= len(children) {
			return fmt.Errorf("treestore: write overruns node %s children", node.ID())
		}
		child, err := t.nodes.Load(children[childIdx])
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("treestore: dangling child %s", children[childIdx])
		}
		remainingInChild := subtreeBytes - childOffset
		n := uint64(len(src) - written)
		if n > remainingInChild {
			n = remainingInChild
		}
		if err := t.writeIntoNode(child, childOffset, src[written:written+int(n)]); err != nil {
			return err
		}
		written += int(n)
		childOffset = 0
		childIdx++
	}
	return nil
}
