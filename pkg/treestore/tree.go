package treestore

import (
	"fmt"
	"sync"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
)

// Tree is a handle onto one tree of nodes, rooted at a stable block
// id. The root's id never changes across resizes: growing wraps the
// old root one level deeper in place (nodestore.ConvertToNewInnerNode)
// and shrinking collapses the root's sole surviving child back into it
// in place, so callers holding a tree/blob handle by id never need to
// learn a new one.
//
// WriteBytes and ResizeNumBytes are not internally synchronized
// against each other; the caller must serialize them (typically by
// holding exclusive access to the owning blob handle).
// mu only protects the in-memory size cache from concurrent readers.
type Tree struct {
	nodes  *nodestore.Store
	rootID blockid.ID

	mu   sync.Mutex
	size sizeCache
}

func newTree(nodes *nodestore.Store, rootID blockid.ID, size sizeCache) *Tree {
	return &Tree{nodes: nodes, rootID: rootID, size: size}
}

// ID returns the tree's root block id.
func (t *Tree) ID() blockid.ID { return t.rootID }

// NumLeaves returns the tree's leaf count, descending the rightmost
// spine without loading the rightmost leaf's own block, except for a
// single-leaf tree, whose root is that leaf and is loaded.
func (t *Tree) NumLeaves() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numLeavesLocked()
}

func (t *Tree) numLeavesLocked() (uint64, error) {
	if t.size.state != cacheUnknown {
		return t.size.numLeaves, nil
	}

	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return 0, err
	}
	if root == nil {
		return 0, fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	if root.IsLeaf() {
		t.size = sizeCache{state: cacheNumBytesKnown, numLeaves: 1, rightmostLeafNumBytes: uint32(len(root.Data()))}
		return 1, nil
	}

	layout := t.nodes.Layout()
	var numLeaves uint64
	node := root
	for {
		children := node.Children()
		depth := node.Depth()
		if depth == 1 {
			numLeaves += uint64(len(children))
			t.size = sizeCache{state: cacheRootIsInnerAndNumLeavesKnown, numLeaves: numLeaves, rightmostLeafID: children[len(children)-1]}
			return numLeaves, nil
		}
		leavesPerFullChild, err := layout.NumLeavesPerFullSubtree(depth - 1)
		if err != nil {
			return 0, err
		}
		numLeaves += uint64(len(children)-1) * leavesPerFullChild
		next, err := t.nodes.Load(children[len(children)-1])
		if err != nil {
			return 0, err
		}
		if next == nil {
			return 0, fmt.Errorf("treestore: dangling child of %s", t.rootID)
		}
		node = next
	}
}

// NumBytes returns the tree's logical length. Unlike NumLeaves, this
// always needs the rightmost leaf's actual size and so may load it
// (and thus block on whoever holds it locked).
func (t *Tree) NumBytes() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBytesLocked()
}

func (t *Tree) numBytesLocked() (uint64, error) {
	if _, err := t.numLeavesLocked(); err != nil {
		return 0, err
	}
	if t.size.state == cacheRootIsInnerAndNumLeavesKnown {
		leaf, err := t.nodes.Load(t.size.rightmostLeafID)
		if err != nil {
			return 0, err
		}
		if leaf == nil {
			return 0, fmt.Errorf("treestore: dangling rightmost leaf of %s", t.rootID)
		}
		t.size = sizeCache{state: cacheNumBytesKnown, numLeaves: t.size.numLeaves, rightmostLeafNumBytes: uint32(len(leaf.Data()))}
	}
	maxBytesPerLeaf := uint64(t.nodes.Layout().MaxBytesPerLeaf)
	return (t.size.numLeaves-1)*maxBytesPerLeaf + uint64(t.size.rightmostLeafNumBytes), nil
}

// NumNodes returns the total number of blocks (leaves and inner
// nodes) reachable from the root.
func (t *Tree) NumNodes() (int, error) {
	counts, err := t.NumNodesByDepth()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// NumNodesByDepth returns the number of blocks at each depth,
// keyed by depth (0 = leaves). It falls out of the same traversal
// AllBlocks and Remove already do.
func (t *Tree) NumNodesByDepth() (map[uint8]int, error) {
	counts := map[uint8]int{}
	err := t.walk(t.rootID, func(_ blockid.ID, node *nodestore.Node) error {
		counts[node.Depth()]++
		return nil
	})
	return counts, err
}

// AllBlocks returns every block id reachable from the tree's root.
func (t *Tree) AllBlocks() ([]blockid.ID, error) {
	var ids []blockid.ID
	err := t.walk(t.rootID, func(id blockid.ID, _ *nodestore.Node) error {
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func (t *Tree) walk(id blockid.ID, visit func(blockid.ID, *nodestore.Node) error) error {
	node, err := t.nodes.Load(id)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	if err := visit(id, node); err != nil {
		return err
	}
	if !node.IsLeaf() {
		for _, child := range node.Children() {
			if err := t.walk(child, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove frees every block reachable from the tree's root, in
// post-order (children before their parent).
func (t *Tree) Remove() error {
	return t.removeSubtree(t.rootID)
}

func (t *Tree) removeSubtree(id blockid.ID) error {
	node, err := t.nodes.Load(id)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	if !node.IsLeaf() {
		for _, child := range node.Children() {
			if err := t.removeSubtree(child); err != nil {
				return err
			}
		}
	}
	return t.nodes.Remove(id)
}

// Flush writes every dirty descendant of the root through to the
// underlying store, delegating the actual write-back decision to the
// cache layer.
func (t *Tree) Flush() error {
	ids, err := t.AllBlocks()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := t.nodes.Flush(id); err != nil {
			return err
		}
	}
	return nil
}
