package treestore

import (
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
)

// ResizeNumBytes grows or shrinks the tree to exactly newSize bytes.
// Growing zero-fills the new tail and, if the rightmost inner node's
// capacity is exceeded, deepens the tree (new root inner node with
// the old root as first child, via nodestore.ConvertToNewInnerNode).
// Shrinking frees rightmost blocks bottom-up and, once the root is
// left with a single child, collapses the root into it in place,
// reducing tree height without changing the root's id. Non-root spine
// nodes keep a single child rather than collapsing: their parent
// expects children exactly one level down.
func (t *Tree) ResizeNumBytes(newSize uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.numBytesLocked()
	if err != nil {
		return err
	}
	if newSize == current {
		return nil
	}
	if newSize > current {
		return t.growLocked(newSize)
	}
	return t.shrinkLocked(newSize)
}

func leafCounts(newSize uint64, maxBytesPerLeaf uint64) (numLeaves uint64, rightmostSize uint32) {
	if newSize == 0 {
		return 1, 0
	}
	numLeaves = (newSize-1)/maxBytesPerLeaf + 1
	rightmostSize = uint32(newSize - (numLeaves-1)*maxBytesPerLeaf)
	return numLeaves, rightmostSize
}

func (t *Tree) growLocked(newSize uint64) error {
	layout := t.nodes.Layout()
	maxBytesPerLeaf := uint64(layout.MaxBytesPerLeaf)
	newNumLeaves, rightmostSize := leafCounts(newSize, maxBytesPerLeaf)

	curLeaves, err := t.numLeavesLocked()
	if err != nil {
		return err
	}

	for {
		root, err := t.nodes.Load(t.rootID)
		if err != nil {
			return err
		}
		if root == nil {
			return fmt.Errorf("treestore: root %s does not exist", t.rootID)
		}
		var capacity uint64
		if root.IsLeaf() {
			capacity = 1
		} else {
			capacity, err = layout.NumLeavesPerFullSubtree(root.Depth())
			if err != nil {
				return err
			}
		}
		if newNumLeaves <= capacity {
			break
		}
		if err := t.increaseDepth(); err != nil {
			return err
		}
	}

	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return err
	}
	if err := t.growSubtree(root, curLeaves, newNumLeaves, rightmostSize); err != nil {
		return err
	}

	t.size = sizeCache{state: cacheNumBytesKnown, numLeaves: newNumLeaves, rightmostLeafNumBytes: rightmostSize}
	return nil
}

// increaseDepth moves the tree's current content into a brand new
// block, then rewrites the root's own block (keeping its id) into an
// inner node one level deeper whose sole child is that new block. The
// root's id therefore never changes across a depth increase.
func (t *Tree) increaseDepth() error {
	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return err
	}
	var newChild *nodestore.Node
	if root.IsLeaf() {
		newChild, err = t.nodes.CreateNewLeafNode(root.Data())
	} else {
		newChild, err = t.nodes.CreateNewInnerNode(root.Depth(), root.Children())
	}
	if err != nil {
		return err
	}
	_, err = t.nodes.ConvertToNewInnerNode(root, newChild.ID())
	return err
}

// growSubtree extends the subtree at id (already holding curLeaves
// leaves, full except possibly its own rightmost leaf) to hold target
// leaves, sizing the very last leaf added to lastLeafSize. target must
// not exceed the subtree's capacity at its depth.
func (t *Tree) growSubtree(node *nodestore.Node, curLeaves, target uint64, lastLeafSize uint32) error {
	layout := t.nodes.Layout()
	maxBytesPerLeaf := layout.MaxBytesPerLeaf

	if node.IsLeaf() {
		data := node.Data()
		newData := make([]byte, lastLeafSize)
		copy(newData, data)
		return t.nodes.OverwriteNodeWith(node.ID(), nodestore.NewLeaf(newData, maxBytesPerLeaf))
	}

	depth := node.Depth()
	leavesPerChild, err := layout.NumLeavesPerFullSubtree(depth - 1)
	if err != nil {
		return err
	}
	children := node.Children()
	curChildren := int((curLeaves-1)/leavesPerChild) + 1
	curLastChildLeaves := curLeaves - uint64(curChildren-1)*leavesPerChild
	targetChildren := int((target-1)/leavesPerChild) + 1
	targetLastChildLeaves := target - uint64(targetChildren-1)*leavesPerChild

	newChildren := append([]blockid.ID{}, children[:curChildren]...)

	if targetChildren == curChildren {
		last, err := t.nodes.Load(newChildren[curChildren-1])
		if err != nil {
			return err
		}
		if err := t.growSubtree(last, curLastChildLeaves, targetLastChildLeaves, lastLeafSize); err != nil {
			return err
		}
		return nil
	}

	// The current last child stops being the rightmost subtree once a
	// sibling is added after it, so it must be topped up to fully
	// packed first. Leaf-count equality alone doesn't prove this for a
	// depth-1 parent (leavesPerChild == 1, so a lone leaf child always
	// "counts" as full): growSubtree's own leaf base case is what
	// actually resizes the leaf's bytes, so always call it rather than
	// trying to skip on leaf count.
	last, err := t.nodes.Load(newChildren[curChildren-1])
	if err != nil {
		return err
	}
	if err := t.growSubtree(last, curLastChildLeaves, leavesPerChild, uint32(maxBytesPerLeaf)); err != nil {
		return err
	}

	for i := curChildren; i < targetChildren-1; i++ {
		id, err := t.createFullSubtree(depth - 1)
		if err != nil {
			return err
		}
		newChildren = append(newChildren, id)
	}
	lastID, err := t.createSubtreeWithLeaves(depth-1, targetLastChildLeaves, lastLeafSize)
	if err != nil {
		return err
	}
	newChildren = append(newChildren, lastID)

	return t.nodes.OverwriteNodeWith(node.ID(), nodestore.NewInner(depth, newChildren, maxBytesPerLeaf))
}

// createFullSubtree builds a brand new, fully packed, zero-filled
// subtree of the given depth (depth 0 is a single full leaf).
func (t *Tree) createFullSubtree(depth uint8) (blockid.ID, error) {
	layout := t.nodes.Layout()
	if depth == 0 {
		leaf, err := t.nodes.CreateNewLeafNode(make([]byte, layout.MaxBytesPerLeaf))
		if err != nil {
			return blockid.ID{}, err
		}
		return leaf.ID(), nil
	}
	children := make([]blockid.ID, layout.MaxChildrenPerInnerNode)
	for i := range children {
		id, err := t.createFullSubtree(depth - 1)
		if err != nil {
			return blockid.ID{}, err
		}
		children[i] = id
	}
	node, err := t.nodes.CreateNewInnerNode(depth, children)
	if err != nil {
		return blockid.ID{}, err
	}
	return node.ID(), nil
}

// createSubtreeWithLeaves builds a brand new subtree of the given
// depth holding exactly leaves leaves, zero-filled, full except its
// own rightmost leaf which is sized lastLeafSize.
func (t *Tree) createSubtreeWithLeaves(depth uint8, leaves uint64, lastLeafSize uint32) (blockid.ID, error) {
	layout := t.nodes.Layout()
	if depth == 0 {
		leaf, err := t.nodes.CreateNewLeafNode(make([]byte, lastLeafSize))
		if err != nil {
			return blockid.ID{}, err
		}
		return leaf.ID(), nil
	}
	leavesPerChild, err := layout.NumLeavesPerFullSubtree(depth - 1)
	if err != nil {
		return blockid.ID{}, err
	}
	fullChildren := int((leaves - 1) / leavesPerChild)
	lastChildLeaves := leaves - uint64(fullChildren)*leavesPerChild

	children := make([]blockid.ID, 0, fullChildren+1)
	for i := 0; i < fullChildren; i++ {
		id, err := t.createFullSubtree(depth - 1)
		if err != nil {
			return blockid.ID{}, err
		}
		children = append(children, id)
	}
	lastID, err := t.createSubtreeWithLeaves(depth-1, lastChildLeaves, lastLeafSize)
	if err != nil {
		return blockid.ID{}, err
	}
	children = append(children, lastID)

	node, err := t.nodes.CreateNewInnerNode(depth, children)
	if err != nil {
		return blockid.ID{}, err
	}
	return node.ID(), nil
}

func (t *Tree) shrinkLocked(newSize uint64) error {
	layout := t.nodes.Layout()
	maxBytesPerLeaf := uint64(layout.MaxBytesPerLeaf)
	newNumLeaves, rightmostSize := leafCounts(newSize, maxBytesPerLeaf)

	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	if !root.IsLeaf() {
		if err := t.trimSubtree(root, newNumLeaves); err != nil {
			return err
		}
		if err := t.collapseRootLocked(); err != nil {
			return err
		}
	}

	// The node at rootID may now be a leaf (collapsed all the way) or
	// still inner with its own rightmost leaf needing a byte trim;
	// either way, locate whichever leaf is now rightmost and size it.
	t.size = sizeCache{}
	leafID, err := t.rightmostLeafIDUncached()
	if err != nil {
		return err
	}
	leaf, err := t.nodes.Load(leafID)
	if err != nil {
		return err
	}
	if leaf == nil {
		return fmt.Errorf("treestore: rightmost leaf %s vanished during shrink", leafID)
	}
	trimmed := make([]byte, rightmostSize)
	copy(trimmed, leaf.Data())
	if err := t.nodes.OverwriteNodeWith(leafID, nodestore.NewLeaf(trimmed, layout.MaxBytesPerLeaf)); err != nil {
		return err
	}

	t.size = sizeCache{state: cacheNumBytesKnown, numLeaves: newNumLeaves, rightmostLeafNumBytes: rightmostSize}
	return nil
}

// trimSubtree trims the subtree at node down to exactly keep leaves,
// freeing dropped rightmost blocks. It never collapses a node into its
// child: an inner node on the rightmost spine may legitimately hold a
// single child, and rewriting it to its child's depth would break the
// parent's children-are-one-level-down invariant. Height reduction
// happens only at the root, in collapseRootLocked.
func (t *Tree) trimSubtree(node *nodestore.Node, keep uint64) error {
	layout := t.nodes.Layout()
	depth := node.Depth()
	leavesPerChild, err := layout.NumLeavesPerFullSubtree(depth - 1)
	if err != nil {
		return err
	}
	children := node.Children()
	keptChildren := int((keep-1)/leavesPerChild) + 1
	remainder := keep - uint64(keptChildren-1)*leavesPerChild

	for i := len(children) - 1; i >= keptChildren; i-- {
		if err := t.removeSubtree(children[i]); err != nil {
			return err
		}
	}

	lastID := children[keptChildren-1]
	lastChild, err := t.nodes.Load(lastID)
	if err != nil {
		return err
	}
	if lastChild == nil {
		return fmt.Errorf("treestore: dangling child %s", lastID)
	}
	if !lastChild.IsLeaf() {
		if err := t.trimSubtree(lastChild, remainder); err != nil {
			return err
		}
	}

	if keptChildren < len(children) {
		newChildren := append([]blockid.ID{}, children[:keptChildren]...)
		return t.nodes.OverwriteNodeWith(node.ID(), nodestore.NewInner(depth, newChildren, layout.MaxBytesPerLeaf))
	}
	return nil
}

// collapseRootLocked reduces the tree's height while the root is an
// inner node with a single child: the child's content moves into the
// root's own block (the root id stays stable, mirroring how growth
// keeps it stable) and the child's block is freed. Repeats until the
// root is a leaf or has at least two children.
func (t *Tree) collapseRootLocked() error {
	layout := t.nodes.Layout()
	for {
		root, err := t.nodes.Load(t.rootID)
		if err != nil {
			return err
		}
		if root == nil {
			return fmt.Errorf("treestore: root %s does not exist", t.rootID)
		}
		if root.IsLeaf() || len(root.Children()) > 1 {
			return nil
		}
		childID := root.Children()[0]
		child, err := t.nodes.Load(childID)
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("treestore: dangling child %s", childID)
		}
		var replacement *nodestore.Node
		if child.IsLeaf() {
			replacement = nodestore.NewLeaf(child.Data(), layout.MaxBytesPerLeaf)
		} else {
			replacement = nodestore.NewInner(child.Depth(), child.Children(), layout.MaxBytesPerLeaf)
		}
		if err := t.nodes.OverwriteNodeWith(t.rootID, replacement); err != nil {
			return err
		}
		if err := t.nodes.Remove(childID); err != nil {
			return err
		}
	}
}

// rightmostLeafIDUncached finds the tree's current rightmost leaf id
// by a fresh traversal, bypassing the size cache (it neither reads nor
// updates it). Used right after a structural mutation where the cache has
// deliberately been cleared.
func (t *Tree) rightmostLeafIDUncached() (blockid.ID, error) {
	root, err := t.nodes.Load(t.rootID)
	if err != nil {
		return blockid.ID{}, err
	}
	if root == nil {
		return blockid.ID{}, fmt.Errorf("treestore: root %s does not exist", t.rootID)
	}
	node := root
	for !node.IsLeaf() {
		children := node.Children()
		next, err := t.nodes.Load(children[len(children)-1])
		if err != nil {
			return blockid.ID{}, err
		}
		if next == nil {
			return blockid.ID{}, fmt.Errorf("treestore: dangling child of %s", node.ID())
		}
		node = next
	}
	return node.ID(), nil
}
