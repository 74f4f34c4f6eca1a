/*
Package treestore implements the tree store (L6): a random-access
byte interface over trees of pkg/nodestore blocks, plus the per-tree
size cache that lets num_leaves answer without loading the rightmost
leaf (it may already be locked by the caller) while num_bytes, which
does need that leaf's actual size, may legitimately block on it.

Trees are always full except along the rightmost spine: every inner
node is packed to Layout.MaxChildrenPerInnerNode children except
possibly the path from root to the rightmost leaf, and the rightmost
leaf is the only one allowed to be smaller than MaxBytesPerLeaf.
Growing and shrinking both operate by walking and rewriting that
spine; nodes off the spine are never touched.
*/
package treestore
