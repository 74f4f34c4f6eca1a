package treestore

import "github.com/cryfs/cryfs-sub004/pkg/blockid"

// sizeCacheState names which of the three states a Tree's size cache
// currently holds. Monotonic in
// information: Unknown -> RootIsInnerAndNumLeavesKnown -> NumBytesKnown,
// never backward.
type sizeCacheState uint8

const (
	cacheUnknown sizeCacheState = iota
	cacheRootIsInnerAndNumLeavesKnown
	cacheNumBytesKnown
)

// sizeCache is a Tree's cached knowledge of its own size. Reading
// numLeaves in the RootIsInnerAndNumLeavesKnown state never requires
// loading rightmostLeafID itself, only the inner nodes on the path to
// it. The rightmost leaf may already be locked by whoever is calling
// into the tree store, and loading it here would deadlock.
type sizeCache struct {
	state sizeCacheState

	numLeaves       uint64
	rightmostLeafID blockid.ID // valid once state >= RootIsInnerAndNumLeavesKnown

	rightmostLeafNumBytes uint32 // valid once state == NumBytesKnown
}
