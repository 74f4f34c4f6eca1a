package treestore

import (
	"bytes"
	"testing"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/nodestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	blocks map[blockid.ID][]byte
	loads  []blockid.ID
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: map[blockid.ID][]byte{}}
}

func (f *fakeStore) Exists(id blockid.ID) (bool, error) {
	_, ok := f.blocks[id]
	return ok, nil
}

func (f *fakeStore) Load(id blockid.ID) ([]byte, error) {
	f.loads = append(f.loads, id)
	return f.blocks[id], nil
}

func (f *fakeStore) Store(id blockid.ID, data []byte) error {
	f.blocks[id] = data
	return nil
}

func (f *fakeStore) TryCreate(id blockid.ID, data []byte) error {
	if _, ok := f.blocks[id]; ok {
		return cryfserr.ErrAlreadyExists
	}
	f.blocks[id] = data
	return nil
}

func (f *fakeStore) Remove(id blockid.ID) error {
	if _, ok := f.blocks[id]; !ok {
		return cryfserr.ErrNotRemovedBecauseItDoesntExist
	}
	delete(f.blocks, id)
	return nil
}

func (f *fakeStore) NumBlocks() (uint64, error) {
	return uint64(len(f.blocks)), nil
}

func (f *fakeStore) AllBlocks() ([]blockid.ID, error) {
	ids := make([]blockid.ID, 0, len(f.blocks))
	for id := range f.blocks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) EstimateNumFreeBytes() (uint64, error) {
	return 1 << 20, nil
}

// newTestStore builds a layout with MaxBytesPerLeaf=64 and
// MaxChildrenPerInnerNode=4, small enough to exercise multi-level
// growth and collapse cheaply.
func newTestStore(t *testing.T) (*Store, *nodestore.Store, *fakeStore) {
	fs := newFakeStore()
	layout, err := nodestore.NewLayout(72, 0)
	require.NoError(t, err)
	require.Equal(t, 64, layout.MaxBytesPerLeaf)
	require.Equal(t, 4, layout.MaxChildrenPerInnerNode)
	nodes := nodestore.New(fs, layout)
	return New(nodes), nodes, fs
}

func TestTwoLeafTreeReadBack(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	maxBytesPerLeaf := s.Layout().MaxBytesPerLeaf
	content := bytes.Repeat([]byte("A"), maxBytesPerLeaf+10)
	require.NoError(t, tree.WriteBytes(content, 0))

	numBytes, err := tree.NumBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(maxBytesPerLeaf+10), numBytes)

	numLeaves, err := tree.NumLeaves()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), numLeaves)

	numNodes, err := tree.NumNodes()
	require.NoError(t, err)
	assert.Equal(t, 3, numNodes)

	first := make([]byte, maxBytesPerLeaf)
	require.NoError(t, tree.ReadBytes(0, first))
	assert.Equal(t, bytes.Repeat([]byte("A"), maxBytesPerLeaf), first)

	tail := make([]byte, 10)
	require.NoError(t, tree.ReadBytes(uint64(maxBytesPerLeaf), tail))
	assert.Equal(t, bytes.Repeat([]byte("A"), 10), tail)
}

func TestShrinkCollapsesInnerNode(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	require.NoError(t, tree.WriteBytes(bytes.Repeat([]byte("x"), int(2*maxBytesPerLeaf+1)), 0))

	numLeaves, err := tree.NumLeaves()
	require.NoError(t, err)
	require.Equal(t, uint64(3), numLeaves)

	before, err := tree.AllBlocks()
	require.NoError(t, err)
	require.Len(t, before, 4) // 1 root inner + 3 leaves

	require.NoError(t, tree.ResizeNumBytes(1))

	numLeaves, err = tree.NumLeaves()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), numLeaves)

	after, err := tree.AllBlocks()
	require.NoError(t, err)
	assert.Len(t, after, 1)
	assert.Equal(t, tree.ID(), after[0])

	buf := make([]byte, 1)
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, []byte("x"), buf)
}

func TestGrowIncreasesDepth(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	// MaxChildrenPerInnerNode=4, so a depth-1 root holds at most 4
	// leaves. Ask for 5 to force a depth increase.
	newSize := 4*maxBytesPerLeaf + 1
	require.NoError(t, tree.ResizeNumBytes(newSize))

	numLeaves, err := tree.NumLeaves()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), numLeaves)

	numBytes, err := tree.NumBytes()
	require.NoError(t, err)
	assert.Equal(t, newSize, numBytes)

	buf := make([]byte, int(newSize))
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, make([]byte, int(newSize)), buf) // all zero-filled
}

func TestReadPastEndFails(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)
	require.NoError(t, tree.WriteBytes([]byte("hi"), 0))

	buf := make([]byte, 10)
	err = tree.ReadBytes(0, buf)
	assert.ErrorIs(t, err, cryfserr.ErrReadPastEnd)
}

func TestTryReadBytesReturnsShortCount(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)
	require.NoError(t, tree.WriteBytes([]byte("hello"), 0))

	buf := make([]byte, 10)
	n, err := tree.TryReadBytes(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), buf[:5])
}

func TestWriteBytesPastEndGrowsAndZeroFills(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	require.NoError(t, tree.WriteBytes([]byte("AB"), 50))

	numBytes, err := tree.NumBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(52), numBytes)

	buf := make([]byte, 52)
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, make([]byte, 50), buf[:50])
	assert.Equal(t, []byte("AB"), buf[50:])
}

func TestRemoveFreesEveryBlock(t *testing.T) {
	s, _, fs := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)
	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	require.NoError(t, tree.WriteBytes(bytes.Repeat([]byte("z"), int(2*maxBytesPerLeaf+1)), 0))

	require.NoError(t, tree.Remove())
	assert.Empty(t, fs.blocks)
}

func TestNumLeavesDoesNotLoadRightmostLeaf(t *testing.T) {
	s, nodes, fs := newTestStore(t)
	leaf0, err := nodes.CreateNewLeafNode(bytes.Repeat([]byte("a"), s.Layout().MaxBytesPerLeaf))
	require.NoError(t, err)
	leaf1, err := nodes.CreateNewLeafNode([]byte("tail"))
	require.NoError(t, err)
	root, err := nodes.CreateNewInnerNode(1, []blockid.ID{leaf0.ID(), leaf1.ID()})
	require.NoError(t, err)

	tree := newTree(nodes, root.ID(), sizeCache{})
	fs.loads = nil

	numLeaves, err := tree.NumLeaves()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), numLeaves)

	for _, id := range fs.loads {
		assert.NotEqual(t, leaf1.ID(), id, "NumLeaves must not load the rightmost leaf block")
	}
}

func TestNumBytesDoesLoadRightmostLeaf(t *testing.T) {
	s, nodes, fs := newTestStore(t)
	leaf0, err := nodes.CreateNewLeafNode(bytes.Repeat([]byte("a"), s.Layout().MaxBytesPerLeaf))
	require.NoError(t, err)
	leaf1, err := nodes.CreateNewLeafNode([]byte("tail"))
	require.NoError(t, err)
	root, err := nodes.CreateNewInnerNode(1, []blockid.ID{leaf0.ID(), leaf1.ID()})
	require.NoError(t, err)

	tree := newTree(nodes, root.ID(), sizeCache{})
	fs.loads = nil

	numBytes, err := tree.NumBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(s.Layout().MaxBytesPerLeaf+4), numBytes)

	loaded := false
	for _, id := range fs.loads {
		if id == leaf1.ID() {
			loaded = true
		}
	}
	assert.True(t, loaded, "NumBytes must load the rightmost leaf to learn its size")
}

func TestShrinkKeepsSingleChildSpineNodes(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	// 9 leaves with 4 children per inner node forces depth 2.
	content := bytes.Repeat([]byte("y"), int(8*maxBytesPerLeaf+1))
	require.NoError(t, tree.WriteBytes(content, 0))

	// 5 leaves still need depth 2: the root keeps two children, and the
	// second one becomes a depth-1 inner node holding a single leaf. It
	// must stay an inner node: only the root may collapse, otherwise
	// its depth would no longer be one below the root's.
	require.NoError(t, tree.ResizeNumBytes(4*maxBytesPerLeaf + 1))

	counts, err := tree.NumNodesByDepth()
	require.NoError(t, err)
	assert.Equal(t, 5, counts[0])
	assert.Equal(t, 2, counts[1])
	assert.Equal(t, 1, counts[2])

	buf := make([]byte, int(4*maxBytesPerLeaf+1))
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, content[:len(buf)], buf)
}

func TestShrinkFromDepthTwoCollapsesToSingleLeaf(t *testing.T) {
	s, _, fs := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)

	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	require.NoError(t, tree.WriteBytes(bytes.Repeat([]byte("w"), int(8*maxBytesPerLeaf+1)), 0))

	require.NoError(t, tree.ResizeNumBytes(1))

	all, err := tree.AllBlocks()
	require.NoError(t, err)
	assert.Equal(t, []blockid.ID{tree.ID()}, all)
	assert.Len(t, fs.blocks, 1)

	buf := make([]byte, 1)
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, []byte("w"), buf)
}

func TestResizeToCurrentSizeIsNoop(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)
	require.NoError(t, tree.WriteBytes([]byte("stable"), 0))

	before, err := tree.AllBlocks()
	require.NoError(t, err)
	require.NoError(t, tree.ResizeNumBytes(6))
	after, err := tree.AllBlocks()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	buf := make([]byte, 6)
	require.NoError(t, tree.ReadBytes(0, buf))
	assert.Equal(t, []byte("stable"), buf)
}

func TestNumNodesByDepth(t *testing.T) {
	s, _, _ := newTestStore(t)
	tree, err := s.CreateEmptyTree()
	require.NoError(t, err)
	maxBytesPerLeaf := uint64(s.Layout().MaxBytesPerLeaf)
	require.NoError(t, tree.WriteBytes(bytes.Repeat([]byte("z"), int(2*maxBytesPerLeaf+1)), 0))

	counts, err := tree.NumNodesByDepth()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[0])
	assert.Equal(t, 1, counts[1])
}
