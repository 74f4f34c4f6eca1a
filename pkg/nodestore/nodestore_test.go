package nodestore

import (
	"encoding/binary"
	"testing"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	blocks map[blockid.ID][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: map[blockid.ID][]byte{}}
}

func (f *fakeStore) Exists(id blockid.ID) (bool, error) {
	_, ok := f.blocks[id]
	return ok, nil
}

func (f *fakeStore) Load(id blockid.ID) ([]byte, error) {
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

func newTestStore(t *testing.T) (*Store, *fakeStore) {
	fs := newFakeStore()
	layout, err := NewLayout(1024, 28) // e.g. an AES-GCM nonce (12) plus tag (16) as below-layer overhead
	require.NoError(t, err)
	return New(fs, layout), fs
}

func TestLayoutRejectsTooSmallBlockSize(t *testing.T) {
	_, err := NewLayout(10, 28)
	assert.Error(t, err)
}

func TestCreateLeafThenLoadRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.CreateNewLeafNode([]byte("hello leaf"))
	require.NoError(t, err)

	loaded, err := s.Load(n.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsLeaf())
	assert.Equal(t, []byte("hello leaf"), loaded.Data())
	assert.Equal(t, uint32(len("hello leaf")), loaded.NumChildren())
}

func TestCreateInnerThenLoadRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	leaf1, err := s.CreateNewLeafNode([]byte("a"))
	require.NoError(t, err)
	leaf2, err := s.CreateNewLeafNode([]byte("b"))
	require.NoError(t, err)

	inner, err := s.CreateNewInnerNode(1, []blockid.ID{leaf1.ID(), leaf2.ID()})
	require.NoError(t, err)

	loaded, err := s.Load(inner.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.IsLeaf())
	assert.Equal(t, uint8(1), loaded.Depth())
	assert.Equal(t, []blockid.ID{leaf1.ID(), leaf2.ID()}, loaded.Children())
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.Load(blockid.MustNew())
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestCreateNewInnerNodeRejectsZeroDepth(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateNewInnerNode(0, []blockid.ID{blockid.MustNew()})
	assert.ErrorIs(t, err, cryfserr.ErrInvalidArgument)
}

func TestCreateNewInnerNodeRejectsDepthBeyondMax(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateNewInnerNode(MaxDepth+1, []blockid.ID{blockid.MustNew()})
	assert.ErrorIs(t, err, cryfserr.ErrInvalidArgument)
}

func TestCreateNewInnerNodeRejectsZeroChildren(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateNewInnerNode(1, nil)
	assert.ErrorIs(t, err, cryfserr.ErrInvalidArgument)
}

func TestCreateNewInnerNodeRejectsTooManyChildren(t *testing.T) {
	s, _ := newTestStore(t)
	tooMany := make([]blockid.ID, s.Layout().MaxChildrenPerInnerNode+1)
	for i := range tooMany {
		tooMany[i] = blockid.MustNew()
	}
	_, err := s.CreateNewInnerNode(1, tooMany)
	assert.ErrorIs(t, err, cryfserr.ErrInvalidArgument)
}

func TestCreateNewLeafNodeRejectsOversizedData(t *testing.T) {
	s, _ := newTestStore(t)
	oversized := make([]byte, s.Layout().MaxBytesPerLeaf+1)
	_, err := s.CreateNewLeafNode(oversized)
	assert.ErrorIs(t, err, cryfserr.ErrInvalidArgument)
}

func TestLoadRejectsWrongPhysicalSize(t *testing.T) {
	s, fs := newTestStore(t)
	id := blockid.MustNew()
	fs.blocks[id] = []byte("too short")

	_, err := s.Load(id)
	var fe *cryfserr.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestLoadRejectsBadFormatVersion(t *testing.T) {
	s, fs := newTestStore(t)
	n, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)

	raw := append([]byte{}, fs.blocks[n.ID()]...)
	binary.LittleEndian.PutUint16(raw[0:2], FormatVersion+1)
	fs.blocks[n.ID()] = raw

	_, err = s.Load(n.ID())
	var fe *cryfserr.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestLoadRejectsInnerNodeWithZeroChildren(t *testing.T) {
	s, fs := newTestStore(t)
	leaf, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)
	inner, err := s.CreateNewInnerNode(1, []blockid.ID{leaf.ID()})
	require.NoError(t, err)

	raw := append([]byte{}, fs.blocks[inner.ID()]...)
	binary.LittleEndian.PutUint32(raw[4:8], 0)
	fs.blocks[inner.ID()] = raw

	_, err = s.Load(inner.ID())
	var fe *cryfserr.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestLoadRejectsInnerNodeWithTooManyChildren(t *testing.T) {
	s, fs := newTestStore(t)
	leaf, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)
	inner, err := s.CreateNewInnerNode(1, []blockid.ID{leaf.ID()})
	require.NoError(t, err)

	raw := append([]byte{}, fs.blocks[inner.ID()]...)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(s.Layout().MaxChildrenPerInnerNode+1))
	fs.blocks[inner.ID()] = raw

	_, err = s.Load(inner.ID())
	var fe *cryfserr.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestLoadRejectsDepthBeyondMax(t *testing.T) {
	s, fs := newTestStore(t)
	leaf, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)
	inner, err := s.CreateNewInnerNode(1, []blockid.ID{leaf.ID()})
	require.NoError(t, err)

	raw := append([]byte{}, fs.blocks[inner.ID()]...)
	raw[3] = MaxDepth + 1
	fs.blocks[inner.ID()] = raw

	_, err = s.Load(inner.ID())
	var fe *cryfserr.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestNumLeavesPerFullSubtree(t *testing.T) {
	layout := Layout{MaxChildrenPerInnerNode: 4}
	n, err := layout.NumLeavesPerFullSubtree(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	n, err = layout.NumLeavesPerFullSubtree(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), n)
}

func TestNumLeavesPerFullSubtreeDetectsOverflow(t *testing.T) {
	layout := Layout{MaxChildrenPerInnerNode: 1 << 32}
	_, err := layout.NumLeavesPerFullSubtree(3)
	var overflow *cryfserr.OverflowInTreeArithmetic
	assert.ErrorAs(t, err, &overflow)
}

func TestOverwriteNodeWithKeepsTargetId(t *testing.T) {
	s, _ := newTestStore(t)
	target, err := s.CreateNewLeafNode([]byte("old"))
	require.NoError(t, err)
	source, err := s.CreateNewLeafNode([]byte("new content"))
	require.NoError(t, err)

	require.NoError(t, s.OverwriteNodeWith(target.ID(), source))

	loaded, err := s.Load(target.ID())
	require.NoError(t, err)
	assert.Equal(t, target.ID(), loaded.ID())
	assert.Equal(t, []byte("new content"), loaded.Data())
}

func TestConvertToNewInnerNodeBumpsDepthAndKeepsId(t *testing.T) {
	s, _ := newTestStore(t)
	oldRoot, err := s.CreateNewLeafNode([]byte("root data"))
	require.NoError(t, err)
	movedChild, err := s.CreateNewLeafNode([]byte("root data"))
	require.NoError(t, err)

	newRoot, err := s.ConvertToNewInnerNode(oldRoot, movedChild.ID())
	require.NoError(t, err)
	assert.Equal(t, oldRoot.ID(), newRoot.ID())
	assert.Equal(t, uint8(1), newRoot.Depth())
	assert.Equal(t, []blockid.ID{movedChild.ID()}, newRoot.Children())

	loaded, err := s.Load(oldRoot.ID())
	require.NoError(t, err)
	assert.False(t, loaded.IsLeaf())
}

func TestConvertToNewInnerNodeRejectsBeyondMaxDepth(t *testing.T) {
	s, _ := newTestStore(t)
	leaf, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)
	deepRoot := &Node{id: leaf.ID(), depth: MaxDepth, children: []blockid.ID{leaf.ID()}, maxBytes: s.Layout().MaxBytesPerLeaf}

	_, err = s.ConvertToNewInnerNode(deepRoot, leaf.ID())
	var overflow *cryfserr.OverflowInTreeArithmetic
	assert.ErrorAs(t, err, &overflow)
}

func TestAllBlocksDelegatesToBase(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateNewLeafNode([]byte("x"))
	require.NoError(t, err)
	_, err = s.CreateNewLeafNode([]byte("y"))
	require.NoError(t, err)

	ids, err := s.AllBlocks()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
