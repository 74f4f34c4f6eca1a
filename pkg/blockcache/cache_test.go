package blockcache

import (
	"sync"
	"testing"
	"time"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBase struct {
	mu     sync.Mutex
	blocks map[blockid.ID][]byte
	stores int
}

func newFakeBase() *fakeBase {
	return &fakeBase{blocks: map[blockid.ID][]byte{}}
}

func (f *fakeBase) Exists(id blockid.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blocks[id]
	return ok, nil
}

func (f *fakeBase) Load(id blockid.ID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blocks[id]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (f *fakeBase) Store(id blockid.ID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[id] = append([]byte{}, payload...)
	f.stores++
	return nil
}

func (f *fakeBase) TryCreate(id blockid.ID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blocks[id]; ok {
		return cryfserr.ErrAlreadyExists
	}
	f.blocks[id] = append([]byte{}, payload...)
	return nil
}

func (f *fakeBase) Remove(id blockid.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blocks[id]; !ok {
		return cryfserr.ErrNotRemovedBecauseItDoesntExist
	}
	delete(f.blocks, id)
	return nil
}

func (f *fakeBase) NumBlocks() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.blocks)), nil
}

func (f *fakeBase) AllBlocks() ([]blockid.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]blockid.ID, 0, len(f.blocks))
	for id := range f.blocks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeBase) EstimateNumFreeBytes() (uint64, error) {
	return 1 << 30, nil
}

func newTestCache(t *testing.T, base *fakeBase) *Cache {
	t.Helper()
	c, err := New(base, 0, time.Hour) // long prune interval: tests control flush explicitly
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStoreThenLoadHitsCacheBeforeFlush(t *testing.T) {
	base := newFakeBase()
	c := newTestCache(t, base)
	id := blockid.MustNew()

	require.NoError(t, c.Store(id, []byte("cached")))
	data, err := c.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), data)

	_, inBase := base.blocks[id]
	assert.False(t, inBase, "store must not write through before flush")
}

func TestFlushWritesThroughToBase(t *testing.T) {
	base := newFakeBase()
	c := newTestCache(t, base)
	id := blockid.MustNew()

	require.NoError(t, c.Store(id, []byte("payload")))
	require.NoError(t, c.Flush(id))

	assert.Equal(t, []byte("payload"), base.blocks[id])
}

func TestLoadFromBaseOnMiss(t *testing.T) {
	base := newFakeBase()
	id := blockid.MustNew()
	base.blocks[id] = []byte("from base")
	c := newTestCache(t, base)

	data, err := c.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("from base"), data)
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	c := newTestCache(t, newFakeBase())
	data, err := c.Load(blockid.MustNew())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestTryCreateFailsOnExistingInCache(t *testing.T) {
	c := newTestCache(t, newFakeBase())
	id := blockid.MustNew()
	require.NoError(t, c.TryCreate(id, []byte("a")))
	err := c.TryCreate(id, []byte("b"))
	assert.ErrorIs(t, err, cryfserr.ErrAlreadyExists)
}

func TestTryCreateFailsOnExistingInBase(t *testing.T) {
	base := newFakeBase()
	id := blockid.MustNew()
	base.blocks[id] = []byte("already there")
	c := newTestCache(t, base)

	err := c.TryCreate(id, []byte("new"))
	assert.ErrorIs(t, err, cryfserr.ErrAlreadyExists)
}

func TestNumBlocksCountsDirtyUnflushedPlusBase(t *testing.T) {
	base := newFakeBase()
	c := newTestCache(t, base)
	require.NoError(t, c.Store(blockid.MustNew(), []byte("a")))
	require.NoError(t, c.Store(blockid.MustNew(), []byte("b")))

	n, err := c.NumBlocks()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.NoError(t, c.FlushAll())
	n, err = c.NumBlocks()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRemoveDirtyUncommittedEntryNeverTouchesBase(t *testing.T) {
	base := newFakeBase()
	c := newTestCache(t, base)
	id := blockid.MustNew()
	require.NoError(t, c.Store(id, []byte("ephemeral")))
	require.NoError(t, c.Remove(id))

	n, err := c.NumBlocks()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRemoveMissingReturnsSentinel(t *testing.T) {
	c := newTestCache(t, newFakeBase())
	err := c.Remove(blockid.MustNew())
	assert.ErrorIs(t, err, cryfserr.ErrNotRemovedBecauseItDoesntExist)
}

func TestAllBlocksIncludesUnflushedCreates(t *testing.T) {
	base := newFakeBase()
	c := newTestCache(t, base)
	flushed := blockid.MustNew()
	unflushed := blockid.MustNew()
	base.blocks[flushed] = []byte("x")
	require.NoError(t, c.Store(unflushed, []byte("y")))

	all, err := c.AllBlocks()
	require.NoError(t, err)
	assert.Contains(t, all, flushed)
	assert.Contains(t, all, unflushed)
}

func TestLRUEvictionFlushesDirtyEntry(t *testing.T) {
	base := newFakeBase()
	c, err := New(base, 2, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	first := blockid.MustNew()
	require.NoError(t, c.Store(first, []byte("first")))
	require.NoError(t, c.Store(blockid.MustNew(), []byte("second")))
	require.NoError(t, c.Store(blockid.MustNew(), []byte("third"))) // evicts `first`

	assert.Equal(t, []byte("first"), base.blocks[first])
}

func TestCloseFlushesAllDirtyEntries(t *testing.T) {
	base := newFakeBase()
	c, err := New(base, 0, time.Hour)
	require.NoError(t, err)

	id := blockid.MustNew()
	require.NoError(t, c.Store(id, []byte("x")))
	require.NoError(t, c.Close())

	assert.Equal(t, []byte("x"), base.blocks[id])
}

func TestBackgroundPruneFlushesIdleEntries(t *testing.T) {
	base := newFakeBase()
	c, err := New(base, 0, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	id := blockid.MustNew()
	require.NoError(t, c.Store(id, []byte("idle")))

	require.Eventually(t, func() bool {
		base.mu.Lock()
		defer base.mu.Unlock()
		_, ok := base.blocks[id]
		return ok
	}, time.Second, 10*time.Millisecond)
}
