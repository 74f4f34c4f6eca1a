// Package blockcache combines a write-back LRU cache with per-block-id
// locking (L3+L4 of the block store stack). It is the only layer that
// serializes concurrent access to a given block id; everything below
// it assumes callers already hold exclusive access to the id they are
// touching.
package blockcache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
	"github.com/cryfs/cryfs-sub004/pkg/cryfsmetrics"
)

// DefaultMaxEntries is the cache's soft entry cap.
const DefaultMaxEntries = 10000

// DefaultPruneInterval is how often the background prune task sweeps
// the cache, and also the minimum idle time before an entry becomes
// eligible for pruning.
const DefaultPruneInterval = 500 * time.Millisecond

// BaseStore is the subset of pkg/integritystore's interface this
// layer needs.
type BaseStore interface {
	Exists(id blockid.ID) (bool, error)
	Load(id blockid.ID) ([]byte, error)
	Store(id blockid.ID, payload []byte) error
	TryCreate(id blockid.ID, payload []byte) error
	Remove(id blockid.ID) error
	NumBlocks() (uint64, error)
	AllBlocks() ([]blockid.ID, error)
	EstimateNumFreeBytes() (uint64, error)
}

// entry is one cached block: its bytes, whether it differs from the
// base store, and whether the base store has ever seen this id.
type entry struct {
	mu           sync.Mutex
	data         []byte
	dirty        bool
	existsInBase bool
	lastTouch    time.Time
}

// Cache is the L3+L4 caching and locking block store.
type Cache struct {
	base   BaseStore
	logger zerolog.Logger

	// entries is keyed by id and protected by entriesMu; the LRU only
	// tracks recency/eviction order, the map is the source of truth for
	// lookup. Per-id locking happens on the entry itself, not here:
	// entriesMu is held only long enough to find-or-create an *entry.
	entriesMu sync.Mutex
	entries   *lru.Cache[blockid.ID, *entry]

	dirtyCount int64
	dirtyMu    sync.Mutex

	pruneInterval time.Duration
	stopCh        chan struct{}
	stoppedCh     chan struct{}
}

// New constructs a Cache over base with the given soft entry cap and
// prune interval, and starts its background prune task.
func New(base BaseStore, maxEntries int, pruneInterval time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if pruneInterval <= 0 {
		pruneInterval = DefaultPruneInterval
	}

	c := &Cache{
		base:          base,
		logger:        cryfslog.WithComponent("blockcache"),
		pruneInterval: pruneInterval,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	backing, err := lru.NewWithEvict[blockid.ID, *entry](maxEntries, func(id blockid.ID, e *entry) {
		// Called synchronously from within entriesMu (Add triggers it on
		// overflow), so it must not try to reacquire entriesMu itself.
		if err := c.flushEntry(id, e); err != nil {
			c.logger.Error().Err(err).Str("block_id", id.String()).Msg("flush on LRU eviction failed, entry dropped dirty")
		}
		cryfsmetrics.CacheEvictions.Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("blockcache: create LRU: %w", err)
	}
	c.entries = backing

	go c.pruneLoop()
	return c, nil
}

// getOrCreateEntry finds id's cache entry, creating (but not loading)
// one if absent, and bumps its LRU recency.
func (c *Cache) getOrCreateEntry(id blockid.ID) *entry {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()

	if e, ok := c.entries.Get(id); ok {
		return e
	}
	e := &entry{lastTouch: time.Now()}
	c.entries.Add(id, e)
	cryfsmetrics.CacheEntries.Set(float64(c.entries.Len()))
	return e
}

func (c *Cache) peekEntry(id blockid.ID) (*entry, bool) {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	return c.entries.Peek(id)
}

// Exists reports whether id has a block, checking the cache first.
func (c *Cache) Exists(id blockid.ID) (bool, error) {
	if e, ok := c.peekEntry(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.existsInBase || e.dirty {
			return true, nil
		}
	}
	return c.base.Exists(id)
}

// Load returns id's bytes, filling the cache on a miss. Returns
// (nil, nil) if no block exists for id.
func (c *Cache) Load(id blockid.ID) ([]byte, error) {
	e := c.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTouch = time.Now()

	if e.data != nil || e.dirty {
		cryfsmetrics.CacheHits.Inc()
		return cloneBytes(e.data), nil
	}

	cryfsmetrics.CacheMisses.Inc()
	data, err := c.base.Load(id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	e.data = data
	e.existsInBase = true
	return cloneBytes(data), nil
}

// Store writes data for id, keeping it dirty in cache until the next
// flush or eviction.
func (c *Cache) Store(id blockid.ID, data []byte) error {
	e := c.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTouch = time.Now()

	wasNew := e.data == nil && !e.existsInBase
	e.data = cloneBytes(data)
	e.dirty = true
	if wasNew {
		c.incDirty()
	}
	return nil
}

// TryCreate writes data for id only if no block for id exists yet,
// in cache or base store.
func (c *Cache) TryCreate(id blockid.ID, data []byte) error {
	e := c.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data != nil || e.existsInBase {
		return fmt.Errorf("blockcache: block %s: %w", id, cryfserr.ErrAlreadyExists)
	}
	existsInBase, err := c.base.Exists(id)
	if err != nil {
		return err
	}
	if existsInBase {
		return fmt.Errorf("blockcache: block %s: %w", id, cryfserr.ErrAlreadyExists)
	}

	e.data = cloneBytes(data)
	e.dirty = true
	e.lastTouch = time.Now()
	c.incDirty()
	return nil
}

// Remove deletes id's block from cache and base store.
func (c *Cache) Remove(id blockid.ID) error {
	e := c.getOrCreateEntry(id)
	e.mu.Lock()

	hadEntry := e.data != nil || e.dirty
	wasOnlyInCache := hadEntry && !e.existsInBase
	existsInBase := e.existsInBase
	e.data = nil
	e.dirty = false
	e.existsInBase = false
	e.mu.Unlock()

	if !hadEntry {
		existsInBase, err := c.base.Exists(id)
		if err != nil {
			return err
		}
		if !existsInBase {
			return cryfserr.ErrNotRemovedBecauseItDoesntExist
		}
	}

	if wasOnlyInCache {
		c.decDirty()
		return nil
	}
	if existsInBase || !hadEntry {
		if err := c.base.Remove(id); err != nil {
			return err
		}
	}
	cryfsmetrics.BlocksRemoved.WithLabelValues("blockcache").Inc()
	return nil
}

// NumBlocks returns the base store's block count plus the number of
// entries created in cache but not yet flushed.
func (c *Cache) NumBlocks() (uint64, error) {
	base, err := c.base.NumBlocks()
	if err != nil {
		return 0, err
	}
	c.dirtyMu.Lock()
	dirty := c.dirtyCount
	c.dirtyMu.Unlock()
	return base + uint64(dirty), nil
}

// AllBlocks returns every id known to the base store plus every id
// created in cache but not yet flushed. Not snapshot-consistent with
// concurrent creates/removes.
func (c *Cache) AllBlocks() ([]blockid.ID, error) {
	base, err := c.base.AllBlocks()
	if err != nil {
		return nil, err
	}
	seen := make(map[blockid.ID]struct{}, len(base))
	for _, id := range base {
		seen[id] = struct{}{}
	}

	c.entriesMu.Lock()
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		present := e.data != nil || e.dirty || e.existsInBase
		e.mu.Unlock()
		if present {
			seen[id] = struct{}{}
		} else {
			delete(seen, id)
		}
	}
	c.entriesMu.Unlock()

	ids := make([]blockid.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// EstimateNumFreeBytes delegates to the base store.
func (c *Cache) EstimateNumFreeBytes() (uint64, error) {
	return c.base.EstimateNumFreeBytes()
}

func (c *Cache) incDirty() {
	c.dirtyMu.Lock()
	c.dirtyCount++
	cryfsmetrics.CacheDirtyEntries.Set(float64(c.dirtyCount))
	c.dirtyMu.Unlock()
}

func (c *Cache) decDirty() {
	c.dirtyMu.Lock()
	c.dirtyCount--
	cryfsmetrics.CacheDirtyEntries.Set(float64(c.dirtyCount))
	c.dirtyMu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
