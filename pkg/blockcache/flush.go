package blockcache

import (
	"fmt"
	"time"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfsmetrics"
)

// flushEntry writes e's data through to the base store if dirty, and
// clears the dirty flag on success. Safe to call from the LRU evict
// callback (does not touch entriesMu) as well as from Flush/pruneLoop.
func (c *Cache) flushEntry(id blockid.ID, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty {
		return nil
	}

	wasNew := !e.existsInBase
	if err := c.base.Store(id, e.data); err != nil {
		return fmt.Errorf("blockcache: flush %s: %w", id, err)
	}
	e.dirty = false
	e.existsInBase = true
	if wasNew {
		c.decDirty()
	}
	return nil
}

// Flush writes id's block through to the base store if dirty.
func (c *Cache) Flush(id blockid.ID) error {
	e, ok := c.peekEntry(id)
	if !ok {
		return nil
	}
	return c.flushEntry(id, e)
}

// FlushAll flushes every dirty entry currently in cache.
func (c *Cache) FlushAll() error {
	c.entriesMu.Lock()
	ids := c.entries.Keys()
	c.entriesMu.Unlock()

	for _, id := range ids {
		e, ok := c.peekEntry(id)
		if !ok {
			continue
		}
		if err := c.flushEntry(id, e); err != nil {
			return err
		}
	}
	return nil
}

// pruneLoop is the background task that periodically flushes and
// drops entries untouched for at least pruneInterval. Grounded on the
// ticker+stopCh pattern this corpus uses for every periodic
// background task.
func (c *Cache) pruneLoop() {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.pruneOnce()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) pruneOnce() {
	start := time.Now()

	c.entriesMu.Lock()
	ids := c.entries.Keys()
	c.entriesMu.Unlock()

	now := time.Now()
	for _, id := range ids {
		e, ok := c.peekEntry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		idle := now.Sub(e.lastTouch)
		e.mu.Unlock()
		if idle < c.pruneInterval {
			continue
		}
		if err := c.flushEntry(id, e); err != nil {
			c.logger.Warn().Err(err).Str("block_id", id.String()).Msg("prune task flush failed, will retry next pass")
			continue
		}
		c.entriesMu.Lock()
		c.entries.Remove(id)
		cryfsmetrics.CacheEntries.Set(float64(c.entries.Len()))
		c.entriesMu.Unlock()
	}

	cryfsmetrics.PruneFlushDuration.Observe(time.Since(start).Seconds())
}

// Close stops the prune task, flushes every remaining dirty entry,
// and returns. The base store is left for the caller to close; a
// guard obtained from this cache that outlives Close is a programming
// error.
func (c *Cache) Close() error {
	close(c.stopCh)
	<-c.stoppedCh
	return c.FlushAll()
}
