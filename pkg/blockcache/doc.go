/*
Package blockcache combines the write-back cache and per-block-id
locking of the stack (L3+L4) in one component. Every mutating
operation locks the target entry's own sync.Mutex rather than a
single cache-wide lock, so operations on different block ids proceed
concurrently; entriesMu is held only to find-or-create or drop an
entry in the LRU index. The one I/O that runs under entriesMu is the
flush of an entry evicted by the LRU, since the eviction callback runs
inside the call that holds it.

A background task (pruneLoop) periodically flushes and evicts entries
idle for at least the cache's prune interval. LRU-capacity eviction flushes
synchronously in the same call that triggered it, so a dirty entry is
never silently dropped by cache pressure.

Close stops the prune task and flushes every remaining dirty entry
before returning; it does not close the base store, matching the
layering where each store owns only what it directly allocated.
*/
package blockcache
