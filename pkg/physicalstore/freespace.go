package physicalstore

import (
	"fmt"
	"sync"
	"syscall"
	"time"
)

// freeSpaceTTL bounds how long a cached EstimateNumFreeBytes result is
// reused. The estimate is advisory and may be stale; invalidation is
// by time only, never by write activity, since free space also changes
// from activity outside this process.
const freeSpaceTTL = time.Second

// freeSpaceCache memoizes the last statfs result for EstimateNumFreeBytes.
type freeSpaceCache struct {
	mu        sync.Mutex
	value     uint64
	sampledAt time.Time
	hasValue  bool
}

// EstimateNumFreeBytes returns an advisory estimate of free space on
// the filesystem backing the base directory, refreshed at most once
// per freeSpaceTTL.
func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	s.free.mu.Lock()
	defer s.free.mu.Unlock()

	if s.free.hasValue && time.Since(s.free.sampledAt) < freeSpaceTTL {
		return s.free.value, nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.baseDir, &stat); err != nil {
		return 0, fmt.Errorf("physicalstore: statfs %s: %w", s.baseDir, err)
	}
	value := stat.Bavail * uint64(stat.Bsize)

	s.free.value = value
	s.free.sampledAt = time.Now()
	s.free.hasValue = true
	return value, nil
}
