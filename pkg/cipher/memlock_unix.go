//go:build linux || darwin

package cipher

import "golang.org/x/sys/unix"

// lockMemory pins b's pages into RAM so the key can never be written
// out to swap. Best-effort: callers treat failure (typically an
// exhausted RLIMIT_MEMLOCK) as a warning, since the key is still
// zeroed on Close either way.
func lockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// unlockMemory releases the pin taken by lockMemory. Call only after
// the key bytes have been zeroed.
func unlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
