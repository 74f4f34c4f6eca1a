package fsblob

import (
	"bytes"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfscfg"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// DirEntryList is a directory's body: its children, kept sorted by
// child blob-id so lookup-by-id can use a hinted binary search.
type DirEntryList struct {
	entries []DirEntry
	dirty   bool
}

// NewDirEntryList returns an empty list.
func NewDirEntryList() *DirEntryList {
	return &DirEntryList{}
}

// DecodeDirEntryList parses a directory blob's raw body.
func DecodeDirEntryList(data []byte) (*DirEntryList, error) {
	l := &DirEntryList{}
	for len(data) > 0 {
		e, n, err := decodeDirEntry(data)
		if err != nil {
			return nil, err
		}
		l.entries = append(l.entries, e)
		data = data[n:]
	}
	return l, nil
}

// Encode serializes the list back into a directory blob's body, in
// the same blob-id sort order it is maintained in.
func (l *DirEntryList) Encode() []byte {
	size := 0
	for _, e := range l.entries {
		size += e.encodedLen()
	}
	buf := make([]byte, size)
	off := 0
	for _, e := range l.entries {
		n := e.encodedLen()
		e.encode(buf[off : off+n])
		off += n
	}
	return buf
}

// Dirty reports whether any mutation has happened since the list was
// last decoded or since Clean was last called.
func (l *DirEntryList) Dirty() bool { return l.dirty }

// Clean clears the dirty flag after the caller has persisted Encode's
// output.
func (l *DirEntryList) Clean() { l.dirty = false }

// Len returns the number of entries.
func (l *DirEntryList) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in blob-id sort order.
func (l *DirEntryList) Entries() []DirEntry {
	out := make([]DirEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// indexOfID locates id's slot, probing a fractional-position hint
// derived from its first 4 bytes before falling back to ordinary
// binary search. The hint only changes which comparisons run first;
// correctness comes from the binary search, not the guess.
func (l *DirEntryList) indexOfID(id blockid.ID) (int, bool) {
	n := len(l.entries)
	if n == 0 {
		return 0, false
	}
	lead := uint64(id[0])<<24 | uint64(id[1])<<16 | uint64(id[2])<<8 | uint64(id[3])
	hint := int(lead * uint64(n) / (1 << 32))
	if hint >= n {
		hint = n - 1
	}
	lo, hi := 0, n-1
	switch c := bytes.Compare(l.entries[hint].BlobID[:], id[:]); {
	case c == 0:
		return hint, true
	case c < 0:
		lo = hint + 1
	default:
		hi = hint - 1
	}
	for lo <= hi {
		mid := (lo + hi) / 2
		switch c := bytes.Compare(l.entries[mid].BlobID[:], id[:]); {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return lo, false
}

// LookupByID finds the entry naming id.
func (l *DirEntryList) LookupByID(id blockid.ID) (DirEntry, bool) {
	idx, ok := l.indexOfID(id)
	if !ok {
		return DirEntry{}, false
	}
	return l.entries[idx], true
}

// LookupByName finds the entry with the given name.
func (l *DirEntryList) LookupByName(name string) (DirEntry, bool) {
	for _, e := range l.entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}

// Insert adds entry, failing if its name or its blob id is already
// present.
func (l *DirEntryList) Insert(entry DirEntry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	if _, ok := l.LookupByName(entry.Name); ok {
		return &cryfserr.NodeAlreadyExists{Name: entry.Name}
	}
	idx, ok := l.indexOfID(entry.BlobID)
	if ok {
		return fmt.Errorf("fsblob: blob id %s already present in directory: %w", entry.BlobID, cryfserr.ErrAlreadyExists)
	}
	l.entries = append(l.entries, DirEntry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = entry
	l.dirty = true
	return nil
}

// RemoveByName removes and returns the entry with the given name.
func (l *DirEntryList) RemoveByName(name string) (DirEntry, error) {
	e, ok := l.LookupByName(name)
	if !ok {
		return DirEntry{}, &cryfserr.NodeDoesNotExist{Name: name}
	}
	idx, _ := l.indexOfID(e.BlobID)
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	l.dirty = true
	return e, nil
}

// Rename moves the entry named oldName to newName. If an entry
// already exists at newName, rename overwrites it: a directory may
// only overwrite a directory and a non-directory may only overwrite a
// non-directory. When an entry is displaced, onOverwritten is invoked
// with its blob id before the list mutation is committed, so the
// caller can free the displaced blob; if onOverwritten fails the
// rename is aborted and the list is left untouched.
func (l *DirEntryList) Rename(oldName, newName string, onOverwritten func(blockid.ID) error) error {
	if err := validateName(newName); err != nil {
		return err
	}
	src, ok := l.LookupByName(oldName)
	if !ok {
		return &cryfserr.NodeDoesNotExist{Name: oldName}
	}
	if oldName == newName {
		return nil
	}
	dst, dstExists := l.LookupByName(newName)
	if dstExists {
		srcIsDir := src.Type == TypeDirectory
		dstIsDir := dst.Type == TypeDirectory
		switch {
		case dstIsDir && !srcIsDir:
			return cryfserr.ErrCannotOverwriteDirectoryWithNonDirectory
		case !dstIsDir && srcIsDir:
			return cryfserr.ErrCannotOverwriteNonDirectoryWithDirectory
		}
		if onOverwritten != nil {
			if err := onOverwritten(dst.BlobID); err != nil {
				return err
			}
		}
		dstIdx, _ := l.indexOfID(dst.BlobID)
		l.entries = append(l.entries[:dstIdx], l.entries[dstIdx+1:]...)
	}
	srcIdx, _ := l.indexOfID(src.BlobID)
	l.entries[srcIdx].Name = newName
	l.dirty = true
	return nil
}

// MaybeUpdateAccessTimestamp updates entry.Atime to now according to
// policy, reporting whether it changed anything. relatime updates iff
// the current atime is already behind mtime, behind ctime, or more
// than 24h stale.
func MaybeUpdateAccessTimestamp(entry *DirEntry, policy cryfscfg.AtimePolicy, now Timespec) bool {
	if policy.NoAtime {
		return false
	}
	if policy.NoDiratime && entry.Type == TypeDirectory {
		return false
	}
	if !policy.Relatime {
		entry.Atime = now
		return true
	}
	dayAgo := now.AddSeconds(-24 * 60 * 60)
	if entry.Atime.Before(entry.Mtime) || entry.Atime.Before(entry.Ctime) || entry.Atime.Before(dayAgo) {
		entry.Atime = now
		return true
	}
	return false
}
