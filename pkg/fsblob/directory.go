package fsblob

import (
	"runtime"

	"github.com/cryfs/cryfs-sub004/pkg/blobstore"
	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfscfg"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
	"github.com/cryfs/cryfs-sub004/pkg/cryfslog"
)

// Directory is a blob whose body is a serialized DirEntryList. The
// list is decoded once on open and only re-encoded by Flush if an
// entry was actually mutated, so a directory is written back on close
// rather than on every edit.
//
// A Directory handle must be released with Close (or at least Flush)
// before it is dropped: mutations live only in memory until then.
// Dropping a handle with unflushed entries is a bug in the caller; a
// GC finalizer catches it and reports the blob id of the lost
// mutations instead of eating them silently.
type Directory struct {
	blob    *blobstore.Blob
	entries *DirEntryList
}

// dirtyDirectoryDiscarded runs on the finalizer goroutine when a
// Directory with unflushed entries is garbage collected without Close
// or Flush having been called. A package variable so the test suite
// can assert the leak check fires.
var dirtyDirectoryDiscarded = func(id blockid.ID) {
	logger := cryfslog.WithComponent("fsblob")
	logger.Error().
		Str("blob_id", id.String()).
		Msg("directory handle discarded with unflushed entries, mutations lost; call Flush or Close before dropping the handle")
}

func newDirectory(blob *blobstore.Blob, entries *DirEntryList) *Directory {
	d := &Directory{blob: blob, entries: entries}
	runtime.SetFinalizer(d, func(d *Directory) {
		if d.entries.Dirty() {
			dirtyDirectoryDiscarded(d.blob.ID())
		}
	})
	return d
}

func openDirectory(blob *blobstore.Blob) (*Directory, error) {
	n, err := blob.NumBytes()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := blob.Read(0, buf); err != nil {
		return nil, err
	}
	list, err := DecodeDirEntryList(buf)
	if err != nil {
		return nil, err
	}
	return newDirectory(blob, list), nil
}

func (d *Directory) ID() blockid.ID               { return d.blob.ID() }
func (d *Directory) Parent() (blockid.ID, error)  { return d.blob.Parent() }
func (d *Directory) SetParent(p blockid.ID) error { return d.blob.SetParent(p) }

// Entries returns a snapshot of the directory's children.
func (d *Directory) Entries() []DirEntry { return d.entries.Entries() }

// LookupByName finds a child by name.
func (d *Directory) LookupByName(name string) (DirEntry, bool) {
	return d.entries.LookupByName(name)
}

// LookupByID finds a child by its blob id.
func (d *Directory) LookupByID(id blockid.ID) (DirEntry, bool) {
	return d.entries.LookupByID(id)
}

// Insert adds a new child entry.
func (d *Directory) Insert(entry DirEntry) error {
	return d.entries.Insert(entry)
}

// RemoveByName removes and returns the named child entry.
func (d *Directory) RemoveByName(name string) (DirEntry, error) {
	return d.entries.RemoveByName(name)
}

// Rename renames oldName to newName, overwriting an existing entry at
// newName subject to the directory/non-directory overwrite rules. See
// DirEntryList.Rename.
func (d *Directory) Rename(oldName, newName string, onOverwritten func(blockid.ID) error) error {
	return d.entries.Rename(oldName, newName, onOverwritten)
}

// MaybeUpdateAccessTimestamp updates the named child's atime per
// policy, reporting whether it changed anything.
func (d *Directory) MaybeUpdateAccessTimestamp(name string, policy cryfscfg.AtimePolicy, now Timespec) (bool, error) {
	entry, ok := d.entries.LookupByName(name)
	if !ok {
		return false, &cryfserr.NodeDoesNotExist{Name: name}
	}
	i, _ := d.entries.indexOfID(entry.BlobID)
	changed := MaybeUpdateAccessTimestamp(&d.entries.entries[i], policy, now)
	if changed {
		d.entries.dirty = true
	}
	return changed, nil
}

// Flush re-serializes the entry list into the underlying blob if it
// was mutated since the last Flush, then flushes the blob's own dirty
// blocks through to the store.
func (d *Directory) Flush() error {
	if d.entries.Dirty() {
		data := d.entries.Encode()
		if err := d.blob.Resize(uint64(len(data))); err != nil {
			return err
		}
		if err := d.blob.Write(0, data); err != nil {
			return err
		}
		d.entries.Clean()
	}
	return d.blob.Flush()
}

// Close flushes any pending mutations and disarms the leak check. The
// Directory must not be used afterwards.
func (d *Directory) Close() error {
	runtime.SetFinalizer(d, nil)
	return d.Flush()
}
