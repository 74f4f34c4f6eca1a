/*
Package fsblob implements the filesystem blob layer (L8): File,
Symlink, and Directory wrap a pkg/blobstore.Blob and give its body a
fixed meaning. A File's body is raw bytes, a Symlink's is a UTF-8
target path, and a Directory's is a serialized DirEntryList that is
loaded once and re-serialized through Flush only if an entry was
actually mutated, mirroring how a cached inode is written back on
close rather than on every field change.

Root directory creation always passes blockid.Zero as the parent, the
same all-zero id pkg/blobstore already treats as "no containing
directory".
*/
package fsblob
