/*
Package blobstore implements the blob store (L7): a tree (pkg/treestore)
whose logical byte stream opens with a fixed 19-byte header naming the
blob's type and its containing directory blob. NumBytes, Read, Write
and Resize all operate in the blob's user-visible coordinate space,
with the header's HeaderLen offset applied once at this layer so
nothing above it ever sees the header.

set_parent only ever rewrites the first leaf (the header always fits
inside it), so it never triggers a tree traversal beyond what
ReadBytes/WriteBytes already do on their own for an offset-0 write.
*/
package blobstore
