/*
Package physicalstore is the lowest layer of the block store stack
(L0). It maps a blockid.ID to bytes on a local filesystem, sharded two
levels deep (blockid.ShardPath) to keep directory fan-out bounded, and
never interprets the payload it stores: encryption, integrity and
caching all happen in the layers above.

Every stored file begins with the fixed Magic header; Load rejects
files that are too short or whose header doesn't match, surfacing a
*cryfserr.FormatError rather than silently returning truncated data.

Store and TryCreate write through a temp file in the destination shard
directory followed by a rename, so a concurrent Load or a crash never
observes a partially written block under its final name.
*/
package physicalstore
