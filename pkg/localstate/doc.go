/*
Package localstate manages the CRYFS_LOCAL_STATE_DIR layout: one
subdirectory per filesystem_id, holding the integrity state file
(pkg/integritystore's own fixed binary format, untouched by this
package) and a best-effort bbolt-backed index of known block ids that
exists purely to short-circuit all_blocks()/num_blocks() enumeration
over the sharded on-disk block directory tree.

The accelerator index is never a second source of truth: a directory
walk is still what all_blocks() and num_blocks() answer from by
default, and the index is only trusted once its count has been
reconciled against a walk at open time. The database holds a single
known_blocks bucket mapping block id to an empty value.
*/
package localstate
