/*
Package cryfslog provides structured logging for the storage stack
using zerolog.

The stateful layers (pkg/physicalstore, pkg/encryptedstore,
pkg/integritystore, pkg/blockcache) and pkg/localstate and pkg/stack
pull a component logger at construction time via WithComponent and
attach block ids per call via WithBlockID rather than threading a
*zerolog.Logger with accumulated fields through every function
signature. pkg/nodestore, pkg/treestore and pkg/blobstore do not log;
pkg/fsblob and pkg/cipher create a component logger only at the point
they report a fault.

# Levels

No layer of the stack logs at Debug level. Warn is used for faults the
layer recovers from on its own (a prune-task flush that failed and will
be retried, a failed known-blocks index update).
Error is used once, at the point a fault becomes visible to the caller
as a returned error, most importantly every IntegrityViolation and
DecryptionFailure, since by the time the mount adapter's
on_integrity_violation callback runs it needs this line already
written.

# Usage

	cryfslog.Init(cryfslog.Config{Level: cryfslog.InfoLevel, JSONOutput: true})
	logger := cryfslog.WithComponent("blockcache")
	logger.Warn().Str("block_id", id.String()).Msg("prune flush failed")
*/
package cryfslog
