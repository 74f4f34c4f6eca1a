package blockstore

import (
	"github.com/cryfs/cryfs-sub004/pkg/cryfscfg"
	"github.com/cryfs/cryfs-sub004/pkg/violations"
)

// UIDGIDLookup resolves the uid and gid new filesystem entries should
// carry, normally the credentials of the mounting process.
type UIDGIDLookup func() (uid, gid uint32)

// MountCallbacks is everything the mount adapter hands into the core
// when opening the stack. The core never imports adapter code; these
// three hooks are the whole contract in that direction.
type MountCallbacks struct {
	// LookupUIDGID supplies ownership for newly created entries. A nil
	// value defaults to uid 0 / gid 0.
	LookupUIDGID UIDGIDLookup
	// AtimePolicy governs access-timestamp updates on reads.
	AtimePolicy cryfscfg.AtimePolicy
	// OnIntegrityViolation runs before the first violation error is
	// returned to any caller, so the adapter can log, alert, or start
	// an unmount.
	OnIntegrityViolation violations.Handler
}
