// Package cryfserr defines the error-kind taxonomy shared by every
// layer of the storage stack. Errors are plain wrapped errors, checked
// with errors.Is/errors.As: no multierror, no error-kind library, just
// fmt.Errorf("...: %w", err).
package cryfserr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that are expected, non-fatal
// outcomes. Every other error kind is a dynamic, context-carrying
// error type below.
var (
	// ErrNotFound names the not-found kind. The block store layers do
	// not return it: a load of a missing id returns (nil, nil) and a
	// remove of one returns ErrNotRemovedBecauseItDoesntExist.
	ErrNotFound = errors.New("cryfs: not found")

	// ErrAlreadyExists is returned by try_create when the id collides
	// with an existing block.
	ErrAlreadyExists = errors.New("cryfs: already exists")

	// ErrInvalidArgument flags a caller mistake: oversized payload, a
	// malformed id, an out-of-range depth, and similar. Fail fast,
	// never retried.
	ErrInvalidArgument = errors.New("cryfs: invalid argument")

	// ErrReadPastEnd is returned by a strict read whose offset+length
	// exceeds the tree's current num_bytes. try_read_bytes never
	// returns it, returning a short count instead.
	ErrReadPastEnd = errors.New("cryfs: read past end of tree")
)

// IntegrityViolation is returned when the integrity layer detects a
// rollback, reintroduction, foreign-client tamper, or an unexpected
// missing block. It is sticky: once returned, the local integrity
// state is marked violated and every subsequent open fails (see
// pkg/integritystore) until a human clears the state file.
type IntegrityViolation struct {
	BlockID string
	Reason  string
	Cause   error
}

func (e *IntegrityViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cryfs: integrity violation on block %s: %s: %v", e.BlockID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("cryfs: integrity violation on block %s: %s", e.BlockID, e.Reason)
}

func (e *IntegrityViolation) Unwrap() error { return e.Cause }

// DecryptionFailure is returned by the encrypted block store when AEAD
// tag verification fails. The integrity layer promotes every
// DecryptionFailure it observes to an IntegrityViolation.
type DecryptionFailure struct {
	BlockID string
	Cause   error
}

func (e *DecryptionFailure) Error() string {
	return fmt.Sprintf("cryfs: decryption failed for block %s: %v", e.BlockID, e.Cause)
}

func (e *DecryptionFailure) Unwrap() error { return e.Cause }

// FormatError is returned when a magic number or format version does
// not match what a layer expects. It is fatal for the block being
// read; it propagates as a read error, it is not retried.
type FormatError struct {
	Layer  string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cryfs: format error in %s: %s", e.Layer, e.Detail)
}

// NodeAlreadyExists is returned by directory-entry operations that
// would create a duplicate name.
type NodeAlreadyExists struct {
	Name string
}

func (e *NodeAlreadyExists) Error() string {
	return fmt.Sprintf("cryfs: entry already exists: %q", e.Name)
}

// NodeDoesNotExist is returned by directory-entry lookups/removals
// that name a nonexistent entry.
type NodeDoesNotExist struct {
	Name string
}

func (e *NodeDoesNotExist) Error() string {
	return fmt.Sprintf("cryfs: entry does not exist: %q", e.Name)
}

// ErrCannotOverwriteDirectoryWithNonDirectory is returned by rename when
// the destination is a directory and the source is not.
var ErrCannotOverwriteDirectoryWithNonDirectory = errors.New("cryfs: cannot overwrite directory with non-directory")

// ErrCannotOverwriteNonDirectoryWithDirectory is returned by rename
// when the destination is a non-directory and the source is a
// directory.
var ErrCannotOverwriteNonDirectoryWithDirectory = errors.New("cryfs: cannot overwrite non-directory with directory")

// OverflowInTreeArithmetic is returned by checked tree-size arithmetic
// (num_leaves_per_full_subtree and friends) on overflow. It is fatal
// for the operation; the result is never silently truncated.
type OverflowInTreeArithmetic struct {
	Operation string
}

func (e *OverflowInTreeArithmetic) Error() string {
	return fmt.Sprintf("cryfs: overflow in tree arithmetic: %s", e.Operation)
}

// ErrNotRemovedBecauseItDoesntExist is returned by Remove for an id
// that has no block.
var ErrNotRemovedBecauseItDoesntExist = errors.New("cryfs: not removed because it doesn't exist")

// IsIntegrityViolation reports whether err is or wraps an
// IntegrityViolation.
func IsIntegrityViolation(err error) bool {
	var iv *IntegrityViolation
	return errors.As(err, &iv)
}
