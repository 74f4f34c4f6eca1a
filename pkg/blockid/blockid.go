// Package blockid defines the identifiers used throughout the block
// store stack: the 128-bit BlockId names a block, the 32-bit ClientId
// names the local writer that last touched it.
package blockid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Length is the size of a BlockId in bytes.
const Length = 16

// ID is a 128-bit block identifier, randomly generated at block
// creation. It is rendered as uppercase hex for filenames and log
// fields. ID deliberately does not validate RFC 4122 version/variant
// bits on parse: only 128 bits of randomness are required, not a
// conformant UUID.
type ID [Length]byte

// Zero is the all-zero id used as the root directory's parent pointer.
var Zero ID

// New generates a fresh random ID using the same random source
// google/uuid uses for version-4 UUIDs.
func New() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("blockid: generate random id: %w", err)
	}
	var id ID
	copy(id[:], u[:])
	return id, nil
}

// MustNew generates a fresh random ID and panics on entropy failure.
// Used in tests and in paths where /dev/urandom failing is already
// fatal to the process.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Length {
		return id, fmt.Errorf("blockid: want %d bytes, got %d", Length, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the id's bytes as a freshly allocated slice.
func (id ID) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, id[:])
	return b
}

// String renders the id as uppercase hex, matching the on-disk
// filename convention.
func (id ID) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// IsZero reports whether id is the all-zero id.
func (id ID) IsZero() bool {
	return id == Zero
}

// ParseHex parses a hex-encoded block id, case insensitive.
func ParseHex(s string) (ID, error) {
	var id ID
	if len(s) != Length*2 {
		return id, fmt.Errorf("blockid: want %d hex chars, got %d", Length*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("blockid: invalid hex %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// ShardPrefixLen is the number of hex characters used as the first
// directory-sharding level on disk.
const ShardPrefixLen = 3

// ShardPath splits the id's hex representation into the two path
// components physicalstore uses on disk: a ShardPrefixLen-character
// directory name and the remaining hex characters as the filename.
func (id ID) ShardPath() (dir, name string) {
	h := id.String()
	return h[:ShardPrefixLen], h[ShardPrefixLen:]
}

// ClientID identifies the local writer that produced a block version.
// ClientID 0 is reserved to mark a block as locally deleted
// (tombstone).
type ClientID uint32

// DeletedClientID is the reserved tombstone marker.
const DeletedClientID ClientID = 0

// IsTombstone reports whether c is the reserved deleted-marker id.
func (c ClientID) IsTombstone() bool {
	return c == DeletedClientID
}

// RandomClientID generates a new, non-reserved client id for this
// process's lifetime. It retries on the astronomically unlikely chance
// of landing on the reserved value.
func RandomClientID() (ClientID, error) {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("blockid: generate client id: %w", err)
		}
		c := ClientID(buf[0])<<24 | ClientID(buf[1])<<16 | ClientID(buf[2])<<8 | ClientID(buf[3])
		if !c.IsTombstone() {
			return c, nil
		}
	}
}
