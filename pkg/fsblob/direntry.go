package fsblob

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/blobstore"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// Mode bit layout mirrors POSIX st_mode: a type field in the high
// bits, permission bits in the low twelve.
const (
	ModeTypeMask = 0170000
	ModeDir      = 0040000
	ModeFile     = 0100000
	ModeSymlink  = 0120000
)

func modeTypeFor(t blobstore.Type) (uint32, error) {
	switch t {
	case TypeDirectory:
		return ModeDir, nil
	case TypeFile:
		return ModeFile, nil
	case TypeSymlink:
		return ModeSymlink, nil
	default:
		return 0, fmt.Errorf("fsblob: unknown blob type %d: %w", t, cryfserr.ErrInvalidArgument)
	}
}

// entryFixedLen is the size of a DirEntry record up to (but not
// including) the name: entry_type(1) + mode(4) + uid(4) + gid(4) +
// atime/mtime/ctime(12 each).
const entryFixedLen = 1 + 4 + 4 + 4 + 3*timespecLen

// DirEntry is one record of a Directory's entry list: the metadata
// and name of one child, plus the id of the blob it names.
type DirEntry struct {
	Type   blobstore.Type
	Mode   uint32
	UID    uint32
	GID    uint32
	Atime  Timespec
	Mtime  Timespec
	Ctime  Timespec
	Name   string
	BlobID blockid.ID
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("fsblob: entry name must not be empty: %w", cryfserr.ErrInvalidArgument)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("fsblob: entry name %q must not contain a slash: %w", name, cryfserr.ErrInvalidArgument)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("fsblob: entry name %q must not contain a NUL byte: %w", name, cryfserr.ErrInvalidArgument)
	}
	return nil
}

// validate checks that mode carries exactly one type flag and that it
// agrees with the entry's type tag.
func (e DirEntry) validate() error {
	if err := validateName(e.Name); err != nil {
		return err
	}
	want, err := modeTypeFor(e.Type)
	if err != nil {
		return err
	}
	if e.Mode&ModeTypeMask != want {
		return fmt.Errorf("fsblob: mode %o does not agree with type tag %d: %w", e.Mode, e.Type, cryfserr.ErrInvalidArgument)
	}
	return nil
}

func (e DirEntry) encodedLen() int {
	return entryFixedLen + len(e.Name) + 1 + blockid.Length
}

func (e DirEntry) encode(buf []byte) {
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[1:5], e.Mode)
	binary.LittleEndian.PutUint32(buf[5:9], e.UID)
	binary.LittleEndian.PutUint32(buf[9:13], e.GID)
	e.Atime.encode(buf[13:25])
	e.Mtime.encode(buf[25:37])
	e.Ctime.encode(buf[37:49])
	n := copy(buf[entryFixedLen:], e.Name)
	buf[entryFixedLen+n] = 0
	copy(buf[entryFixedLen+n+1:], e.BlobID.Bytes())
}

// decodeDirEntry decodes one record starting at buf[0], returning the
// entry and the number of bytes it consumed.
func decodeDirEntry(buf []byte) (DirEntry, int, error) {
	if len(buf) < entryFixedLen {
		return DirEntry{}, 0, &cryfserr.FormatError{Layer: "fsblob", Detail: "directory entry shorter than fixed header"}
	}
	nameStart := entryFixedLen
	nul := -1
	for i := nameStart; i < len(buf); i++ {
		if buf[i] == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return DirEntry{}, 0, &cryfserr.FormatError{Layer: "fsblob", Detail: "directory entry name missing NUL terminator"}
	}
	idStart := nul + 1
	idEnd := idStart + blockid.Length
	if idEnd > len(buf) {
		return DirEntry{}, 0, &cryfserr.FormatError{Layer: "fsblob", Detail: "directory entry truncated before blob id"}
	}
	id, err := blockid.FromBytes(buf[idStart:idEnd])
	if err != nil {
		return DirEntry{}, 0, &cryfserr.FormatError{Layer: "fsblob", Detail: fmt.Sprintf("bad blob id: %v", err)}
	}
	e := DirEntry{
		Type:   blobstore.Type(buf[0]),
		Mode:   binary.LittleEndian.Uint32(buf[1:5]),
		UID:    binary.LittleEndian.Uint32(buf[5:9]),
		GID:    binary.LittleEndian.Uint32(buf[9:13]),
		Atime:  decodeTimespec(buf[13:25]),
		Mtime:  decodeTimespec(buf[25:37]),
		Ctime:  decodeTimespec(buf[37:49]),
		Name:   string(buf[nameStart:nul]),
		BlobID: id,
	}
	return e, idEnd, nil
}
