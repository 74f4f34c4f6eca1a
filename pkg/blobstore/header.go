package blobstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// Magic identifies a blob's logical byte stream as starting with a
// blob header rather than raw tree data belonging to some other use
// of the tree store.
const Magic uint16 = 0xC8F5

// HeaderLen is the fixed size of a blob header prefix: magic(2) +
// type(1) + parent(16).
const HeaderLen = 19

// Type tags what kind of filesystem object a blob holds. blobstore
// itself is agnostic to the meaning of any particular value; pkg/fsblob
// defines the concrete File/Symlink/Directory tags.
type Type uint8

type header struct {
	blobType Type
	parent   blockid.ID
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = byte(h.blobType)
	copy(buf[3:19], h.parent.Bytes())
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != HeaderLen {
		return header{}, &cryfserr.FormatError{Layer: "blobstore", Detail: fmt.Sprintf("header is %d bytes, want %d", len(buf), HeaderLen)}
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	if magic != Magic {
		return header{}, &cryfserr.FormatError{Layer: "blobstore", Detail: fmt.Sprintf("bad blob magic %#x", magic)}
	}
	parent, err := blockid.FromBytes(buf[3:19])
	if err != nil {
		return header{}, &cryfserr.FormatError{Layer: "blobstore", Detail: fmt.Sprintf("bad parent id: %v", err)}
	}
	return header{blobType: Type(buf[2]), parent: parent}, nil
}
