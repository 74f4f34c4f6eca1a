package localstate

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
)

const clientIDFileName = "myClientId"

// ClientIDPath is the file holding this filesystem's persistent client
// id, a 4-byte little-endian value.
func (d Dir) ClientIDPath() string {
	return filepath.Join(d.path, clientIDFileName)
}

// LoadOrCreateClientID returns the client id this machine uses when
// writing to this filesystem, generating and persisting a fresh random
// one on first open. The id must stay stable across mounts: the
// integrity ledger's per-(client, block) version floors are keyed by
// it.
func (d Dir) LoadOrCreateClientID() (blockid.ClientID, error) {
	path := d.ClientIDPath()
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != 4 {
			return 0, fmt.Errorf("localstate: client id file %s has %d bytes, want 4", path, len(data))
		}
		id := blockid.ClientID(binary.LittleEndian.Uint32(data))
		if id.IsTombstone() {
			return 0, fmt.Errorf("localstate: client id file %s holds the reserved deleted-marker id", path)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return 0, fmt.Errorf("localstate: read client id file %s: %w", path, err)
	}

	id, err := blockid.RandomClientID()
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(id))
	if err := os.WriteFile(path, buf[:], 0o600); err != nil {
		return 0, fmt.Errorf("localstate: write client id file %s: %w", path, err)
	}
	return id, nil
}
