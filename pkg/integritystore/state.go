package integritystore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/cryfs/cryfs-sub004/pkg/cryfserr"
)

// stateMagic is the fixed header of the persisted state file,
// including its trailing null byte.
var stateMagic = append([]byte("cryfs.integritydata.knownblockversions;1"), 0)

type versionKey struct {
	clientID blockid.ClientID
	blockID  blockid.ID
}

// state is the in-memory form of the integrity ledger: per-(client,
// block) known versions, and per-block the client id that last wrote
// it (0 = tombstone). Both maps only ever grow; nothing is removed
// from them while the filesystem is open, so a stale author can always
// be caught reintroducing an old version.
type state struct {
	mu                        sync.Mutex
	integrityViolationInPrior bool
	knownBlockVersions        map[versionKey]uint64
	lastUpdateClientID        map[blockid.ID]blockid.ClientID
	path                      string
}

func newState(path string) *state {
	return &state{
		knownBlockVersions: map[versionKey]uint64{},
		lastUpdateClientID: map[blockid.ID]blockid.ClientID{},
		path:               path,
	}
}

// loadState reads path's state file if it exists, or returns a fresh
// empty state if it does not (first run for this filesystem).
func loadState(path string) (*state, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(path), nil
		}
		return nil, fmt.Errorf("integritystore: open state file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(stateMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated before magic"}
	}
	for i := range stateMagic {
		if magic[i] != stateMagic[i] {
			return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file magic mismatch"}
		}
	}

	violationByte, err := r.ReadByte()
	if err != nil {
		return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated before violation flag"}
	}
	if violationByte > 1 {
		return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file violation flag out of range"}
	}

	s := newState(path)
	s.integrityViolationInPrior = violationByte == 1

	numVersions, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numVersions; i++ {
		clientID, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		idBytes := make([]byte, blockid.Length)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated in version map"}
		}
		id, err := blockid.FromBytes(idBytes)
		if err != nil {
			return nil, fmt.Errorf("integritystore: %w", err)
		}
		version, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		s.knownBlockVersions[versionKey{clientID: blockid.ClientID(clientID), blockID: id}] = version
	}

	numLastUpdate, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numLastUpdate; i++ {
		idBytes := make([]byte, blockid.Length)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated in last-update map"}
		}
		id, err := blockid.FromBytes(idBytes)
		if err != nil {
			return nil, fmt.Errorf("integritystore: %w", err)
		}
		clientID, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		s.lastUpdateClientID[id] = blockid.ClientID(clientID)
	}

	return s, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated reading u32"}
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, &cryfserr.FormatError{Layer: "integritystore", Detail: "state file truncated reading u64"}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// save persists the state file, overwriting any prior contents via
// write-temp-then-rename for crash safety, matching the discipline
// pkg/physicalstore uses for block files.
func (s *state) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("integritystore: create temp state file: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(stateMagic); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("integritystore: write magic: %w", err)
	}
	violationByte := byte(0)
	if s.integrityViolationInPrior {
		violationByte = 1
	}
	if err := w.WriteByte(violationByte); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("integritystore: write violation flag: %w", err)
	}

	if err := writeUint64(w, uint64(len(s.knownBlockVersions))); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for key, version := range s.knownBlockVersions {
		if err := writeUint32(w, uint32(key.clientID)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(key.blockID.Bytes()); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("integritystore: write block id: %w", err)
		}
		if err := writeUint64(w, version); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := writeUint64(w, uint64(len(s.lastUpdateClientID))); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for id, clientID := range s.lastUpdateClientID {
		if _, err := w.Write(id.Bytes()); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("integritystore: write block id: %w", err)
		}
		if err := writeUint32(w, uint32(clientID)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("integritystore: flush state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("integritystore: sync state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("integritystore: close state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("integritystore: rename state file into place: %w", err)
	}
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("integritystore: write u32: %w", err)
	}
	return nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("integritystore: write u64: %w", err)
	}
	return nil
}
