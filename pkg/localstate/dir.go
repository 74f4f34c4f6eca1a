package localstate

import (
	"os"
	"path/filepath"
)

const (
	integrityStateFileName   = "integritydata"
	acceleratorIndexFileName = "knownblocks.bolt"
)

// Dir is the per-filesystem subdirectory of CRYFS_LOCAL_STATE_DIR,
// named by the filesystem's hex filesystem_id.
type Dir struct {
	path string
}

// New returns the Dir for filesystemIDHex under root (normally
// cryfscfg.RuntimeEnv.LocalStateDir). Does not touch the filesystem.
func New(root, filesystemIDHex string) Dir {
	return Dir{path: filepath.Join(root, filesystemIDHex)}
}

// Path returns the subdirectory's path.
func (d Dir) Path() string { return d.path }

// Ensure creates the subdirectory (and root) if missing.
func (d Dir) Ensure() error {
	return os.MkdirAll(d.path, 0o700)
}

// IntegrityStatePath is the path pkg/integritystore.Open's statePath
// argument should point at for this filesystem.
func (d Dir) IntegrityStatePath() string {
	return filepath.Join(d.path, integrityStateFileName)
}

// AcceleratorIndexPath is the bbolt database file backing this
// filesystem's known-block-ids index.
func (d Dir) AcceleratorIndexPath() string {
	return filepath.Join(d.path, acceleratorIndexFileName)
}
