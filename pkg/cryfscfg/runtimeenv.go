package cryfscfg

import (
	"os"
	"path/filepath"
	"runtime"
)

const localStateDirName = "cryfs"

// RuntimeEnv holds the three environment variables the core consults
// at startup, read once so nothing downstream re-parses os.Environ().
type RuntimeEnv struct {
	// Frontend is CRYFS_FRONTEND. "noninteractive" tells an adapter to
	// disable prompts; the core itself never prompts.
	Frontend string
	// NoUpdateCheck is CRYFS_NO_UPDATE_CHECK. The core has no update
	// checker of its own; this is threaded through so an adapter can
	// read it from the same struct instead of re-parsing the
	// environment.
	NoUpdateCheck bool
	// LocalStateDir is CRYFS_LOCAL_STATE_DIR, defaulting to the user's
	// data-local directory joined with "cryfs".
	LocalStateDir string
}

// LoadRuntimeEnv reads the environment variables into a RuntimeEnv,
// applying LocalStateDir's default when CRYFS_LOCAL_STATE_DIR is unset.
func LoadRuntimeEnv() RuntimeEnv {
	env := RuntimeEnv{
		Frontend:      os.Getenv("CRYFS_FRONTEND"),
		NoUpdateCheck: os.Getenv("CRYFS_NO_UPDATE_CHECK") != "",
		LocalStateDir: os.Getenv("CRYFS_LOCAL_STATE_DIR"),
	}
	if env.LocalStateDir == "" {
		env.LocalStateDir = defaultLocalStateDir()
	}
	return env
}

// defaultLocalStateDir returns the user's data-local directory joined
// with "cryfs", falling back to a cryfs subdirectory of the current
// directory if the OS-specific data dir can't be determined.
func defaultLocalStateDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	home, err := os.UserHomeDir()
	switch {
	case runtime.GOOS == "windows":
		dir = os.Getenv("LocalAppData")
	case runtime.GOOS == "darwin" && err == nil:
		dir = filepath.Join(home, "Library", "Application Support")
	case dir == "" && err == nil:
		dir = filepath.Join(home, ".local", "share")
	}
	if dir == "" {
		return localStateDirName
	}
	return filepath.Join(dir, localStateDirName)
}

// IsNoninteractive reports whether Frontend disables interactive
// prompts.
func (e RuntimeEnv) IsNoninteractive() bool {
	return e.Frontend == "noninteractive"
}
