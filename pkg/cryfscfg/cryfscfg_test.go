package cryfscfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validRootBlobID   = "0123456789abcdef0123456789abcdef"
	validFilesystemID = "fedcba9876543210fedcba9876543210"
	validAES256Key    = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryfs.config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validBaseYAML() string {
	return `
root_blob_id: "` + validRootBlobID + `"
cipher: aes-256-gcm
blocksize_bytes: 32768
filesystem_id: "` + validFilesystemID + `"
encryption_key: "` + validAES256Key + `"
missing_block_is_integrity_violation: true
allow_integrity_violations: false
`
}

func TestLoadValidConfigSucceeds(t *testing.T) {
	path := writeConfig(t, validBaseYAML())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm", cfg.Cipher)
	assert.False(t, cfg.IsSingleClientMode())

	id, err := cfg.RootBlobIDParsed()
	require.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF0123456789ABCDEF", id.String())

	key, err := cfg.EncryptionKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	fsID, err := cfg.FilesystemIDBytes()
	require.NoError(t, err)
	assert.Len(t, fsID, 16)
}

func TestLoadRejectsUnknownCipher(t *testing.T) {
	path := writeConfig(t, `
root_blob_id: "`+validRootBlobID+`"
cipher: rot13
blocksize_bytes: 32768
filesystem_id: "`+validFilesystemID+`"
encryption_key: "`+validAES256Key+`"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsKeyLengthNotMatchingCipher(t *testing.T) {
	path := writeConfig(t, `
root_blob_id: "`+validRootBlobID+`"
cipher: aes-256-gcm
blocksize_bytes: 32768
filesystem_id: "`+validFilesystemID+`"
encryption_key: "aabb"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBlocksizeOutOfRange(t *testing.T) {
	path := writeConfig(t, `
root_blob_id: "`+validRootBlobID+`"
cipher: aes-256-gcm
blocksize_bytes: 4
filesystem_id: "`+validFilesystemID+`"
encryption_key: "`+validAES256Key+`"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
cipher: aes-256-gcm
blocksize_bytes: 32768
filesystem_id: "`+validFilesystemID+`"
encryption_key: "`+validAES256Key+`"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesExclusiveClientID(t *testing.T) {
	path := writeConfig(t, `
root_blob_id: "`+validRootBlobID+`"
cipher: aes-256-gcm
blocksize_bytes: 32768
filesystem_id: "`+validFilesystemID+`"
encryption_key: "`+validAES256Key+`"
exclusive_client_id: 42
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.IsSingleClientMode())
	assert.Equal(t, uint32(42), *cfg.ExclusiveClientID)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	assert.Error(t, err)
}

func TestLoadRuntimeEnvDefaultsLocalStateDir(t *testing.T) {
	t.Setenv("CRYFS_FRONTEND", "noninteractive")
	t.Setenv("CRYFS_NO_UPDATE_CHECK", "")
	t.Setenv("CRYFS_LOCAL_STATE_DIR", "")

	env := LoadRuntimeEnv()
	assert.True(t, env.IsNoninteractive())
	assert.False(t, env.NoUpdateCheck)
	assert.NotEmpty(t, env.LocalStateDir)
}

func TestLoadRuntimeEnvHonorsExplicitLocalStateDir(t *testing.T) {
	t.Setenv("CRYFS_LOCAL_STATE_DIR", "/tmp/my-cryfs-state")
	t.Setenv("CRYFS_NO_UPDATE_CHECK", "1")

	env := LoadRuntimeEnv()
	assert.Equal(t, "/tmp/my-cryfs-state", env.LocalStateDir)
	assert.True(t, env.NoUpdateCheck)
}
