package localstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDir(t *testing.T) Dir {
	t.Helper()
	d := New(t.TempDir(), "0123456789ABCDEF0123456789ABCDEF")
	require.NoError(t, d.Ensure())
	return d
}

func TestDirPathsLiveUnderFilesystemID(t *testing.T) {
	root := t.TempDir()
	d := New(root, "AABB")
	assert.Equal(t, filepath.Join(root, "AABB"), d.Path())
	assert.Equal(t, filepath.Join(root, "AABB", "integritydata"), d.IntegrityStatePath())
	assert.Equal(t, filepath.Join(root, "AABB", "knownblocks.bolt"), d.AcceleratorIndexPath())
	assert.Equal(t, filepath.Join(root, "AABB", "myClientId"), d.ClientIDPath())
}

func TestLoadOrCreateClientIDIsStable(t *testing.T) {
	d := testDir(t)
	first, err := d.LoadOrCreateClientID()
	require.NoError(t, err)
	assert.False(t, first.IsTombstone())

	second, err := d.LoadOrCreateClientID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateClientIDRejectsCorruptFile(t *testing.T) {
	d := testDir(t)
	require.NoError(t, os.WriteFile(d.ClientIDPath(), []byte("way too long"), 0o600))
	_, err := d.LoadOrCreateClientID()
	assert.Error(t, err)
}

func TestAcceleratorIndexRoundTrip(t *testing.T) {
	d := testDir(t)
	accel, err := OpenAcceleratorIndex(d.AcceleratorIndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = accel.Close() })

	a, b := blockid.MustNew(), blockid.MustNew()
	require.NoError(t, accel.MarkKnown(a))
	require.NoError(t, accel.MarkKnown(b))

	n, err := accel.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, accel.MarkRemoved(a))
	ids, err := accel.KnownBlocks()
	require.NoError(t, err)
	assert.Equal(t, []blockid.ID{b}, ids)
}

func TestReconcileRebuildsOnMismatch(t *testing.T) {
	d := testDir(t)
	accel, err := OpenAcceleratorIndex(d.AcceleratorIndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = accel.Close() })

	stale := blockid.MustNew()
	require.NoError(t, accel.MarkKnown(stale))

	actual := []blockid.ID{blockid.MustNew(), blockid.MustNew()}
	rebuilt, err := accel.Reconcile(actual)
	require.NoError(t, err)
	assert.True(t, rebuilt)

	ids, err := accel.KnownBlocks()
	require.NoError(t, err)
	assert.ElementsMatch(t, actual, ids)

	rebuilt, err = accel.Reconcile(actual)
	require.NoError(t, err)
	assert.False(t, rebuilt)
}
