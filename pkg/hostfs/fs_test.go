package hostfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolution(t *testing.T) {
	assert.Equal(t, "/etc/nginx", New("").Path("/etc/nginx/"))
	assert.Equal(t, "/tmp/host/etc/nginx", New("/tmp/host").Path("/etc/nginx"))
}

func TestWriteAndCopyFile(t *testing.T) {
	f := New(t.TempDir())

	require.NoError(t, f.WriteFile("/srv/app/.env.example", []byte("PORT=5000\n"), 0644))
	require.NoError(t, f.CopyFile("/srv/app/.env.example", "/srv/app/.env", 0600))

	data, err := f.ReadFile("/srv/app/.env")
	require.NoError(t, err)
	assert.Equal(t, "PORT=5000\n", string(data))

	mode, err := f.Mode("/srv/app/.env")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), mode)

	ok, err := f.Exists("/srv/app/.env")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.IsDir("/srv/app"))
}

func TestEnsureSymlinkIsIdempotent(t *testing.T) {
	f := New(t.TempDir())
	require.NoError(t, f.WriteFile("/etc/nginx/sites-available/app", []byte("server {}"), 0644))

	changed, err := f.EnsureSymlink("/etc/nginx/sites-available/app", "/etc/nginx/sites-enabled/app")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.EnsureSymlink("/etc/nginx/sites-available/app", "/etc/nginx/sites-enabled/app")
	require.NoError(t, err)
	assert.False(t, changed, "identical link must be a no-op")

	dest, err := f.Readlink("/etc/nginx/sites-enabled/app")
	require.NoError(t, err)
	assert.Equal(t, f.Path("/etc/nginx/sites-available/app"), dest)
}

func TestEnsureSymlinkReplacesStaleLinkAndFile(t *testing.T) {
	f := New(t.TempDir())
	require.NoError(t, f.WriteFile("/etc/nginx/sites-available/app", []byte("server {}"), 0644))
	require.NoError(t, os.MkdirAll(f.Path("/etc/nginx/sites-enabled"), 0755))
	require.NoError(t, os.Symlink("/elsewhere", f.Path("/etc/nginx/sites-enabled/app")))

	changed, err := f.EnsureSymlink("/etc/nginx/sites-available/app", "/etc/nginx/sites-enabled/app")
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, f.WriteFile("/etc/nginx/sites-enabled/other", []byte("copy"), 0644))
	changed, err = f.EnsureSymlink("/etc/nginx/sites-available/app", "/etc/nginx/sites-enabled/other")
	require.NoError(t, err)
	assert.True(t, changed)
	dest, err := f.Readlink("/etc/nginx/sites-enabled/other")
	require.NoError(t, err)
	assert.Equal(t, f.Path("/etc/nginx/sites-available/app"), dest)
}

func TestSnapshotRestore(t *testing.T) {
	f := New(t.TempDir())
	require.NoError(t, f.WriteFile("/etc/site", []byte("old"), 0640))
	require.NoError(t, os.Symlink("/etc/site", filepath.Join(f.Root, "etc", "link")))

	fileSnap, err := f.Snapshot("/etc/site")
	require.NoError(t, err)
	linkSnap, err := f.Snapshot("/etc/link")
	require.NoError(t, err)
	missingSnap, err := f.Snapshot("/etc/missing")
	require.NoError(t, err)

	require.NoError(t, f.WriteFile("/etc/site", []byte("new"), 0644))
	_, err = f.Remove("/etc/link")
	require.NoError(t, err)
	require.NoError(t, f.WriteFile("/etc/missing", []byte("created"), 0644))

	require.NoError(t, f.Restore(fileSnap))
	require.NoError(t, f.Restore(linkSnap))
	require.NoError(t, f.Restore(missingSnap))

	data, err := f.ReadFile("/etc/site")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	mode, err := f.Mode("/etc/site")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), mode)

	dest, err := f.Readlink("/etc/link")
	require.NoError(t, err)
	assert.Equal(t, "/etc/site", dest)

	ok, err := f.Exists("/etc/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	f := New(t.TempDir())
	removed, err := f.Remove("/etc/nginx/sites-enabled/default")
	require.NoError(t, err)
	assert.False(t, removed)
}
