package filesync

import (
	"path/filepath"
	"testing"

	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	s, err := OpenStore(dataDir, "device-1")
	require.NoError(t, err)
	assert.Empty(t, s.Folders())

	folder := &SyncFolder{
		FolderID:         "docs",
		LocalPath:        "/home/user/docs",
		RemotePath:       "/sdcard/docs",
		Enabled:          true,
		Bidirectional:    true,
		IgnorePatterns:   []string{"*.tmp"},
		ConflictStrategy: KeepBoth,
		Versioning:       true,
		VersionKeep:      5,
	}
	require.NoError(t, s.Put(folder))

	// A fresh store sees the persisted configuration.
	s2, err := OpenStore(dataDir, "device-1")
	require.NoError(t, err)
	folders := s2.Folders()
	require.Len(t, folders, 1)
	assert.Equal(t, folder, folders[0])

	require.NoError(t, s2.Remove("docs"))
	s3, err := OpenStore(dataDir, "device-1")
	require.NoError(t, err)
	assert.Empty(t, s3.Folders())
}

func TestStoreIsPerDevice(t *testing.T) {
	dataDir := t.TempDir()
	s1, err := OpenStore(dataDir, "device-1")
	require.NoError(t, err)
	require.NoError(t, s1.Put(&SyncFolder{FolderID: "docs", LocalPath: "/docs"}))

	s2, err := OpenStore(dataDir, "device-2")
	require.NoError(t, err)
	assert.Empty(t, s2.Folders())
}

func TestStoreRejectsIncompleteFolder(t *testing.T) {
	s, err := OpenStore(t.TempDir(), "device-1")
	require.NoError(t, err)

	err = s.Put(&SyncFolder{FolderID: "no-path"})
	assert.Equal(t, cerr.CodeInvalidArgument, cerr.CodeOf(err))
	err = s.Put(&SyncFolder{LocalPath: "/no-id"})
	assert.Equal(t, cerr.CodeInvalidArgument, cerr.CodeOf(err))
}

func TestResolveInsideGuardsTraversal(t *testing.T) {
	root := t.TempDir()

	ok, err := resolveInside(root, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), ok)

	for _, rel := range []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"/etc/passwd",
		"..",
		"",
	} {
		_, err := resolveInside(root, rel)
		assert.Equal(t, cerr.CodePathTraversal, cerr.CodeOf(err), "rel=%q", rel)
	}

	// Dot segments that stay inside are fine.
	inside, err := resolveInside(root, "sub/./file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), inside)
}
