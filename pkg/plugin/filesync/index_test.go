package filesync

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestBuildIndexWalksTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"readme.md":        "hello",
		"docs/a.txt":       "aaa",
		"docs/deep/b.txt":  "bbb",
		".git/config":      "nope",
		".DS_Store":        "nope",
		"cache/keep.tmp":   "nope",
		"partial.bin" + partialSuffix: "nope",
	})

	folder := &SyncFolder{
		FolderID:       "docs",
		LocalPath:      root,
		Enabled:        true,
		IgnorePatterns: []string{"*.tmp"},
	}
	idx, err := BuildIndex(folder)
	require.NoError(t, err)

	paths := make([]string, 0, len(idx.Files))
	for _, f := range idx.Files {
		paths = append(paths, f.RelativePath)
	}
	assert.Equal(t, []string{"docs/a.txt", "docs/deep/b.txt", "readme.md"}, paths)
	assert.Equal(t, 3, idx.FileCount)
	assert.Equal(t, int64(11), idx.TotalSize)
	for _, f := range idx.Files {
		assert.NotEmpty(t, f.ContentHash)
		assert.False(t, f.IsDir)
	}
}

func TestBuildIndexSkipsVersionDirectory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt": "current",
		versionDirName + "/a.txt/1000": "old",
	})

	idx, err := BuildIndex(&SyncFolder{FolderID: "f", LocalPath: root})
	require.NoError(t, err)
	require.Len(t, idx.Files, 1)
	assert.Equal(t, "a.txt", idx.Files[0].RelativePath)
}

func TestHashIsContentDerived(t *testing.T) {
	h1, err := HashReader(bytes.NewReader([]byte("same bytes")))
	require.NoError(t, err)
	h2, err := HashReader(bytes.NewReader([]byte("same bytes")))
	require.NoError(t, err)
	h3, err := HashReader(bytes.NewReader([]byte("other bytes")))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "hex of a 256-bit digest")
}

func TestIdenticalTreesProduceEmptyPlan(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	files := map[string]string{"x.txt": "same", "sub/y.txt": "also same"}
	writeTree(t, rootA, files)
	writeTree(t, rootB, files)

	folderA := &SyncFolder{FolderID: "f", LocalPath: rootA, Bidirectional: true}
	folderB := &SyncFolder{FolderID: "f", LocalPath: rootB, Bidirectional: true}
	idxA, err := BuildIndex(folderA)
	require.NoError(t, err)
	idxB, err := BuildIndex(folderB)
	require.NoError(t, err)

	assert.Empty(t, Plan(folderA, idxA, idxB), "content-equal trees need no sync even with unequal mtimes")
}
