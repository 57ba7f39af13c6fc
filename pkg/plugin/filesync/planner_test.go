package filesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(path string, size, modified int64, hash string) FileMetadata {
	return FileMetadata{RelativePath: path, Size: size, ModifiedMs: modified, ContentHash: hash}
}

func index(files ...FileMetadata) *SyncIndex {
	idx := &SyncIndex{Files: files, FileCount: len(files)}
	for _, f := range files {
		idx.TotalSize += f.Size
	}
	return idx
}

func biFolder() *SyncFolder {
	return &SyncFolder{FolderID: "docs", LocalPath: "/tmp/docs", Enabled: true, Bidirectional: true}
}

func TestPlanHashEqualNeedsNothing(t *testing.T) {
	idx := index(meta("a.txt", 10, 100, "h1"))
	assert.Empty(t, Plan(biFolder(), idx, idx))
}

func TestPlanOneSidedFiles(t *testing.T) {
	local := index(meta("only-local.txt", 10, 100, "h1"))
	remote := index(meta("only-remote.txt", 20, 200, "h2"))

	actions := Plan(biFolder(), local, remote)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionUpload, actions[0].Kind)
	assert.Equal(t, "only-local.txt", actions[0].Path)
	assert.Equal(t, ActionDownload, actions[1].Kind)
	assert.Equal(t, "only-remote.txt", actions[1].Path)
}

func TestPlanNewerSideWins(t *testing.T) {
	local := index(meta("a.txt", 10, 200, "new"), meta("b.txt", 10, 100, "old"))
	remote := index(meta("a.txt", 10, 100, "old"), meta("b.txt", 10, 200, "new"))

	actions := Plan(biFolder(), local, remote)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionUpload, actions[0].Kind)
	assert.Equal(t, "a.txt", actions[0].Path)
	assert.Equal(t, ActionDownload, actions[1].Kind)
	assert.Equal(t, "b.txt", actions[1].Path)
}

func TestPlanEqualTimeDifferentHashConflicts(t *testing.T) {
	local := index(meta("a.txt", 10, 100, "mine"))
	remote := index(meta("a.txt", 12, 100, "theirs"))

	actions := Plan(biFolder(), local, remote)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionConflict, actions[0].Kind)
	assert.Equal(t, "mine", actions[0].Local.ContentHash)
	assert.Equal(t, "theirs", actions[0].Remote.ContentHash)
}

func TestPlanOneWayFolderNeverUploads(t *testing.T) {
	folder := biFolder()
	folder.Bidirectional = false
	local := index(meta("only-local.txt", 10, 300, "h1"), meta("a.txt", 10, 300, "new"))
	remote := index(meta("a.txt", 10, 100, "old"))

	actions := Plan(folder, local, remote)
	assert.Empty(t, actions)
}

func TestPlanAbsenceIsNotDeletion(t *testing.T) {
	// A file missing remotely is uploaded, never deleted locally.
	local := index(meta("kept.txt", 10, 100, "h1"))
	remote := index()

	actions := Plan(biFolder(), local, remote)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionUpload, actions[0].Kind)
}

func TestResolveStrategies(t *testing.T) {
	local := meta("a.txt", 100, 2000, "mine")
	remote := meta("a.txt", 5000, 1000, "theirs")
	conflict := Action{Kind: ActionConflict, Path: "a.txt", Local: &local, Remote: &remote}

	assert.Equal(t, ActionUpload, Resolve(LastModifiedWins, conflict, 0).Kind, "local is newer")
	assert.Equal(t, ActionDownload, Resolve(SizeBased, conflict, 0).Kind, "remote is larger")
	assert.Equal(t, ActionConflict, Resolve(Manual, conflict, 0).Kind)

	keep := Resolve(KeepBoth, conflict, 1700000000123)
	assert.Equal(t, ActionDownload, keep.Kind)
	assert.Equal(t, "a (Conflict 1700000000123).txt", keep.KeepLocalAs,
		"the local copy moves aside before the download")
}

func TestConflictNameKeepsExtension(t *testing.T) {
	assert.Equal(t, "docs/a (Conflict 5).txt", conflictName("docs/a.txt", 5))
	assert.Equal(t, "noext (Conflict 5)", conflictName("noext", 5))
}

func TestIgnoredPatterns(t *testing.T) {
	patterns := []string{"*.tmp", "node_modules", "build/*"}

	assert.True(t, Ignored(patterns, "scratch.tmp"))
	assert.True(t, Ignored(patterns, "deep/dir/scratch.tmp"), "segment match applies at any depth")
	assert.True(t, Ignored(patterns, "node_modules/left-pad/index.js"))
	assert.True(t, Ignored(patterns, "build/out.bin"))
	assert.False(t, Ignored(patterns, "src/main.go"))
	assert.False(t, Ignored(nil, "anything"))
}

func TestConflictStrategyJSONRoundTrip(t *testing.T) {
	for _, s := range []ConflictStrategy{LastModifiedWins, KeepBoth, Manual, SizeBased} {
		parsed, err := ParseConflictStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseConflictStrategy("coin-flip")
	assert.Error(t, err)
}
