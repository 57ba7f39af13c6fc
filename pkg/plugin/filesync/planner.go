package filesync

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// ActionKind is what the planner decided for one path.
type ActionKind int

const (
	// ActionUpload sends our copy to the peer.
	ActionUpload ActionKind = iota
	// ActionDownload requests the peer's copy.
	ActionDownload
	// ActionConflict records a divergence both sides changed.
	ActionConflict
)

func (a ActionKind) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Action is one planner decision. KeepLocalAs, when set, names the conflict
// copy the local file is renamed to before the download takes Path.
type Action struct {
	Kind        ActionKind
	Path        string
	Local       *FileMetadata
	Remote      *FileMetadata
	KeepLocalAs string
}

// Plan joins a local and a remote index and decides per path what to do.
// Hash-equal files need nothing. When only one side has a file it is
// propagated; deletions are never inferred from absence, they travel as
// explicit delete packets. A two-sided difference follows modification
// time, except that equal timestamps with different content become a
// conflict. One-way folders never upload.
func Plan(folder *SyncFolder, local, remote *SyncIndex) []Action {
	lm := byPath(local)
	rm := byPath(remote)

	var actions []Action
	for path, lf := range lm {
		rf, both := rm[path]
		if !both {
			if folder.Bidirectional {
				f := lf
				actions = append(actions, Action{Kind: ActionUpload, Path: path, Local: &f})
			}
			continue
		}
		if lf.ContentHash == rf.ContentHash {
			continue
		}
		l, r := lf, rf
		switch {
		case lf.ModifiedMs > rf.ModifiedMs:
			if folder.Bidirectional {
				actions = append(actions, Action{Kind: ActionUpload, Path: path, Local: &l, Remote: &r})
			}
		case lf.ModifiedMs < rf.ModifiedMs:
			actions = append(actions, Action{Kind: ActionDownload, Path: path, Local: &l, Remote: &r})
		default:
			actions = append(actions, Action{Kind: ActionConflict, Path: path, Local: &l, Remote: &r})
		}
	}
	for path, rf := range rm {
		if _, both := lm[path]; both {
			continue
		}
		f := rf
		actions = append(actions, Action{Kind: ActionDownload, Path: path, Remote: &f})
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Path < actions[j].Path })
	return actions
}

// Resolve applies a conflict strategy to a divergence and returns the
// winning action, or ActionConflict when the strategy is Manual. conflictMs
// stamps the conflict copy that KeepBoth leaves behind.
func Resolve(strategy ConflictStrategy, c Action, conflictMs int64) Action {
	pick := func(localWins bool) Action {
		if localWins {
			return Action{Kind: ActionUpload, Path: c.Path, Local: c.Local, Remote: c.Remote}
		}
		return Action{Kind: ActionDownload, Path: c.Path, Local: c.Local, Remote: c.Remote}
	}
	switch strategy {
	case LastModifiedWins:
		return pick(c.Local.ModifiedMs >= c.Remote.ModifiedMs)
	case SizeBased:
		return pick(c.Local.Size >= c.Remote.Size)
	case KeepBoth:
		// The local file moves aside under a conflict name; the remote
		// copy then lands at the original path.
		return Action{
			Kind: ActionDownload, Path: c.Path, Local: c.Local, Remote: c.Remote,
			KeepLocalAs: conflictName(c.Path, conflictMs),
		}
	default:
		return Action{Kind: ActionConflict, Path: c.Path, Local: c.Local, Remote: c.Remote}
	}
}

// conflictName suffixes a path's stem with the conflict timestamp, so
// "docs/a.txt" becomes "docs/a (Conflict 1700000000000).txt".
func conflictName(rel string, timestampMs int64) string {
	ext := path.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	return fmt.Sprintf("%s (Conflict %d)%s", stem, timestampMs, ext)
}

// conflictOf builds the record surfaced to the peer and the RPC layer.
func conflictOf(folderID string, a Action, suggested ConflictStrategy) FileConflict {
	return FileConflict{
		FolderID:          folderID,
		RelativePath:      a.Path,
		Local:             *a.Local,
		Remote:            *a.Remote,
		SuggestedStrategy: suggested,
		TimestampMs:       time.Now().UnixMilli(),
	}
}
