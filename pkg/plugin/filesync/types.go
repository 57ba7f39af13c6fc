// Package filesync implements folder synchronization between paired
// devices: per-folder configuration, content-hash indexing, a sync planner
// with conflict strategies, filesystem watching, and file transport over
// the bulk payload channel.
package filesync

import (
	"encoding/json"
	"fmt"
)

// ConflictStrategy decides what happens when both sides changed a file.
type ConflictStrategy int

const (
	// LastModifiedWins keeps the newer file.
	LastModifiedWins ConflictStrategy = iota
	// KeepBoth renames the local file with a conflict suffix and downloads
	// the remote one at the original path.
	KeepBoth
	// Manual queues the conflict for explicit resolution.
	Manual
	// SizeBased keeps the larger file.
	SizeBased
)

func (s ConflictStrategy) String() string {
	switch s {
	case LastModifiedWins:
		return "last-modified-wins"
	case KeepBoth:
		return "keep-both"
	case Manual:
		return "manual"
	case SizeBased:
		return "size-based"
	default:
		return "unknown"
	}
}

// ParseConflictStrategy maps the wire name to a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch s {
	case "last-modified-wins":
		return LastModifiedWins, nil
	case "keep-both":
		return KeepBoth, nil
	case "manual":
		return Manual, nil
	case "size-based":
		return SizeBased, nil
	default:
		return 0, fmt.Errorf("unknown conflict strategy %q", s)
	}
}

func (s ConflictStrategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConflictStrategy) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseConflictStrategy(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SyncFolder is one synchronized folder's configuration.
type SyncFolder struct {
	FolderID          string           `json:"folderId"`
	LocalPath         string           `json:"localPath"`
	RemotePath        string           `json:"remotePath"`
	Enabled           bool             `json:"enabled"`
	Bidirectional     bool             `json:"bidirectional"`
	IgnorePatterns    []string         `json:"ignorePatterns,omitempty"`
	ConflictStrategy  ConflictStrategy `json:"conflictStrategy"`
	Versioning        bool             `json:"versioning,omitempty"`
	VersionKeep       int              `json:"versionKeep,omitempty"`
	ScanIntervalSecs  int              `json:"scanIntervalSecs,omitempty"`
	BandwidthLimitKbs int              `json:"bandwidthLimitKbps,omitempty"`
}

// FileMetadata describes one file inside a sync folder.
type FileMetadata struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	ModifiedMs   int64  `json:"modifiedMs"`
	ContentHash  string `json:"contentHash,omitempty"`
	IsDir        bool   `json:"isDir,omitempty"`
	Permissions  uint32 `json:"permissions,omitempty"`
}

// SyncIndex is a folder snapshot exchanged between peers.
type SyncIndex struct {
	FolderID    string         `json:"folderId"`
	Files       []FileMetadata `json:"files"`
	TimestampMs int64          `json:"timestampMs"`
	TotalSize   int64          `json:"totalSize"`
	FileCount   int            `json:"fileCount"`
}

// FileConflict records a file both sides changed.
type FileConflict struct {
	FolderID          string           `json:"folderId"`
	RelativePath      string           `json:"relativePath"`
	Local             FileMetadata     `json:"local"`
	Remote            FileMetadata     `json:"remote"`
	SuggestedStrategy ConflictStrategy `json:"suggestedStrategy"`
	TimestampMs       int64            `json:"timestampMs"`
}

// Wire bodies for the cconnect.filesync.* packet family.

// ConfigBody configures or updates a folder on the peer.
type ConfigBody struct {
	Folder SyncFolder `json:"folder"`
	Remove bool       `json:"remove,omitempty"`
}

// RequestBody asks the peer to send one file.
type RequestBody struct {
	FolderID string `json:"folderId"`
	Path     string `json:"path"`
}

// TransferBody announces an outbound file; the packet carries the payload
// annotations.
type TransferBody struct {
	FolderID string       `json:"folderId"`
	Path     string       `json:"path"`
	Meta     FileMetadata `json:"meta"`
}

// DeleteBody synchronizes a deletion.
type DeleteBody struct {
	FolderID string `json:"folderId"`
	Path     string `json:"path"`
}
