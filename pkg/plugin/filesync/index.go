package filesync

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
)

const (
	versionDirName = ".cconnect-versions"
	partialSuffix  = ".cconnect-partial"
)

// denied reports whether an entry name is never synchronized regardless of
// folder configuration.
func denied(name string) bool {
	switch name {
	case ".git", ".DS_Store", versionDirName:
		return true
	}
	return strings.HasSuffix(name, partialSuffix)
}

// BuildIndex walks the folder's local path and produces a snapshot of every
// regular file that survives the deny list and the folder's ignore
// patterns. Unreadable entries are logged and skipped rather than failing
// the index.
func BuildIndex(folder *SyncFolder) (*SyncIndex, error) {
	root := folder.LocalPath
	idx := &SyncIndex{
		FolderID:    folder.FolderID,
		TimestampMs: time.Now().UnixMilli(),
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable entry",
				logger.KeyFolderID, folder.FolderID, logger.KeyPath, path, logger.KeyError, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if denied(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if Ignored(folder.IgnorePatterns, rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			logger.Warn("skipping unstatable file",
				logger.KeyFolderID, folder.FolderID, logger.KeyPath, path, logger.KeyError, infoErr)
			return nil
		}
		hash, hashErr := HashFile(path)
		if hashErr != nil {
			logger.Warn("skipping unhashable file",
				logger.KeyFolderID, folder.FolderID, logger.KeyPath, path, logger.KeyError, hashErr)
			return nil
		}

		idx.Files = append(idx.Files, FileMetadata{
			RelativePath: rel,
			Size:         info.Size(),
			ModifiedMs:   info.ModTime().UnixMilli(),
			ContentHash:  hash,
			Permissions:  uint32(info.Mode().Perm()),
		})
		idx.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.CodePayloadIO, "indexing "+root, err)
	}

	sort.Slice(idx.Files, func(i, j int) bool {
		return idx.Files[i].RelativePath < idx.Files[j].RelativePath
	})
	idx.FileCount = len(idx.Files)
	return idx, nil
}

// Ignored reports whether a slash-separated relative path matches any of
// the folder's ignore patterns. A pattern matches the whole relative path
// or any single path segment.
func Ignored(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		for _, seg := range segments {
			if ok, _ := filepath.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

// byPath indexes a snapshot's files for join operations.
func byPath(idx *SyncIndex) map[string]FileMetadata {
	m := make(map[string]FileMetadata, len(idx.Files))
	for _, f := range idx.Files {
		m[f.RelativePath] = f
	}
	return m
}
