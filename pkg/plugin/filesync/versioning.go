package filesync

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// keepVersion moves the current copy of rel into the folder's version
// directory before it is overwritten or deleted, then prunes old versions
// down to folder.VersionKeep. A missing current copy is not an error.
func keepVersion(folder *SyncFolder, rel string) error {
	if !folder.Versioning {
		return nil
	}
	src, err := resolveInside(folder.LocalPath, rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "stat before versioning", err)
	}

	dir := filepath.Join(folder.LocalPath, versionDirName, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "creating version directory", err)
	}
	dst := filepath.Join(dir, strconv.FormatInt(info.ModTime().UnixMilli(), 10))
	if err := os.Rename(src, dst); err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "versioning "+rel, err)
	}
	pruneVersions(dir, folder.VersionKeep)
	return nil
}

// pruneVersions removes the oldest entries beyond keep. Version file names
// are epoch milliseconds, so lexicographic-by-number order is age order.
func pruneVersions(dir string, keep int) {
	if keep <= 0 {
		keep = 3
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type version struct {
		name string
		ms   int64
	}
	var versions []version
	for _, e := range entries {
		ms, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, version{name: e.Name(), ms: ms})
	}
	if len(versions) <= keep {
		return
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ms > versions[j].ms })
	for _, v := range versions[keep:] {
		if err := os.Remove(filepath.Join(dir, v.name)); err != nil {
			logger.Warn("pruning old version failed",
				logger.KeyPath, filepath.Join(dir, v.name), logger.KeyError, err)
		}
	}
}
