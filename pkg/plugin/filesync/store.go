package filesync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// Store persists the folder configuration for one device at
// filesync/<device_id>/config.json.
type Store struct {
	path string

	mu      sync.Mutex
	folders map[string]*SyncFolder
}

// OpenStore loads or initializes the folder configuration for a device.
func OpenStore(dataDir, deviceID string) (*Store, error) {
	dir := filepath.Join(dataDir, "filesync", filepath.Base(deviceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "creating filesync directory", err)
	}
	s := &Store{
		path:    filepath.Join(dir, "config.json"),
		folders: make(map[string]*SyncFolder),
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "reading filesync config", err)
	}
	var folders []*SyncFolder
	if err := json.Unmarshal(data, &folders); err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "parsing filesync config", err)
	}
	for _, f := range folders {
		s.folders[f.FolderID] = f
	}
	return s, nil
}

// Folders lists the configured folders sorted by id.
func (s *Store) Folders() []*SyncFolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SyncFolder, 0, len(s.folders))
	for _, f := range s.folders {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FolderID < out[j].FolderID })
	return out
}

// Folder returns one folder by id.
func (s *Store) Folder(folderID string) (*SyncFolder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folderID]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// Put inserts or replaces a folder configuration and persists the set.
func (s *Store) Put(folder *SyncFolder) error {
	if folder.FolderID == "" || folder.LocalPath == "" {
		return cerr.New(cerr.CodeInvalidArgument, "folder needs an id and a local path")
	}
	s.mu.Lock()
	cp := *folder
	s.folders[folder.FolderID] = &cp
	s.mu.Unlock()
	return s.save()
}

// Remove deletes a folder configuration and persists the set.
func (s *Store) Remove(folderID string) error {
	s.mu.Lock()
	_, ok := s.folders[folderID]
	delete(s.folders, folderID)
	s.mu.Unlock()
	if !ok {
		return cerr.Newf(cerr.CodeInvalidArgument, "no folder %q", folderID)
	}
	return s.save()
}

func (s *Store) save() error {
	s.mu.Lock()
	folders := make([]*SyncFolder, 0, len(s.folders))
	for _, f := range s.folders {
		cp := *f
		folders = append(folders, &cp)
	}
	s.mu.Unlock()
	sort.Slice(folders, func(i, j int) bool { return folders[i].FolderID < folders[j].FolderID })

	data, err := json.MarshalIndent(folders, "", "  ")
	if err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "serializing filesync config", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "config.json.tmp*")
	if err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "writing filesync config", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return cerr.Wrap(cerr.CodeRegistryIO, "writing filesync config", err)
	}
	if err := tmp.Close(); err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "writing filesync config", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "writing filesync config", err)
	}
	return nil
}

// resolveInside joins a peer-supplied relative path onto root and rejects
// anything that escapes it.
func resolveInside(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", cerr.Newf(cerr.CodePathTraversal, "illegal sync path %q", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", cerr.Newf(cerr.CodePathTraversal, "sync path %q escapes folder", rel)
	}
	abs := filepath.Join(root, clean)
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absResolved != rootAbs && !strings.HasPrefix(absResolved, rootAbs+string(filepath.Separator)) {
		return "", cerr.Newf(cerr.CodePathTraversal, "sync path %q escapes folder", rel)
	}
	return abs, nil
}
