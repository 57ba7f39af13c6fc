package filesync

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/olafkfreund/cconnect/internal/logger"
)

// debounceWindow batches filesystem event bursts into one re-index.
const debounceWindow = 500 * time.Millisecond

// watcher observes one folder tree recursively and calls onChange after a
// quiet period. fsnotify watches are per directory, so subdirectories are
// added on creation.
type watcher struct {
	folderID string
	root     string
	fw       *fsnotify.Watcher
	onChange func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

func newWatcher(folderID, root string, onChange func()) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		folderID: folderID,
		root:     root,
		fw:       fw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if err := w.watchTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

// watchTree adds a watch for dir and every subdirectory under it.
func (w *watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if denied(d.Name()) && path != dir {
			return fs.SkipDir
		}
		if addErr := w.fw.Add(path); addErr != nil {
			logger.Warn("watching directory failed",
				logger.KeyFolderID, w.folderID, logger.KeyPath, path, logger.KeyError, addErr)
		}
		return nil
	})
}

func (w *watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if denied(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				// A new subtree needs its own watches before anything
				// inside it changes.
				w.watchTree(ev.Name) //nolint:errcheck
			}
			w.bump()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem watch error",
				logger.KeyFolderID, w.folderID, logger.KeyError, err)
		case <-w.done:
			return
		}
	}
}

// bump restarts the debounce timer.
func (w *watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.fire)
}

func (w *watcher) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if !stopped {
		w.onChange()
	}
}

func (w *watcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	w.fw.Close()
}
