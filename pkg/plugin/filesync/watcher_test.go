package filesync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitChange(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	changes := make(chan struct{}, 16)
	w, err := newWatcher("f", root, func() { changes <- struct{}{} })
	require.NoError(t, err)
	defer w.stop()

	// A burst of writes collapses into one notification after the quiet
	// period.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte{byte(i)}, 0o644))
	}
	waitChange(t, changes)

	select {
	case <-changes:
		t.Fatal("burst produced more than one notification")
	case <-time.After(2 * debounceWindow):
	}
}

func TestWatcherFollowsNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	changes := make(chan struct{}, 16)
	w, err := newWatcher("f", root, func() { changes <- struct{}{} })
	require.NoError(t, err)
	defer w.stop()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitChange(t, changes)
	drain(changes)

	// Give the watcher a moment to pick the new directory up, then a
	// write inside it must notify too.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("x"), 0o644))
	waitChange(t, changes)
}
