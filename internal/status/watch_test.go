package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tig/internal/objectstore"
)

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	store := objectstore.NewMemory()
	blobID, err := store.BlobCreate([]byte("hello"))
	require.NoError(t, err)

	eng := newEngine(t, store)
	eng.cache.Add("a.txt", fingerprint{mtime: 1})

	w, err := Watch(dir, "tig", eng)
	require.NoError(t, err)
	defer w.Close()

	go w.Run()

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0644))

	_ = blobID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := eng.cache.Get("a.txt"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("fingerprint was never invalidated")
}

func TestWatch_SkipsDotDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".tig"), 0755))

	eng := newEngine(t, objectstore.NewMemory())
	w, err := Watch(dir, "tig", eng)
	require.NoError(t, err)
	defer w.Close()
}
