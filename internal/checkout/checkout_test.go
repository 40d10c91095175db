package checkout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tig/internal/objectstore"
	"tig/internal/refs"
	"tig/internal/status"
	"tig/internal/worktree"
)

func newTestWorkTree(t *testing.T) (*worktree.WorkTree, objectstore.Store, refs.Store) {
	t.Helper()
	dir := t.TempDir()
	wt, err := worktree.Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	t.Cleanup(func() { wt.Close() })

	store := objectstore.NewMemory()
	refStore := refs.NewMemory()
	return wt, store, refStore
}

func commitWithFile(t *testing.T, store objectstore.Store, path string, content []byte) objectstore.ID {
	t.Helper()
	blobID, err := store.BlobCreate(content)
	require.NoError(t, err)
	treeID, err := store.TreeCreate([]objectstore.TreeEntry{{Name: path, Mode: objectstore.ModeRegular, ID: blobID}})
	require.NoError(t, err)
	sig := objectstore.Signature{Name: "tester", Email: "t@localhost", Time: time.Now()}
	commitID, err := store.CommitCreate(treeID, nil, sig, sig, "add "+path)
	require.NoError(t, err)
	return commitID
}

func TestFiles_InstallsNewFile(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	commitID := commitWithFile(t, store, "a.txt", []byte("hello"))

	var progressed []string
	err := Files(store, refStore, wt, nil, commitID, nil, func(code status.Code, relPath string) {
		progressed = append(progressed, relPath)
	})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(wt.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	entry := wt.Index().Get("a.txt")
	require.NotNil(t, entry)
	assert.Equal(t, commitID, entry.CommitID)
	assert.Equal(t, commitID, wt.BaseCommit())
}

func TestFiles_RequiresExclusiveLock(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	commitID := commitWithFile(t, store, "a.txt", []byte("hello"))

	require.NoError(t, wt.LockHandle().Downgrade())

	err := Files(store, refStore, wt, nil, commitID, nil, nil)
	assert.Error(t, err)
}

func TestRevert_RemovesNeverCommittedFile(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)

	path := filepath.Join(wt.Root(), "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("draft"), 0644))
	require.NoError(t, wt.Index().ScheduleAdd([]string{"new.txt"}))

	err := Revert(store, wt, []string{"new.txt"}, nil)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Nil(t, wt.Index().Get("new.txt"))
}

func TestRevert_RestoresCommittedBlobOverLocalEdit(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	commitID := commitWithFile(t, store, "a.txt", []byte("original"))

	require.NoError(t, Files(store, refStore, wt, nil, commitID, nil, nil))

	path := filepath.Join(wt.Root(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("edited"), 0644))

	// Files ends holding the lock shared; Revert needs it exclusive.
	require.NoError(t, wt.LockHandle().Acquire(true))
	require.NoError(t, Revert(store, wt, []string{"a.txt"}, nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestRevert_NotTracked(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)
	err := Revert(store, wt, []string{"missing.txt"}, nil)
	assert.Error(t, err)
}

func TestIntegrate_FastForwardsHeadAndChecksOut(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	commitID := commitWithFile(t, store, "a.txt", []byte("hello"))
	require.NoError(t, refStore.Alloc("refs/heads/feature", commitID))

	require.NoError(t, Integrate(store, refStore, wt, "refs/heads/feature", nil, nil))

	assert.Equal(t, "refs/heads/feature", wt.HeadRef())
	content, err := os.ReadFile(filepath.Join(wt.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}
