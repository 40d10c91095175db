package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tig/internal/diff"
	"tig/internal/index"
	"tig/internal/objectstore"
	"tig/internal/status"
	"tig/internal/worktree"
)

func newTestWorkTree(t *testing.T) (*worktree.WorkTree, objectstore.Store, *status.Engine) {
	t.Helper()
	dir := t.TempDir()
	wt, err := worktree.Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	t.Cleanup(func() { wt.Close() })

	store := objectstore.NewMemory()
	eng, err := status.NewEngine(store, 0)
	require.NoError(t, err)
	return wt, store, eng
}

func TestStage_NewFile(t *testing.T) {
	wt, store, eng := newTestWorkTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Root(), "a.txt"), []byte("hello"), 0644))
	require.NoError(t, wt.Index().ScheduleAdd([]string{"a.txt"}))

	changed, err := Stage(store, eng, wt, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entry := wt.Index().Get("a.txt")
	require.NotNil(t, entry)
	assert.Equal(t, index.StageAdd, entry.Stage)

	content, err := store.ReadBlob(entry.StagedBlobID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestStage_RejectsConflictedPath(t *testing.T) {
	wt, store, eng := newTestWorkTree(t)
	path := filepath.Join(wt.Root(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("<<<<<<<\nmine\n=======\ntheirs\n>>>>>>>\n"), 0644))

	blobID, err := store.BlobCreate([]byte("base\n"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", BlobID: blobID, FileType: index.TypeRegular}))

	_, err = Stage(store, eng, wt, []string{"a.txt"}, nil)
	assert.Error(t, err)
}

func TestStage_NoChangesErrors(t *testing.T) {
	wt, store, eng := newTestWorkTree(t)
	path := filepath.Join(wt.Root(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("same"), 0644))

	blobID, err := store.BlobCreate([]byte("same"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", BlobID: blobID, FileType: index.TypeRegular}))

	_, err = Stage(store, eng, wt, []string{"a.txt"}, nil)
	assert.Error(t, err)
}

func TestStage_DeletedPath(t *testing.T) {
	wt, store, eng := newTestWorkTree(t)
	blobID, err := store.BlobCreate([]byte("gone"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", BlobID: blobID, FileType: index.TypeRegular}))

	changed, err := Stage(store, eng, wt, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entry := wt.Index().Get("a.txt")
	require.NotNil(t, entry)
	assert.Equal(t, index.StageDelete, entry.Stage)
}

func TestUnstage_ClearsStage(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Root(), "a.txt"), []byte("staged content"), 0644))

	blobID, err := store.BlobCreate([]byte("staged content"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", FileType: index.TypeRegular}))
	require.NoError(t, wt.Index().SetStage("a.txt", index.StageAdd, blobID, index.TypeRegular))

	changed, err := Unstage(store, wt, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entry := wt.Index().Get("a.txt")
	require.NotNil(t, entry)
	assert.Equal(t, index.StageNone, entry.Stage)

	content, err := os.ReadFile(filepath.Join(wt.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "staged content", string(content))
}

func TestUnstage_DeleteStageClearsWithoutTouchingDisk(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)
	blobID, err := store.BlobCreate([]byte("base"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", BlobID: blobID, FileType: index.TypeRegular}))
	require.NoError(t, wt.Index().SetStage("a.txt", index.StageDelete, "", index.TypeRegular))

	changed, err := Unstage(store, wt, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, index.StageNone, wt.Index().Get("a.txt").Stage)
}

func TestUnstage_NothingStagedIsNoop(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", FileType: index.TypeRegular}))

	changed, err := Unstage(store, wt, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestStage_PatchHunkGranularity(t *testing.T) {
	wt, store, _ := newTestWorkTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Root(), "a.txt"), []byte("one\ntwo\nTHREE\n"), 0644))

	blobID, err := store.BlobCreate([]byte("one\ntwo\nthree\n"))
	require.NoError(t, err)
	require.NoError(t, wt.Index().Add(&index.Entry{Path: "a.txt", BlobID: blobID, FileType: index.TypeRegular}))

	eng, err := status.NewEngine(store, 0)
	require.NoError(t, err)

	patch := func(path string, hunk diff.Hunk) (Decision, error) {
		return Accept, nil
	}

	changed, err := Stage(store, eng, wt, []string{"a.txt"}, patch)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entry := wt.Index().Get("a.txt")
	content, err := store.ReadBlob(entry.StagedBlobID)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nTHREE\n", string(content))
}
