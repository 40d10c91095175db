package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tig/internal/objectstore"
)

func TestIndex_AddGetRemove(t *testing.T) {
	idx := New("")

	require.NoError(t, idx.Add(&Entry{Path: "b.txt"}))
	require.NoError(t, idx.Add(&Entry{Path: "a.txt"}))
	assert.Equal(t, 2, idx.Len())

	// kept sorted by path
	all := idx.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a.txt", all[0].Path)
	assert.Equal(t, "b.txt", all[1].Path)

	assert.NotNil(t, idx.Get("a.txt"))
	assert.Nil(t, idx.Get("missing.txt"))

	idx.Remove("a.txt")
	assert.Equal(t, 1, idx.Len())
	assert.Nil(t, idx.Get("a.txt"))
}

func TestIndex_Add_Duplicate(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.Add(&Entry{Path: "a.txt"}))
	err := idx.Add(&Entry{Path: "a.txt"})
	assert.Error(t, err)
}

func TestIndex_SetStage(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.Add(&Entry{Path: "a.txt"}))

	require.NoError(t, idx.SetStage("a.txt", StageAdd, objectstore.ID("abc"), TypeRegular))
	e := idx.Get("a.txt")
	require.NotNil(t, e)
	assert.Equal(t, StageAdd, e.Stage)
	assert.Equal(t, objectstore.ID("abc"), e.StagedBlobID)
}

func TestIndex_SetStage_NoSuchEntry(t *testing.T) {
	idx := New("")
	err := idx.SetStage("missing.txt", StageAdd, objectstore.ID("abc"), TypeRegular)
	assert.Error(t, err)
}

func TestIndex_ScheduleAdd(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.ScheduleAdd([]string{"new.txt"}))

	e := idx.Get("new.txt")
	require.NotNil(t, e)
	assert.Equal(t, StageAdd, e.Stage)
	assert.False(t, e.HasBlob())
}

func TestIndex_ScheduleAdd_AlreadyVersioned(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.Add(&Entry{Path: "a.txt", BlobID: objectstore.ID("abc")}))

	err := idx.ScheduleAdd([]string{"a.txt"})
	assert.Error(t, err)
}

func TestIndex_ScheduleDelete(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.Add(&Entry{Path: "a.txt", BlobID: objectstore.ID("abc")}))

	require.NoError(t, idx.ScheduleDelete([]string{"a.txt"}, false))
	e := idx.Get("a.txt")
	require.NotNil(t, e)
	assert.Equal(t, StageDelete, e.Stage)
	assert.True(t, e.DeletedFromDisk)
}

func TestIndex_ScheduleDelete_NotVersioned(t *testing.T) {
	idx := New("")
	err := idx.ScheduleDelete([]string{"missing.txt"}, false)
	assert.Error(t, err)
}

func TestIndex_WriteAndOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index")

	idx := New(path)
	require.NoError(t, idx.Add(&Entry{
		Path:         "a.txt",
		Ctime:        100,
		Mtime:        200,
		Size:         5,
		Mode:         0644,
		IsExec:       true,
		BlobID:       objectstore.ID("blobid"),
		CommitID:     objectstore.ID("commitid"),
		StagedBlobID: objectstore.ID("stagedid"),
		Stage:        StageModify,
		FileType:     TypeRegular,
	}))
	require.NoError(t, idx.Write())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	e := reopened.Get("a.txt")
	require.NotNil(t, e)
	assert.Equal(t, int64(100), e.Ctime)
	assert.Equal(t, int64(200), e.Mtime)
	assert.Equal(t, int64(5), e.Size)
	assert.True(t, e.IsExec)
	assert.Equal(t, objectstore.ID("blobid"), e.BlobID)
	assert.Equal(t, objectstore.ID("commitid"), e.CommitID)
	assert.Equal(t, objectstore.ID("stagedid"), e.StagedBlobID)
	assert.Equal(t, StageModify, e.Stage)
}

func TestIndex_Open_MissingFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_Each_StopsOnFalse(t *testing.T) {
	idx := New("")
	require.NoError(t, idx.Add(&Entry{Path: "a.txt"}))
	require.NoError(t, idx.Add(&Entry{Path: "b.txt"}))

	var visited []string
	idx.Each(func(e *Entry) bool {
		visited = append(visited, e.Path)
		return false
	})
	assert.Equal(t, []string{"a.txt"}, visited)
}
