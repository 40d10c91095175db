package api

import (
    "bytes"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/worktree"
)

func newTestHandler(t *testing.T) *WorkTreeHandler {
    t.Helper()
    dir := t.TempDir()
    wt, err := worktree.Init(dir, "tig", "refs/heads/main", "/", "", "")
    require.NoError(t, err)
    t.Cleanup(func() { wt.Close() })

    store := objectstore.NewMemory()
    refStore := refs.NewMemory()

    emptyTree, err := store.TreeCreate(nil)
    require.NoError(t, err)
    sig := objectstore.Signature{Name: "tig", Email: "tig@localhost", Time: time.Now()}
    rootCommit, err := store.CommitCreate(emptyTree, nil, sig, sig, "root")
    require.NoError(t, err)
    require.NoError(t, refStore.Alloc("refs/heads/main", rootCommit))
    require.NoError(t, wt.SetBaseCommit(rootCommit))

    return NewWorkTreeHandler(wt, store, refStore)
}

func TestWorkTreeHandler_StatusEmpty(t *testing.T) {
    h := newTestHandler(t)

    req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
    rec := httptest.NewRecorder()
    h.Status(rec, req)

    require.Equal(t, http.StatusOK, rec.Code)
    var entries []statusEntry
    require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
    require.Empty(t, entries)
}

func TestWorkTreeHandler_CommitRequiresMessage(t *testing.T) {
    h := newTestHandler(t)

    body, err := json.Marshal(commitRequest{})
    require.NoError(t, err)
    req := httptest.NewRequest(http.MethodPost, "/api/commit", bytes.NewReader(body))
    rec := httptest.NewRecorder()
    h.Commit(rec, req)

    require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkTreeHandler_StageAndCommit(t *testing.T) {
    h := newTestHandler(t)

    require.NoError(t, os.WriteFile(filepath.Join(h.wt.Root(), "a.txt"), []byte("hello\n"), 0644))
    require.NoError(t, h.wt.Index().ScheduleAdd([]string{"a.txt"}))

    stageBody, err := json.Marshal(pathsRequest{Paths: []string{"a.txt"}})
    require.NoError(t, err)
    stageReq := httptest.NewRequest(http.MethodPost, "/api/stage", bytes.NewReader(stageBody))
    stageRec := httptest.NewRecorder()
    h.Stage(stageRec, stageReq)
    require.Equal(t, http.StatusOK, stageRec.Code)

    commitBody, err := json.Marshal(commitRequest{
        Message:     "add a.txt",
        AuthorName:  "tester",
        AuthorEmail: "tester@localhost",
    })
    require.NoError(t, err)
    commitReq := httptest.NewRequest(http.MethodPost, "/api/commit", bytes.NewReader(commitBody))
    commitRec := httptest.NewRecorder()
    h.Commit(commitRec, commitReq)

    require.Equal(t, http.StatusOK, commitRec.Code)
    var resp map[string]string
    require.NoError(t, json.NewDecoder(commitRec.Body).Decode(&resp))
    require.NotEmpty(t, resp["commit_id"])
}
