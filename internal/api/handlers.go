// internal/api/handlers.go
package api

import (
    "encoding/json"
    "net/http"
    "time"

    "tig/internal/checkout"
    "tig/internal/commit"
    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/stage"
    "tig/internal/status"
    "tig/internal/worktree"
)

// WorkTreeHandler exposes a thin HTTP surface over the work-tree
// engine: status, stage/unstage, commit, checkout and revert. It
// replaces the teacher's intent/stream CRUD handlers one-for-one with
// the engine operations this module actually implements, keeping the
// same net/http PathValue routing style.
type WorkTreeHandler struct {
    wt    *worktree.WorkTree
    store objectstore.Store
    refs  refs.Store
}

func NewWorkTreeHandler(wt *worktree.WorkTree, store objectstore.Store, refStore refs.Store) *WorkTreeHandler {
    return &WorkTreeHandler{wt: wt, store: store, refs: refStore}
}

type statusEntry struct {
    Path string      `json:"path"`
    Code status.Code `json:"code"`
}

// Status reports every non-clean path in the index.
func (h *WorkTreeHandler) Status(w http.ResponseWriter, r *http.Request) {
    eng, err := status.NewEngine(h.store, 1024)
    if err != nil {
        writeError(w, err)
        return
    }

    var entries []statusEntry
    h.wt.Index().Each(func(e *index.Entry) bool {
        ondisk := h.wt.Root() + "/" + e.Path
        cls, err := eng.Classify(e.Path, ondisk, e)
        if err != nil {
            return true
        }
        if cls.Code != status.NoChange {
            entries = append(entries, statusEntry{Path: cls.RelPath, Code: cls.Code})
        }
        return true
    })

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(entries)
}

type pathsRequest struct {
    Paths []string `json:"paths"`
}

// Stage stages the requested paths in full (no hunk selection over HTTP).
func (h *WorkTreeHandler) Stage(w http.ResponseWriter, r *http.Request) {
    var req pathsRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid request body", http.StatusBadRequest)
        return
    }

    eng, err := status.NewEngine(h.store, 1024)
    if err != nil {
        writeError(w, err)
        return
    }
    n, err := stage.Stage(h.store, eng, h.wt, req.Paths, nil)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, map[string]int{"staged": n})
}

// Unstage reverses Stage over the requested paths.
func (h *WorkTreeHandler) Unstage(w http.ResponseWriter, r *http.Request) {
    var req pathsRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid request body", http.StatusBadRequest)
        return
    }

    n, err := stage.Unstage(h.store, h.wt, req.Paths, nil)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, map[string]int{"unstaged": n})
}

type commitRequest struct {
    Message       string   `json:"message"`
    Paths         []string `json:"paths"`
    AuthorName    string   `json:"author_name"`
    AuthorEmail   string   `json:"author_email"`
    CommitterName string   `json:"committer_name"`
    CommitterEmail string  `json:"committer_email"`
}

// Commit commits the staged (or named) changes.
func (h *WorkTreeHandler) Commit(w http.ResponseWriter, r *http.Request) {
    var req commitRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid request body", http.StatusBadRequest)
        return
    }
    if req.Message == "" {
        http.Error(w, "message is required", http.StatusBadRequest)
        return
    }

    author := commit.Identity{Name: req.AuthorName, Email: req.AuthorEmail}
    committer := commit.Identity{Name: req.CommitterName, Email: req.CommitterEmail}
    if committer.Name == "" {
        committer = author
    }
    msgFn := func(_ []*commit.Commitable) (string, error) { return req.Message, nil }

    result, err := commit.Commit(h.store, h.refs, h.wt, h.wt.HeadRef(), req.Paths, author, committer, nowUnix, msgFn)
    if err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, map[string]string{"commit_id": string(result.CommitID)})
}

// Checkout applies the target commit's tree over the requested paths
// (or the whole tree when none are given). The target commit ID is the
// final PathValue segment.
func (h *WorkTreeHandler) Checkout(w http.ResponseWriter, r *http.Request) {
    target := r.PathValue("commit")
    if target == "" {
        http.Error(w, "missing commit", http.StatusBadRequest)
        return
    }
    var req pathsRequest
    if r.Body != nil {
        json.NewDecoder(r.Body).Decode(&req)
    }

    if err := checkout.Files(h.store, h.refs, h.wt, req.Paths, objectstore.ID(target), nil, nil); err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, map[string]string{"status": "ok"})
}

// Revert discards local edits and pending stage for the requested paths.
func (h *WorkTreeHandler) Revert(w http.ResponseWriter, r *http.Request) {
    var req pathsRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid request body", http.StatusBadRequest)
        return
    }

    if err := checkout.Revert(h.store, h.wt, req.Paths, nil); err != nil {
        writeError(w, err)
        return
    }
    writeJSON(w, map[string]string{"status": "ok"})
}

func nowUnix() int64 { return time.Now().Unix() }

func writeJSON(w http.ResponseWriter, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
    if e, ok := err.(*errors.Error); ok {
        http.Error(w, e.Error(), e.HTTPStatus())
        return
    }
    http.Error(w, err.Error(), http.StatusInternalServerError)
}
