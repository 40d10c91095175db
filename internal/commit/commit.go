// Package commit implements the commit pipeline (C8): collecting the
// commitable set, the out-of-date check, recursive tree writing, commit
// object creation, and the head-reference update.
//
// Grounded on got_worktree_commit in worktree.c for the ten-step
// pipeline and on internal/parcel.Parcel's aggregate-root wiring style
// (collect collaborators, validate, persist, return).
package commit

import (
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/objectstore"
    "tig/internal/pathutil"
    "tig/internal/refs"
    "tig/internal/status"
    "tig/internal/worktree"
)

// Commitable is the transient record built for every path whose staged
// or unstaged state differs from the base tree, per spec.md §3.
type Commitable struct {
    RelPath      string
    RepoPath     string
    OndiskPath   string
    Status       status.Code
    StagedStatus status.Code
    Mode         objectstore.FileMode
    BlobID       objectstore.ID
    BaseBlobID   objectstore.ID
    StagedBlobID objectstore.ID
    BaseCommitID objectstore.ID

    dirCreated bool
}

// MessageFunc is the commit-message callback surface of spec.md §6.
type MessageFunc func(commitables []*Commitable) (string, error)

// Identity is an author or committer identity (name, email) — time is
// supplied separately so tests can hold it fixed.
type Identity struct {
    Name  string
    Email string
}

// Result reports the outcome of a successful commit.
type Result struct {
    CommitID objectstore.ID
}

// Commit runs the ten-step pipeline of spec.md §4.8 over paths (work-
// tree relative; empty slice means "everything eligible").
func Commit(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, headRefName string, paths []string, author, committer Identity, now func() int64, msgFn MessageFunc) (Result, error) {
    if !wt.LockHandle().Exclusive() {
        return Result{}, errors.New(errors.Busy, "commit requires the exclusive lock")
    }

    idx := wt.Index()
    headCommitID, err := refStore.Resolve(headRefName)
    if err != nil {
        return Result{}, errors.Wrap(errors.IO, err, "resolving head %s", headRefName)
    }
    headCommit, err := store.OpenCommit(headCommitID)
    if err != nil {
        return Result{}, errors.Wrap(errors.IO, err, "opening head commit %s", headCommitID)
    }

    // An entry counts as staged once it has a staged blob or the delete
    // stage code; a schedule-add entry with no staged blob does not.
    isStaged := func(e *index.Entry) bool {
        return e.StagedBlobID != "" || e.Stage == index.StageDelete
    }
    hasStaged := false
    idx.Each(func(e *index.Entry) bool {
        if isStaged(e) {
            hasStaged = true
            return false
        }
        return true
    })

    if hasStaged && len(paths) > 0 {
        for _, p := range paths {
            e := idx.Get(p)
            if e == nil || !isStaged(e) {
                return Result{}, errors.New(errors.NotStaged, "path not staged: %s", p).WithPath(p)
            }
        }
    }

    commitables, err := collectCommitables(store, wt, idx, paths, hasStaged)
    if err != nil {
        return Result{}, err
    }
    if len(commitables) == 0 {
        return Result{}, errors.New(errors.NoChanges, "no changes to commit")
    }

    if err := verifyCoverage(paths, commitables); err != nil {
        return Result{}, err
    }

    for _, c := range commitables {
        if err := outOfDateCheck(store, wt, headCommit, c); err != nil {
            return Result{}, err
        }
    }

    if err := createBlobs(store, commitables); err != nil {
        return Result{}, err
    }

    newTree, err := writeTrees(store, headCommit.Tree, wt.PathPrefix(), commitables)
    if err != nil {
        return Result{}, err
    }

    msg, err := msgFn(commitables)
    if err != nil {
        return Result{}, err
    }
    if strings.TrimSpace(msg) == "" {
        return Result{}, errors.New(errors.MsgEmpty, "commit message is empty")
    }

    ts := time.Unix(now(), 0)
    authorSig := objectstore.Signature{Name: author.Name, Email: author.Email, Time: ts}
    committerSig := objectstore.Signature{Name: committer.Name, Email: committer.Email, Time: ts}

    newCommitID, err := store.CommitCreate(newTree, []objectstore.ID{wt.BaseCommit()}, authorSig, committerSig, msg)
    if err != nil {
        return Result{}, errors.Wrap(errors.IO, err, "creating commit object")
    }

    ref, lock, err := refStore.Open(headRefName, true)
    if err != nil {
        return Result{}, errors.Wrap(errors.IO, err, "locking head ref %s", headRefName)
    }
    if ref.ID != headCommitID {
        refStore.Unlock(lock)
        return Result{}, errors.New(errors.HeadChanged, "head moved since commit began")
    }
    if err := refStore.Change(lock, newCommitID); err != nil {
        refStore.Unlock(lock)
        return Result{}, errors.Wrap(errors.IO, err, "updating head ref")
    }
    if err := refStore.Write(lock); err != nil {
        return Result{}, errors.Wrap(errors.IO, err, "writing head ref")
    }

    if err := wt.SetBaseCommit(newCommitID); err != nil {
        return Result{}, err
    }
    _ = refStore.Alloc(wt.BaseCommitRef(), newCommitID)

    syncIndex(idx, commitables, newCommitID)
    if err := wt.WriteIndex(); err != nil {
        return Result{}, err
    }
    if err := wt.LockHandle().Downgrade(); err != nil {
        return Result{}, err
    }

    return Result{CommitID: newCommitID}, nil
}

// collectCommitables walks paths (status mode) via the status engine
// and records each modify/add/delete/mode-change/conflict path.
// Conflict aborts with CommitConflict.
func collectCommitables(store objectstore.Store, wt *worktree.WorkTree, idx *index.Index, paths []string, stagedOnly bool) ([]*Commitable, error) {
    var out []*Commitable
    eng, err := status.NewEngine(store, 1024)
    if err != nil {
        return nil, err
    }

    consider := func(e *index.Entry) error {
        if stagedOnly && e.Stage == index.StageNone {
            return nil
        }
        ondisk := filepath.Join(wt.Root(), e.Path)
        cls, err := eng.Classify(e.Path, ondisk, e)
        if err != nil {
            return err
        }
        // A staged entry commits its stage code, even when the working
        // file now matches the staged blob.
        code := cls.Code
        if stagedOnly && code != status.Conflict {
            switch e.Stage {
            case index.StageAdd:
                code = status.Add
            case index.StageModify:
                code = status.Modify
            case index.StageDelete:
                code = status.Delete
            }
        }
        switch code {
        case status.NoChange, status.Unversioned:
            return nil
        case status.Conflict:
            return errors.New(errors.CommitConflict, "path has conflicts: %s", e.Path).WithPath(e.Path)
        case status.Modify, status.Add, status.Delete, status.ModeChange:
            out = append(out, &Commitable{
                RelPath:      e.Path,
                RepoPath:     joinRepoPath(wt.PathPrefix(), e.Path),
                OndiskPath:   ondisk,
                Status:       code,
                BaseBlobID:   e.BlobID,
                StagedBlobID: e.StagedBlobID,
                BaseCommitID: e.CommitID,
                Mode:         modeFor(e),
            })
        }
        return nil
    }

    if len(paths) == 0 {
        var walkErr error
        idx.Each(func(e *index.Entry) bool {
            if err := consider(e); err != nil {
                walkErr = err
                return false
            }
            return true
        })
        if walkErr != nil {
            return nil, walkErr
        }
        return out, nil
    }

    seen := map[string]bool{}
    for _, p := range paths {
        idx.Each(func(e *index.Entry) bool {
            if e.Path == p || pathutil.IsChild(e.Path, p) {
                if seen[e.Path] {
                    return true
                }
                seen[e.Path] = true
                if err = consider(e); err != nil {
                    return false
                }
            }
            return true
        })
        if err != nil {
            return nil, err
        }
    }
    return out, nil
}

func modeFor(e *index.Entry) objectstore.FileMode {
    if e.FileType == index.TypeSymlink {
        return objectstore.ModeSymlink
    }
    if e.IsExec {
        return objectstore.ModeExecutable
    }
    return objectstore.ModeRegular
}

func joinRepoPath(prefix, rel string) string {
    prefix = strings.Trim(prefix, "/")
    if prefix == "" {
        return rel
    }
    return prefix + "/" + rel
}

// verifyCoverage ensures every requested path is covered by some
// commitable (equals it or is its ancestor); otherwise BadPath.
func verifyCoverage(paths []string, commitables []*Commitable) error {
    for _, p := range paths {
        covered := false
        for _, c := range commitables {
            if c.RelPath == p || pathutil.IsChild(c.RelPath, p) || pathutil.IsChild(p, c.RelPath) {
                covered = true
                break
            }
        }
        if !covered {
            return errors.New(errors.BadPath, "path not covered by any change: %s", p).WithPath(p)
        }
    }
    return nil
}

// outOfDateCheck implements step 5 of spec.md §4.8.
func outOfDateCheck(store objectstore.Store, wt *worktree.WorkTree, headCommit *objectstore.Commit, c *Commitable) error {
    if c.BaseCommitID == wt.BaseCommit() {
        return nil
    }
    id, _, err := store.IDByPath(headCommit.ID, c.RepoPath)
    switch c.Status {
    case status.Add:
        if err == nil {
            return errors.New(errors.OutOfDate, "path added upstream: %s", c.RelPath).WithPath(c.RelPath)
        }
    case status.Modify, status.Delete, status.ModeChange:
        if err != nil || id != c.BaseBlobID {
            return errors.New(errors.OutOfDate, "path changed upstream: %s", c.RelPath).WithPath(c.RelPath)
        }
    }
    return nil
}

// createBlobs creates blobs for add/modify/mode-change commitables.
func createBlobs(store objectstore.Store, commitables []*Commitable) error {
    for _, c := range commitables {
        if c.Status == status.Delete {
            continue
        }
        if c.StagedBlobID != "" {
            c.BlobID = c.StagedBlobID
            continue
        }
        content, err := readContent(c)
        if err != nil {
            return err
        }
        id, err := store.BlobCreate(content)
        if err != nil {
            return errors.Wrap(errors.IO, err, "creating blob for %s", c.RelPath).WithPath(c.RelPath)
        }
        c.BlobID = id
    }
    return nil
}

// readContent reads a commitable's on-disk content, following the same
// regular-vs-symlink distinction the status engine uses.
func readContent(c *Commitable) ([]byte, error) {
    fi, err := os.Lstat(c.OndiskPath)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "stat %s", c.OndiskPath).WithPath(c.RelPath)
    }
    if fi.Mode()&os.ModeSymlink != 0 {
        target, err := os.Readlink(c.OndiskPath)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "reading symlink %s", c.OndiskPath).WithPath(c.RelPath)
        }
        return []byte(target), nil
    }
    content, err := os.ReadFile(c.OndiskPath)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "reading %s", c.OndiskPath).WithPath(c.RelPath)
    }
    return content, nil
}

func syncIndex(idx *index.Index, commitables []*Commitable, newCommit objectstore.ID) {
    for _, c := range commitables {
        if c.Status == status.Delete {
            idx.Remove(c.RelPath)
            continue
        }
        idx.Update(c.RelPath, func(e *index.Entry) {
            e.BlobID = c.BlobID
            e.CommitID = newCommit
            e.Stage = index.StageNone
            e.StagedBlobID = ""
            // An unstaged commitable's content is whatever was just read
            // off disk, so the current stat is the fresh fingerprint: a
            // later status check against the same unmodified file
            // short-circuits. A staged commitable's blob need not match
            // the file, so its fingerprint is cleared instead.
            if c.StagedBlobID == "" {
                _ = e.SetStatFingerprint(c.OndiskPath)
            } else {
                e.Ctime, e.Mtime, e.Size, e.Mode = 0, 0, 0, 0
            }
        })
    }
}

// leafChange is the tree-splicing primitive both the commit pipeline
// and the rebase/histedit replay loop patch a tree with: a path is
// either deleted, or set to (mode, blobID).
type leafChange struct {
    Delete bool
    Mode   objectstore.FileMode
    BlobID objectstore.ID
}

// PathChange is the rebase/histedit-facing change record: one merged
// path's outcome for ApplyPathChanges to splice into a tree.
type PathChange struct {
    RepoPath string
    Delete   bool
    Mode     objectstore.FileMode
    BlobID   objectstore.ID
}

// ApplyPathChanges splices changes into baseTree under prefix,
// reusing the same recursive copy-or-descend-or-drop algorithm the
// commit pipeline's step 7 uses. Exported for internal/rebase and
// internal/histedit, whose per-commit replay patches a handful of
// paths into the tmp-branch's current tree rather than diffing a
// whole work tree.
func ApplyPathChanges(store objectstore.Store, baseTree objectstore.ID, prefix string, changes []PathChange) (objectstore.ID, error) {
    byRepoPath := make(map[string]leafChange, len(changes))
    for _, c := range changes {
        byRepoPath[c.RepoPath] = leafChange{Delete: c.Delete, Mode: c.Mode, BlobID: c.BlobID}
    }
    return writeTreesFromChanges(store, baseTree, prefix, byRepoPath)
}

// writeTrees recursively writes new trees per step 7: starting at the
// path prefix, copy-verbatim subtrees with no commitable, descend into
// ones that have some, and drop subtrees that become empty.
func writeTrees(store objectstore.Store, baseTree objectstore.ID, prefix string, commitables []*Commitable) (objectstore.ID, error) {
    byRepoPath := make(map[string]leafChange, len(commitables))
    for _, c := range commitables {
        byRepoPath[c.RepoPath] = leafChange{Delete: c.Status == status.Delete, Mode: c.Mode, BlobID: c.BlobID}
    }
    return writeTreesFromChanges(store, baseTree, prefix, byRepoPath)
}

func writeTreesFromChanges(store objectstore.Store, baseTree objectstore.ID, prefix string, byRepoPath map[string]leafChange) (objectstore.ID, error) {
    prefixTrimmed := strings.Trim(prefix, "/")
    rootTree := baseTree
    if prefixTrimmed != "" {
        // IDByPath starts from a commit; walk baseTree down the prefix.
        for _, comp := range strings.Split(prefixTrimmed, "/") {
            t, err := store.OpenTree(rootTree)
            if err != nil {
                rootTree = ""
                break
            }
            e, ok := t.FindEntry(comp)
            if rootTree = e.ID; !ok || !e.Mode.IsTree() {
                rootTree = ""
                break
            }
        }
    }
    newSub, _, err := writeSubtree(store, rootTree, prefixTrimmed, byRepoPath)
    if err != nil {
        return "", err
    }
    if prefixTrimmed == "" {
        return newSub, nil
    }
    // Splice the rewritten subtree back into the full root tree chain.
    return spliceTree(store, baseTree, strings.Split(prefixTrimmed, "/"), newSub)
}

func writeSubtree(store objectstore.Store, treeID objectstore.ID, treePath string, byRepoPath map[string]leafChange) (objectstore.ID, bool, error) {
    var entries []objectstore.TreeEntry
    if treeID != "" {
        t, err := store.OpenTree(treeID)
        if err != nil {
            return "", false, errors.Wrap(errors.IO, err, "opening tree %s", treeID)
        }
        entries = t.Entries
    }

    byName := make(map[string]objectstore.TreeEntry, len(entries))
    order := make([]string, 0, len(entries))
    for _, e := range entries {
        byName[e.Name] = e
        order = append(order, e.Name)
    }

    // Changes under treePath contribute their first component below it:
    // a leaf name, or the first directory of a possibly new chain.
    for repoPath := range byRepoPath {
        rest := repoPath
        if treePath != "" {
            if !strings.HasPrefix(repoPath, treePath+"/") {
                continue
            }
            rest = repoPath[len(treePath)+1:]
        }
        name, _, _ := strings.Cut(rest, "/")
        if !contains(order, name) {
            order = append(order, name)
        }
    }

    sort.Strings(order)
    var out []objectstore.TreeEntry
    for _, name := range order {
        childRepoPath := name
        if treePath != "" {
            childRepoPath = treePath + "/" + name
        }

        if c, isLeaf := byRepoPath[childRepoPath]; isLeaf {
            if c.Delete {
                continue
            }
            out = append(out, objectstore.TreeEntry{Name: name, Mode: c.Mode, ID: c.BlobID})
            continue
        }

        existing, existsInTree := byName[name]
        hasDescendantChange := hasPrefix(byRepoPath, childRepoPath+"/")
        if !hasDescendantChange {
            if existsInTree {
                out = append(out, existing)
            }
            continue
        }

        var subTreeID objectstore.ID
        if existsInTree && existing.Mode.IsTree() {
            subTreeID = existing.ID
        }
        newSub, empty, err := writeSubtree(store, subTreeID, childRepoPath, byRepoPath)
        if err != nil {
            return "", false, err
        }
        if empty {
            continue // subtree became empty: entry omitted
        }
        out = append(out, objectstore.TreeEntry{Name: name, Mode: objectstore.ModeTree, ID: newSub})
    }

    if len(out) == 0 {
        return "", true, nil
    }
    id, err := store.TreeCreate(out)
    if err != nil {
        return "", false, errors.Wrap(errors.IO, err, "creating tree at %s", treePath)
    }
    return id, false, nil
}

func hasPrefix(byRepoPath map[string]leafChange, prefix string) bool {
    for p := range byRepoPath {
        if strings.HasPrefix(p, prefix) {
            return true
        }
    }
    return false
}

func splitParent(repoPath string) (parent, name string) {
    idx := strings.LastIndexByte(repoPath, '/')
    if idx < 0 {
        return "", repoPath
    }
    return repoPath[:idx], repoPath[idx+1:]
}

func contains(ss []string, s string) bool {
    for _, v := range ss {
        if v == s {
            return true
        }
    }
    return false
}

// spliceTree rewrites the ancestor chain above a rewritten prefix
// subtree, so the commit's root tree reflects the change even when the
// work tree only mirrors an in-repository prefix.
func spliceTree(store objectstore.Store, rootTree objectstore.ID, components []string, newSub objectstore.ID) (objectstore.ID, error) {
    if len(components) == 0 {
        return newSub, nil
    }
    t, err := store.OpenTree(rootTree)
    if err != nil {
        return "", errors.Wrap(errors.IO, err, "opening root tree for splice")
    }
    head := components[0]
    var childID objectstore.ID
    if len(components) > 1 {
        existing, ok := t.FindEntry(head)
        if ok {
            childID = existing.ID
        }
        rewritten, err := spliceTree(store, childID, components[1:], newSub)
        if err != nil {
            return "", err
        }
        childID = rewritten
    } else {
        childID = newSub
    }

    out := make([]objectstore.TreeEntry, 0, len(t.Entries))
    replaced := false
    for _, e := range t.Entries {
        if e.Name == head {
            out = append(out, objectstore.TreeEntry{Name: head, Mode: objectstore.ModeTree, ID: childID})
            replaced = true
            continue
        }
        out = append(out, e)
    }
    if !replaced {
        out = append(out, objectstore.TreeEntry{Name: head, Mode: objectstore.ModeTree, ID: childID})
    }
    return store.TreeCreate(out)
}
