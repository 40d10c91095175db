// Package replay holds the per-commit replay machinery rebase and
// histedit share: the clean-work-tree precondition, the three-way
// merge of a source commit against its parent into the live work
// tree, and the commit-and-advance-tmp-branch tail. Both C9 state
// machines are "journaled loops" over this same primitive per
// spec.md §4.9; only how they pick and order source commits differs
// (linear parent walk vs. histedit script).
//
// Grounded on got_worktree_rebase_commit/got_worktree_histedit_commit
// in worktree.c, which share this exact shape in the original too.
package replay

import (
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "tig/internal/commit"
    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/merge"
    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/status"
    "tig/internal/worktree"
)

// RequireClean enforces spec.md §4.9's Prepare precondition: no
// modified files, no conflicts, no staged files, no mixed base commits.
func RequireClean(store objectstore.Store, wt *worktree.WorkTree) error {
    eng, err := status.NewEngine(store, 1024)
    if err != nil {
        return err
    }
    idx := wt.Index()
    var outerErr error
    idx.Each(func(e *index.Entry) bool {
        if e.Stage != index.StageNone {
            outerErr = errors.New(errors.FileStaged, "staged changes present: %s", e.Path).WithPath(e.Path)
            return false
        }
        if e.CommitID != wt.BaseCommit() {
            outerErr = errors.New(errors.MixedCommits, "mixed base commits: %s", e.Path).WithPath(e.Path)
            return false
        }
        ondisk := filepath.Join(wt.Root(), e.Path)
        cls, err := eng.Classify(e.Path, ondisk, e)
        if err != nil {
            outerErr = err
            return false
        }
        switch cls.Code {
        case status.Modify, status.Add, status.Delete, status.ModeChange:
            outerErr = errors.New(errors.Modified, "work tree has local modifications: %s", e.Path).WithPath(e.Path)
            return false
        case status.Conflict:
            outerErr = errors.New(errors.Conflicts, "work tree has unresolved conflicts: %s", e.Path).WithPath(e.Path)
            return false
        }
        return true
    })
    return outerErr
}

// DeleteDerivedRefs removes every ref a rebase/histedit journal may
// hold, in the order Abort/Complete should try to delete them.
func DeleteDerivedRefs(refStore refs.Store, wt *worktree.WorkTree) error {
    for _, name := range wt.DerivedRefs() {
        if err := refStore.Delete(name); err != nil {
            return errors.Wrap(errors.IO, err, "deleting %s", name)
        }
    }
    return nil
}

// MergeCommitAgainstParent three-way-merges every path that differs
// between parentTree and sourceTree into the live work tree, using
// parentTree as the merge ancestor. It returns the resulting path
// changes (post-merge content, re-hashed) ready for
// commit.ApplyPathChanges, and whether any hunk conflicted.
func MergeCommitAgainstParent(store objectstore.Store, wt *worktree.WorkTree, parentTree, sourceTree objectstore.ID) ([]commit.PathChange, bool, error) {
    diffs, err := diffTrees(store, parentTree, sourceTree, "")
    if err != nil {
        return nil, false, err
    }

    anyConflict := false
    var out []commit.PathChange
    for _, d := range diffs {
        ondisk := filepath.Join(wt.Root(), d.path)

        if d.newEntry == nil {
            if err := os.Remove(ondisk); err != nil && !os.IsNotExist(err) {
                return nil, false, errors.Wrap(errors.IO, err, "removing %s", d.path).WithPath(d.path)
            }
            out = append(out, commit.PathChange{RepoPath: d.path, Delete: true})
            continue
        }

        if d.oldEntry == nil {
            // Addition: no ancestor to merge against. Install directly.
            if err := installTreeEntry(store, wt, *d.newEntry, ondisk); err != nil {
                return nil, false, err
            }
            out = append(out, commit.PathChange{RepoPath: d.path, Mode: d.newEntry.Mode, BlobID: d.newEntry.ID})
            continue
        }

        if d.newEntry.Mode.IsSymlink() || d.oldEntry.Mode.IsSymlink() {
            baseTarget, _ := store.ReadBlob(d.oldEntry.ID)
            derivTarget, _ := store.ReadBlob(d.newEntry.ID)
            localTarget, _ := os.Readlink(ondisk)
            res := merge.Symlink(string(baseTarget), string(derivTarget), localTarget)
            if res.Conflicted {
                anyConflict = true
                content := merge.ConflictContent("source", string(derivTarget), "ancestor", string(baseTarget), localTarget)
                if err := os.WriteFile(ondisk, content, 0644); err != nil {
                    return nil, false, errors.Wrap(errors.IO, err, "writing conflict for %s", d.path).WithPath(d.path)
                }
                id, err := store.BlobCreate(content)
                if err != nil {
                    return nil, false, errors.Wrap(errors.IO, err, "blob-create %s", d.path).WithPath(d.path)
                }
                out = append(out, commit.PathChange{RepoPath: d.path, Mode: objectstore.ModeRegular, BlobID: id})
                continue
            }
            os.Remove(ondisk)
            if err := os.Symlink(res.Target, ondisk); err != nil {
                return nil, false, errors.Wrap(errors.IO, err, "installing merged symlink %s", d.path).WithPath(d.path)
            }
            id, err := store.BlobCreate([]byte(res.Target))
            if err != nil {
                return nil, false, errors.Wrap(errors.IO, err, "blob-create %s", d.path).WithPath(d.path)
            }
            out = append(out, commit.PathChange{RepoPath: d.path, Mode: objectstore.ModeSymlink, BlobID: id})
            continue
        }

        baseContent, err := store.ReadBlob(d.oldEntry.ID)
        if err != nil {
            return nil, false, errors.Wrap(errors.IO, err, "reading blob %s", d.oldEntry.ID).WithPath(d.path)
        }
        derivContent, err := store.ReadBlob(d.newEntry.ID)
        if err != nil {
            return nil, false, errors.Wrap(errors.IO, err, "reading blob %s", d.newEntry.ID).WithPath(d.path)
        }
        result, err := merge.File(baseContent, derivContent, ondisk, d.newEntry.Mode, "ancestor", "source")
        if err != nil {
            return nil, false, err
        }
        if result.Conflicted {
            anyConflict = true
        }
        merged, err := os.ReadFile(ondisk)
        if err != nil {
            return nil, false, errors.Wrap(errors.IO, err, "reading merged %s", d.path).WithPath(d.path)
        }
        id, err := store.BlobCreate(merged)
        if err != nil {
            return nil, false, errors.Wrap(errors.IO, err, "blob-create %s", d.path).WithPath(d.path)
        }
        out = append(out, commit.PathChange{RepoPath: d.path, Mode: d.newEntry.Mode, BlobID: id})
    }

    return out, anyConflict, nil
}

func installTreeEntry(store objectstore.Store, wt *worktree.WorkTree, te objectstore.TreeEntry, ondisk string) error {
    if err := os.MkdirAll(filepath.Dir(ondisk), 0755); err != nil {
        return errors.Wrap(errors.IO, err, "creating directories for %s", ondisk)
    }
    if te.Mode.IsSymlink() {
        target, err := store.ReadBlob(te.ID)
        if err != nil {
            return errors.Wrap(errors.IO, err, "reading symlink blob %s", te.ID)
        }
        dotName := strings.TrimPrefix(filepath.Base(wt.DotDir()), ".")
        _, err = merge.InstallSymlink(string(target), ondisk, wt.Root(), "."+dotName)
        return err
    }
    return merge.InstallBlob(store, te.ID, ondisk, te.Mode)
}

// ReconcileWorkingTree re-derives each of paths' current on-disk
// content (or absence) into a path change, re-reading fresh rather
// than trusting whatever content a prior step left there. This is how
// resuming a paused histedit edit folds in a local edit made to the
// paused commit's files between the stop and the continue: paths is
// exactly the set the original merge touched (persisted across the
// pause in EditPathsRef), re-read now instead of recommitted as-is.
func ReconcileWorkingTree(store objectstore.Store, wt *worktree.WorkTree, paths []string) ([]commit.PathChange, error) {
    var changes []commit.PathChange
    for _, p := range paths {
        if p == "" {
            continue
        }
        ondisk := filepath.Join(wt.Root(), p)
        fi, err := os.Lstat(ondisk)
        if err != nil {
            if os.IsNotExist(err) {
                changes = append(changes, commit.PathChange{RepoPath: p, Delete: true})
                continue
            }
            return nil, errors.Wrap(errors.IO, err, "stat %s", p).WithPath(p)
        }

        isSymlink := fi.Mode()&os.ModeSymlink != 0
        content, err := readWorkingFile(ondisk, isSymlink)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "reading %s", p).WithPath(p)
        }
        id, err := store.BlobCreate(content)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "creating blob for %s", p).WithPath(p)
        }

        mode := objectstore.ModeRegular
        switch {
        case isSymlink:
            mode = objectstore.ModeSymlink
        case fi.Mode()&0111 != 0:
            mode = objectstore.ModeExecutable
        }
        changes = append(changes, commit.PathChange{RepoPath: p, Mode: mode, BlobID: id})
    }
    return changes, nil
}

func readWorkingFile(ondisk string, isSymlink bool) ([]byte, error) {
    if isSymlink {
        target, err := os.Readlink(ondisk)
        if err != nil {
            return nil, err
        }
        return []byte(target), nil
    }
    return os.ReadFile(ondisk)
}

// RevertLocalModifications force-reinstalls every indexed path whose
// on-disk content has drifted from its index-recorded blob, discarding
// the drift. Abort calls this between DeleteDerivedRefs and its final
// checkoutFiles re-checkout: checkoutFiles' fast path skips a path
// whose entry.BlobID already equals the target tree entry's ID, which
// would otherwise leave a purely local edit in place instead of
// discarding it, the explicit revert step spec.md §4.9's Abort names
// as distinct from the final re-checkout.
func RevertLocalModifications(store objectstore.Store, wt *worktree.WorkTree) error {
    eng, err := status.NewEngine(store, 256)
    if err != nil {
        return err
    }

    idx := wt.Index()
    var outerErr error
    idx.Each(func(e *index.Entry) bool {
        ondisk := filepath.Join(wt.Root(), e.Path)
        cls, err := eng.Classify(e.Path, ondisk, e)
        if err != nil {
            outerErr = err
            return false
        }
        switch cls.Code {
        case status.Modify, status.Add, status.Delete, status.ModeChange, status.Conflict:
        default:
            return true
        }

        if !e.HasBlob() {
            if err := os.Remove(ondisk); err != nil && !os.IsNotExist(err) {
                outerErr = errors.Wrap(errors.IO, err, "removing %s", e.Path).WithPath(e.Path)
                return false
            }
            return true
        }

        mode := objectstore.ModeRegular
        if e.IsExec {
            mode = objectstore.ModeExecutable
        }
        if e.FileType == index.TypeSymlink {
            mode = objectstore.ModeSymlink
        }
        te := objectstore.TreeEntry{Name: filepath.Base(e.Path), ID: e.BlobID, Mode: mode}
        if err := installTreeEntry(store, wt, te, ondisk); err != nil {
            outerErr = err
            return false
        }
        if err := e.SetStatFingerprint(ondisk); err != nil {
            outerErr = errors.Wrap(errors.IO, err, "stat %s", e.Path).WithPath(e.Path)
            return false
        }
        return true
    })
    return outerErr
}

// FinishPerCommit creates the commit object for a replayed commit,
// advances tmp-branch to it, deletes commit-ref, and syncs the index
// entries for the committed paths — the shared tail of rebase's and
// histedit's per-commit loop.
func FinishPerCommit(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, changes []commit.PathChange, author objectstore.Signature, committer commit.Identity, message string, now func() int64) (objectstore.ID, error) {
    tipID, err := refStore.Resolve(wt.TmpBranchRef())
    if err != nil {
        return "", errors.Wrap(errors.IO, err, "resolving tmp-branch")
    }
    tip, err := store.OpenCommit(tipID)
    if err != nil {
        return "", errors.Wrap(errors.IO, err, "opening tmp-branch tip %s", tipID)
    }

    newTree, err := commit.ApplyPathChanges(store, tip.Tree, wt.PathPrefix(), changes)
    if err != nil {
        return "", err
    }

    authorSig := author
    committerSig := objectstore.Signature{Name: committer.Name, Email: committer.Email, Time: time.Unix(now(), 0)}

    newCommitID, err := store.CommitCreate(newTree, []objectstore.ID{tipID}, authorSig, committerSig, message)
    if err != nil {
        return "", errors.Wrap(errors.IO, err, "creating replayed commit")
    }
    if err := refStore.Alloc(wt.TmpBranchRef(), newCommitID); err != nil {
        return "", errors.Wrap(errors.IO, err, "advancing tmp-branch")
    }
    _ = refStore.Delete(wt.CommitRef())

    idx := wt.Index()
    for _, c := range changes {
        if c.Delete {
            idx.Remove(c.RepoPath)
            continue
        }
        ondisk := filepath.Join(wt.Root(), c.RepoPath)
        entry := idx.Get(c.RepoPath)
        if entry == nil {
            entry = &index.Entry{Path: c.RepoPath}
            if err := idx.Add(entry); err != nil {
                return "", err
            }
        }
        entry.BlobID = c.BlobID
        entry.CommitID = newCommitID
        entry.IsExec = c.Mode.IsExecutable()
        // The merged content is already on disk from
        // MergeCommitAgainstParent; stat it now so the fingerprint
        // reflects what was actually committed.
        _ = entry.SetStatFingerprint(ondisk)
    }
    if err := wt.WriteIndex(); err != nil {
        return "", err
    }

    return newCommitID, nil
}

// CommitRefCheck implements the idempotent-resume bookkeeping of
// spec.md §4.9 step 1: writes commit-ref if absent, or verifies it
// matches sourceID if present.
func CommitRefCheck(refStore refs.Store, wt *worktree.WorkTree, sourceID objectstore.ID, mismatchKind errors.Kind) error {
    if refStore.Exists(wt.CommitRef()) {
        existing, err := refStore.Resolve(wt.CommitRef())
        if err != nil {
            return errors.Wrap(errors.IO, err, "resolving commit-ref")
        }
        if existing != sourceID {
            return errors.New(mismatchKind, "commit-ref %s does not match resumed commit %s", existing, sourceID)
        }
        return nil
    }
    if err := refStore.Alloc(wt.CommitRef(), sourceID); err != nil {
        return errors.Wrap(errors.IO, err, "writing commit-ref")
    }
    return nil
}

// treeDiff is one changed path between two trees.
type treeDiff struct {
    path     string
    oldEntry *objectstore.TreeEntry
    newEntry *objectstore.TreeEntry
}

// diffTrees performs a plain two-tree recursive diff (no index
// involved), the primitive the per-commit replay needs to find which
// paths a source commit touched relative to its parent.
func diffTrees(store objectstore.Store, oldTree, newTree objectstore.ID, parentPath string) ([]treeDiff, error) {
    var oldEntries, newEntries []objectstore.TreeEntry
    if oldTree != "" {
        t, err := store.OpenTree(oldTree)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "opening tree %s", oldTree)
        }
        oldEntries = t.Entries
    }
    if newTree != "" {
        t, err := store.OpenTree(newTree)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "opening tree %s", newTree)
        }
        newEntries = t.Entries
    }

    oldByName := make(map[string]objectstore.TreeEntry, len(oldEntries))
    for _, e := range oldEntries {
        oldByName[e.Name] = e
    }
    newByName := make(map[string]objectstore.TreeEntry, len(newEntries))
    for _, e := range newEntries {
        newByName[e.Name] = e
    }

    names := map[string]bool{}
    for n := range oldByName {
        names[n] = true
    }
    for n := range newByName {
        names[n] = true
    }
    sorted := make([]string, 0, len(names))
    for n := range names {
        sorted = append(sorted, n)
    }
    sort.Strings(sorted)

    var out []treeDiff
    for _, name := range sorted {
        childPath := name
        if parentPath != "" {
            childPath = parentPath + "/" + name
        }
        oe, inOld := oldByName[name]
        ne, inNew := newByName[name]

        if inOld && inNew && oe.ID == ne.ID && oe.Mode == ne.Mode {
            continue
        }

        if (inOld && oe.Mode.IsTree()) || (inNew && ne.Mode.IsTree()) {
            var oldSub, newSub objectstore.ID
            if inOld && oe.Mode.IsTree() {
                oldSub = oe.ID
            }
            if inNew && ne.Mode.IsTree() {
                newSub = ne.ID
            }
            sub, err := diffTrees(store, oldSub, newSub, childPath)
            if err != nil {
                return nil, err
            }
            out = append(out, sub...)
            continue
        }

        d := treeDiff{path: childPath}
        if inOld {
            oeCopy := oe
            d.oldEntry = &oeCopy
        }
        if inNew {
            neCopy := ne
            d.newEntry = &neCopy
        }
        out = append(out, d)
    }
    return out, nil
}
