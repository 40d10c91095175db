// Package checkout implements checkout/update (C7): applying a target
// tree to the work tree, mediated by the status engine, tree-diff
// driver and file merger, bumping per-entry base-commit IDs on success.
//
// Grounded on got_worktree_checkout_files/got_worktree_get_updated_ref
// in worktree.c for the five-step algorithm and the base-ref-err
// downgrade rule.
package checkout

import (
    "os"
    "path/filepath"
    "strings"

    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/merge"
    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/status"
    "tig/internal/treediff"
    "tig/internal/worktree"
)

// ProgressFunc reports (status-code, relpath) per file touched, per the
// progress callback surface of spec.md §6.
type ProgressFunc func(code status.Code, relPath string)

// Files applies targetCommit's tree to the requested relative paths
// (an empty slice means the whole tree), per the five steps of
// spec.md §4.7. Must be called with the work tree's exclusive lock held.
func Files(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, requestPaths []string, targetCommit objectstore.ID, cancel treediff.Cancel, progress ProgressFunc) error {
    if !wt.LockHandle().Exclusive() {
        return errors.New(errors.Busy, "checkout requires the exclusive lock")
    }
    if progress == nil {
        progress = func(status.Code, string) {}
    }

    commit, err := store.OpenCommit(targetCommit)
    if err != nil {
        return errors.Wrap(errors.IO, err, "opening target commit %s", targetCommit)
    }

    idx := wt.Index()
    touched := make(map[string]bool)

    if len(requestPaths) == 0 {
        requestPaths = []string{""}
    }

    for _, scope := range requestPaths {
        if err := checkoutScope(store, wt, idx, commit.Tree, scope, progress, touched, cancel); err != nil {
            if treediff.IsCancelled(err) {
                return errors.New(errors.Cancelled, "checkout cancelled")
            }
            return err
        }
    }

    // Step 4: bump every touched entry's commit-id to the new base,
    // emitting bump-base progress events.
    for path := range touched {
        if e := idx.Get(path); e != nil {
            e.CommitID = targetCommit
            progress(status.BumpBase, path)
        }
    }

    // Step 5: write the index atomically; release the lock shared.
    if err := wt.WriteIndex(); err != nil {
        return err
    }

    baseRefErr := false
    if err := setProtectiveBaseRef(refStore, wt, targetCommit); err != nil {
        // Failure to set the protective base-commit reference (e.g.
        // read-only repository) is downgraded to a progress event
        // rather than aborting checkout.
        baseRefErr = true
        progress(status.BaseRefErr, "")
    }
    _ = baseRefErr

    if err := wt.SetBaseCommit(targetCommit); err != nil {
        return err
    }

    return wt.LockHandle().Downgrade()
}

func setProtectiveBaseRef(refStore refs.Store, wt *worktree.WorkTree, targetCommit objectstore.ID) error {
    return refStore.Alloc(wt.BaseCommitRef(), targetCommit)
}

// checkoutScope walks rootTree restricted to scope (a work-tree-relative
// path, "" for everything). treediff.Walk itself descends the tree
// structure to arbitrary depth regardless of what the index currently
// holds, so both directory and leaf-file scopes are handled the same way.
func checkoutScope(store objectstore.Store, wt *worktree.WorkTree, idx *index.Index, rootTree objectstore.ID, scope string, progress ProgressFunc, touched map[string]bool, cancel treediff.Cancel) error {
    cb := treediff.Callbacks{
        OldNew: func(e *index.Entry, te objectstore.TreeEntry, parent string) error {
            return installEntry(store, wt, idx, e, te, parent, progress, touched)
        },
        Old: func(e *index.Entry, parent string) error {
            // Present only in the index: nothing to install, but it's
            // still within scope and gets its base bumped.
            touched[e.Path] = true
            return nil
        },
        New: func(te objectstore.TreeEntry, parent string) error {
            return installNew(store, wt, idx, te, parent, progress, touched)
        },
    }
    return treediff.Walk(store, idx, rootTree, scope, cb, cancel)
}

func joinPath(parent, name string) string {
    if parent == "" {
        return name
    }
    return parent + "/" + name
}

func installEntry(store objectstore.Store, wt *worktree.WorkTree, idx *index.Index, e *index.Entry, te objectstore.TreeEntry, parent string, progress ProgressFunc, touched map[string]bool) error {
    touched[e.Path] = true
    if e.BlobID == te.ID {
        progress(status.NoChange, e.Path)
        return nil
    }
    ondiskPath := filepath.Join(wt.Root(), e.Path)
    installed, err := install(store, wt, te, e.Path, progress)
    if err != nil {
        return err
    }
    if !installed {
        return nil
    }
    e.BlobID = te.ID
    e.IsExec = te.Mode.IsExecutable()
    if te.Mode.IsSymlink() {
        e.FileType = index.TypeSymlink
    } else {
        e.FileType = index.TypeRegular
    }
    if err := e.SetStatFingerprint(ondiskPath); err != nil {
        return errors.Wrap(errors.IO, err, "stat %s", e.Path).WithPath(e.Path)
    }
    progress(status.Modify, e.Path)
    return nil
}

func installNew(store objectstore.Store, wt *worktree.WorkTree, idx *index.Index, te objectstore.TreeEntry, parent string, progress ProgressFunc, touched map[string]bool) error {
    rel := joinPath(parent, te.Name)
    touched[rel] = true

    ondiskPath := filepath.Join(wt.Root(), rel)
    installed, err := install(store, wt, te, rel, progress)
    if err != nil {
        return err
    }
    if !installed {
        return nil
    }

    ft := index.TypeRegular
    if te.Mode.IsSymlink() {
        ft = index.TypeSymlink
    }
    entry := idx.Get(rel)
    if entry == nil {
        entry = &index.Entry{
            Path:     rel,
            BlobID:   te.ID,
            IsExec:   te.Mode.IsExecutable(),
            FileType: ft,
        }
        if err := idx.Add(entry); err != nil {
            return err
        }
    }
    if err := entry.SetStatFingerprint(ondiskPath); err != nil {
        return errors.Wrap(errors.IO, err, "stat %s", rel).WithPath(rel)
    }
    progress(status.Add, rel)
    return nil
}

// install writes te's content to rel, reporting whether it actually
// installed anything (false when the target path is obstructed by a
// non-regular, non-symlink entry, which is reported as progress rather
// than an error).
func install(store objectstore.Store, wt *worktree.WorkTree, te objectstore.TreeEntry, rel string, progress ProgressFunc) (bool, error) {
    ondiskPath := filepath.Join(wt.Root(), rel)
    if err := os.MkdirAll(filepath.Dir(ondiskPath), 0755); err != nil {
        return false, errors.Wrap(errors.IO, err, "creating directories for %s", rel).WithPath(rel)
    }

    if te.Mode.IsSymlink() {
        target, err := store.ReadBlob(te.ID)
        if err != nil {
            return false, errors.Wrap(errors.IO, err, "reading symlink blob %s", te.ID).WithPath(rel)
        }
        _, err = merge.InstallSymlink(string(target), ondiskPath, wt.Root(), "."+dotName(wt))
        if err != nil {
            return false, errors.Wrap(errors.IO, err, "installing symlink %s", rel).WithPath(rel)
        }
        return true, nil
    }

    if err := merge.InstallBlob(store, te.ID, ondiskPath, te.Mode); err != nil {
        if errors.Is(err, errors.Obstructed) {
            progress(status.Obstructed, rel)
            return false, nil
        }
        return false, err
    }
    return true, nil
}

func dotName(wt *worktree.WorkTree) string {
    base := filepath.Base(wt.DotDir())
    return strings.TrimPrefix(base, ".")
}

// Revert restores paths to their base-commit content, discarding both
// local working-tree edits and any pending stage — the named revert
// operation of spec.md §1, not otherwise broken out into its own
// component since it is exactly Files' single-entry install path
// applied against the index's already-recorded base blob rather than a
// freshly opened commit tree.
func Revert(store objectstore.Store, wt *worktree.WorkTree, paths []string, progress ProgressFunc) error {
    if !wt.LockHandle().Exclusive() {
        return errors.New(errors.Busy, "revert requires the exclusive lock")
    }
    if progress == nil {
        progress = func(status.Code, string) {}
    }

    idx := wt.Index()
    for _, p := range paths {
        e := idx.Get(p)
        if e == nil {
            return errors.New(errors.BadPath, "not a tracked path: %s", p).WithPath(p)
        }
        ondisk := filepath.Join(wt.Root(), p)

        if !e.HasBlob() {
            // Never committed (schedule-add only): revert removes it.
            os.Remove(ondisk)
            idx.Remove(p)
            progress(status.Revert, p)
            continue
        }

        mode := objectstore.ModeRegular
        if e.IsExec {
            mode = objectstore.ModeExecutable
        }
        if e.FileType == index.TypeSymlink {
            mode = objectstore.ModeSymlink
        }
        te := objectstore.TreeEntry{Name: filepath.Base(p), ID: e.BlobID, Mode: mode}
        installed, err := install(store, wt, te, p, progress)
        if err != nil {
            return err
        }
        if installed {
            if err := e.SetStatFingerprint(ondisk); err != nil {
                return errors.Wrap(errors.IO, err, "stat %s", p).WithPath(p)
            }
        }
        e.Stage = index.StageNone
        e.StagedBlobID = ""
        progress(status.Revert, p)
    }

    if err := wt.WriteIndex(); err != nil {
        return err
    }
    return wt.LockHandle().Downgrade()
}

// Integrate is the supplemented thin C7 wrapper: fast-forward the work
// tree's head ref to another branch's tip and re-run Files over the
// full tree. Used when a rebase/histedit's tmp-branch already IS an
// ancestor-free fast-forward of the target, so no replay is needed.
func Integrate(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, targetRef string, cancel treediff.Cancel, progress ProgressFunc) error {
    targetCommit, err := refStore.Resolve(targetRef)
    if err != nil {
        return errors.Wrap(errors.IO, err, "resolving integrate target %s", targetRef)
    }
    if err := wt.SetHeadRef(targetRef); err != nil {
        return err
    }
    return Files(store, refStore, wt, nil, targetCommit, cancel, progress)
}
