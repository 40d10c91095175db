// Package rebase implements rebase (C9, rebase half): a journaled loop
// replaying one branch's commits onto another branch's tip, its state
// surviving process exit as reference-store entries rather than any
// Badger-backed bookkeeping.
//
// Grounded directly on got_worktree_rebase_prepare/continue/commit/
// postpone/complete/abort in worktree.c — the teacher repo has no
// rebase analogue, so the shape here is new, built in the teacher's
// idiom (typed errors.Kind returns, zap step logging via the caller,
// reference collaborators instead of a KV store). Shares its
// per-commit replay machinery with internal/histedit via
// internal/replay, the way worktree.c's rebase and histedit families
// share got_worktree_rebase_commit's merge shape.
package rebase

import (
    "tig/internal/commit"
    "tig/internal/errors"
    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/replay"
    "tig/internal/worktree"
)

// State is the in-progress rebase's plan: the commits to replay,
// oldest first, and the branches involved. It is reconstructible from
// the derived refs alone (InProgress below only checks that they
// exist), this copy is a
// convenience for the caller driving Continue.
type State struct {
    BranchRef  string
    NewbaseRef string
    Commits    []objectstore.ID
}

// Prepare verifies the work tree is clean, computes the linear commit
// sequence between the work tree's current branch (which supplies the
// new base) and sourceBranchRef's tip (the branch being rewritten),
// and writes the three derived refs (newbase-symref, branch-symref,
// tmp-branch), then points the work tree's head at tmp-branch.
func Prepare(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, sourceBranchRef string) (*State, error) {
    if !wt.LockHandle().Exclusive() {
        return nil, errors.New(errors.Busy, "rebase requires the exclusive lock")
    }
    if InProgress(refStore, wt) {
        return nil, errors.New(errors.Busy, "a rebase or histedit is already in progress")
    }
    if err := replay.RequireClean(store, wt); err != nil {
        return nil, err
    }

    originalBranch := wt.HeadRef()
    originalCommit, err := refStore.Resolve(originalBranch)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "resolving %s", originalBranch)
    }
    sourceCommit, err := refStore.Resolve(sourceBranchRef)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "resolving %s", sourceBranchRef)
    }

    commits, err := linearCommits(store, originalCommit, sourceCommit)
    if err != nil {
        return nil, err
    }
    if len(commits) == 0 {
        return nil, errors.New(errors.NoChanges, "%s is already up to date with %s", sourceBranchRef, originalBranch)
    }

    if err := refStore.AllocSymref(wt.NewbaseSymref(), originalBranch); err != nil {
        return nil, errors.Wrap(errors.IO, err, "writing newbase-symref")
    }
    if err := refStore.AllocSymref(wt.BranchSymref(), sourceBranchRef); err != nil {
        return nil, errors.Wrap(errors.IO, err, "writing branch-symref")
    }
    if err := refStore.Alloc(wt.TmpBranchRef(), originalCommit); err != nil {
        return nil, errors.Wrap(errors.IO, err, "writing tmp-branch")
    }
    if err := wt.SetHeadRef(wt.TmpBranchRef()); err != nil {
        return nil, err
    }

    return &State{BranchRef: sourceBranchRef, NewbaseRef: originalBranch, Commits: commits}, nil
}

// InProgress reports whether a rebase (or histedit, which shares the
// same derived-ref family) is currently in progress for wt.
func InProgress(refStore refs.Store, wt *worktree.WorkTree) bool {
    return refStore.Exists(wt.TmpBranchRef())
}

// linearCommits walks branchCommit's first-parent chain back to (but
// not including) ontoCommit, returning the result oldest-first. Errors
// with MissingCommit if ontoCommit is never reached (the branch has no
// linear ancestry to it — a merge-base computation is out of scope).
func linearCommits(store objectstore.Store, ontoCommit, branchCommit objectstore.ID) ([]objectstore.ID, error) {
    var rev []objectstore.ID
    cur := branchCommit
    for {
        if cur == ontoCommit {
            break
        }
        c, err := store.OpenCommit(cur)
        if err != nil {
            return nil, errors.Wrap(errors.IO, err, "opening commit %s", cur)
        }
        rev = append(rev, cur)
        if len(c.Parents) == 0 {
            return nil, errors.New(errors.MissingCommit, "onto commit %s not found in %s's history", ontoCommit, branchCommit)
        }
        cur = c.Parents[0]
    }
    out := make([]objectstore.ID, len(rev))
    for i, id := range rev {
        out[len(rev)-1-i] = id
    }
    return out, nil
}

// PerCommit implements the "Per commit" algorithm of spec.md §4.9 for
// a single source commit: idempotent commit-ref bookkeeping, the
// three-way merge of the source commit against its parent into the
// work tree, and the shared commit-and-advance tail. elided is true
// when the merge touched no paths (the commit contributed nothing and
// was skipped, per spec).
func PerCommit(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, sourceID objectstore.ID, committer commit.Identity, now func() int64) (newCommit objectstore.ID, conflicted bool, elided bool, err error) {
    if err := replay.CommitRefCheck(refStore, wt, sourceID, errors.RebaseCommitID); err != nil {
        return "", false, false, err
    }

    src, err := store.OpenCommit(sourceID)
    if err != nil {
        return "", false, false, errors.Wrap(errors.IO, err, "opening source commit %s", sourceID)
    }
    if len(src.Parents) == 0 {
        return "", false, false, errors.New(errors.MissingCommit, "source commit %s has no parent", sourceID)
    }
    parent, err := store.OpenCommit(src.Parents[0])
    if err != nil {
        return "", false, false, errors.Wrap(errors.IO, err, "opening parent commit %s", src.Parents[0])
    }

    changes, conflicted, err := replay.MergeCommitAgainstParent(store, wt, parent.Tree, src.Tree)
    if err != nil {
        return "", false, false, err
    }
    if len(changes) == 0 {
        _ = refStore.Delete(wt.CommitRef())
        return "", false, true, nil
    }

    newCommit, err = replay.FinishPerCommit(store, refStore, wt, changes, src.Author, commit.Identity{Name: committer.Name, Email: committer.Email}, src.Message, now)
    if err != nil {
        return "", conflicted, false, err
    }
    return newCommit, conflicted, false, nil
}

// Complete resolves tmp-branch, fast-forwards the original branch to
// it, points the work tree's head back at that branch, and deletes
// every derived ref.
func Complete(refStore refs.Store, wt *worktree.WorkTree) error {
    tipID, err := refStore.Resolve(wt.TmpBranchRef())
    if err != nil {
        return errors.Wrap(errors.IO, err, "resolving tmp-branch")
    }
    branchRefRef, _, err := refStore.Open(wt.BranchSymref(), false)
    if err != nil {
        return errors.Wrap(errors.IO, err, "opening branch-symref")
    }
    targetBranch := branchRefRef.Target

    if err := refStore.Alloc(targetBranch, tipID); err != nil {
        return errors.Wrap(errors.IO, err, "updating %s", targetBranch)
    }
    if err := wt.SetHeadRef(targetBranch); err != nil {
        return err
    }
    if err := wt.SetBaseCommit(tipID); err != nil {
        return err
    }
    return replay.DeleteDerivedRefs(refStore, wt)
}

// Abort reads newbase-symref, restores the work tree's head to the
// branch it was originally on, deletes derived refs, reverts every
// locally modified path (the caller's final checkoutFiles skips a path
// whose index entry already matches the target tree, which would
// otherwise leave a purely local edit in place), and reverts the work
// tree to the original base commit (the caller's checkoutFiles
// callback re-checks out the full tree at that commit).
func Abort(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, checkoutFiles func(targetCommit objectstore.ID) error) error {
    newbaseRef, _, err := refStore.Open(wt.NewbaseSymref(), false)
    if err != nil {
        return errors.Wrap(errors.IO, err, "opening newbase-symref")
    }
    originalBranch := newbaseRef.Target
    originalCommit, err := refStore.Resolve(originalBranch)
    if err != nil {
        return errors.Wrap(errors.IO, err, "resolving %s", originalBranch)
    }

    if err := wt.SetHeadRef(originalBranch); err != nil {
        return err
    }
    if err := wt.SetBaseCommit(originalCommit); err != nil {
        return err
    }
    if err := replay.DeleteDerivedRefs(refStore, wt); err != nil {
        return err
    }
    if err := replay.RevertLocalModifications(store, wt); err != nil {
        return err
    }
    if checkoutFiles != nil {
        return checkoutFiles(originalCommit)
    }
    return nil
}

// Postpone leaves the derived refs and tmp-branch in place (the
// journal already survives process exit by construction) but releases
// the work tree's lock to shared, letting other read operations
// proceed while the rebase is paused. Distinct from Abort: nothing is
// undone, a later Prepare-free Continue resumes from commit-ref.
func Postpone(wt *worktree.WorkTree) error {
    return wt.LockHandle().Downgrade()
}
