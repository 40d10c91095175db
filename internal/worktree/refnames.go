package worktree

import "fmt"

// Rebase/histedit state is held entirely as repository references of
// well-known shapes derived from the work-tree uuid, per spec.md §3.
// These helpers are the single place those names are built so C9's two
// state machines (rebase, histedit) agree on them.

func (wt *WorkTree) TmpBranchRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/tmp-branch", wt.uuid)
}

func (wt *WorkTree) NewbaseSymref() string {
    return fmt.Sprintf("refs/tig/worktree/%s/newbase", wt.uuid)
}

func (wt *WorkTree) BranchSymref() string {
    return fmt.Sprintf("refs/tig/worktree/%s/branch", wt.uuid)
}

func (wt *WorkTree) CommitRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/commit", wt.uuid)
}

func (wt *WorkTree) BaseCommitRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/base-commit", wt.uuid)
}

// EditPausedRef names the ref histedit's Loop sets, to the paused
// commit's id, while stopped on an edit line — distinguishing a fresh
// arrival at that script line from a continue resuming it, since both
// otherwise look identical (commit-ref already parked at the same id).
func (wt *WorkTree) EditPausedRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/edit-paused", wt.uuid)
}

// EditMessageRef holds a paused edit's resolved "mesg" override (stored
// as a symref target, which is just an opaque string to this package)
// so it survives the stop/continue boundary alongside edit-paused.
func (wt *WorkTree) EditMessageRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/edit-message", wt.uuid)
}

// EditPathsRef holds the newline-joined set of paths the paused edit's
// merge touched (also stored as a symref target), so resuming it can
// re-read each path's current on-disk content fresh rather than trust
// whatever the merge first produced there.
func (wt *WorkTree) EditPathsRef() string {
    return fmt.Sprintf("refs/tig/worktree/%s/edit-paths", wt.uuid)
}

// DerivedRefs lists every ref the rebase/histedit journal may hold, in
// the order Abort/Complete should try to delete them.
func (wt *WorkTree) DerivedRefs() []string {
    return []string{
        wt.CommitRef(),
        wt.EditPausedRef(),
        wt.EditMessageRef(),
        wt.EditPathsRef(),
        wt.TmpBranchRef(),
        wt.NewbaseSymref(),
        wt.BranchSymref(),
        wt.BaseCommitRef(),
    }
}
