// Package histedit implements histedit (C9, histedit half): a
// journaled, script-driven replay of one branch's commits, letting
// the caller pick, edit, drop, fold or reword each one.
//
// Grounded on got_worktree_histedit_prepare/continue/commit/postpone/
// complete/abort/skip_commit in worktree.c, sharing its per-commit
// replay shape with internal/rebase via internal/replay (the teacher
// repo has no analogue for either).
package histedit

import (
    "bufio"
    "fmt"
    "strings"

    "tig/internal/commit"
    "tig/internal/errors"
    "tig/internal/objectstore"
    "tig/internal/refs"
    "tig/internal/replay"
    "tig/internal/worktree"
)

// Action is the closed set of histedit script verbs (spec.md §4.9).
type Action int

const (
    Pick Action = iota
    Edit
    Drop
    Fold
    Mesg
)

func (a Action) String() string {
    switch a {
    case Pick:
        return "pick"
    case Edit:
        return "edit"
    case Drop:
        return "drop"
    case Fold:
        return "fold"
    case Mesg:
        return "mesg"
    default:
        return "unknown"
    }
}

// Line is one parsed histedit-script entry.
type Line struct {
    Action  Action
    Commit  objectstore.ID
    Message string
}

// ParseScript parses the histedit-script file format of spec.md §6:
// one "<op> <id> [msg]" per line. mesg lines carry no id, only text.
func ParseScript(data []byte) ([]Line, error) {
    var lines []Line
    sc := bufio.NewScanner(strings.NewReader(string(data)))
    for sc.Scan() {
        raw := strings.TrimSpace(sc.Text())
        if raw == "" || strings.HasPrefix(raw, "#") {
            continue
        }
        parts := strings.SplitN(raw, " ", 2)
        op := parts[0]
        switch op {
        case "pick", "edit", "drop", "fold":
            if len(parts) < 2 {
                return nil, errors.New(errors.BadPath, "histedit script line missing commit id: %q", raw)
            }
            rest := strings.SplitN(parts[1], " ", 2)
            action := map[string]Action{"pick": Pick, "edit": Edit, "drop": Drop, "fold": Fold}[op]
            lines = append(lines, Line{Action: action, Commit: objectstore.ID(rest[0])})
        case "mesg":
            text := ""
            if len(parts) > 1 {
                text = parts[1]
            }
            lines = append(lines, Line{Action: Mesg, Message: text})
        default:
            return nil, errors.New(errors.BadPath, "unrecognized histedit action: %q", op)
        }
    }
    if err := sc.Err(); err != nil {
        return nil, errors.Wrap(errors.IO, err, "reading histedit script")
    }
    if len(lines) > 0 {
        last := lastCommitLine(lines)
        if last != nil && last.Action == Fold {
            return nil, errors.New(errors.FoldLast, "last commit in histedit script cannot be folded")
        }
    }
    return lines, nil
}

func lastCommitLine(lines []Line) *Line {
    for i := len(lines) - 1; i >= 0; i-- {
        if lines[i].Action != Mesg {
            return &lines[i]
        }
    }
    return nil
}

// FormatScript renders lines back to the on-disk histedit-script format.
func FormatScript(lines []Line) []byte {
    var b strings.Builder
    for _, l := range lines {
        if l.Action == Mesg {
            fmt.Fprintf(&b, "mesg %s\n", l.Message)
            continue
        }
        fmt.Fprintf(&b, "%s %s\n", l.Action, l.Commit)
    }
    return []byte(b.String())
}

// ValidateScript enforces spec.md §4.9: every non-dropped commit in
// sourceHistory must appear in the script (in any pick/edit/fold
// line; a drop line marks its commit as dropped), else missing-commit.
func ValidateScript(lines []Line, sourceHistory []objectstore.ID) error {
    inScript := make(map[objectstore.ID]bool, len(lines))
    for _, l := range lines {
        if l.Action == Pick || l.Action == Edit || l.Action == Fold || l.Action == Drop {
            inScript[l.Commit] = true
        }
    }
    for _, id := range sourceHistory {
        if !inScript[id] {
            return errors.New(errors.MissingCommit, "commit %s missing from histedit script", id)
        }
    }
    return nil
}

// State is the in-progress histedit's plan, mirroring rebase.State.
type State struct {
    BranchRef  string
    NewbaseRef string
    Script     []Line
}

// Prepare verifies the work tree is clean, validates sourceBranchRef's
// linear history against script, writes the derived refs (as
// rebase.Prepare does) plus base-commit-ref, and points the work
// tree's head at tmp-branch.
func Prepare(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, sourceBranchRef string, script []Line) (*State, error) {
    if !wt.LockHandle().Exclusive() {
        return nil, errors.New(errors.Busy, "histedit requires the exclusive lock")
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

    history, err := linearHistory(store, originalCommit, sourceCommit)
    if err != nil {
        return nil, err
    }
    if err := ValidateScript(script, history); err != nil {
        return nil, err
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
    if err := refStore.Alloc(wt.BaseCommitRef(), originalCommit); err != nil {
        return nil, errors.Wrap(errors.IO, err, "writing base-commit-ref")
    }
    if err := wt.SetHeadRef(wt.TmpBranchRef()); err != nil {
        return nil, err
    }

    return &State{BranchRef: sourceBranchRef, NewbaseRef: originalBranch, Script: script}, nil
}

// InProgress reports whether a rebase or histedit is in progress for
// wt (the two share the same derived-ref family).
func InProgress(refStore refs.Store, wt *worktree.WorkTree) bool {
    return refStore.Exists(wt.TmpBranchRef())
}

// linearHistory walks sourceCommit's first-parent chain back to (but
// not including) ontoCommit, oldest first, the set ValidateScript
// checks script coverage against.
func linearHistory(store objectstore.Store, ontoCommit, sourceCommit objectstore.ID) ([]objectstore.ID, error) {
    var rev []objectstore.ID
    cur := sourceCommit
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
            return nil, errors.New(errors.MissingCommit, "onto commit %s not found in %s's history", ontoCommit, sourceCommit)
        }
        cur = c.Parents[0]
    }
    out := make([]objectstore.ID, len(rev))
    for i, id := range rev {
        out[len(rev)-1-i] = id
    }
    return out, nil
}

// foldAccumulator carries path changes across fold lines until the
// next non-fold commit, per spec.md §4.9's fold semantics.
type foldAccumulator struct {
    changes []commit.PathChange
}

func (f *foldAccumulator) merge(changes []commit.PathChange) {
    byPath := make(map[string]int, len(f.changes))
    for i, c := range f.changes {
        byPath[c.RepoPath] = i
    }
    for _, c := range changes {
        if i, ok := byPath[c.RepoPath]; ok {
            f.changes[i] = c
            continue
        }
        byPath[c.RepoPath] = len(f.changes)
        f.changes = append(f.changes, c)
    }
}

// Loop drives script in order, replaying pick/edit/fold commits and
// skipping drop ones, stopping (returning stopped=true, nextIndex
// pointing back AT the same script index) at an edit line so the
// caller can let the user amend the working tree. The edit commit
// itself is not finalized at that point: Continue calling Loop again
// at that same index resumes it, re-deriving the commit's content from
// whatever is now on disk (replay.ReconcileWorkingTree) so a local edit
// made during the pause is folded in, then advances past it. skipOnce,
// if non-empty, implements histedit-skip-commit: the named commit's
// replay this call is skipped even though the script still lists it as
// pick/edit.
func Loop(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, script []Line, startIndex int, committer commit.Identity, now func() int64, skipOnce objectstore.ID) (nextIndex int, stopped bool, err error) {
    acc := &foldAccumulator{}
    pendingMessage := ""

    i := startIndex
    for i < len(script) {
        line := script[i]

        if line.Action == Mesg {
            pendingMessage = line.Message
            i++
            continue
        }
        if line.Action == Drop {
            i++
            continue
        }

        if skipOnce != "" && line.Commit == skipOnce {
            skipOnce = ""
            _ = refStore.Delete(wt.EditPausedRef())
            _ = refStore.Delete(wt.EditMessageRef())
            _ = refStore.Delete(wt.EditPathsRef())
            i++
            continue
        }

        if line.Action == Edit && refStore.Exists(wt.EditPausedRef()) {
            if paused, perr := refStore.Resolve(wt.EditPausedRef()); perr == nil && paused == line.Commit {
                if err := resumeEditPause(store, refStore, wt, line, committer, now); err != nil {
                    return i, false, err
                }
                i++
                continue
            }
        }

        if err := replay.CommitRefCheck(refStore, wt, line.Commit, errors.HisteditCommitID); err != nil {
            return i, false, err
        }

        src, err := store.OpenCommit(line.Commit)
        if err != nil {
            return i, false, errors.Wrap(errors.IO, err, "opening source commit %s", line.Commit)
        }
        if len(src.Parents) == 0 {
            return i, false, errors.New(errors.MissingCommit, "source commit %s has no parent", line.Commit)
        }
        parent, err := store.OpenCommit(src.Parents[0])
        if err != nil {
            return i, false, errors.Wrap(errors.IO, err, "opening parent commit %s", src.Parents[0])
        }

        changes, _, err := replay.MergeCommitAgainstParent(store, wt, parent.Tree, src.Tree)
        if err != nil {
            return i, false, err
        }

        if line.Action == Fold {
            acc.merge(changes)
            _ = refStore.Delete(wt.CommitRef())
            i++
            continue
        }

        // pick or edit: flush any accumulated fold changes into this commit.
        acc.merge(changes)
        message := src.Message
        if pendingMessage != "" {
            message = pendingMessage
        }
        pendingMessage = ""

        if len(acc.changes) == 0 {
            _ = refStore.Delete(wt.CommitRef())
            acc.changes = nil
            i++
            continue
        }

        if line.Action == Edit {
            // Pause here: the merged content is already live on disk
            // for the user to inspect or amend. Finalizing (FinishPerCommit)
            // waits for the continue that resumes at this same index,
            // which re-reads acc.changes' paths fresh off disk so a
            // hand edit made during the pause is folded in.
            paths := make([]string, len(acc.changes))
            for pi, c := range acc.changes {
                paths[pi] = c.RepoPath
            }
            if err := refStore.AllocSymref(wt.EditPathsRef(), strings.Join(paths, "\n")); err != nil {
                return i, false, errors.Wrap(errors.IO, err, "writing edit-paths")
            }
            if message != "" {
                if err := refStore.AllocSymref(wt.EditMessageRef(), message); err != nil {
                    return i, false, errors.Wrap(errors.IO, err, "writing edit-message")
                }
            }
            if err := refStore.Alloc(wt.EditPausedRef(), line.Commit); err != nil {
                return i, false, errors.Wrap(errors.IO, err, "writing edit-paused")
            }
            return i, true, nil
        }

        _, err = replay.FinishPerCommit(store, refStore, wt, acc.changes, src.Author, committer, message, now)
        if err != nil {
            return i, false, err
        }
        acc.changes = nil
        i++
    }
    return i, false, nil
}

// resumeEditPause finalizes the commit paused at line, re-reading each
// path the original merge touched (persisted in EditPathsRef) fresh
// off disk so a local edit made during the pause is folded in rather
// than overwritten by the merge's original content.
func resumeEditPause(store objectstore.Store, refStore refs.Store, wt *worktree.WorkTree, line Line, committer commit.Identity, now func() int64) error {
    pathsRef, _, err := refStore.Open(wt.EditPathsRef(), false)
    if err != nil {
        return errors.Wrap(errors.IO, err, "opening edit-paths")
    }
    var paths []string
    if pathsRef.Target != "" {
        paths = strings.Split(pathsRef.Target, "\n")
    }

    changes, err := replay.ReconcileWorkingTree(store, wt, paths)
    if err != nil {
        return err
    }

    src, err := store.OpenCommit(line.Commit)
    if err != nil {
        return errors.Wrap(errors.IO, err, "opening source commit %s", line.Commit)
    }
    message := src.Message
    if msgRef, _, merr := refStore.Open(wt.EditMessageRef(), false); merr == nil {
        message = msgRef.Target
    }

    if len(changes) > 0 {
        if _, err := replay.FinishPerCommit(store, refStore, wt, changes, src.Author, committer, message, now); err != nil {
            return err
        }
    } else {
        _ = refStore.Delete(wt.CommitRef())
    }
    _ = refStore.Delete(wt.EditPausedRef())
    _ = refStore.Delete(wt.EditMessageRef())
    _ = refStore.Delete(wt.EditPathsRef())

    return nil
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
// otherwise leave a purely local edit in place — including one left
// behind by an edit stop that never resumed), and reverts the work
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

// Postpone releases the work tree's lock to shared, leaving the
// journal in place for a later Continue — used by an edit stop or a
// manual interruption.
func Postpone(wt *worktree.WorkTree) error {
    return wt.LockHandle().Downgrade()
}

// SkipCommit lets a resumed histedit skip a commit whose edit stop the
// user decided not to act on, without rewriting the script's action
// for it to drop. It simply verifies the commit is the one currently
// parked in commit-ref and clears it; the next Loop call's skipOnce
// argument does the actual skipping.
func SkipCommit(refStore refs.Store, wt *worktree.WorkTree, commitID objectstore.ID) error {
    if !refStore.Exists(wt.CommitRef()) {
        return errors.New(errors.MissingCommit, "no commit parked in commit-ref to skip")
    }
    parked, err := refStore.Resolve(wt.CommitRef())
    if err != nil {
        return errors.Wrap(errors.IO, err, "resolving commit-ref")
    }
    if parked != commitID {
        return errors.New(errors.HisteditCommitID, "commit-ref %s does not match %s", parked, commitID)
    }
    return refStore.Delete(wt.CommitRef())
}
