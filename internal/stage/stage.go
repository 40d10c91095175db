// Package stage implements stage/unstage (C10): recording a path's
// local modifications into the index as a pending stage, optionally at
// hunk granularity via a patch callback.
//
// Generalized from internal/workspace.LocalWorkspace's Gate/Ungate
// (whole-file-only gating against a Badger-backed change map) into
// hunk-level staging driven by internal/diff.Engine and backed by the
// file index instead.
package stage

import (
    "bytes"
    "os"
    "path/filepath"

    "tig/internal/diff"
    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/merge"
    "tig/internal/objectstore"
    "tig/internal/status"
    "tig/internal/worktree"
)

// Decision is the closed set of per-hunk choices a patch callback returns.
type Decision int

const (
    Accept Decision = iota
    Reject
    Quit
)

// PatchFunc presents one hunk of path's diff for accept/reject. Quit
// stops presenting further hunks for the current path, retaining
// whatever was decided so far.
type PatchFunc func(path string, hunk diff.Hunk) (Decision, error)

const diffContextLines = 3

// Stage pre-flight checks paths (rejecting conflict or non-existent
// status), then for each modify/add blob-creates the whole file or, if
// patch is non-nil, walks the diff against the current staged-or-base
// content hunk by hunk and blob-creates only the accepted hunks. Delete
// paths get stage code delete with no blob. Returns the number of
// paths changed; no-changes if zero.
func Stage(store objectstore.Store, eng *status.Engine, wt *worktree.WorkTree, paths []string, patch PatchFunc) (int, error) {
    idx := wt.Index()
    changed := 0

    for _, p := range paths {
        e := idx.Get(p)
        ondisk := filepath.Join(wt.Root(), p)
        cls, err := eng.Classify(p, ondisk, e)
        if err != nil {
            return changed, err
        }
        if cls.Code == status.Conflict {
            return changed, errors.New(errors.Conflicts, "cannot stage a conflicted path: %s", p).WithPath(p)
        }
        if cls.Code == status.NonExistent || cls.Code == status.Unversioned {
            return changed, errors.New(errors.FileStatus, "path has no trackable status: %s", p).WithPath(p)
        }

        if cls.Code == status.Delete || cls.Code == status.Missing {
            if err := idx.SetStage(p, index.StageDelete, "", e.FileType); err != nil {
                return changed, err
            }
            changed++
            continue
        }

        if cls.Code != status.Modify && cls.Code != status.Add && cls.Code != status.ModeChange {
            continue
        }

        current, ft, err := readWorking(ondisk)
        if err != nil {
            return changed, errors.Wrap(errors.IO, err, "reading %s", p).WithPath(p)
        }

        baseBlob := cls.BlobID
        if e != nil && e.Stage != index.StageNone {
            baseBlob = cls.StagedBlobID
        }
        var base []byte
        if baseBlob != "" {
            base, err = store.ReadBlob(baseBlob)
            if err != nil {
                return changed, errors.Wrap(errors.IO, err, "reading blob %s", baseBlob).WithPath(p)
            }
        }

        var content []byte
        if patch == nil {
            content = current
        } else {
            result, decisions, any, err := gatherDecisions(p, base, current, patch)
            if err != nil {
                return changed, err
            }
            if !any {
                continue
            }
            content = reconstruct(base, result, decisions, acceptedSide)
        }

        id, err := store.BlobCreate(content)
        if err != nil {
            return changed, errors.Wrap(errors.IO, err, "blob-create %s", p).WithPath(p)
        }

        stageCode := index.StageModify
        if cls.Code == status.Add {
            stageCode = index.StageAdd
        }
        if err := idx.SetStage(p, stageCode, id, ft); err != nil {
            return changed, err
        }
        changed++
    }

    if changed == 0 {
        return 0, errors.New(errors.NoChanges, "no changes to stage")
    }
    return changed, nil
}

// Unstage reverses Stage, optionally per hunk: it three-way-merges the
// unstaged content back into the working file (base blob as ancestor)
// and creates a new staged blob from whatever hunks are retained, or
// clears the stage entirely if nothing is retained. Paths with nothing
// staged are skipped; if none had anything staged it returns 0 and no
// error.
func Unstage(store objectstore.Store, wt *worktree.WorkTree, paths []string, patch PatchFunc) (int, error) {
    idx := wt.Index()
    changed := 0

    for _, p := range paths {
        e := idx.Get(p)
        if e == nil || e.Stage == index.StageNone {
            continue
        }
        ondisk := filepath.Join(wt.Root(), p)

        if e.Stage == index.StageDelete {
            if err := idx.SetStage(p, index.StageNone, "", e.FileType); err != nil {
                return changed, err
            }
            changed++
            continue
        }

        staged, err := store.ReadBlob(e.StagedBlobID)
        if err != nil {
            return changed, errors.Wrap(errors.IO, err, "reading staged blob %s", e.StagedBlobID).WithPath(p)
        }
        var base []byte
        if e.BlobID != "" {
            base, err = store.ReadBlob(e.BlobID)
            if err != nil {
                return changed, errors.Wrap(errors.IO, err, "reading blob %s", e.BlobID).WithPath(p)
            }
        }

        if patch == nil {
            if err := writeWorking(ondisk, staged, e.FileType); err != nil {
                return changed, err
            }
            if err := idx.SetStage(p, index.StageNone, "", e.FileType); err != nil {
                return changed, err
            }
            changed++
            continue
        }

        // Hunks the user accepts are the ones moving back to the working
        // file; hunks left rejected stay staged. Each hunk is presented
        // to patch exactly once; both reconstructions replay the same
        // recorded decisions.
        result, decisions, any, err := gatherDecisions(p, base, staged, patch)
        if err != nil {
            return changed, err
        }
        if !any {
            continue
        }
        unstagedContent := reconstruct(base, result, decisions, acceptedSide)
        retainedContent := reconstruct(base, result, decisions, rejectedSide)

        if e.FileType == index.TypeSymlink {
            localTarget, _ := os.Readlink(ondisk)
            res := merge.Symlink(string(base), string(unstagedContent), localTarget)
            os.Remove(ondisk)
            if res.Conflicted {
                content := merge.ConflictContent("unstaged", string(unstagedContent), "base", string(base), localTarget)
                if err := writeWorking(ondisk, content, index.TypeRegular); err != nil {
                    return changed, err
                }
            } else if err := os.Symlink(res.Target, ondisk); err != nil {
                return changed, errors.Wrap(errors.IO, err, "installing merged symlink %s", p).WithPath(p)
            }
        } else {
            mode := objectstore.ModeRegular
            if e.IsExec {
                mode = objectstore.ModeExecutable
            }
            if _, err := merge.File(base, unstagedContent, ondisk, mode, "base", "unstaged"); err != nil {
                return changed, err
            }
        }

        if bytes.Equal(retainedContent, base) {
            if err := idx.SetStage(p, index.StageNone, "", e.FileType); err != nil {
                return changed, err
            }
        } else {
            id, err := store.BlobCreate(retainedContent)
            if err != nil {
                return changed, errors.Wrap(errors.IO, err, "blob-create %s", p).WithPath(p)
            }
            if err := idx.SetStage(p, e.Stage, id, e.FileType); err != nil {
                return changed, err
            }
        }
        changed++
    }

    return changed, nil
}

type side int

const (
    acceptedSide side = iota
    rejectedSide
)

// gatherDecisions diffs base against deriv and presents each hunk to
// patch exactly once, stopping early on Quit. any is true once at
// least one hunk was accepted.
func gatherDecisions(path string, base, deriv []byte, patch PatchFunc) (*diff.DiffResult, []Decision, bool, error) {
    eng := diff.NewEngine(diffContextLines)
    result, err := eng.Diff(base, deriv)
    if err != nil {
        return nil, nil, false, errors.Wrap(errors.IO, err, "diffing %s", path).WithPath(path)
    }

    decisions := make([]Decision, 0, len(result.Hunks))
    any := false
    for _, hunk := range result.Hunks {
        decision, err := patch(path, hunk)
        if err != nil {
            return nil, nil, false, err
        }
        if decision == Quit {
            break
        }
        if decision == Accept {
            any = true
        }
        decisions = append(decisions, decision)
    }
    return result, decisions, any, nil
}

// reconstruct rebuilds content from base, applying each hunk's deriv
// lines when it was accepted and want is acceptedSide, or when it was
// rejected (or never decided, i.e. quit-before-reached) and want is
// rejectedSide; otherwise the hunk's base lines are kept.
func reconstruct(base []byte, result *diff.DiffResult, decisions []Decision, want side) []byte {
    baseLines := bytes.Split(bytes.TrimSuffix(base, []byte{'\n'}), []byte{'\n'})
    var out [][]byte
    cursor := 0

    for i, hunk := range result.Hunks {
        accepted := i < len(decisions) && decisions[i] == Accept
        applyHunk := accepted == (want == acceptedSide)

        for cursor < hunk.OldStart-1 {
            out = append(out, baseLines[cursor])
            cursor++
        }

        for _, line := range hunk.Lines {
            switch line.Type {
            case diff.Context:
                out = append(out, []byte(line.Content))
                cursor++
            case diff.Deletion:
                if !applyHunk {
                    out = append(out, []byte(line.Content))
                }
                cursor++
            case diff.Addition:
                if applyHunk {
                    out = append(out, []byte(line.Content))
                }
            }
        }
    }

    for cursor < len(baseLines) {
        out = append(out, baseLines[cursor])
        cursor++
    }

    joined := bytes.Join(out, []byte{'\n'})
    if bytes.HasSuffix(base, []byte{'\n'}) {
        joined = append(joined, '\n')
    }
    return joined
}

func readWorking(ondisk string) ([]byte, index.FileType, error) {
    fi, err := os.Lstat(ondisk)
    if err != nil {
        return nil, index.TypeRegular, err
    }
    if fi.Mode()&os.ModeSymlink != 0 {
        target, err := os.Readlink(ondisk)
        if err != nil {
            return nil, index.TypeSymlink, err
        }
        return []byte(target), index.TypeSymlink, nil
    }
    content, err := os.ReadFile(ondisk)
    return content, index.TypeRegular, err
}

func writeWorking(ondisk string, content []byte, ft index.FileType) error {
    if ft == index.TypeSymlink {
        os.Remove(ondisk)
        return os.Symlink(string(content), ondisk)
    }
    return os.WriteFile(ondisk, content, 0644)
}
