// Package merge implements the file merger (C6): three-way merge of
// regular files and symlinks, and the install-blob/install-symlink
// primitives every checkout/merge/rebase path installs content through.
//
// Grounded on internal/safe.Safe's Store/Get (O_CREATE|O_EXCL,
// content-hashed, LRU-cached) adapted from content-store semantics to
// checkout installation, and on worktree.c's merge_file/install_symlink
// for the obstruction and conflict-marker rules. The textual 3-way hunk
// detection reuses internal/diff.Engine, kept and adapted from its
// line-diff form.
package merge

import (
    "bytes"
    "fmt"
    "os"
    "path/filepath"
    "syscall"

    "tig/internal/diff"
    "tig/internal/errors"
    "tig/internal/objectstore"
    "tig/internal/pathutil"
)

const maxSymlinkTarget = 4095 // PATH_MAX-1 on Linux

// InstallBlob writes blobID's content to ondiskPath, applying mode,
// per spec.md §4.6. It never overwrites a non-regular obstruction.
func InstallBlob(store objectstore.Store, blobID objectstore.ID, ondiskPath string, mode objectstore.FileMode) error {
    content, err := store.ReadBlob(blobID)
    if err != nil {
        return errors.Wrap(errors.IO, err, "reading blob %s", blobID)
    }
    return writeFileSafe(ondiskPath, content, mode)
}

func writeFileSafe(ondiskPath string, content []byte, mode objectstore.FileMode) error {
    perm := os.FileMode(0644)
    if mode.IsExecutable() {
        perm = 0755
    }

    f, err := os.OpenFile(ondiskPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY|syscall.O_NOFOLLOW, perm)
    if err != nil {
        if os.IsExist(err) {
            return writeViaTempAndRename(ondiskPath, content, perm)
        }
        if os.IsNotExist(err) {
            if mkErr := os.MkdirAll(filepath.Dir(ondiskPath), 0755); mkErr != nil {
                return errors.Wrap(errors.IO, mkErr, "creating parent directories")
            }
            return writeFileSafe(ondiskPath, content, mode)
        }
        return errors.Wrap(errors.IO, err, "creating %s", ondiskPath)
    }
    defer f.Close()
    if _, err := f.Write(content); err != nil {
        return errors.Wrap(errors.IO, err, "writing %s", ondiskPath)
    }
    return f.Sync()
}

// writeViaTempAndRename handles the EEXIST branch: the target already
// exists (from a prior checkout or as an obstruction). If it's not a
// regular file, installation is refused with Obstructed; otherwise the
// new content replaces it atomically.
func writeViaTempAndRename(ondiskPath string, content []byte, perm os.FileMode) error {
    fi, err := os.Lstat(ondiskPath)
    if err != nil {
        return errors.Wrap(errors.IO, err, "stat %s", ondiskPath)
    }
    if !fi.Mode().IsRegular() {
        return errors.New(errors.Obstructed, "refusing to overwrite non-regular file: %s", ondiskPath).WithPath(ondiskPath)
    }
    dir := filepath.Dir(ondiskPath)
    tmp, err := os.CreateTemp(dir, filepath.Base(ondiskPath)+".tmp*")
    if err != nil {
        return errors.Wrap(errors.IO, err, "creating temp file")
    }
    tmpName := tmp.Name()
    defer os.Remove(tmpName)
    if _, err := tmp.Write(content); err != nil {
        tmp.Close()
        return errors.Wrap(errors.IO, err, "writing temp file")
    }
    if err := tmp.Sync(); err != nil {
        tmp.Close()
        return errors.Wrap(errors.IO, err, "fsyncing temp file")
    }
    if err := tmp.Close(); err != nil {
        return errors.Wrap(errors.IO, err, "closing temp file")
    }
    if err := os.Chmod(tmpName, perm); err != nil {
        return errors.Wrap(errors.IO, err, "chmod temp file")
    }
    if err := os.Rename(tmpName, ondiskPath); err != nil {
        return errors.Wrap(errors.IO, err, "renaming into place")
    }
    return nil
}

// InstallSymlink installs target as a symlink at ondiskPath, validating
// it with pathutil.IsBadSymlinkTarget first. Unsafe or too-long targets
// are written as a regular file instead, and the caller is told to mark
// the index entry bad-symlink.
func InstallSymlink(target, ondiskPath, wtroot, dotdir string) (badSymlink bool, err error) {
    if len(target) > maxSymlinkTarget || pathutil.IsBadSymlinkTarget(target, ondiskPath, wtroot, dotdir) {
        if werr := writeFileSafe(ondiskPath, []byte(target), objectstore.ModeRegular); werr != nil {
            return true, werr
        }
        return true, nil
    }

    if err := os.Symlink(target, ondiskPath); err != nil {
        if os.IsExist(err) {
            if rmErr := os.Remove(ondiskPath); rmErr != nil {
                return false, errors.Wrap(errors.IO, rmErr, "removing existing entry at %s", ondiskPath)
            }
            if err := os.Symlink(target, ondiskPath); err != nil {
                return false, errors.Wrap(errors.IO, err, "creating symlink %s", ondiskPath)
            }
            return false, nil
        }
        if os.IsNotExist(err) {
            if mkErr := os.MkdirAll(filepath.Dir(ondiskPath), 0755); mkErr != nil {
                return false, errors.Wrap(errors.IO, mkErr, "creating parent directories")
            }
            if err := os.Symlink(target, ondiskPath); err != nil {
                return false, errors.Wrap(errors.IO, err, "creating symlink %s (retry)", ondiskPath)
            }
            return false, nil
        }
        return false, errors.Wrap(errors.IO, err, "creating symlink %s", ondiskPath)
    }
    return false, nil
}

// FileResult reports the outcome of a three-way file merge.
type FileResult struct {
    Conflicted bool
    // Subsumed is true when the merge produced zero conflict hunks and
    // the merged bytes equal the derived side byte-for-byte: local
    // changes were entirely subsumed by the incoming change.
    Subsumed bool
}

// File performs a three-way merge between an optional base blob, the
// "other derived" content, and the on-disk file at ondiskPath, per
// spec.md §4.6. A nil baseContent means both sides added the same path;
// an empty ancestor is used so both contents appear verbatim.
func File(baseContent, derivContent []byte, ondiskPath string, mode objectstore.FileMode, labelBase, labelDeriv string) (FileResult, error) {
    onDisk, err := os.ReadFile(ondiskPath)
    if err != nil {
        return FileResult{}, errors.Wrap(errors.IO, err, "reading %s", ondiskPath)
    }

    merged, conflicted, err := diff3(baseContent, derivContent, onDisk, labelBase, labelDeriv, "working file")
    if err != nil {
        return FileResult{}, err
    }

    perm := os.FileMode(0644)
    if mode.IsExecutable() {
        perm = 0755
    }
    if err := writeViaTempAndRename(ondiskPath, merged, perm); err != nil {
        return FileResult{}, err
    }

    subsumed := !conflicted && bytes.Equal(merged, derivContent)
    return FileResult{Conflicted: conflicted, Subsumed: subsumed}, nil
}

// diff3 is a line-based three-way merge: lines changed only on one side
// are taken from that side; lines changed on both sides to different
// content produce a conflict hunk in the traditional
// <<<<<<< / ||||||| / ======= / >>>>>>> format.
func diff3(base, deriv, local []byte, labelBase, labelDeriv, labelLocal string) (merged []byte, conflicted bool, err error) {
    engine := diff.NewEngine(0)
    baseLines := splitLines(base)
    derivLines := splitLines(deriv)
    localLines := splitLines(local)

    derivDiff, err := engine.Diff(base, deriv)
    if err != nil {
        return nil, false, errors.Wrap(errors.IO, err, "diffing base/derived")
    }
    localDiff, err := engine.Diff(base, local)
    if err != nil {
        return nil, false, errors.Wrap(errors.IO, err, "diffing base/local")
    }

    derivChanged := changedBaseLines(derivDiff)
    localChanged := changedBaseLines(localDiff)

    anyOverlap := false
    for ln := range derivChanged {
        if localChanged[ln] {
            anyOverlap = true
            break
        }
    }

    if !anyOverlap {
        return applyNonConflicting(baseLines, derivLines, localLines, derivChanged, localChanged), false, nil
    }

    var buf bytes.Buffer
    buf.WriteString(fmt.Sprintf("<<<<<<< %s\n", labelLocal))
    for _, l := range localLines {
        buf.WriteString(l)
        buf.WriteByte('\n')
    }
    buf.WriteString(fmt.Sprintf("||||||| %s\n", labelBase))
    for _, l := range baseLines {
        buf.WriteString(l)
        buf.WriteByte('\n')
    }
    buf.WriteString("=======\n")
    for _, l := range derivLines {
        buf.WriteString(l)
        buf.WriteByte('\n')
    }
    buf.WriteString(fmt.Sprintf(">>>>>>> %s\n", labelDeriv))
    return buf.Bytes(), true, nil
}

func splitLines(content []byte) []string {
    if len(content) == 0 {
        return nil
    }
    trimmed := bytes.TrimSuffix(content, []byte{'\n'})
    parts := bytes.Split(trimmed, []byte{'\n'})
    out := make([]string, len(parts))
    for i, p := range parts {
        out[i] = string(p)
    }
    return out
}

func changedBaseLines(result *diff.DiffResult) map[int]bool {
    changed := make(map[int]bool)
    for _, h := range result.Hunks {
        for i := 0; i < h.OldLines; i++ {
            changed[h.OldStart+i] = true
        }
    }
    return changed
}

// applyNonConflicting takes local's version when local changed a line,
// deriv's version when deriv changed it, and base's otherwise. This is
// a pragmatic merge for the non-overlapping case; true diff3 hunk
// placement is handled by the external diff/merge-3 collaborator in a
// production deployment, per spec.md §1's scope note — this in-module
// fallback keeps unit tests self-contained.
func applyNonConflicting(base, deriv, local []string, derivChanged, localChanged map[int]bool) []byte {
    var buf bytes.Buffer
    for i := range base {
        line := base[i]
        switch {
        case localChanged[i+1] && i < len(local):
            line = local[i]
        case derivChanged[i+1] && i < len(deriv):
            line = deriv[i]
        }
        buf.WriteString(line)
        buf.WriteByte('\n')
    }
    // Trailing additions beyond base's length: prefer local's tail,
    // then deriv's.
    if len(local) > len(base) {
        for _, l := range local[len(base):] {
            buf.WriteString(l)
            buf.WriteByte('\n')
        }
    } else if len(deriv) > len(base) {
        for _, l := range deriv[len(base):] {
            buf.WriteString(l)
            buf.WriteByte('\n')
        }
    }
    return buf.Bytes()
}

// SymlinkResult reports the outcome of a three-way symlink merge.
type SymlinkResult struct {
    Conflicted bool
    Target     string // the resulting target when not conflicted
}

// Symlink implements the three-way merge directly on target strings,
// per spec.md §4.6. baseTarget/derivTarget may be empty to mean
// "deleted".
func Symlink(baseTarget, derivTarget, localTarget string) SymlinkResult {
    if derivTarget == localTarget {
        return SymlinkResult{Conflicted: false, Target: localTarget}
    }
    if derivTarget == baseTarget {
        return SymlinkResult{Conflicted: false, Target: localTarget}
    }
    if localTarget == baseTarget {
        return SymlinkResult{Conflicted: false, Target: derivTarget}
    }
    return SymlinkResult{Conflicted: true}
}

// ConflictContent formats the regular-file replacement for a conflicted
// symlink merge, per the exact layout in spec.md §4.6.
func ConflictContent(labelDeriv, derivTarget, labelBase, baseTarget, localTarget string) []byte {
    var buf bytes.Buffer
    fmt.Fprintf(&buf, "<<<<<<< %s\n", labelDeriv)
    if derivTarget == "" {
        buf.WriteString("(symlink was deleted)\n")
    } else {
        fmt.Fprintf(&buf, "%s\n", derivTarget)
    }
    if labelBase != "" {
        fmt.Fprintf(&buf, "%s\n%s\n", labelBase, baseTarget)
    }
    buf.WriteString("=======\n")
    fmt.Fprintf(&buf, "%s\n", localTarget)
    buf.WriteString(">>>>>>>\n")
    return buf.Bytes()
}
