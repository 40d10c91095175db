// Package worktree implements the metadata store (C1): the on-disk
// dot-directory holding a work tree's control files, and the WorkTree
// value other components operate on.
//
// Grounded on internal/config.Load's read-whole-file-then-decode shape
// (generalized from one JSON file to several newline-terminated
// sentinel files) and on got_worktree_init/got_worktree_open in
// worktree.c for the exact file set, validation order, and the parent
// walk used by Open.
package worktree

import (
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "tig/internal/errors"
    "tig/internal/index"
    "tig/internal/logging"
    "tig/internal/objectstore"
)

const FormatVersion = 1

const (
    fileFormat     = "format"
    fileUUID       = "uuid"
    fileRepository = "repository"
    filePathPrefix = "path-prefix"
    fileHeadRef    = "head-ref"
	fileBaseCommit = "base-commit"
    fileIndex      = "file-index"
    fileLock       = "lock"
    fileHisteditScript = "histedit-script"
)

// WorkTree is the in-memory representation of an open work tree: its
// root, the parsed contents of its dot-directory, and a held lock.
type WorkTree struct {
    root    string // canonical (realpath) absolute path
    dotName string

    format     int
    uuid       string
    repoPath   string
    pathPrefix string
    headRef    string
    baseCommit objectstore.ID

    index *index.Index
    lock  *Lock

    log *logging.Logger
}

func (wt *WorkTree) Root() string                  { return wt.root }
func (wt *WorkTree) DotDir() string                 { return filepath.Join(wt.root, "."+wt.dotName) }
func (wt *WorkTree) Format() int                    { return wt.format }
func (wt *WorkTree) UUID() string                   { return wt.uuid }
func (wt *WorkTree) Repository() string             { return wt.repoPath }
func (wt *WorkTree) PathPrefix() string             { return wt.pathPrefix }
func (wt *WorkTree) HeadRef() string                { return wt.headRef }
func (wt *WorkTree) BaseCommit() objectstore.ID     { return wt.baseCommit }
func (wt *WorkTree) Index() *index.Index            { return wt.index }

func metaPath(dotDir, name string) string { return filepath.Join(dotDir, name) }

func readSentinel(path string) (string, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return "", err
    }
    if len(data) == 0 || data[len(data)-1] != '\n' {
        return "", fmt.Errorf("%s: missing trailing newline", path)
    }
    return string(data[:len(data)-1]), nil
}

func writeSentinelAtomic(dotDir, name, value string) error {
    path := metaPath(dotDir, name)
    tmp, err := os.CreateTemp(dotDir, name+".tmp*")
    if err != nil {
        return err
    }
    tmpName := tmp.Name()
    defer os.Remove(tmpName)

    if _, err := tmp.WriteString(value + "\n"); err != nil {
        tmp.Close()
        return err
    }
    if err := tmp.Sync(); err != nil {
        tmp.Close()
        return err
    }
    if err := tmp.Close(); err != nil {
        return err
    }
    return os.Rename(tmpName, path)
}

// Init creates a new work tree rooted at path, writing all control
// files. headRef is either a branch ref name or a direct commit ID;
// prefix is the in-repository path this work tree mirrors ("/" for a
// full checkout); repo is the absolute path of the associated object
// store.
func Init(path, dotName, headRef, prefix, repo, baseCommit string) (*WorkTree, error) {
    root, err := canonicalRoot(path)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "resolving work tree root")
    }
    if dotName == "" {
        dotName = "tig"
    }
    dotDir := filepath.Join(root, "."+dotName)

    if _, err := os.Stat(dotDir); err == nil {
        return nil, errors.New(errors.MetaCorrupt, "work tree already initialized at %s", root)
    }
    if err := os.MkdirAll(dotDir, 0755); err != nil {
        return nil, errors.Wrap(errors.IO, err, "creating dot-directory")
    }

    sentinels := map[string]string{
        fileFormat:     fmt.Sprintf("%d", FormatVersion),
        fileUUID:       newUUID(),
        fileRepository: repo,
        filePathPrefix: normalizePrefix(prefix),
        fileHeadRef:    headRef,
        fileBaseCommit: baseCommit,
    }
    for name, value := range sentinels {
        if err := writeSentinelAtomic(dotDir, name, value); err != nil {
            return nil, errors.Wrap(errors.IO, err, "writing %s", name)
        }
    }
    if err := os.WriteFile(metaPath(dotDir, fileLock), nil, 0644); err != nil {
        return nil, errors.Wrap(errors.IO, err, "creating lock file")
    }

    idx := index.New(metaPath(dotDir, fileIndex))
    if err := idx.Write(); err != nil {
        return nil, err
    }

    return Open(root, dotName)
}

// Open walks parent directories from path until it finds the
// dot-directory or reaches the filesystem root, then loads every
// control file and acquires a non-blocking exclusive lock.
func Open(path, dotName string) (*WorkTree, error) {
    if dotName == "" {
        dotName = "tig"
    }
    root, dotDir, err := findDotDir(path, dotName)
    if err != nil {
        return nil, err
    }

    wt := &WorkTree{root: root, dotName: dotName}

    formatStr, err := readSentinel(metaPath(dotDir, fileFormat))
    if err != nil {
        return nil, errors.Wrap(errors.MetaCorrupt, err, "reading format")
    }
    var format int
    if _, err := fmt.Sscanf(formatStr, "%d", &format); err != nil {
        return nil, errors.Wrap(errors.MetaCorrupt, err, "parsing format")
    }
    if format != FormatVersion {
        return nil, errors.New(errors.WrongVersion, "work tree format %d, engine expects %d", format, FormatVersion)
    }
    wt.format = format

    fields := []struct {
        name string
        dst  *string
    }{
        {fileUUID, &wt.uuid},
        {fileRepository, &wt.repoPath},
        {filePathPrefix, &wt.pathPrefix},
        {fileHeadRef, &wt.headRef},
    }
    for _, f := range fields {
        v, err := readSentinel(metaPath(dotDir, f.name))
        if err != nil {
            return nil, errors.Wrap(errors.MetaCorrupt, err, "reading %s", f.name)
        }
        *f.dst = v
    }
    baseCommit, err := readSentinel(metaPath(dotDir, fileBaseCommit))
    if err != nil {
        return nil, errors.Wrap(errors.MetaCorrupt, err, "reading base-commit")
    }
    wt.baseCommit = objectstore.ID(baseCommit)

    lock, err := openLock(metaPath(dotDir, fileLock))
    if err != nil {
        return nil, err
    }
    if err := lock.Acquire(true); err != nil {
        return nil, err
    }
    wt.lock = lock

    idx, err := index.Open(metaPath(dotDir, fileIndex))
    if err != nil {
        lock.Release()
        return nil, err
    }
    wt.index = idx

    return wt, nil
}

func findDotDir(start, dotName string) (root, dotDir string, err error) {
    abs, err := canonicalRoot(start)
    if err != nil {
        return "", "", errors.Wrap(errors.IO, err, "resolving path")
    }
    dir := abs
    for {
        candidate := filepath.Join(dir, "."+dotName)
        if fi, statErr := os.Stat(candidate); statErr == nil && fi.IsDir() {
            return dir, candidate, nil
        }
        parent := filepath.Dir(dir)
        if parent == dir {
            return "", "", errors.New(errors.NotAWorktree, "not a work tree (or any parent): %s", start)
        }
        dir = parent
    }
}

// canonicalRoot resolves path to an absolute, symlink-resolved form,
// the Go equivalent of realpath. Per the spec's explicit design note,
// this must be realpath, never a bare string copy, so later path
// comparisons use the canonical form.
func canonicalRoot(path string) (string, error) {
    abs, err := filepath.Abs(path)
    if err != nil {
        return "", err
    }
    resolved, err := filepath.EvalSymlinks(abs)
    if err != nil {
        return "", err
    }
    return resolved, nil
}

func normalizePrefix(prefix string) string {
    if prefix == "" {
        return "/"
    }
    if !strings.HasPrefix(prefix, "/") {
        return "/" + prefix
    }
    return prefix
}

// Close releases the lock and discards in-memory state. It does not
// write anything; callers that mutated the index must call Write first.
func (wt *WorkTree) Close() error {
    if wt.lock != nil {
        wt.lock.Release()
    }
    return nil
}

// SetHeadRef atomically updates the head-ref control file.
func (wt *WorkTree) SetHeadRef(ref string) error {
    if err := writeSentinelAtomic(wt.DotDir(), fileHeadRef, ref); err != nil {
        return errors.Wrap(errors.IO, err, "writing head-ref")
    }
    wt.headRef = ref
    return nil
}

// SetBaseCommit atomically updates the base-commit control file.
func (wt *WorkTree) SetBaseCommit(id objectstore.ID) error {
    if err := writeSentinelAtomic(wt.DotDir(), fileBaseCommit, string(id)); err != nil {
        return errors.Wrap(errors.IO, err, "writing base-commit")
    }
    wt.baseCommit = id
    return nil
}

// HisteditScriptPath returns the path to the histedit-script file.
func (wt *WorkTree) HisteditScriptPath() string {
    return metaPath(wt.DotDir(), fileHisteditScript)
}

// WriteIndex atomically rewrites the file index.
func (wt *WorkTree) WriteIndex() error {
    return wt.index.Write()
}

// Lock returns the work tree's held lock, for Downgrade/Release by
// callers that need fine control (checkout ends shared, commit ends
// shared, etc).
func (wt *WorkTree) LockHandle() *Lock { return wt.lock }
