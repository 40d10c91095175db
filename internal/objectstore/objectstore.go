// Package objectstore declares the collaborator interface the work-tree
// engine consumes for blob/tree/commit storage. The object store itself
// (pack/loose object parsing, privilege separation, network transport) is
// out of scope for this module; this package only names the contract,
// plus an in-memory implementation used by tests across the engine.
package objectstore

import (
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "sort"
    "sync"
    "time"

    "tig/internal/errors"
)

// ID is a content hash, the 40 (here: 64, sha256) character hex digest
// identifying a blob, tree, or commit.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// Kind is the closed set of object kinds. A sum type via a tagged
// constant, never virtual dispatch, per the engine's design notes.
type Kind int

const (
    KindBlob Kind = iota
    KindTree
    KindCommit
    KindTag
)

// FileMode mirrors the subset of Unix mode bits the engine cares about.
type FileMode uint32

const (
    ModeRegular    FileMode = 0100644
    ModeExecutable FileMode = 0100755
    ModeSymlink    FileMode = 0120000
    ModeTree       FileMode = 0040000
    ModeSubmodule  FileMode = 0160000
)

func (m FileMode) IsExecutable() bool { return m == ModeExecutable }
func (m FileMode) IsSymlink() bool    { return m == ModeSymlink }
func (m FileMode) IsTree() bool       { return m == ModeTree }
func (m FileMode) IsSubmodule() bool  { return m == ModeSubmodule }

// TreeEntry is one entry of a Tree object: a name, mode and the ID of
// the object (blob, tree, or opaque submodule blob) it points to.
type TreeEntry struct {
    Name string
    Mode FileMode
    ID   ID
}

// Tree is an ordered (by Name) set of entries.
type Tree struct {
    ID      ID
    Entries []TreeEntry
}

// FindEntry returns the entry named name, or false.
func (t *Tree) FindEntry(name string) (TreeEntry, bool) {
    for _, e := range t.Entries {
        if e.Name == name {
            return e, true
        }
    }
    return TreeEntry{}, false
}

// Signature is an author or committer identity plus timestamp, the Go
// analogue of the C (name, email, time) triple threaded through commit-create.
type Signature struct {
    Name  string
    Email string
    Time  time.Time
}

// Commit is a single commit object: one tree, zero or more parents
// (the engine only ever writes single-parent commits, but reads may
// encounter merges), identities, and a message.
type Commit struct {
    ID        ID
    Tree      ID
    Parents   []ID
    Author    Signature
    Committer Signature
    Message   string
}

// Store is the object-store collaborator the core consumes, per the
// external interfaces the spec names: open-object, open-as-*,
// id-by-path, tree-entries, tree-find-entry, blob-read-block,
// blob-create, commit-create.
type Store interface {
    // Kind reports the kind of id without fully materializing it.
    Kind(id ID) (Kind, error)

    OpenCommit(id ID) (*Commit, error)
    OpenTree(id ID) (*Tree, error)
    // Blob access: BlobSize reports the size, ReadBlob returns the whole
    // content, and BlobReader gives incremental reads.
    BlobSize(id ID) (int64, error)
    ReadBlob(id ID) ([]byte, error)
    BlobReader(id ID) (BlobReader, error)

    // IDByPath resolves a path inside a commit's tree to an object ID,
    // walking intermediate trees. Returns a *errors.Error with Kind
    // NoTreeEntry if any path component is absent.
    IDByPath(commit ID, path string) (ID, FileMode, error)

    // BlobCreate hashes and persists data as a new blob, returning its ID.
    BlobCreate(data []byte) (ID, error)

    // TreeCreate persists a new tree with the given entries (must
    // already be sorted by Name) and returns its ID.
    TreeCreate(entries []TreeEntry) (ID, error)

    // CommitCreate persists a new commit object.
    CommitCreate(tree ID, parents []ID, author, committer Signature, msg string) (ID, error)

    // Exists reports whether id resolves to any object.
    Exists(id ID) bool
}

// BlobReader supports incremental reads of large blobs (blob-read-block).
type BlobReader interface {
    ReadBlock(off int64, buf []byte) (int, error)
    Close() error
}

// HashContent computes the content ID the in-memory store uses; also
// usable by callers (e.g. the status engine) that need to compare
// on-disk bytes against a blob ID without storing anything.
func HashContent(data []byte) ID {
    sum := sha256.Sum256(data)
    return ID(hex.EncodeToString(sum[:]))
}

// Memory is a simple in-memory object store, used by every package's
// tests in place of the privilege-separated real one.
type Memory struct {
    mu      sync.RWMutex
    blobs   map[ID][]byte
    trees   map[ID]*Tree
    commits map[ID]*Commit
}

func NewMemory() *Memory {
    return &Memory{
        blobs:   make(map[ID][]byte),
        trees:   make(map[ID]*Tree),
        commits: make(map[ID]*Commit),
    }
}

func (m *Memory) Kind(id ID) (Kind, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if _, ok := m.blobs[id]; ok {
        return KindBlob, nil
    }
    if _, ok := m.trees[id]; ok {
        return KindTree, nil
    }
    if _, ok := m.commits[id]; ok {
        return KindCommit, nil
    }
    return 0, errors.New(errors.IO, "object not found: %s", id)
}

func (m *Memory) OpenCommit(id ID) (*Commit, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    c, ok := m.commits[id]
    if !ok {
        return nil, errors.New(errors.IO, "commit not found: %s", id)
    }
    cp := *c
    return &cp, nil
}

func (m *Memory) OpenTree(id ID) (*Tree, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    t, ok := m.trees[id]
    if !ok {
        return nil, errors.New(errors.IO, "tree not found: %s", id)
    }
    tc := *t
    tc.Entries = append([]TreeEntry(nil), t.Entries...)
    return &tc, nil
}

func (m *Memory) BlobSize(id ID) (int64, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    b, ok := m.blobs[id]
    if !ok {
        return 0, errors.New(errors.IO, "blob not found: %s", id)
    }
    return int64(len(b)), nil
}

func (m *Memory) ReadBlob(id ID) ([]byte, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    b, ok := m.blobs[id]
    if !ok {
        return nil, errors.New(errors.IO, "blob not found: %s", id)
    }
    out := make([]byte, len(b))
    copy(out, b)
    return out, nil
}

type memBlobReader struct {
    data []byte
}

func (r *memBlobReader) ReadBlock(off int64, buf []byte) (int, error) {
    if off >= int64(len(r.data)) {
        return 0, nil
    }
    n := copy(buf, r.data[off:])
    return n, nil
}

func (r *memBlobReader) Close() error { return nil }

func (m *Memory) BlobReader(id ID) (BlobReader, error) {
    data, err := m.ReadBlob(id)
    if err != nil {
        return nil, err
    }
    return &memBlobReader{data: data}, nil
}

func (m *Memory) IDByPath(commit ID, path string) (ID, FileMode, error) {
    c, err := m.OpenCommit(commit)
    if err != nil {
        return "", 0, err
    }
    return m.idByPathInTree(c.Tree, path)
}

func (m *Memory) idByPathInTree(tree ID, path string) (ID, FileMode, error) {
    if path == "" || path == "/" {
        return tree, ModeTree, nil
    }
    t, err := m.OpenTree(tree)
    if err != nil {
        return "", 0, err
    }
    head, rest := splitFirst(path)
    entry, ok := t.FindEntry(head)
    if !ok {
        return "", 0, errors.New(errors.NoTreeEntry, "no such entry: %s", head)
    }
    if rest == "" {
        return entry.ID, entry.Mode, nil
    }
    if !entry.Mode.IsTree() {
        return "", 0, errors.New(errors.NoTreeEntry, "not a tree: %s", head)
    }
    return m.idByPathInTree(entry.ID, rest)
}

func splitFirst(path string) (head, rest string) {
    for i := 0; i < len(path); i++ {
        if path[i] == '/' {
            return path[:i], path[i+1:]
        }
    }
    return path, ""
}

func (m *Memory) BlobCreate(data []byte) (ID, error) {
    id := HashContent(data)
    m.mu.Lock()
    defer m.mu.Unlock()
    m.blobs[id] = append([]byte(nil), data...)
    return id, nil
}

func (m *Memory) TreeCreate(entries []TreeEntry) (ID, error) {
    sorted := append([]TreeEntry(nil), entries...)
    sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
    h := sha256.New()
    for _, e := range sorted {
        fmt.Fprintf(h, "%o %s\x00%s", e.Mode, e.Name, e.ID)
    }
    id := ID(hex.EncodeToString(h.Sum(nil)))
    m.mu.Lock()
    defer m.mu.Unlock()
    m.trees[id] = &Tree{ID: id, Entries: sorted}
    return id, nil
}

func (m *Memory) CommitCreate(tree ID, parents []ID, author, committer Signature, msg string) (ID, error) {
    h := sha256.New()
    fmt.Fprintf(h, "tree %s\n", tree)
    for _, p := range parents {
        fmt.Fprintf(h, "parent %s\n", p)
    }
    fmt.Fprintf(h, "author %s <%s> %d\n", author.Name, author.Email, author.Time.UnixNano())
    fmt.Fprintf(h, "committer %s <%s> %d\n", committer.Name, committer.Email, committer.Time.UnixNano())
    fmt.Fprintf(h, "\n%s", msg)
    id := ID(hex.EncodeToString(h.Sum(nil)))
    c := &Commit{ID: id, Tree: tree, Parents: append([]ID(nil), parents...), Author: author, Committer: committer, Message: msg}
    m.mu.Lock()
    defer m.mu.Unlock()
    m.commits[id] = c
    return id, nil
}

func (m *Memory) Exists(id ID) bool {
    m.mu.RLock()
    defer m.mu.RUnlock()
    _, ok := m.blobs[id]
    if ok {
        return true
    }
    _, ok = m.trees[id]
    if ok {
        return true
    }
    _, ok = m.commits[id]
    return ok
}
