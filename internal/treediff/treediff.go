// Package treediff implements the tree diff driver (C5): a dual sorted
// walk of the file index against a repository tree (or of the on-disk
// work tree against the index), emitting old/new/both callbacks in a
// single cooperative, cancellable, deterministic pass.
//
// Grounded on internal/diff.Engine's walk shape (generalized from
// line-level LCS diff to a path-tree diff) and on worktree.c's
// checkout/status tree-walk pattern.
package treediff

import (
    "sort"
    "strings"

    "tig/internal/index"
    "tig/internal/objectstore"
)

// Callbacks is the three (plus traverse) callback surface of spec.md §4.4.
type Callbacks struct {
    // OldNew fires for a path present in both sides.
    OldNew func(entry *index.Entry, treeEntry objectstore.TreeEntry, parentPath string) error
    // Old fires for a path present only in the index.
    Old func(entry *index.Entry, parentPath string) error
    // New fires for a path present only in the tree.
    New func(treeEntry objectstore.TreeEntry, parentPath string) error
    // Traverse fires once per directory entered, so ignore-pattern
    // state can be pushed/popped by the caller.
    Traverse func(parentPath string) error
}

// Cancel is checked at every step; returning true aborts the walk with
// errors.Cancelled (the caller wraps that, this package stays agnostic
// of the error package to keep it a reusable leaf).
type Cancel func() bool

// Walk drives the dual sorted walk of idx against tree, restricted to
// scope (a relative path prefix, "" for the whole tree), invoking cb's
// callbacks in sorted order. Submodule tree entries are skipped.
//
// When scope is non-empty, the walk first descends treeID component by
// component along scope (pure tree navigation, no callbacks fired) to
// find scope's own subtree, then walks from there — so a scoped
// checkout of "sub/dir" never visits paths outside it.
func Walk(store objectstore.Store, idx *index.Index, treeID objectstore.ID, scope string, cb Callbacks, cancel Cancel) error {
    w := &walker{store: store, cb: cb, cancel: cancel}
    entries := scopedEntries(idx, scope)

    startTree := treeID
    if scope != "" && treeID != "" {
        resolved, ok, err := w.descend(treeID, scope)
        if err != nil {
            return err
        }
        if !ok {
            startTree = ""
        } else {
            startTree = resolved
        }
    }
    return w.walk(entries, startTree, scope)
}

// descend navigates treeID down the path components of scope, returning
// the ID of scope's subtree. ok is false if scope names a leaf blob
// (not a tree) or doesn't exist in the tree at all.
func (w *walker) descend(treeID objectstore.ID, scope string) (objectstore.ID, bool, error) {
    if scope == "" {
        return treeID, true, nil
    }
    tree, err := w.store.OpenTree(treeID)
    if err != nil {
        return "", false, err
    }
    head, rest := splitFirstComponent(scope)
    entry, ok := tree.FindEntry(head)
    if !ok {
        return "", false, nil
    }
    if !entry.Mode.IsTree() {
        return "", false, nil
    }
    if rest == "" {
        return entry.ID, true, nil
    }
    return w.descend(entry.ID, rest)
}

type walker struct {
    store  objectstore.Store
    cb     Callbacks
    cancel Cancel
}

func scopedEntries(idx *index.Index, scope string) []*index.Entry {
    all := idx.All()
    if scope == "" {
        return all
    }
    out := make([]*index.Entry, 0, len(all))
    prefix := strings.TrimSuffix(scope, "/") + "/"
    for _, e := range all {
        if e.Path == scope || strings.HasPrefix(e.Path, prefix) {
            out = append(out, e)
        }
    }
    return out
}

// walk performs one level of the dual sorted walk at parentPath,
// recursing into matching subdirectories. entries must already be
// restricted to paths under parentPath and sorted (the index invariant).
func (w *walker) walk(entries []*index.Entry, treeID objectstore.ID, parentPath string) error {
    if w.cancel != nil && w.cancel() {
        return errCancelled
    }
    if w.cb.Traverse != nil {
        if err := w.cb.Traverse(parentPath); err != nil {
            return err
        }
    }

    var tree *objectstore.Tree
    if treeID != "" {
        t, err := w.store.OpenTree(treeID)
        if err != nil {
            return err
        }
        tree = t
    }

    // Partition entries into direct children of parentPath (by name)
    // vs. entries inside a child directory (grouped by first component).
    type child struct {
        isDir    bool
        direct   *index.Entry
        subtree  []*index.Entry
        name     string
    }
    children := map[string]*child{}
    order := []string{}
    for _, e := range entries {
        rel := e.Path
        if parentPath != "" {
            rel = strings.TrimPrefix(rel, parentPath+"/")
        }
        name, restIsDir := firstComponent(rel)
        c, ok := children[name]
        if !ok {
            c = &child{name: name}
            children[name] = c
            order = append(order, name)
        }
        if restIsDir {
            c.isDir = true
            c.subtree = append(c.subtree, e)
        } else {
            c.direct = e
        }
    }
    sort.Strings(order)

    var treeEntries []objectstore.TreeEntry
    treeByName := map[string]objectstore.TreeEntry{}
    if tree != nil {
        treeEntries = tree.Entries
        for _, te := range treeEntries {
            treeByName[te.Name] = te
        }
    }

    names := make(map[string]bool, len(order)+len(treeEntries))
    for _, n := range order {
        names[n] = true
    }
    for _, te := range treeEntries {
        names[te.Name] = true
    }
    sortedNames := make([]string, 0, len(names))
    for n := range names {
        sortedNames = append(sortedNames, n)
    }
    sort.Strings(sortedNames)

    for _, name := range sortedNames {
        if w.cancel != nil && w.cancel() {
            return errCancelled
        }
        c := children[name]
        te, inTree := treeByName[name]
        if inTree && te.Mode.IsSubmodule() {
            continue
        }

        childPath := name
        if parentPath != "" {
            childPath = parentPath + "/" + name
        }

        switch {
        case inTree && te.Mode.IsTree():
            // Always recurse into a tree-shaped entry, whether or not
            // the index currently has anything under it, so deeper
            // tree-only paths still surface as New callbacks.
            var subEntries []*index.Entry
            if c != nil {
                subEntries = c.subtree
            }
            if err := w.walk(subEntries, te.ID, childPath); err != nil {
                return err
            }
        case c != nil && c.isDir:
            // Directory present in the index but absent (or not a
            // tree) on the repository side: walk it against an empty tree.
            if err := w.walk(c.subtree, "", childPath); err != nil {
                return err
            }
        case c != nil && c.direct != nil && inTree:
            if err := w.cb.OldNew(c.direct, te, parentPath); err != nil {
                return err
            }
        case c != nil && c.direct != nil:
            if err := w.cb.Old(c.direct, parentPath); err != nil {
                return err
            }
        case inTree:
            if err := w.cb.New(te, parentPath); err != nil {
                return err
            }
        }
    }
    return nil
}

func firstComponent(rel string) (name string, isDir bool) {
    idx := strings.IndexByte(rel, '/')
    if idx < 0 {
        return rel, false
    }
    return rel[:idx], true
}

// splitFirstComponent splits rel into its first path component and the
// remainder (empty if rel has no "/").
func splitFirstComponent(rel string) (head, rest string) {
    idx := strings.IndexByte(rel, '/')
    if idx < 0 {
        return rel, ""
    }
    return rel[:idx], rel[idx+1:]
}

// errCancelled is a sentinel the caller (which owns the errors
// package's Kind taxonomy) recognizes and rewraps as errors.Cancelled.
var errCancelled = cancelledErr{}

type cancelledErr struct{}

func (cancelledErr) Error() string { return "cancelled" }

// IsCancelled reports whether err is the cancellation sentinel Walk
// returns when the Cancel predicate fires.
func IsCancelled(err error) bool {
    _, ok := err.(cancelledErr)
    return ok
}
