// Package pathutil holds the canonicalization and safety predicates the
// rest of the engine funnels every on-disk path through before touching
// the filesystem. Generalized from the ad hoc path checks in a
// change-tracking workspace into a single choke point, per the design
// note that this is where symlink-based path attacks are rejected.
package pathutil

import (
    "path"
    "strings"

    "tig/internal/errors"
)

// IsChild returns true if child equals parent or lies strictly inside
// it. Both must already be in the same form (both relative or both
// absolute, both cleaned).
func IsChild(child, parent string) bool {
    if parent == "" || parent == "." {
        return true
    }
    if child == parent {
        return true
    }
    return strings.HasPrefix(child, parent+"/")
}

// SkipCommonAncestor strips the common ancestor prefix shared by path
// and ancestor, returning the remainder relative to ancestor. If path
// does not lie inside ancestor, it is returned unchanged.
func SkipCommonAncestor(p, ancestor string) string {
    if ancestor == "" || ancestor == "." {
        return p
    }
    if p == ancestor {
        return ""
    }
    prefix := ancestor + "/"
    if strings.HasPrefix(p, prefix) {
        return p[len(prefix):]
    }
    return p
}

// Canonicalize resolves "." and ".." components lexically, the way
// path.Clean does, but never touches the filesystem and never follows
// symlinks. Leading "/" is preserved if present.
func Canonicalize(p string) string {
    abs := strings.HasPrefix(p, "/")
    cleaned := path.Clean(p)
    if cleaned == "." {
        cleaned = ""
    }
    if abs && !strings.HasPrefix(cleaned, "/") {
        cleaned = "/" + cleaned
    }
    return cleaned
}

// IsBadSymlinkTarget reports whether a symlink at ondiskPath with the
// given (possibly relative) target would, once canonicalized, escape
// wtroot or land inside the work tree's dot-directory. This is the
// single predicate everything else trusts for symlink safety.
func IsBadSymlinkTarget(target, ondiskPath, wtroot, dotdir string) bool {
    if len(target) == 0 {
        return true
    }
    var abs string
    if strings.HasPrefix(target, "/") {
        abs = Canonicalize(target)
    } else {
        dir := path.Dir(ondiskPath)
        abs = Canonicalize(path.Join(dir, target))
    }
    if !IsChild(abs, wtroot) {
        return true
    }
    dotPath := path.Join(wtroot, dotdir)
    if IsChild(abs, dotPath) {
        return true
    }
    return false
}

// ResolvePath validates a user-supplied on-disk path argument, resolving
// it to its work-tree-relative form and confirming it lies inside the
// work tree (and, if prefix is non-empty, inside the path-prefix).
// Grounded on got_worktree_resolve_path: every CLI command funnels its
// path arguments through this before touching C7/C8/C10.
func ResolvePath(ondiskAbs, wtroot, prefix string) (string, error) {
    clean := Canonicalize(ondiskAbs)
    if !IsChild(clean, wtroot) {
        return "", errors.New(errors.BadPath, "path outside work tree: %s", ondiskAbs)
    }
    rel := SkipCommonAncestor(clean, wtroot)
    rel = strings.TrimPrefix(rel, "/")
    if prefix != "" && prefix != "/" {
        trimmedPrefix := strings.Trim(prefix, "/")
        if !IsChild(rel, trimmedPrefix) {
            return "", errors.New(errors.BadPath, "path outside prefix %s: %s", prefix, ondiskAbs)
        }
    }
    return rel, nil
}
