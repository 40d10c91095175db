package errors

import (
    "fmt"
    "net/http"
)

// Kind is the closed set of error kinds the work-tree engine can return.
// Names are abstract on purpose: callers branch on Kind, never on Message.
type Kind string

const (
    MetaCorrupt      Kind = "meta-corrupt"
    WrongVersion     Kind = "wrong-version"
    Busy             Kind = "busy"
    NotAWorktree     Kind = "not-a-worktree"
    MixedCommits     Kind = "mixed-commits"
    Conflicts        Kind = "conflicts"
    Modified         Kind = "modified"
    OutOfDate        Kind = "out-of-date"
    HeadChanged      Kind = "head-changed"
    NoChanges        Kind = "no-changes"
    CommitConflict   Kind = "commit-conflict"
    MsgEmpty         Kind = "msg-empty"
    BadPath          Kind = "bad-path"
    FileStatus       Kind = "file-status"
    FileStaged       Kind = "file-staged"
    NotStaged        Kind = "not-staged"
    StageConflict    Kind = "stage-conflict"
    NoTreeEntry      Kind = "no-tree-entry"
    Obstructed       Kind = "obstructed"
    FileModified     Kind = "file-modified"
    BadSymlink       Kind = "bad-symlink"
    IO               Kind = "io"
    Cancelled        Kind = "cancelled"
    MissingCommit    Kind = "missing-commit"
    FoldLast         Kind = "fold-last"
    RebaseCommitID   Kind = "rebase-commitid"
    HisteditCommitID Kind = "histedit-commitid"
    PatchChoice      Kind = "patch-choice"
)

// httpStatus maps a Kind onto the nearest HTTP status, for the optional
// API surface. Kinds with no natural HTTP analogue map to 500.
var httpStatus = map[Kind]int{
    NotAWorktree:  http.StatusNotFound,
    NoTreeEntry:   http.StatusNotFound,
    MissingCommit: http.StatusNotFound,
    BadPath:       http.StatusBadRequest,
    MsgEmpty:      http.StatusBadRequest,
    FoldLast:      http.StatusBadRequest,
    Busy:          http.StatusConflict,
    OutOfDate:     http.StatusConflict,
    HeadChanged:   http.StatusConflict,
    Conflicts:     http.StatusConflict,
    Cancelled:     499,
}

// Error is the concrete error type every public entry point returns.
type Error struct {
    Kind    Kind
    Message string
    Path    string
    Cause   error
}

func (e *Error) Error() string {
    if e.Path != "" {
        return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
    }
    return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
    return e.Cause
}

// HTTPStatus returns the HTTP status code a Kind maps to, for use by the
// optional API surface. Unmapped kinds return 500.
func (e *Error) HTTPStatus() int {
    if code, ok := httpStatus[e.Kind]; ok {
        return code
    }
    return http.StatusInternalServerError
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
    return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, preserving cause for Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
    return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPath attaches a relative path to an existing error for logging/display.
func (e *Error) WithPath(path string) *Error {
    e.Path = path
    return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
    e, ok := err.(*Error)
    if !ok {
        return false
    }
    return e.Kind == kind
}
