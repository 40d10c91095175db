package status

import (
    "os"
    "path/filepath"
    "strings"

    "github.com/fsnotify/fsnotify"

    "tig/internal/errors"
)

// Watcher invalidates an Engine's fingerprint cache as paths change on
// disk, so a long-running caller (the CLI's status --watch, or a future
// server mode) never serves a stale NoChange verdict for a path it
// already classified once.
type Watcher struct {
    fsw  *fsnotify.Watcher
    eng  *Engine
    root string
    dot  string
}

// Watch recursively watches root (skipping the dot-directory dotName),
// invalidating eng's cache for any path fsnotify reports changed.
func Watch(root, dotName string, eng *Engine) (*Watcher, error) {
    fsw, err := fsnotify.NewWatcher()
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "creating fsnotify watcher")
    }

    w := &Watcher{fsw: fsw, eng: eng, root: root, dot: "." + dotName}
    if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
        if err != nil {
            return err
        }
        if d.IsDir() {
            if d.Name() == w.dot {
                return filepath.SkipDir
            }
            return fsw.Add(path)
        }
        return nil
    }); err != nil {
        fsw.Close()
        return nil, errors.Wrap(errors.IO, err, "watching %s", root)
    }

    return w, nil
}

// Run drains watcher events until the underlying channel closes,
// invalidating the engine's cache entry for every changed path. Meant
// to run in its own goroutine; callers stop it via Close.
func (w *Watcher) Run() {
    for {
        select {
        case ev, ok := <-w.fsw.Events:
            if !ok {
                return
            }
            if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
                continue
            }
            rel, err := filepath.Rel(w.root, ev.Name)
            if err != nil || strings.HasPrefix(rel, w.dot) {
                continue
            }
            w.eng.InvalidatePath(rel)
        case _, ok := <-w.fsw.Errors:
            if !ok {
                return
            }
        }
    }
}

// Close stops the watcher.
func (w *Watcher) Close() error {
    return w.fsw.Close()
}
