// Package refs declares the reference-store collaborator interface the
// work-tree engine consumes (named refs, symbolic refs, lock/write/
// delete) and an in-memory implementation for tests. The real reference
// store, like the object store, is an external collaborator out of
// scope for this module.
package refs

import (
    "sync"

    "tig/internal/errors"
    "tig/internal/objectstore"
)

// Ref is either a direct ref (pointing at an object ID) or a symbolic
// ref (pointing at another ref by name). Exactly one of ID/Target is set.
type Ref struct {
    Name   string
    ID     objectstore.ID
    Target string // non-empty for symbolic refs
}

func (r *Ref) IsSymbolic() bool { return r.Target != "" }

// Lock represents a held lock on a single reference, returned by Open
// when lock is requested. Callers must Write or Unlock it.
type Lock struct {
    store *Memory
    name  string
}

// Store is the reference-store collaborator.
type Store interface {
    // Open resolves a ref by name. If lock is true, it also acquires an
    // exclusive lock on that ref, returned as the second value; the
    // caller must Write or Unlock it. Symbolic refs are not
    // transparently followed; callers call Resolve to do that.
    Open(name string, lock bool) (*Ref, *Lock, error)

    // Resolve follows symbolic refs until it reaches a direct ref and
    // returns the object ID.
    Resolve(name string) (objectstore.ID, error)

    // Alloc creates (or overwrites) a direct ref.
    Alloc(name string, id objectstore.ID) error

    // AllocSymref creates (or overwrites) a symbolic ref.
    AllocSymref(name string, target string) error

    // Change updates the ID of a held lock's ref; must be followed by Write.
    Change(l *Lock, id objectstore.ID) error

    // Write persists the lock's ref value and releases the lock.
    Write(l *Lock) error

    // Unlock releases a lock without writing (used on abort paths).
    Unlock(l *Lock)

    // Delete removes a ref outright (used to clean up rebase/histedit
    // derived refs).
    Delete(name string) error

    // Exists reports whether a ref by that name currently exists,
    // without resolving it. Used by the in-progress queries.
    Exists(name string) bool
}

// Memory is an in-memory reference store used by tests.
type Memory struct {
    mu     sync.Mutex
    direct map[string]objectstore.ID
    symref map[string]string
    locked map[string]bool
}

func NewMemory() *Memory {
    return &Memory{
        direct: make(map[string]objectstore.ID),
        symref: make(map[string]string),
        locked: make(map[string]bool),
    }
}

func (m *Memory) Open(name string, lock bool) (*Ref, *Lock, error) {
    m.mu.Lock()
    defer m.mu.Unlock()

    if lock {
        if m.locked[name] {
            return nil, nil, errors.New(errors.Busy, "ref locked: %s", name)
        }
        m.locked[name] = true
    }

    r := &Ref{Name: name}
    if target, ok := m.symref[name]; ok {
        r.Target = target
    } else if id, ok := m.direct[name]; ok {
        r.ID = id
    } else if !lock {
        return nil, nil, errors.New(errors.IO, "no such ref: %s", name)
    }

    var l *Lock
    if lock {
        l = &Lock{store: m, name: name}
    }
    return r, l, nil
}

func (m *Memory) Resolve(name string) (objectstore.ID, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.resolveLocked(name, 0)
}

func (m *Memory) resolveLocked(name string, depth int) (objectstore.ID, error) {
    if depth > 16 {
        return "", errors.New(errors.IO, "symref loop: %s", name)
    }
    if target, ok := m.symref[name]; ok {
        return m.resolveLocked(target, depth+1)
    }
    if id, ok := m.direct[name]; ok {
        return id, nil
    }
    return "", errors.New(errors.IO, "no such ref: %s", name)
}

func (m *Memory) Alloc(name string, id objectstore.ID) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.symref, name)
    m.direct[name] = id
    return nil
}

func (m *Memory) AllocSymref(name, target string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.direct, name)
    m.symref[name] = target
    return nil
}

func (m *Memory) Change(l *Lock, id objectstore.ID) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if !m.locked[l.name] {
        return errors.New(errors.IO, "ref not locked: %s", l.name)
    }
    delete(m.symref, l.name)
    m.direct[l.name] = id
    return nil
}

func (m *Memory) Write(l *Lock) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.locked, l.name)
    return nil
}

func (m *Memory) Unlock(l *Lock) {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.locked, l.name)
}

func (m *Memory) Delete(name string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    delete(m.direct, name)
    delete(m.symref, name)
    delete(m.locked, name)
    return nil
}

func (m *Memory) Exists(name string) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.direct[name]; ok {
        return true
    }
    _, ok := m.symref[name]
    return ok
}
