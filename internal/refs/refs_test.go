package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tig/internal/objectstore"
)

func TestMemory_AllocAndResolve(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))

	id, err := m.Resolve("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, objectstore.ID("abc"), id)

	assert.True(t, m.Exists("refs/heads/main"))
	assert.False(t, m.Exists("refs/heads/missing"))
}

func TestMemory_Resolve_MissingRef(t *testing.T) {
	m := NewMemory()
	_, err := m.Resolve("refs/heads/missing")
	assert.Error(t, err)
}

func TestMemory_SymbolicRef(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))
	require.NoError(t, m.AllocSymref("HEAD", "refs/heads/main"))

	id, err := m.Resolve("HEAD")
	require.NoError(t, err)
	assert.Equal(t, objectstore.ID("abc"), id)

	ref, lock, err := m.Open("HEAD", false)
	require.NoError(t, err)
	assert.Nil(t, lock)
	assert.True(t, ref.IsSymbolic())
	assert.Equal(t, "refs/heads/main", ref.Target)
}

func TestMemory_Resolve_SymrefLoop(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AllocSymref("a", "b"))
	require.NoError(t, m.AllocSymref("b", "a"))

	_, err := m.Resolve("a")
	assert.Error(t, err)
}

func TestMemory_LockChangeWrite(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))

	_, lock, err := m.Open("refs/heads/main", true)
	require.NoError(t, err)
	require.NotNil(t, lock)

	require.NoError(t, m.Change(lock, objectstore.ID("def")))
	require.NoError(t, m.Write(lock))

	id, err := m.Resolve("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, objectstore.ID("def"), id)
}

func TestMemory_Open_AlreadyLocked(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))

	_, lock, err := m.Open("refs/heads/main", true)
	require.NoError(t, err)
	require.NotNil(t, lock)

	_, _, err = m.Open("refs/heads/main", true)
	assert.Error(t, err)

	m.Unlock(lock)

	_, lock2, err := m.Open("refs/heads/main", true)
	require.NoError(t, err)
	require.NotNil(t, lock2)
}

func TestMemory_Change_NotLocked(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))

	err := m.Change(&Lock{store: m, name: "refs/heads/main"}, objectstore.ID("def"))
	assert.Error(t, err)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Alloc("refs/heads/main", objectstore.ID("abc")))
	require.NoError(t, m.Delete("refs/heads/main"))
	assert.False(t, m.Exists("refs/heads/main"))

	_, err := m.Resolve("refs/heads/main")
	assert.Error(t, err)
}
