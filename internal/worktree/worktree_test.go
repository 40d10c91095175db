package worktree

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_CreatesAndOpens(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "/repo", "")
	require.NoError(t, err)
	defer wt.Close()

	assert.Equal(t, FormatVersion, wt.Format())
	assert.NotEmpty(t, wt.UUID())
	assert.Equal(t, "/repo", wt.Repository())
	assert.Equal(t, "/", wt.PathPrefix())
	assert.Equal(t, "refs/heads/main", wt.HeadRef())
	assert.Equal(t, 0, wt.Index().Len())
}

func TestInit_AlreadyInitialized(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	wt.Close()

	_, err = Init(dir, "tig", "refs/heads/main", "/", "", "")
	assert.Error(t, err)
}

func TestOpen_FindsDotDirFromSubdirectory(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	require.NoError(t, wt.Close())

	sub := dir + "/a/b/c"
	require.NoError(t, os.MkdirAll(sub, 0755))

	reopened, err := Open(sub, "tig")
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, dir, reopened.Root())
}

func TestOpen_NotAWorkTree(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, "tig")
	assert.Error(t, err)
}

func TestOpen_SecondOpenFailsWhileLockHeld(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	defer wt.Close()

	_, err = Open(dir, "tig")
	assert.Error(t, err)
}

func TestSetHeadRefAndBaseCommit(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	defer wt.Close()

	require.NoError(t, wt.SetHeadRef("refs/heads/feature"))
	assert.Equal(t, "refs/heads/feature", wt.HeadRef())

	require.NoError(t, wt.SetBaseCommit("deadbeef"))
	assert.Equal(t, "deadbeef", wt.BaseCommit().String())
}

func TestLock_DowngradeAndRelease(t *testing.T) {
	dir := t.TempDir()

	wt, err := Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)

	lock := wt.LockHandle()
	assert.True(t, lock.Held())
	assert.True(t, lock.Exclusive())

	require.NoError(t, lock.Downgrade())
	assert.False(t, lock.Exclusive())
	assert.True(t, lock.Held())

	require.NoError(t, wt.Close())
	assert.False(t, lock.Held())
}
