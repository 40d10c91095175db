package safe

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newTestSafe(t *testing.T) *Safe {
	t.Helper()
	dir, err := os.MkdirTemp("", "safe-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	contentRoot, err := os.MkdirTemp("", "safe-content")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(contentRoot) })

	s, err := New(db, Options{Root: contentRoot, CacheSize: 128})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreAndGet_RoundTrips(t *testing.T) {
	s := newTestSafe(t)
	hash, err := s.Store([]byte("hello world"))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	content, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestStore_DeduplicatesAndIncrementsRefCount(t *testing.T) {
	s := newTestSafe(t)
	h1, err := s.Store([]byte("dup"))
	require.NoError(t, err)
	h2, err := s.Store([]byte("dup"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	meta, err := s.getMeta(h1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), meta.RefCount)
}

func TestExists(t *testing.T) {
	s := newTestSafe(t)
	hash, err := s.Store([]byte("content"))
	require.NoError(t, err)

	ok, err := s.Exists(hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(hashOf("never stored"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestSafe(t)
	_, err := s.Get(hashOf("never stored"))
	assert.Error(t, err)
}

func TestGet_InvalidHash(t *testing.T) {
	s := newTestSafe(t)
	_, err := s.Get("not-a-valid-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestDelete_RemovesWhenRefCountHitsZero(t *testing.T) {
	s := newTestSafe(t)
	hash, err := s.Store([]byte("disposable"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(hash))

	ok, err := s.Exists(hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_KeepsContentWhileReferenced(t *testing.T) {
	s := newTestSafe(t)
	hash, _ := s.Store([]byte("shared"))
	_, _ = s.Store([]byte("shared"))

	require.NoError(t, s.Delete(hash))

	ok, err := s.Exists(hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_DetectsGoodContent(t *testing.T) {
	s := newTestSafe(t)
	hash, err := s.Store([]byte("verify me"))
	require.NoError(t, err)
	assert.NoError(t, s.Verify(hash))
}

func TestStoreBatchAndGetBatch(t *testing.T) {
	s := newTestSafe(t)
	hashes, err := s.StoreBatch([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	contents, err := s.GetBatch(hashes)
	require.NoError(t, err)
	require.Len(t, contents, 3)
	assert.Equal(t, "a", string(contents[0]))
	assert.Equal(t, "c", string(contents[2]))
}

func TestStore_LargeContentCompresses(t *testing.T) {
	s := newTestSafe(t)
	big := make([]byte, 8192)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	hash, err := s.Store(big)
	require.NoError(t, err)

	meta, err := s.getMeta(hash)
	require.NoError(t, err)
	assert.True(t, meta.Compressed)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}
