// internal/safe/store.go
package safe

import (
	"tig/internal/objectstore"
)

// CachingStore wraps an objectstore.Store, fronting ReadBlob with a
// Safe-backed, deduplicated on-disk cache so repeated reads of the
// same blob (a checkout touching many paths at the same base commit,
// a rebase replaying several commits against one parent tree) don't
// round-trip to the collaborator every time. Safe's own content hash
// is sha256, the same scheme objectstore.ID uses, so a blob's cache
// key IS its ID — no translation layer needed.
type CachingStore struct {
	inner objectstore.Store
	safe  *Safe
}

// NewCachingStore wraps inner with safe as its blob-content cache.
func NewCachingStore(inner objectstore.Store, safe *Safe) *CachingStore {
	return &CachingStore{inner: inner, safe: safe}
}

func (c *CachingStore) Kind(id objectstore.ID) (objectstore.Kind, error) {
	return c.inner.Kind(id)
}

func (c *CachingStore) OpenCommit(id objectstore.ID) (*objectstore.Commit, error) {
	return c.inner.OpenCommit(id)
}

func (c *CachingStore) OpenTree(id objectstore.ID) (*objectstore.Tree, error) {
	return c.inner.OpenTree(id)
}

func (c *CachingStore) BlobSize(id objectstore.ID) (int64, error) {
	return c.inner.BlobSize(id)
}

func (c *CachingStore) ReadBlob(id objectstore.ID) ([]byte, error) {
	if content, err := c.safe.Get(string(id)); err == nil {
		return content, nil
	}
	content, err := c.inner.ReadBlob(id)
	if err != nil {
		return nil, err
	}
	c.safe.Store(content)
	return content, nil
}

func (c *CachingStore) BlobReader(id objectstore.ID) (objectstore.BlobReader, error) {
	return c.inner.BlobReader(id)
}

func (c *CachingStore) IDByPath(commit objectstore.ID, path string) (objectstore.ID, objectstore.FileMode, error) {
	return c.inner.IDByPath(commit, path)
}

func (c *CachingStore) BlobCreate(data []byte) (objectstore.ID, error) {
	id, err := c.inner.BlobCreate(data)
	if err != nil {
		return "", err
	}
	c.safe.Store(data)
	return id, nil
}

func (c *CachingStore) TreeCreate(entries []objectstore.TreeEntry) (objectstore.ID, error) {
	return c.inner.TreeCreate(entries)
}

func (c *CachingStore) CommitCreate(tree objectstore.ID, parents []objectstore.ID, author, committer objectstore.Signature, msg string) (objectstore.ID, error) {
	return c.inner.CommitCreate(tree, parents, author, committer, msg)
}

func (c *CachingStore) Exists(id objectstore.ID) bool {
	return c.inner.Exists(id)
}
