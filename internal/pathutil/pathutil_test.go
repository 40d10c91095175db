package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChild(t *testing.T) {
	assert.True(t, IsChild("a/b", "a"))
	assert.True(t, IsChild("a", "a"))
	assert.True(t, IsChild("anything", ""))
	assert.True(t, IsChild("anything", "."))
	assert.False(t, IsChild("ab", "a"))
	assert.False(t, IsChild("b/c", "a"))
}

func TestSkipCommonAncestor(t *testing.T) {
	assert.Equal(t, "b", SkipCommonAncestor("a/b", "a"))
	assert.Equal(t, "", SkipCommonAncestor("a", "a"))
	assert.Equal(t, "a/b", SkipCommonAncestor("a/b", ""))
	assert.Equal(t, "c/d", SkipCommonAncestor("c/d", "a"))
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "/a/b", Canonicalize("/a/./b"))
	assert.Equal(t, "/a", Canonicalize("/a/b/.."))
	assert.Equal(t, "", Canonicalize("."))
	assert.Equal(t, "a/b", Canonicalize("a/b/"))
}

func TestIsBadSymlinkTarget(t *testing.T) {
	assert.True(t, IsBadSymlinkTarget("", "/wt/file", "/wt", ".tig"))
	assert.True(t, IsBadSymlinkTarget("/etc/passwd", "/wt/file", "/wt", ".tig"))
	assert.True(t, IsBadSymlinkTarget("../../etc/passwd", "/wt/sub/file", "/wt", ".tig"))
	assert.False(t, IsBadSymlinkTarget("other.txt", "/wt/file", "/wt", ".tig"))
	assert.True(t, IsBadSymlinkTarget("../.tig/secret", "/wt/sub/file", "/wt", ".tig"))
}

func TestResolvePath(t *testing.T) {
	rel, err := ResolvePath("/wt/sub/file.txt", "/wt", "/")
	assert.NoError(t, err)
	assert.Equal(t, "sub/file.txt", rel)

	_, err = ResolvePath("/other/file.txt", "/wt", "/")
	assert.Error(t, err)

	_, err = ResolvePath("/wt/outside/file.txt", "/wt", "/sub")
	assert.Error(t, err)

	rel, err = ResolvePath("/wt/sub/file.txt", "/wt", "/sub")
	assert.NoError(t, err)
	assert.Equal(t, "sub/file.txt", rel)
}
