package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Diff_NoChanges(t *testing.T) {
	e := NewEngine(0)
	result, err := e.Diff([]byte("a\nb\nc\n"), []byte("a\nb\nc\n"))
	require.NoError(t, err)
	assert.Empty(t, result.Hunks)
	assert.Equal(t, 0, result.Stats.Changes)
}

func TestEngine_Diff_Addition(t *testing.T) {
	e := NewEngine(0)
	result, err := e.Diff([]byte("a\nb\n"), []byte("a\nb\nc\n"))
	require.NoError(t, err)
	require.Len(t, result.Hunks, 1)
	assert.Equal(t, 1, result.Stats.Additions)
	assert.Equal(t, 0, result.Stats.Deletions)
}

func TestEngine_Diff_Deletion(t *testing.T) {
	e := NewEngine(0)
	result, err := e.Diff([]byte("a\nb\nc\n"), []byte("a\nb\n"))
	require.NoError(t, err)
	require.Len(t, result.Hunks, 1)
	assert.Equal(t, 0, result.Stats.Additions)
	assert.Equal(t, 1, result.Stats.Deletions)
}

func TestEngine_Diff_Modification(t *testing.T) {
	e := NewEngine(0)
	result, err := e.Diff([]byte("a\nb\nc\n"), []byte("a\nX\nc\n"))
	require.NoError(t, err)
	require.Len(t, result.Hunks, 1)
	assert.Equal(t, 1, result.Stats.Additions)
	assert.Equal(t, 1, result.Stats.Deletions)
}

func TestEngine_Diff_WithContextLines(t *testing.T) {
	e := NewEngine(1)
	result, err := e.Diff([]byte("a\nb\nc\nd\ne\n"), []byte("a\nb\nX\nd\ne\n"))
	require.NoError(t, err)
	require.Len(t, result.Hunks, 1)

	var contextLines int
	for _, l := range result.Hunks[0].Lines {
		if l.Type == Context {
			contextLines++
		}
	}
	assert.Greater(t, contextLines, 0)
}

func TestDiffResult_Format(t *testing.T) {
	e := NewEngine(0)
	result, err := e.Diff([]byte("a\n"), []byte("b\n"))
	require.NoError(t, err)

	formatted := result.Format()
	assert.Contains(t, formatted, "@@")
	assert.Contains(t, formatted, "+ b")
	assert.Contains(t, formatted, "- a")
}
