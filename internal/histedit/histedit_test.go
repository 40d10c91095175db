package histedit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tig/internal/commit"
	"tig/internal/objectstore"
	"tig/internal/refs"
	"tig/internal/worktree"
)

func fixedNow() int64 { return 1700000000 }

func newTestWorkTree(t *testing.T) (*worktree.WorkTree, objectstore.Store, refs.Store) {
	t.Helper()
	dir := t.TempDir()
	wt, err := worktree.Init(dir, "tig", "refs/heads/main", "/", "", "")
	require.NoError(t, err)
	t.Cleanup(func() { wt.Close() })
	return wt, objectstore.NewMemory(), refs.NewMemory()
}

func linearHistoryFixture(t *testing.T, wt *worktree.WorkTree, store objectstore.Store, refStore refs.Store) (root, c1, c2 objectstore.ID) {
	t.Helper()
	sig := objectstore.Signature{Name: "tester", Email: "t@localhost", Time: time.Now()}

	emptyTree, err := store.TreeCreate(nil)
	require.NoError(t, err)
	root, err = store.CommitCreate(emptyTree, nil, sig, sig, "root")
	require.NoError(t, err)

	blobA, err := store.BlobCreate([]byte("hello"))
	require.NoError(t, err)
	tree1, err := store.TreeCreate([]objectstore.TreeEntry{{Name: "a.txt", Mode: objectstore.ModeRegular, ID: blobA}})
	require.NoError(t, err)
	c1, err = store.CommitCreate(tree1, []objectstore.ID{root}, sig, sig, "add a.txt")
	require.NoError(t, err)

	blobB, err := store.BlobCreate([]byte("world"))
	require.NoError(t, err)
	tree2, err := store.TreeCreate([]objectstore.TreeEntry{
		{Name: "a.txt", Mode: objectstore.ModeRegular, ID: blobA},
		{Name: "b.txt", Mode: objectstore.ModeRegular, ID: blobB},
	})
	require.NoError(t, err)
	c2, err = store.CommitCreate(tree2, []objectstore.ID{c1}, sig, sig, "add b.txt")
	require.NoError(t, err)

	require.NoError(t, refStore.Alloc("refs/heads/main", root))
	require.NoError(t, refStore.Alloc("refs/heads/feature", c2))
	require.NoError(t, wt.SetBaseCommit(root))
	return root, c1, c2
}

func TestParseScript_PickEditDropFoldMesg(t *testing.T) {
	script := []byte("pick abc first\nmesg reworded message\nedit def\ndrop 111\nfold 222\npick 333\n")
	lines, err := ParseScript(script)
	require.NoError(t, err)
	require.Len(t, lines, 6)
	assert.Equal(t, Pick, lines[0].Action)
	assert.Equal(t, objectstore.ID("abc"), lines[0].Commit)
	assert.Equal(t, Mesg, lines[1].Action)
	assert.Equal(t, "reworded message", lines[1].Message)
	assert.Equal(t, Edit, lines[2].Action)
	assert.Equal(t, Drop, lines[3].Action)
	assert.Equal(t, Fold, lines[4].Action)
}

func TestParseScript_IgnoresBlankAndCommentLines(t *testing.T) {
	lines, err := ParseScript([]byte("\n# comment\npick abc\n"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
}

func TestParseScript_RejectsUnknownAction(t *testing.T) {
	_, err := ParseScript([]byte("squash abc\n"))
	assert.Error(t, err)
}

func TestParseScript_RejectsMissingCommitID(t *testing.T) {
	_, err := ParseScript([]byte("pick\n"))
	assert.Error(t, err)
}

func TestParseScript_RejectsFoldAsLastLine(t *testing.T) {
	_, err := ParseScript([]byte("pick abc\nfold def\n"))
	assert.Error(t, err)
}

func TestFormatScript_RoundTrips(t *testing.T) {
	lines := []Line{
		{Action: Pick, Commit: objectstore.ID("abc")},
		{Action: Mesg, Message: "new message"},
		{Action: Edit, Commit: objectstore.ID("def")},
	}
	out := FormatScript(lines)
	parsed, err := ParseScript(out)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Equal(t, lines[0].Commit, parsed[0].Commit)
	assert.Equal(t, "new message", parsed[1].Message)
}

func TestValidateScript_MissingCommitErrors(t *testing.T) {
	err := ValidateScript([]Line{{Action: Pick, Commit: "a"}}, []objectstore.ID{"a", "b"})
	assert.Error(t, err)
}

func TestValidateScript_AllCoveredPasses(t *testing.T) {
	err := ValidateScript([]Line{{Action: Pick, Commit: "a"}, {Action: Drop, Commit: "b"}}, []objectstore.ID{"a", "b"})
	assert.NoError(t, err)
}

func TestPrepare_WritesDerivedRefsAndBaseCommitRef(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	state, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", state.NewbaseRef)

	assert.Equal(t, wt.TmpBranchRef(), wt.HeadRef())
	assert.True(t, InProgress(refStore, wt))
	assert.True(t, refStore.Exists(wt.BaseCommitRef()))
}

func TestPrepare_RejectsScriptMissingCommits(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, _ := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	assert.Error(t, err)
}

func TestLoop_PicksBothCommits(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	nextIndex, stopped, err := Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, len(script), nextIndex)

	require.NoError(t, Complete(refStore, wt))
	aContent, err := os.ReadFile(filepath.Join(wt.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(aContent))
	bContent, err := os.ReadFile(filepath.Join(wt.Root(), "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(bContent))
}

func TestLoop_DropSkipsCommit(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Drop, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	_, _, err = Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)

	require.NoError(t, Complete(refStore, wt))
	_, err = os.Stat(filepath.Join(wt.Root(), "a.txt"))
	assert.True(t, os.IsNotExist(err))
	bContent, err := os.ReadFile(filepath.Join(wt.Root(), "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(bContent))
}

func TestLoop_EditStopsAndContinueResumes(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Edit, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	nextIndex, stopped, err := Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)
	assert.True(t, stopped)
	// Loop stops AT the edit line itself, not past it: the commit is not
	// finalized yet, so a resuming Loop call must start at this same index.
	assert.Equal(t, 0, nextIndex)

	require.NoError(t, Postpone(wt))
	require.NoError(t, wt.LockHandle().Acquire(true))

	nextIndex, stopped, err = Loop(store, refStore, wt, script, nextIndex, committer, fixedNow, "")
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, len(script), nextIndex)
}

// TestLoop_EditStopThenLocalEditIsFoldedIntoResumedCommit exercises
// spec.md §8 scenario 5: edit H1 / mesg ... / pick H2 stops on H1,
// a local edit is made to the file H1 introduces, then continuing
// folds that edit into H1's finished commit rather than discarding it.
func TestLoop_EditStopThenLocalEditIsFoldedIntoResumedCommit(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{
		{Action: Edit, Commit: c1},
		{Action: Mesg, Message: "reworded tip"},
		{Action: Pick, Commit: c2},
	}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	nextIndex, stopped, err := Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, 0, nextIndex)

	aPath := filepath.Join(wt.Root(), "a.txt")
	aContent, err := os.ReadFile(aPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(aContent))

	// The local edit made during the pause, to the very file H1 added.
	require.NoError(t, os.WriteFile(aPath, []byte("hello, edited"), 0644))

	require.NoError(t, Postpone(wt))
	require.NoError(t, wt.LockHandle().Acquire(true))

	nextIndex, stopped, err = Loop(store, refStore, wt, script, nextIndex, committer, fixedNow, "")
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, len(script), nextIndex)

	require.NoError(t, Complete(refStore, wt))

	tip, err := refStore.Resolve("refs/heads/feature")
	require.NoError(t, err)
	tipCommit, err := store.OpenCommit(tip)
	require.NoError(t, err)
	require.Len(t, tipCommit.Parents, 1)

	editedCommit, err := store.OpenCommit(tipCommit.Parents[0])
	require.NoError(t, err)

	tree, err := store.OpenTree(editedCommit.Tree)
	require.NoError(t, err)
	var aBlob objectstore.ID
	for _, te := range tree.Entries {
		if te.Name == "a.txt" {
			aBlob = te.ID
		}
	}
	require.NotEmpty(t, aBlob, "H1's commit tree should contain a.txt")
	blobContent, err := store.ReadBlob(aBlob)
	require.NoError(t, err)
	assert.Equal(t, "hello, edited", string(blobContent), "H1's commit must carry the local edit, not the original merge content")

	onDisk, err := os.ReadFile(aPath)
	require.NoError(t, err)
	assert.Equal(t, "hello, edited", string(onDisk))
}

func TestLoop_FoldMergesIntoNextPick(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Fold, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	_, stopped, err := Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NoError(t, Complete(refStore, wt))
	aContent, err := os.ReadFile(filepath.Join(wt.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(aContent))
	bContent, err := os.ReadFile(filepath.Join(wt.Root(), "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(bContent))

	tip, err := refStore.Resolve("refs/heads/feature")
	require.NoError(t, err)
	c, err := store.OpenCommit(tip)
	require.NoError(t, err)
	require.Len(t, c.Parents, 1)
	parent, err := store.OpenCommit(c.Parents[0])
	require.NoError(t, err)
	assert.Empty(t, parent.Parents)
}

func TestAbort_RestoresOriginalBranch(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	root, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	var checkedOut objectstore.ID
	err = Abort(store, refStore, wt, func(target objectstore.ID) error {
		checkedOut = target
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "refs/heads/main", wt.HeadRef())
	assert.Equal(t, root, wt.BaseCommit())
	assert.Equal(t, root, checkedOut)
	assert.False(t, InProgress(refStore, wt))
}

func TestAbort_RevertsLocalModificationBeforeCheckout(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	committer := commit.Identity{Name: "tester", Email: "t@localhost"}
	_, _, err = Loop(store, refStore, wt, script, 0, committer, fixedNow, "")
	require.NoError(t, err)

	aPath := filepath.Join(wt.Root(), "a.txt")
	aContent, err := os.ReadFile(aPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(aContent))

	// Simulate a local edit made while histedit was in progress.
	require.NoError(t, os.WriteFile(aPath, []byte("hacked"), 0644))

	// checkoutFiles is deliberately a no-op recorder: the local edit
	// must already be gone before it's even invoked.
	var checkedOut objectstore.ID
	err = Abort(store, refStore, wt, func(target objectstore.ID) error {
		checkedOut = target
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, checkedOut)

	reverted, err := os.ReadFile(aPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reverted))
}

func TestSkipCommit_ClearsMatchingCommitRef(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	// Simulate a resume point: commit-ref parked for c1, as
	// replay.CommitRefCheck would leave it mid-Loop before the
	// commit finishes.
	require.NoError(t, refStore.Alloc(wt.CommitRef(), c1))

	require.NoError(t, SkipCommit(refStore, wt, c1))
	assert.False(t, refStore.Exists(wt.CommitRef()))
}

func TestSkipCommit_MismatchErrors(t *testing.T) {
	wt, store, refStore := newTestWorkTree(t)
	_, c1, c2 := linearHistoryFixture(t, wt, store, refStore)

	script := []Line{{Action: Pick, Commit: c1}, {Action: Pick, Commit: c2}}
	_, err := Prepare(store, refStore, wt, "refs/heads/feature", script)
	require.NoError(t, err)

	require.NoError(t, refStore.Alloc(wt.CommitRef(), c1))

	err = SkipCommit(refStore, wt, c2)
	assert.Error(t, err)
}

func TestSkipCommit_NoneParkedErrors(t *testing.T) {
	wt, _, refStore := newTestWorkTree(t)
	err := SkipCommit(refStore, wt, objectstore.ID("abc"))
	assert.Error(t, err)
}
