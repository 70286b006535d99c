package commitgraph_test

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/commitgraph"
	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
)

// buildABCRepo builds a three-commit linear history A -> B -> C where a
// file at the same path is rewritten in commit B and left untouched in C,
// so that the blob introduced at B should be attributed to B, not C.
func buildABCRepo(t *testing.T) *git.Repository {
	t.Helper()
	storer := memory.NewStorage()
	repo, err := git.Init(storer, nil)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	fs := wt.Filesystem

	commitFile := func(name, content string, when time.Time) {
		f, err := fs.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = wt.Add(name)
		require.NoError(t, err)
		sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: when}
		_, err = wt.Commit("commit "+name, &git.CommitOptions{Author: sig, Committer: sig})
		require.NoError(t, err)
	}

	base := time.Unix(1700000000, 0)
	commitFile("a.txt", "AAA", base)
	commitFile("x.txt", "XXX", base.Add(time.Minute))
	commitFile("x.txt", "XXX", base.Add(2*time.Minute)) // identical content: no new blob

	return repo
}

func TestGetRepoMetadata_FirstSeenAttribution(t *testing.T) {
	repo := buildABCRepo(t)
	ix, err := gitindex.Build(logContext.Background(), repo)
	require.NoError(t, err)

	var diagErr error
	g := commitgraph.BuildFromIndex(repo, ix, func(msg string, id gitindex.ObjectID, err error) {
		diagErr = err
		t.Logf("%s: %s: %v", msg, id, err)
	})
	require.Nil(t, diagErr)

	rows, err := commitgraph.GetRepoMetadata(ix, g)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Each commit must appear exactly once, and the blob shared by the last
	// two commits (identical content "XXX") must be attributed only once,
	// to the earliest introducing commit.
	seen := make(map[gitindex.ObjectID]int)
	for _, row := range rows {
		for _, ib := range row.Introduced {
			seen[ib.BlobID]++
		}
	}
	for blob, count := range seen {
		require.Equalf(t, 1, count, "blob %s introduced more than once", blob)
	}
}

func TestReverseTopoOrder_ParentBeforeChild(t *testing.T) {
	repo := buildABCRepo(t)
	ix, err := gitindex.Build(logContext.Background(), repo)
	require.NoError(t, err)
	g := commitgraph.BuildFromIndex(repo, ix, nil)

	rows, err := commitgraph.GetRepoMetadata(ix, g)
	require.NoError(t, err)

	position := make(map[gitindex.ObjectID]int, len(rows))
	for i, row := range rows {
		position[row.CommitID] = i
	}
	for id := range position {
		meta, ok := g.Metadata(id)
		require.True(t, ok)
		for _, p := range meta.Parents {
			if ppos, ok := position[p]; ok {
				require.Less(t, ppos, position[id], "parent must precede child")
			}
		}
	}
}
