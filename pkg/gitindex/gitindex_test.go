package gitindex_test

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
)

// buildRepo creates an in-memory repository with a single commit that adds
// one file, and returns the repository plus the new commit id.
func buildRepo(t *testing.T) *git.Repository {
	t.Helper()
	storer := memory.NewStorage()
	repo, err := git.Init(storer, nil)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	fs := wt.Filesystem
	f, err := fs.Create("hello.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = wt.Add("hello.txt")
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0)}
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	_ = cache.NewObjectLRUDefault()
	return repo
}

func TestBuild_PartitionsObjects(t *testing.T) {
	repo := buildRepo(t)

	ix, err := gitindex.Build(logContext.Background(), repo)
	require.NoError(t, err)

	require.Equal(t, 1, ix.NumCommits())
	require.GreaterOrEqual(t, ix.NumBlobs(), 1)
	require.GreaterOrEqual(t, ix.NumTrees(), 1)

	blobs := ix.IntoBlobs()
	require.NotEmpty(t, blobs)
}

func TestGetTree_UnknownReturnsFalse(t *testing.T) {
	repo := buildRepo(t)
	ix, err := gitindex.Build(logContext.Background(), repo)
	require.NoError(t, err)

	var zero gitindex.ObjectID
	_, ok := ix.GetTree(zero)
	require.False(t, ok)
}
