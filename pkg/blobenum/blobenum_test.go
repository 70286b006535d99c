package blobenum_test

import (
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/kingfisher-scan/kingfisher/pkg/blobenum"
	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
)

func buildRepo(t *testing.T) *git.Repository {
	t.Helper()
	storer := memory.NewStorage()
	repo, err := git.Init(storer, nil)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	fs := wt.Filesystem

	write := func(path, content string) {
		f, err := fs.Create(path)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = wt.Add(path)
		require.NoError(t, err)
	}

	write("keep/secret.txt", "keep-me")
	write("vendor/noise.txt", "vendor-noise")
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0)}
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	return repo
}

func TestEnumerate_AttributesEveryBlob(t *testing.T) {
	repo := buildRepo(t)
	result, err := blobenum.Enumerate(logContext.Background(), repo, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result)

	var foundKeep bool
	for _, apps := range result {
		for _, a := range apps {
			if strings.HasPrefix(string(a.Path), "keep/") {
				foundKeep = true
			}
		}
	}
	require.True(t, foundKeep)
}

func TestEnumerate_ExcludesVendorPaths(t *testing.T) {
	repo := buildRepo(t)
	exclude := func(path []byte) bool {
		return strings.HasPrefix(string(path), "vendor/")
	}
	result, err := blobenum.Enumerate(logContext.Background(), repo, exclude)
	require.NoError(t, err)

	for _, apps := range result {
		for _, a := range apps {
			require.False(t, strings.HasPrefix(string(a.Path), "vendor/"))
		}
	}
}

func TestMetadataless_EmptyAppearances(t *testing.T) {
	repo := buildRepo(t)
	ix, err := gitindex.Build(logContext.Background(), repo)
	require.NoError(t, err)

	result := blobenum.Metadataless(ix)
	for _, apps := range result {
		require.Empty(t, apps)
	}
}
