package exclude_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
)

func TestMatches_OwnerRepoCaseInsensitive(t *testing.T) {
	m := exclude.Build(logr.Discard(), []string{"Owner/Repo"})
	require.True(t, m.Matches("https://github.com/owner/repo.git"))
	require.False(t, m.Matches("https://github.com/owner/other.git"))
}

func TestMatches_GlobPattern(t *testing.T) {
	m := exclude.Build(logr.Discard(), []string{"owner/*-archive"})
	require.True(t, m.Matches("https://github.com/owner/project-archive.git"))
	require.False(t, m.Matches("https://github.com/owner/project.git"))
}

func TestMatches_GitLabMultiSegmentPath(t *testing.T) {
	m := exclude.Build(logr.Discard(), []string{"group/sub/project"})
	require.True(t, m.Matches("https://gitlab.com/group/sub/project.git"))
	require.False(t, m.Matches("https://gitlab.com/group/sub/other.git"))
}

func TestMatches_SSHAndGitAtForms(t *testing.T) {
	m := exclude.Build(logr.Discard(), []string{"owner/repo"})
	require.True(t, m.Matches("ssh://git@github.com/owner/repo.git"))
	require.True(t, m.Matches("git@github.com:owner/repo.git"))
}

func TestBuild_InvalidEntriesAreSkippedNotFatal(t *testing.T) {
	m := exclude.Build(logr.Discard(), []string{"", "   ", "owner/repo"})
	require.True(t, m.Matches("https://github.com/owner/repo.git"))
}
