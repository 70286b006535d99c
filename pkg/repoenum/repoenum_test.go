package repoenum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetermineRepoLimits_UserCountExceedsLimit(t *testing.T) {
	limit := 50
	l := determineRepoLimits(&limit, 200)
	require.Equal(t, 1, l.perUser) // max(1, 50/100) == 1
}

func TestDetermineRepoLimits_UserCountBelowLimit(t *testing.T) {
	limit := 100
	l := determineRepoLimits(&limit, 4)
	require.Equal(t, 25, l.perUser)
}

func TestDetermineRepoLimits_NoLimitConfigured(t *testing.T) {
	l := determineRepoLimits(nil, 10)
	require.True(t, l.allows(1_000_000, 1_000_000))
}

func TestNormalizeRepoPath(t *testing.T) {
	require.Equal(t, "owner/repo", normalizeRepoPath("Owner", "Repo.git"))
	require.Equal(t, "", normalizeRepoPath("", "repo"))
}

func TestDedupSorted(t *testing.T) {
	got := dedupSorted([]string{"b", "a", "a", "c"})
	require.Equal(t, []string{"a", "b", "c"}, got)
}
