// Package repoenum enumerates clone URLs from hosting providers
// (GitHub, GitLab, Hugging Face) given user/org/group specifiers and
// contributor discovery (the Repo Enumerator, C8).
package repoenum

import (
	"sort"
	"strings"
)

// RepoType is the visibility/origin filter applied to a user or org's
// repository listing.
type RepoType string

const (
	RepoTypeAll    RepoType = "all"
	RepoTypeOwner  RepoType = "owner"
	RepoTypeSource RepoType = "source"
	RepoTypeFork   RepoType = "fork"
)

// dedupSorted returns the alphabetically sorted, deduplicated list of urls.
func dedupSorted(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// repoLimits holds the per-user and total clone caps derived from a
// configured total clone limit and a contributor count.
type repoLimits struct {
	perUser int // 0 means unlimited
	total   int // 0 means unlimited
}

// determineRepoLimits implements the spec's clone-limit math: when a total
// clone limit L is set and the user count U exceeds it, the per-user cap is
// max(1, L/100); otherwise max(1, L/U). No limit configured means no cap at
// all (both fields zero).
func determineRepoLimits(cloneLimit *int, userCount int) repoLimits {
	if cloneLimit == nil || *cloneLimit <= 0 {
		return repoLimits{}
	}
	limit := *cloneLimit
	if userCount <= 0 {
		return repoLimits{total: limit}
	}
	var perUser int
	if userCount > limit {
		perUser = limit / 100
	} else {
		perUser = limit / userCount
	}
	if perUser < 1 {
		perUser = 1
	}
	return repoLimits{perUser: perUser, total: limit}
}

// allows reports whether one more repo may be added for a given user,
// given how many have already been added for that user and in total.
func (l repoLimits) allows(userCount, totalCount int) bool {
	if l.perUser > 0 && userCount >= l.perUser {
		return false
	}
	if l.total > 0 && totalCount >= l.total {
		return false
	}
	return true
}

// normalizeRepoPath lowercases and trims a "owner/repo"-shaped path,
// stripping a trailing ".git" suffix. Returns "" if owner or name is empty.
func normalizeRepoPath(owner, name string) string {
	owner = strings.Trim(strings.TrimSpace(owner), "/")
	name = strings.TrimSuffix(strings.Trim(strings.TrimSpace(name), "/"), ".git")
	if owner == "" || name == "" {
		return ""
	}
	return strings.ToLower(owner + "/" + name)
}
