package repoenum

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v67/github"

	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
)

// GitHubSpec describes a GitHub enumeration request.
type GitHubSpec struct {
	Users         []string
	Organizations []string
	RepoType      RepoType
	CloneLimit    *int
}

func githubRepoTypeOrg(t RepoType) string {
	switch t {
	case RepoTypeOwner:
		return "sources"
	case RepoTypeFork:
		return "forks"
	default:
		return "all"
	}
}

func githubRepoTypeUser(t RepoType) string {
	switch t {
	case RepoTypeOwner:
		return "owner"
	case RepoTypeFork:
		return "member"
	default:
		return "all"
	}
}

// EnumerateGitHub pages through the configured users' and organizations'
// repositories, applying excl and the spec's clone-limit math, and returns
// a sorted deduplicated list of clone URLs. A 403/429 from the API stops
// enumeration cleanly; URLs already gathered are returned alongside the
// encountered error so the caller can decide whether to treat it as fatal.
func EnumerateGitHub(ctx context.Context, log logr.Logger, client *github.Client, spec GitHubSpec, excl *exclude.Matcher) ([]string, error) {
	userCount := len(spec.Users) + len(spec.Organizations)
	limits := determineRepoLimits(spec.CloneLimit, userCount)

	var urls []string
	var rateLimited error

	addURL := func(userTotal *int, total *int, cloneURL string) bool {
		if !limits.allows(*userTotal, *total) {
			return false
		}
		urls = append(urls, cloneURL)
		*userTotal++
		*total++
		return true
	}

	total := 0
	for _, org := range spec.Organizations {
		if rateLimited != nil {
			break
		}
		userTotal := 0
		opts := &github.RepositoryListByOrgOptions{
			Type:        githubRepoTypeOrg(spec.RepoType),
			ListOptions: github.ListOptions{PerPage: 100},
		}
		for {
			repos, resp, err := client.Repositories.ListByOrg(ctx, org, opts)
			if isRateLimitErr(err) {
				log.Info("GitHub rate limit reached, stopping enumeration", "org", org)
				rateLimited = err
				break
			}
			if err != nil {
				log.Info("GitHub org enumeration failed", "org", org, "error", err.Error())
				break
			}
			for _, r := range repos {
				path := normalizeRepoPath(r.GetOwner().GetLogin(), r.GetName())
				if path == "" || (excl != nil && excl.Matches(r.GetCloneURL())) {
					continue
				}
				if !addURL(&userTotal, &total, r.GetCloneURL()) {
					break
				}
			}
			if resp == nil || resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}

	for _, user := range spec.Users {
		if rateLimited != nil {
			break
		}
		userTotal := 0
		opts := &github.RepositoryListByUserOptions{
			Type:        githubRepoTypeUser(spec.RepoType),
			ListOptions: github.ListOptions{PerPage: 100},
		}
		for {
			repos, resp, err := client.Repositories.ListByUser(ctx, user, opts)
			if isRateLimitErr(err) {
				log.Info("GitHub rate limit reached, stopping enumeration", "user", user)
				rateLimited = err
				break
			}
			if err != nil {
				log.Info("GitHub user enumeration failed", "user", user, "error", err.Error())
				break
			}
			for _, r := range repos {
				path := normalizeRepoPath(r.GetOwner().GetLogin(), r.GetName())
				if path == "" || (excl != nil && excl.Matches(r.GetCloneURL())) {
					continue
				}
				if !addURL(&userTotal, &total, r.GetCloneURL()) {
					break
				}
			}
			if resp == nil || resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}

	return dedupSorted(urls), rateLimited
}

// isRateLimitErr reports whether err represents a GitHub 403/429 rate-limit
// response (primary or secondary/abuse limiting).
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	var rl *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	return errors.As(err, &rl) || errors.As(err, &abuse)
}

// EnumerateGitHubContributors lists contributors of a seed owner/repo, then
// enumerates each contributor's own accessible repositories subject to the
// same per-user/total clone-limit caps.
func EnumerateGitHubContributors(ctx context.Context, log logr.Logger, client *github.Client, owner, repo string, repoType RepoType, cloneLimit *int, excl *exclude.Matcher) ([]string, error) {
	var logins []string
	seen := make(map[string]struct{})
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		contributors, resp, err := client.Repositories.ListContributors(ctx, owner, repo, opts)
		if isRateLimitErr(err) {
			log.Info("GitHub rate limit reached while listing contributors", "owner", owner, "repo", repo)
			break
		}
		if err != nil {
			return nil, err
		}
		for _, c := range contributors {
			login := c.GetLogin()
			if login == "" {
				continue
			}
			if _, ok := seen[login]; !ok {
				seen[login] = struct{}{}
				logins = append(logins, login)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	urls, err := EnumerateGitHub(ctx, log, client, GitHubSpec{Users: logins, RepoType: repoType, CloneLimit: cloneLimit}, excl)
	return urls, err
}
