package repoenum

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
)

// GitLabSpec describes a GitLab enumeration request.
type GitLabSpec struct {
	Users      []string
	Groups     []string
	RepoType   RepoType
	CloneLimit *int
}

// EnumerateGitLab pages through the configured users' and groups' projects
// (including subgroups), applying excl and the spec's clone-limit math.
func EnumerateGitLab(ctx context.Context, log logr.Logger, client *gitlab.Client, spec GitLabSpec, excl *exclude.Matcher) ([]string, error) {
	userCount := len(spec.Users) + len(spec.Groups)
	limits := determineRepoLimits(spec.CloneLimit, userCount)

	var urls []string
	var rateLimited error
	total := 0

	addURL := func(userTotal *int, cloneURL string) bool {
		if !limits.allows(*userTotal, total) {
			return false
		}
		urls = append(urls, cloneURL)
		*userTotal++
		total++
		return true
	}

	owned := true
	for _, group := range spec.Groups {
		if rateLimited != nil {
			break
		}
		userTotal := 0
		opts := &gitlab.ListGroupProjectsOptions{
			ListOptions:      gitlab.ListOptions{PerPage: 100},
			IncludeSubGroups: gitlab.Ptr(true),
			Owned:            gitlab.Ptr(owned),
		}
		for {
			projects, resp, err := client.Groups.ListGroupProjects(group, opts, gitlab.WithContext(ctx))
			if isGitLabRateLimit(resp) {
				log.Info("GitLab rate limit reached, stopping enumeration", "group", group)
				rateLimited = errTooManyRequests
				break
			}
			if err != nil {
				log.Info("GitLab group enumeration failed", "group", group, "error", err.Error())
				break
			}
			for _, p := range projects {
				path := normalizeRepoPath("", p.PathWithNamespace)
				if path == "" || (excl != nil && excl.Matches(p.HTTPURLToRepo)) {
					continue
				}
				if !addURL(&userTotal, p.HTTPURLToRepo) {
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
		opts := &gitlab.ListProjectsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
		for {
			projects, resp, err := client.Projects.ListUserProjects(user, opts, gitlab.WithContext(ctx))
			if isGitLabRateLimit(resp) {
				log.Info("GitLab rate limit reached, stopping enumeration", "user", user)
				rateLimited = errTooManyRequests
				break
			}
			if err != nil {
				log.Info("GitLab user enumeration failed", "user", user, "error", err.Error())
				break
			}
			for _, p := range projects {
				path := normalizeRepoPath("", p.PathWithNamespace)
				if path == "" || (excl != nil && excl.Matches(p.HTTPURLToRepo)) {
					continue
				}
				if !addURL(&userTotal, p.HTTPURLToRepo) {
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

var errTooManyRequests = &rateLimitError{}

type rateLimitError struct{}

func (*rateLimitError) Error() string { return "gitlab: rate limit exceeded (403/429)" }

func isGitLabRateLimit(resp *gitlab.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests
}

// EnumerateGitLabContributors lists contributors of a seed project, then
// enumerates each contributor's own accessible projects subject to the same
// per-user/total clone-limit caps.
func EnumerateGitLabContributors(ctx context.Context, log logr.Logger, client *gitlab.Client, projectID string, repoType RepoType, cloneLimit *int, excl *exclude.Matcher) ([]string, error) {
	var logins []string
	seen := make(map[string]struct{})
	opts := &gitlab.ListContributorsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		contributors, resp, err := client.Repositories.Contributors(projectID, opts, gitlab.WithContext(ctx))
		if isGitLabRateLimit(resp) {
			log.Info("GitLab rate limit reached while listing contributors", "project", projectID)
			break
		}
		if err != nil {
			return nil, err
		}
		for _, c := range contributors {
			if c.Email == "" {
				continue
			}
			if _, ok := seen[c.Email]; !ok {
				seen[c.Email] = struct{}{}
				logins = append(logins, c.Email)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return EnumerateGitLab(ctx, log, client, GitLabSpec{Users: logins, RepoType: repoType, CloneLimit: cloneLimit}, excl)
}
