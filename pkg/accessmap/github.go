package accessmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

const githubAPIBase = "https://api.github.com"

type githubUser struct {
	Login    string `json:"login"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Location string `json:"location"`
	HTMLURL  string `json:"html_url"`
	Type     string `json:"type"`
}

type githubRepoPermissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

type githubRepo struct {
	FullName    string                 `json:"full_name"`
	Private     bool                   `json:"private"`
	Permissions *githubRepoPermissions `json:"permissions"`
}

type githubOrgMembership struct {
	Organization struct {
		Login string `json:"login"`
	} `json:"organization"`
	Role  string `json:"role"`
	State string `json:"state"`
}

// GitHubDriver maps a GitHub personal access token to an AccessMapResult.
type GitHubDriver struct {
	HTTPClient *http.Client
	// BaseURL overrides githubAPIBase; used by tests to point at a local
	// httptest server instead of the real GitHub API.
	BaseURL string
}

func (d *GitHubDriver) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return common.RetryableHTTPClient()
}

func (d *GitHubDriver) baseURL() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return githubAPIBase
}

// Map implements Driver.
func (d *GitHubDriver) Map(ctx context.Context, req Request) (Result, error) {
	token := req.GitHubToken
	client := d.httpClient()
	base := d.baseURL()

	userResp, err := d.do(ctx, client, token, "GET", base+"/user")
	if err != nil {
		return Result{}, fmt.Errorf("github access-map: failed to fetch user info: %w", err)
	}
	defer userResp.Body.Close()
	if userResp.StatusCode < 200 || userResp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("github access-map: user lookup failed with HTTP %d", userResp.StatusCode)
	}

	oauthScopes := parseCSVHeader(userResp.Header.Get("x-oauth-scopes"))
	tokenExpiration := strings.TrimSpace(userResp.Header.Get("github-authentication-token-expiration"))
	tokenType := strings.TrimSpace(userResp.Header.Get("github-authentication-token-type"))

	var user githubUser
	if err := json.NewDecoder(userResp.Body).Decode(&user); err != nil {
		return Result{}, fmt.Errorf("github access-map: invalid user JSON: %w", err)
	}

	accessType := "user"
	if user.Type != "" {
		accessType = strings.ToLower(user.Type)
	}
	identity := AccessSummary{ID: user.Login, AccessType: accessType}

	repos, err := d.listAccessibleRepos(ctx, client, token, base)
	if err != nil {
		return Result{}, err
	}

	var riskNotes []string
	var resources []ResourceExposure
	var permissions PermissionSummary

	orgScopes := githubOrgScopes(oauthScopes)
	memberships, err := d.listOrgMemberships(ctx, client, token, base)
	if err != nil {
		memberships = nil
	}
	for _, m := range memberships {
		if m.State != "active" {
			continue
		}
		orgPermissions := append([]string(nil), orgScopes...)
		if strings.TrimSpace(m.Role) != "" {
			orgPermissions = append(orgPermissions, "org_role:"+strings.TrimSpace(m.Role))
		}
		orgPermissions = sortDedup(orgPermissions)
		if len(orgPermissions) == 0 {
			continue
		}
		risk := SeverityLow
		if containsSubstring(orgPermissions, "admin") {
			risk = SeverityHigh
		} else if containsSubstring(orgPermissions, "write") {
			risk = SeverityMedium
		}
		resources = append(resources, ResourceExposure{
			ResourceType: "organization",
			Name:         m.Organization.Login,
			Permissions:  orgPermissions,
			Risk:         string(risk),
			Reason:       "Organization membership available to the token",
		})
	}

	for _, repo := range repos {
		perms := repo.Permissions
		if perms == nil {
			perms = &githubRepoPermissions{Pull: true}
		}
		var repoPerms []string
		if perms.Admin {
			repoPerms = append(repoPerms, "repo:admin")
		}
		if perms.Push {
			repoPerms = append(repoPerms, "repo:write")
		}
		if perms.Pull {
			repoPerms = append(repoPerms, "repo:read")
		}

		risk := SeverityLow
		switch {
		case perms.Admin:
			risk = SeverityHigh
		case perms.Push:
			risk = SeverityMedium
		}

		reason := "Accessible public repository"
		if repo.Private {
			reason = "Accessible private repository"
		}

		resources = append(resources, ResourceExposure{
			ResourceType: "repository",
			Name:         repo.FullName,
			Permissions:  repoPerms,
			Risk:         string(risk),
			Reason:       reason,
		})

		switch {
		case perms.Admin:
			permissions.Admin = append(permissions.Admin, "repo:admin")
		case perms.Push:
			permissions.Risky = append(permissions.Risky, "repo:write")
		case perms.Pull:
			permissions.ReadOnly = append(permissions.ReadOnly, "repo:read")
		}
	}
	permissions.Admin = sortDedup(permissions.Admin)
	permissions.Risky = sortDedup(permissions.Risky)
	permissions.ReadOnly = sortDedup(permissions.ReadOnly)

	severity := githubDeriveSeverity(repos)

	var roles []RoleBinding
	if len(oauthScopes) > 0 {
		roles = append(roles, RoleBinding{Name: "token_scopes", Source: "github", Permissions: oauthScopes})
	}

	if len(repos) == 0 {
		resources = append(resources, ResourceExposure{
			ResourceType: "account",
			Name:         user.Login,
			Risk:         string(SeverityLow),
			Reason:       "GitHub account associated with the token",
		})
		riskNotes = append(riskNotes, "Token did not enumerate any repositories")
	}
	if len(roles) == 0 {
		riskNotes = append(riskNotes, "GitHub did not report OAuth scopes; fine-grained tokens may omit scope headers")
	}

	displayName := user.Name
	if strings.TrimSpace(displayName) == "" {
		displayName = user.Login
	}
	userIdentifier := user.Login
	if strings.TrimSpace(user.Email) != "" {
		userIdentifier = fmt.Sprintf("%s (%s)", user.Login, user.Email)
	}

	return Result{
		Cloud:           "github",
		Identity:        identity,
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		RiskNotes:       riskNotes,
		TokenDetails: &TokenDetails{
			Name:        displayName,
			Username:    user.Login,
			AccountType: user.Type,
			Company:     user.Company,
			Location:    user.Location,
			Email:       user.Email,
			URL:         user.HTMLURL,
			TokenType:   tokenType,
			ExpiresAt:   tokenExpiration,
			UserID:      userIdentifier,
			Scopes:      oauthScopes,
		},
	}, nil
}

func (d *GitHubDriver) do(ctx context.Context, client *http.Client, token, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "Kingfisher")
	return client.Do(req)
}

func (d *GitHubDriver) listAccessibleRepos(ctx context.Context, client *http.Client, token, base string) ([]githubRepo, error) {
	var repos []githubRepo
	const perPage = 100
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/user/repos?per_page=%d&page=%d", base, perPage, page)
		resp, err := d.do(ctx, client, token, "GET", url)
		if err != nil {
			return nil, fmt.Errorf("github access-map: failed to list repositories: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			break
		}
		var pageRepos []githubRepo
		decodeErr := json.NewDecoder(resp.Body).Decode(&pageRepos)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("github access-map: invalid repository JSON: %w", decodeErr)
		}
		repos = append(repos, pageRepos...)
		if len(pageRepos) < perPage {
			break
		}
	}
	return repos, nil
}

func (d *GitHubDriver) listOrgMemberships(ctx context.Context, client *http.Client, token, base string) ([]githubOrgMembership, error) {
	var orgs []githubOrgMembership
	const perPage = 100
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/user/memberships/orgs?per_page=%d&page=%d", base, perPage, page)
		resp, err := d.do(ctx, client, token, "GET", url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			break
		}
		var pageOrgs []githubOrgMembership
		decodeErr := json.NewDecoder(resp.Body).Decode(&pageOrgs)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, decodeErr
		}
		orgs = append(orgs, pageOrgs...)
		if len(pageOrgs) < perPage {
			break
		}
	}
	return orgs, nil
}

func parseCSVHeader(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func githubOrgScopes(scopes []string) []string {
	var out []string
	for _, s := range scopes {
		if strings.Contains(s, ":org") || strings.Contains(s, ":enterprise") {
			out = append(out, s)
		}
	}
	return sortDedup(out)
}

func githubDeriveSeverity(repos []githubRepo) Severity {
	sev := SeverityLow
	for _, r := range repos {
		if r.Permissions != nil && r.Permissions.Admin {
			return SeverityHigh
		}
		if r.Permissions != nil && r.Permissions.Push {
			sev = SeverityMedium
		}
	}
	return sev
}

func containsSubstring(values []string, substr string) bool {
	for _, v := range values {
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}
