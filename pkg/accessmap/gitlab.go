package accessmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

const gitlabAPIBase = "https://gitlab.com/api/v4"

type gitlabAccess struct {
	AccessLevel int `json:"access_level"`
}

type gitlabProjectPermissions struct {
	ProjectAccess *gitlabAccess `json:"project_access"`
	GroupAccess   *gitlabAccess `json:"group_access"`
}

type gitlabProject struct {
	PathWithNamespace string                    `json:"path_with_namespace"`
	Visibility        string                    `json:"visibility"`
	Permissions       *gitlabProjectPermissions `json:"permissions"`
}

type gitlabTokenInfo struct {
	Name      string   `json:"name"`
	CreatedAt string   `json:"created_at"`
	LastUsed  string   `json:"last_used_at"`
	ExpiresAt string   `json:"expires_at"`
	Scopes    []string `json:"scopes"`
	UserID    int      `json:"user_id"`
}

type gitlabMetadata struct {
	Version    string `json:"version"`
	Enterprise bool   `json:"enterprise"`
}

// GitLabDriver maps a GitLab personal access token to an AccessMapResult.
type GitLabDriver struct {
	HTTPClient *http.Client
}

func (d *GitLabDriver) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return common.RetryableHTTPClient()
}

func (d *GitLabDriver) do(ctx context.Context, client *http.Client, token, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", token)
	req.Header.Set("Accept", "application/json")
	return client.Do(req)
}

// Map implements Driver.
func (d *GitLabDriver) Map(ctx context.Context, req Request) (Result, error) {
	token := req.GitLabToken
	client := d.httpClient()

	tokenInfo := d.fetchTokenInfo(ctx, client, token)
	identityLabel := "gitlab_token"
	if tokenInfo != nil {
		switch {
		case tokenInfo.Name != "":
			identityLabel = tokenInfo.Name
		case tokenInfo.UserID != 0:
			identityLabel = fmt.Sprintf("gitlab_user_%d", tokenInfo.UserID)
		}
	}
	identity := AccessSummary{ID: identityLabel, AccessType: "token"}

	var scopes []string
	if tokenInfo != nil {
		scopes = tokenInfo.Scopes
	}

	projects, err := d.listAccessibleProjects(ctx, client, token)
	if err != nil {
		return Result{}, err
	}
	metadata := d.fetchInstanceMetadata(ctx, client, token)

	var riskNotes []string
	var resources []ResourceExposure
	var permissions PermissionSummary

	for _, p := range projects {
		accessLevel := gitlabEffectiveAccessLevel(p.Permissions)
		label, sev := gitlabAccessLevelToRisk(accessLevel)

		resources = append(resources, ResourceExposure{
			ResourceType: "project",
			Name:         p.PathWithNamespace,
			Permissions:  []string{label},
			Risk:         string(sev),
			Reason:       fmt.Sprintf("Accessible %s project", p.Visibility),
		})

		switch sev {
		case SeverityHigh, SeverityCritical:
			permissions.Admin = append(permissions.Admin, label)
		case SeverityMedium:
			permissions.Risky = append(permissions.Risky, label)
		default:
			permissions.ReadOnly = append(permissions.ReadOnly, label)
		}
	}
	permissions.Admin = sortDedup(permissions.Admin)
	permissions.Risky = sortDedup(permissions.Risky)
	permissions.ReadOnly = sortDedup(permissions.ReadOnly)

	severity := gitlabDeriveSeverity(projects)

	var roles []RoleBinding
	if len(scopes) > 0 {
		roles = append(roles, RoleBinding{Name: "token_scopes", Source: "gitlab", Permissions: scopes})
	}

	if len(projects) == 0 {
		resources = append(resources, ResourceExposure{
			ResourceType: "account",
			Name:         identity.ID,
			Risk:         string(SeverityLow),
			Reason:       "GitLab account associated with the token",
		})
		riskNotes = append(riskNotes, "Token did not enumerate any projects")
	}
	if len(roles) == 0 {
		riskNotes = append(riskNotes, "GitLab did not report token scopes")
	}

	var tokenDetails *TokenDetails
	if tokenInfo != nil {
		tokenDetails = &TokenDetails{
			Name:      tokenInfo.Name,
			CreatedAt: tokenInfo.CreatedAt,
			LastUsedAt: tokenInfo.LastUsed,
			ExpiresAt: tokenInfo.ExpiresAt,
			UserID:    strconv.Itoa(tokenInfo.UserID),
			Scopes:    scopes,
		}
	}

	var providerMetadata *ProviderMetadata
	if metadata != nil {
		providerMetadata = &ProviderMetadata{Version: metadata.Version, Enterprise: metadata.Enterprise}
	}

	return Result{
		Cloud:            "gitlab",
		Identity:         identity,
		Roles:            roles,
		Permissions:      permissions,
		Resources:        resources,
		Severity:         severity,
		Recommendations:  buildRecommendations(severity),
		RiskNotes:        riskNotes,
		TokenDetails:     tokenDetails,
		ProviderMetadata: providerMetadata,
	}, nil
}

func (d *GitLabDriver) fetchTokenInfo(ctx context.Context, client *http.Client, token string) *gitlabTokenInfo {
	resp, err := d.do(ctx, client, token, gitlabAPIBase+"/personal_access_tokens/self")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	var info gitlabTokenInfo
	if json.NewDecoder(resp.Body).Decode(&info) != nil {
		return nil
	}
	return &info
}

func (d *GitLabDriver) fetchInstanceMetadata(ctx context.Context, client *http.Client, token string) *gitlabMetadata {
	resp, err := d.do(ctx, client, token, gitlabAPIBase+"/metadata")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	var meta gitlabMetadata
	if json.NewDecoder(resp.Body).Decode(&meta) != nil {
		return nil
	}
	return &meta
}

func (d *GitLabDriver) listAccessibleProjects(ctx context.Context, client *http.Client, token string) ([]gitlabProject, error) {
	var projects []gitlabProject
	const perPage = 100
	page := 1
	for {
		url := fmt.Sprintf("%s/projects?min_access_level=10&per_page=%d&page=%d", gitlabAPIBase, perPage, page)
		resp, err := d.do(ctx, client, token, url)
		if err != nil {
			return nil, fmt.Errorf("gitlab access-map: failed to list projects: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			break
		}
		nextPage, _ := strconv.Atoi(resp.Header.Get("x-next-page"))
		var pageProjects []gitlabProject
		decodeErr := json.NewDecoder(resp.Body).Decode(&pageProjects)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("gitlab access-map: invalid project JSON: %w", decodeErr)
		}
		projects = append(projects, pageProjects...)
		if len(pageProjects) < perPage || nextPage == 0 {
			break
		}
		page = nextPage
	}
	return projects, nil
}

func gitlabEffectiveAccessLevel(perms *gitlabProjectPermissions) int {
	if perms == nil {
		return 0
	}
	level := 0
	if perms.ProjectAccess != nil && perms.ProjectAccess.AccessLevel > level {
		level = perms.ProjectAccess.AccessLevel
	}
	if perms.GroupAccess != nil && perms.GroupAccess.AccessLevel > level {
		level = perms.GroupAccess.AccessLevel
	}
	return level
}

func gitlabAccessLevelToRisk(level int) (string, Severity) {
	switch level {
	case 50:
		return "project:owner", SeverityHigh
	case 40:
		return "project:maintainer", SeverityHigh
	case 30:
		return "project:developer", SeverityMedium
	case 20:
		return "project:reporter", SeverityLow
	case 10:
		return "project:guest", SeverityLow
	default:
		return "project:access", SeverityLow
	}
}

func gitlabDeriveSeverity(projects []gitlabProject) Severity {
	sev := SeverityLow
	for _, p := range projects {
		_, projectSev := gitlabAccessLevelToRisk(gitlabEffectiveAccessLevel(p.Permissions))
		switch projectSev {
		case SeverityHigh, SeverityCritical:
			return SeverityHigh
		case SeverityMedium:
			sev = SeverityMedium
		}
	}
	return sev
}
