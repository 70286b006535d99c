package accessmap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

const (
	azureDevOpsProfileURL  = "https://app.vssps.visualstudio.com/_apis/profile/profiles/me?api-version=7.1-preview.1"
	azureDevOpsAPIVersion  = "7.1-preview.1"
	azureDevOpsTokenAdmVer = "7.1"
)

type azureDevOpsProfile struct {
	DisplayName  string `json:"displayName"`
	PublicAlias  string `json:"publicAlias"`
	EmailAddress string `json:"emailAddress"`
	ID           string `json:"id"`
}

type azureDevOpsProject struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

type azureDevOpsProjectRef struct {
	Name string `json:"name"`
}

type azureDevOpsRepo struct {
	Name       string                 `json:"name"`
	IsDisabled bool                   `json:"isDisabled"`
	Project    azureDevOpsProjectRef `json:"project"`
}

type azureDevOpsListResponse[T any] struct {
	Value []T `json:"value"`
}

type azureDevOpsIdentity struct {
	SubjectDescriptor string `json:"subjectDescriptor"`
}

type azureDevOpsPAT struct {
	DisplayName string `json:"displayName"`
	ValidFrom   string `json:"validFrom"`
	ValidTo     string `json:"validTo"`
	UserID      string `json:"userId"`
	Scope       string `json:"scope"`
}

// AzureDevOpsDriver maps an Azure DevOps personal access token to an
// AccessMapResult.
type AzureDevOpsDriver struct {
	HTTPClient *http.Client
}

func (d *AzureDevOpsDriver) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return common.RetryableHTTPClient()
}

// Map implements Driver.
func (d *AzureDevOpsDriver) Map(ctx context.Context, req Request) (Result, error) {
	org := normalizeAzureDevOpsOrg(req.AzureDevOpsOrg)
	if org == "" {
		return Result{}, fmt.Errorf("azure devops access-map: requires a valid organization name")
	}

	client := d.httpClient()
	authHeader := "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+req.AzureDevOpsToken))

	profile, scopes, userData := d.fetchProfile(ctx, client, authHeader)
	patDetails := d.fetchPATDetails(ctx, client, org, authHeader, profile, scopes)

	projects, err := d.listProjects(ctx, client, org, authHeader)
	if err != nil {
		return Result{}, err
	}
	repos, err := d.listRepositories(ctx, client, org, authHeader, projects)
	if err != nil {
		return Result{}, err
	}

	identityID := firstNonEmpty(profile.EmailAddress, userData.email, profile.PublicAlias, profile.DisplayName, profile.ID, userData.userID, "azure_devops_user")

	identity := AccessSummary{ID: identityID, AccessType: "pat", Project: org}

	var resources []ResourceExposure
	var permissions PermissionSummary
	var riskNotes []string

	seenRepos := make(map[string]struct{})
	for _, repo := range repos {
		risk := SeverityMedium
		reason := "Accessible Azure DevOps repository"
		if repo.IsDisabled {
			risk = SeverityLow
			reason = "Repository is disabled but visible to the token"
		}
		permissions.ReadOnly = append(permissions.ReadOnly, "repo:read")

		repoName := repo.Name
		if repo.Project.Name != "" {
			repoName = repo.Project.Name + "/" + repo.Name
		}
		if _, ok := seenRepos[repoName]; ok {
			continue
		}
		seenRepos[repoName] = struct{}{}

		resources = append(resources, ResourceExposure{
			ResourceType: "repository",
			Name:         repoName,
			Permissions:  []string{"repo:read"},
			Risk:         string(risk),
			Reason:       reason,
		})
	}
	permissions.ReadOnly = sortDedup(permissions.ReadOnly)

	severity := azureDevOpsDeriveSeverity(projects, repos)

	var roles []RoleBinding
	if len(scopes) > 0 {
		roles = append(roles, RoleBinding{Name: "token_scopes", Source: "azure_devops", Permissions: scopes})
	}

	if len(repos) == 0 {
		for _, p := range projects {
			isPrivate := strings.EqualFold(p.Visibility, "private")
			risk := SeverityLow
			reason := "Accessible public Azure DevOps project"
			if isPrivate {
				risk = SeverityMedium
				reason = "Accessible private Azure DevOps project"
			}
			resources = append(resources, ResourceExposure{
				ResourceType: "project",
				Name:         p.Name,
				Permissions:  []string{"project:read"},
				Risk:         string(risk),
				Reason:       reason,
			})
		}
		if len(projects) == 0 {
			resources = append(resources, ResourceExposure{
				ResourceType: "organization",
				Name:         org,
				Risk:         string(SeverityLow),
				Reason:       "Azure DevOps organization associated with the token",
			})
		}
		riskNotes = append(riskNotes, "Token did not enumerate any repositories")
	}
	if len(roles) == 0 {
		riskNotes = append(riskNotes, "Azure DevOps did not report PAT scopes; review the token permissions")
	}

	var patScopes []string
	if patDetails != nil {
		patScopes = parseAzureDevOpsPATScopes(patDetails.Scope)
	}
	tokenScopes := scopes
	if len(tokenScopes) == 0 {
		tokenScopes = patScopes
	}

	tokenDetails := &TokenDetails{
		AccountType: "",
		TokenType:   "pat",
		Scopes:      tokenScopes,
	}
	if patDetails != nil && strings.TrimSpace(patDetails.DisplayName) != "" {
		tokenDetails.Name = patDetails.DisplayName
	} else if strings.TrimSpace(profile.DisplayName) != "" {
		tokenDetails.Name = profile.DisplayName
	} else {
		tokenDetails.Name = profile.PublicAlias
	}
	tokenDetails.Username = profile.PublicAlias
	tokenDetails.Email = profile.EmailAddress
	if patDetails != nil {
		tokenDetails.CreatedAt = patDetails.ValidFrom
		tokenDetails.ExpiresAt = patDetails.ValidTo
	}
	patUserID := ""
	if patDetails != nil {
		patUserID = patDetails.UserID
	}
	tokenDetails.UserID = firstNonEmpty(patUserID, profile.ID, userData.userID, profile.EmailAddress, profile.PublicAlias)

	return Result{
		Cloud:           "azure_devops",
		Identity:        identity,
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		RiskNotes:       riskNotes,
		TokenDetails:    tokenDetails,
	}, nil
}

type azureDevOpsUserData struct {
	userID string
	email  string
}

func (d *AzureDevOpsDriver) fetchProfile(ctx context.Context, client *http.Client, authHeader string) (azureDevOpsProfile, []string, azureDevOpsUserData) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, azureDevOpsProfileURL, nil)
	if err != nil {
		return azureDevOpsProfile{}, nil, azureDevOpsUserData{}
	}
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := client.Do(httpReq)
	if err != nil {
		return azureDevOpsProfile{}, nil, azureDevOpsUserData{}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return azureDevOpsProfile{}, nil, azureDevOpsUserData{}
	}

	scopes := parseAzureDevOpsScopesHeader(resp.Header.Get("x-vss-token-scopes"))
	userData := parseAzureDevOpsUserDataHeader(resp.Header.Get("x-vss-userdata"))

	var profile azureDevOpsProfile
	if json.NewDecoder(resp.Body).Decode(&profile) != nil {
		return azureDevOpsProfile{}, scopes, userData
	}
	return profile, scopes, userData
}

func normalizeAzureDevOpsOrg(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	parts := strings.Split(trimmed, "/")
	return strings.TrimSpace(parts[len(parts)-1])
}

func parseAzureDevOpsScopesHeader(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseAzureDevOpsUserDataHeader(value string) azureDevOpsUserData {
	if value == "" {
		return azureDevOpsUserData{}
	}
	parts := strings.SplitN(value, ":", 2)
	var ud azureDevOpsUserData
	if len(parts) > 0 {
		ud.userID = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		ud.email = strings.TrimSpace(parts[1])
	}
	return ud
}

func (d *AzureDevOpsDriver) fetchPATDetails(ctx context.Context, client *http.Client, org, authHeader string, profile azureDevOpsProfile, scopes []string) *azureDevOpsPAT {
	descriptor := d.fetchSubjectDescriptor(ctx, client, org, authHeader, profile)
	if descriptor == "" {
		return nil
	}

	u, err := url.Parse(fmt.Sprintf("https://vssps.dev.azure.com/%s/_apis/tokenadmin/personalaccesstokens/", org))
	if err != nil {
		return nil
	}
	u.Path += descriptor
	q := u.Query()
	q.Set("api-version", azureDevOpsTokenAdmVer)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	var payload azureDevOpsListResponse[azureDevOpsPAT]
	if json.NewDecoder(resp.Body).Decode(&payload) != nil {
		return nil
	}
	return selectMatchingAzureDevOpsPAT(payload.Value, scopes, profile.ID)
}

func (d *AzureDevOpsDriver) fetchSubjectDescriptor(ctx context.Context, client *http.Client, org, authHeader string, profile azureDevOpsProfile) string {
	type attempt struct {
		identityID  string
		searchValue string
	}
	var attempts []attempt
	if strings.TrimSpace(profile.ID) != "" {
		attempts = append(attempts, attempt{identityID: profile.ID})
	}
	if strings.TrimSpace(profile.EmailAddress) != "" {
		attempts = append(attempts, attempt{searchValue: profile.EmailAddress})
	}
	if strings.TrimSpace(profile.PublicAlias) != "" {
		attempts = append(attempts, attempt{searchValue: profile.PublicAlias})
	}
	if strings.TrimSpace(profile.DisplayName) != "" {
		attempts = append(attempts, attempt{searchValue: profile.DisplayName})
	}

	for _, a := range attempts {
		u, err := url.Parse(fmt.Sprintf("https://vssps.dev.azure.com/%s/_apis/identities", org))
		if err != nil {
			return ""
		}
		q := u.Query()
		q.Set("api-version", azureDevOpsTokenAdmVer)
		q.Set("queryMembership", "None")
		if a.identityID != "" {
			q.Set("identityIds", a.identityID)
		} else if a.searchValue != "" {
			q.Set("searchFilter", "General")
			q.Set("filterValue", a.searchValue)
		}
		u.RawQuery = q.Encode()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return ""
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("Authorization", authHeader)

		resp, err := client.Do(httpReq)
		if err != nil {
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			continue
		}
		var payload azureDevOpsListResponse[azureDevOpsIdentity]
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if decodeErr != nil {
			continue
		}
		for _, ident := range payload.Value {
			if strings.TrimSpace(ident.SubjectDescriptor) != "" {
				return ident.SubjectDescriptor
			}
		}
	}
	return ""
}

func parseAzureDevOpsPATScopes(scope string) []string {
	return strings.Fields(scope)
}

func selectMatchingAzureDevOpsPAT(pats []azureDevOpsPAT, scopes []string, userID string) *azureDevOpsPAT {
	if len(pats) == 0 {
		return nil
	}

	candidates := make([]azureDevOpsPAT, 0, len(pats))
	for _, pat := range pats {
		if userID != "" && pat.UserID != "" && pat.UserID != userID {
			continue
		}
		candidates = append(candidates, pat)
	}

	desired := append([]string(nil), scopes...)
	sort.Strings(desired)
	desired = dedupSortedStrings(desired)

	if len(desired) > 0 {
		var scopeMatches []azureDevOpsPAT
		for _, pat := range candidates {
			patScopes := parseAzureDevOpsPATScopes(pat.Scope)
			sort.Strings(patScopes)
			patScopes = dedupSortedStrings(patScopes)
			if len(patScopes) == 0 {
				continue
			}
			if equalStringSlices(patScopes, desired) || allContained(desired, patScopes) {
				scopeMatches = append(scopeMatches, pat)
			}
		}
		if len(scopeMatches) > 0 {
			candidates = scopeMatches
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ValidFrom > best.ValidFrom {
			best = c
		}
	}
	return &best
}

func dedupSortedStrings(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allContained(needles, haystack []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

func (d *AzureDevOpsDriver) listProjects(ctx context.Context, client *http.Client, org, authHeader string) ([]azureDevOpsProject, error) {
	url := fmt.Sprintf("https://dev.azure.com/%s/_apis/projects?api-version=%s", org, azureDevOpsAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure devops access-map: failed to list projects: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}
	var payload azureDevOpsListResponse[azureDevOpsProject]
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("azure devops access-map: invalid project JSON: %w", err)
	}
	return payload.Value, nil
}

func (d *AzureDevOpsDriver) listRepositories(ctx context.Context, client *http.Client, org, authHeader string, projects []azureDevOpsProject) ([]azureDevOpsRepo, error) {
	url := fmt.Sprintf("https://dev.azure.com/%s/_apis/git/repositories?api-version=%s", org, azureDevOpsAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure devops access-map: failed to list repositories: %w", err)
	}

	var repos []azureDevOpsRepo
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var payload azureDevOpsListResponse[azureDevOpsRepo]
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("azure devops access-map: invalid repo JSON: %w", decodeErr)
		}
		repos = payload.Value
	} else {
		resp.Body.Close()
	}

	if len(repos) > 0 || len(projects) == 0 {
		return repos, nil
	}

	for _, p := range projects {
		projectName := strings.TrimSpace(p.Name)
		if projectName == "" {
			continue
		}
		projectRepos, err := d.listProjectRepositories(ctx, client, org, projectName, authHeader)
		if err != nil {
			continue
		}
		repos = append(repos, projectRepos...)
	}
	return repos, nil
}

func (d *AzureDevOpsDriver) listProjectRepositories(ctx context.Context, client *http.Client, org, project, authHeader string) ([]azureDevOpsRepo, error) {
	url := fmt.Sprintf("https://dev.azure.com/%s/%s/_apis/git/repositories?api-version=%s", org, project, azureDevOpsAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure devops access-map: failed to list project repositories: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("azure devops access-map: project repository enumeration failed with HTTP %d", resp.StatusCode)
	}
	var payload azureDevOpsListResponse[azureDevOpsRepo]
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("azure devops access-map: invalid repo JSON: %w", err)
	}
	return payload.Value, nil
}

func azureDevOpsDeriveSeverity(projects []azureDevOpsProject, repos []azureDevOpsRepo) Severity {
	if len(repos) > 0 {
		return SeverityMedium
	}
	for _, p := range projects {
		if strings.EqualFold(p.Visibility, "private") {
			return SeverityMedium
		}
	}
	return SeverityLow
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
