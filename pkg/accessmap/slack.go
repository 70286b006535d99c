package accessmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

type slackAuthTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

const slackAuthTestURL = "https://slack.com/api/auth.test"

// SlackDriver maps a Slack bot/user token to an AccessMapResult.
type SlackDriver struct {
	HTTPClient *http.Client
	// AuthTestURL overrides slackAuthTestURL; used by tests to point at a
	// local httptest server instead of the real Slack API.
	AuthTestURL string
}

func (d *SlackDriver) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return common.RetryableHTTPClient()
}

func (d *SlackDriver) authTestURL() string {
	if d.AuthTestURL != "" {
		return d.AuthTestURL
	}
	return slackAuthTestURL
}

// Map implements Driver.
func (d *SlackDriver) Map(ctx context.Context, req Request) (Result, error) {
	client := d.httpClient()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.authTestURL(), nil)
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.SlackToken)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	scopesHeader := resp.Header.Get("x-oauth-scopes")

	var parsed slackAuthTestResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("slack access-map: invalid auth.test response: %w", err)
	}
	if !parsed.OK {
		return Result{}, fmt.Errorf("slack auth.test failed: %s", parsed.Error)
	}

	scopes := parseCSVHeader(scopesHeader)

	identity := AccessSummary{
		ID:         fmt.Sprintf("%s@%s", parsed.User, parsed.Team),
		AccessType: "user",
		Project:    parsed.Team,
		Tenant:     parsed.TeamID,
		AccountID:  parsed.UserID,
	}

	var roles []RoleBinding
	if len(scopes) > 0 {
		roles = append(roles, RoleBinding{Name: "OAuth Scopes", Source: "token", Permissions: scopes})
	}

	permissions := slackClassifyPermissions(scopes)
	severity := slackDeriveSeverity(permissions)

	resources := []ResourceExposure{{
		ResourceType: "workspace",
		Name:         parsed.Team,
		Permissions:  scopes,
		Risk:         string(SeverityMedium),
		Reason:       "Token has access to this workspace",
	}}

	return Result{
		Cloud:           "slack",
		Identity:        identity,
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		TokenDetails: &TokenDetails{
			Name:     parsed.User,
			Username: parsed.User,
			UserID:   parsed.UserID,
			URL:      parsed.URL,
			Scopes:   scopes,
		},
		ProviderMetadata: &ProviderMetadata{},
	}, nil
}

func slackClassifyPermissions(scopes []string) PermissionSummary {
	var p PermissionSummary
	for _, s := range scopes {
		switch {
		case strings.HasPrefix(s, "admin"):
			p.Admin = append(p.Admin, s)
		case strings.Contains(s, "write") || strings.Contains(s, "manage") || strings.Contains(s, "remove"):
			p.Risky = append(p.Risky, s)
		default:
			p.ReadOnly = append(p.ReadOnly, s)
		}
	}
	return p
}

func slackDeriveSeverity(p PermissionSummary) Severity {
	switch {
	case len(p.Admin) > 0:
		return SeverityCritical
	case len(p.Risky) > 0:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
