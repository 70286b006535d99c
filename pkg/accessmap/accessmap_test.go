package accessmap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestAzureSharedKeyAuthHeader_SignsCorrectly(t *testing.T) {
	account := "a"
	key := "aw==" // base64("k")
	date := "Mon, 01 Jan 2024 00:00:00 GMT"

	withMarker, err := AzureSharedKeyAuthHeader(account, key, date, "m")
	require.NoError(t, err)
	require.Equal(t, "SharedKey a:RjtOUSZKz/rXMJwcXwcpq97UZZEZPK7oNRWwx4t1Hz4=", withMarker)

	withoutMarker, err := AzureSharedKeyAuthHeader(account, key, date, "")
	require.NoError(t, err)
	require.Equal(t, "SharedKey a:qs7CrXr9OUH9QJh4bPQs4vi6kPXgTTdb6mfRchntzv0=", withoutMarker)
}

func TestAzureStorageDriver_Map_AlwaysCritical(t *testing.T) {
	driver := &AzureStorageDriver{}
	credJSON, err := json.Marshal(map[string]string{"storage_account": "a", "storage_key": "aw=="})
	require.NoError(t, err)

	result, err := driver.Map(context.Background(), Request{
		Cloud:               "azure",
		AzureCredentialJSON: string(credJSON),
		AzureContainerHints: []string{"precomputed"},
	})
	require.NoError(t, err)
	require.Equal(t, SeverityCritical, result.Severity)
	require.Equal(t, "azure", result.Cloud)
}

func TestGitHubDriver_Map_AdminRepoProducesHighSeverity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-oauth-scopes", "repo, read:org")
		json.NewEncoder(w).Encode(map[string]string{"login": "alice", "type": "User"})
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode([]map[string]any{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"full_name": "alice/secrets", "private": true, "permissions": map[string]bool{"admin": true, "push": true, "pull": true}},
		})
	})
	mux.HandleFunc("/user/memberships/orgs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	driver := &GitHubDriver{HTTPClient: srv.Client(), BaseURL: srv.URL}
	result, err := driver.Map(context.Background(), Request{Cloud: "github", GitHubToken: "token123"})
	require.NoError(t, err)
	require.Equal(t, SeverityHigh, result.Severity)
	require.Equal(t, "alice", result.Identity.ID)
}

func TestGitLabAccessLevelToRisk_Level50IsHigh(t *testing.T) {
	label, sev := gitlabAccessLevelToRisk(50)
	require.Equal(t, "project:owner", label)
	require.Equal(t, SeverityHigh, sev)
}

func TestGitLabDeriveSeverity_AccessLevel50ProducesHigh(t *testing.T) {
	projects := []gitlabProject{{
		PathWithNamespace: "group/project",
		Permissions:       &gitlabProjectPermissions{ProjectAccess: &gitlabAccess{AccessLevel: 50}},
	}}
	require.Equal(t, SeverityHigh, gitlabDeriveSeverity(projects))
}

func TestSlackDriver_Map_ScenarioS3(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-oauth-scopes", "admin,chat:write")
		json.NewEncoder(w).Encode(slackAuthTestResponse{
			OK: true, User: "bob", Team: "acme", TeamID: "T1", UserID: "U1",
		})
	}))
	defer srv.Close()

	driver := &SlackDriver{HTTPClient: srv.Client(), AuthTestURL: srv.URL}
	result, err := driver.Map(context.Background(), Request{Cloud: "slack", SlackToken: "xoxb-token"})
	require.NoError(t, err)
	require.Equal(t, "slack", result.Cloud)
	require.Equal(t, "bob@acme", result.Identity.ID)
	require.Contains(t, result.Permissions.Admin, "admin")
	require.Equal(t, SeverityCritical, result.Severity)
}

func TestAWSDeriveSeverity_AdminPolicyIsHigh(t *testing.T) {
	p := PermissionSummary{Admin: []string{"AdministratorAccess"}}
	require.Equal(t, SeverityHigh, awsDeriveSeverity(p))
}

func TestGCPDeriveSeverity_AdminRoleIsHigh(t *testing.T) {
	p := PermissionSummary{Admin: []string{"roles/owner"}}
	require.Equal(t, SeverityHigh, gcpDeriveSeverity(p))
}

func TestMapRequests_DriverErrorDegradesInsteadOfPropagating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	drivers := map[string]Driver{
		"slack": &SlackDriver{HTTPClient: srv.Client(), AuthTestURL: srv.URL},
	}
	results := MapRequests(context.Background(), logr.Discard(), drivers, []Request{{Cloud: "slack", SlackToken: "bad"}})
	require.Len(t, results, 1)
	require.Equal(t, SeverityMedium, results[0].Severity)
	require.NotEmpty(t, results[0].RiskNotes)
}

func TestMapRequests_UnknownProviderDegrades(t *testing.T) {
	results := MapRequests(context.Background(), logr.Discard(), map[string]Driver{}, []Request{{Cloud: "bitbucket"}})
	require.Len(t, results, 1)
	require.Equal(t, SeverityMedium, results[0].Severity)
}
