package accessmap

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/iam/v1"
	"google.golang.org/api/option"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

// gcpAdminRoles are IAM roles treated as full administrative access over a
// project.
var gcpAdminRoles = map[string]struct{}{
	"roles/owner":  {},
	"roles/editor": {},
}

type gcpServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
}

// GCPDriver maps a GCP service-account key (JSON) to an AccessMapResult by
// testing the bindings it holds on its associated project and enumerating
// the service account's own IAM keys.
type GCPDriver struct{}

// Map implements Driver.
func (d *GCPDriver) Map(ctx context.Context, req Request) (Result, error) {
	key, err := common.UnmarshalJSON[gcpServiceAccountKey]([]byte(req.GCPCredentialJSON))
	if err != nil {
		return Result{}, fmt.Errorf("gcp access-map: invalid service account JSON: %w", err)
	}
	if key.ClientEmail == "" || key.ProjectID == "" {
		return Result{}, fmt.Errorf("gcp access-map: service account JSON missing client_email/project_id")
	}

	creds, err := google.CredentialsFromJSON(ctx, []byte(req.GCPCredentialJSON),
		cloudresourcemanager.CloudPlatformScope)
	if err != nil {
		return Result{}, fmt.Errorf("gcp access-map: failed to build credentials: %w", err)
	}

	identity := AccessSummary{
		ID:         key.ClientEmail,
		AccessType: "service_account",
		Project:    key.ProjectID,
	}

	var riskNotes []string
	var resources []ResourceExposure
	var permissions PermissionSummary
	var roles []RoleBinding

	crmClient, err := cloudresourcemanager.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		riskNotes = append(riskNotes, fmt.Sprintf("Failed to build Cloud Resource Manager client: %s", err))
	} else {
		boundRoles, err := gcpProjectRolesForMember(crmClient, key.ProjectID, "serviceAccount:"+key.ClientEmail)
		if err != nil {
			riskNotes = append(riskNotes, fmt.Sprintf("Failed to test IAM bindings on project %s: %s", key.ProjectID, err))
		} else {
			roles, resources, permissions = gcpClassifyRoles(key.ProjectID, boundRoles)
		}
	}

	iamClient, err := iam.NewService(ctx, option.WithCredentials(creds))
	if err == nil {
		saKeys, keyErr := gcpListServiceAccountKeys(iamClient, key.ProjectID, key.ClientEmail)
		if keyErr == nil && len(saKeys) > 0 {
			resources = append(resources, ResourceExposure{
				ResourceType: "service_account_key",
				Name:         key.ClientEmail,
				Permissions:  []string{"iam:keys"},
				Risk:         string(SeverityMedium),
				Reason:       fmt.Sprintf("Service account has %d active key(s)", len(saKeys)),
			})
		}
	}

	severity := gcpDeriveSeverity(permissions)

	if len(resources) == 0 {
		resources = append(resources, ResourceExposure{
			ResourceType: "project",
			Name:         key.ProjectID,
			Risk:         string(SeverityLow),
			Reason:       "GCP project associated with the service account",
		})
	}
	if len(roles) == 0 {
		riskNotes = append(riskNotes, "No IAM role bindings were found for this service account on its project")
	}

	return Result{
		Cloud:           "gcp",
		Identity:        identity,
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		RiskNotes:       riskNotes,
		TokenDetails: &TokenDetails{
			Name:     key.ClientEmail,
			Username: key.ClientEmail,
			UserID:   key.ClientID,
		},
	}, nil
}

// gcpProjectRolesForMember returns the roles bound to member (in
// "serviceAccount:<email>" form) on the given project, by fetching the
// project's IAM policy and filtering bindings that include the member.
func gcpProjectRolesForMember(client *cloudresourcemanager.Service, projectID, member string) ([]string, error) {
	policy, err := client.Projects.GetIamPolicy(projectID, &cloudresourcemanager.GetIamPolicyRequest{}).Do()
	if err != nil {
		return nil, err
	}
	var roles []string
	for _, binding := range policy.Bindings {
		for _, m := range binding.Members {
			if m == member {
				roles = append(roles, binding.Role)
				break
			}
		}
	}
	return sortDedup(roles), nil
}

func gcpClassifyRoles(projectID string, boundRoles []string) ([]RoleBinding, []ResourceExposure, PermissionSummary) {
	var permissions PermissionSummary
	var resources []ResourceExposure

	for _, role := range boundRoles {
		risk := SeverityLow
		switch {
		case isGCPAdminRole(role):
			permissions.Admin = append(permissions.Admin, role)
			risk = SeverityHigh
		case strings.Contains(role, "write") || strings.Contains(strings.ToLower(role), "editor"):
			permissions.Risky = append(permissions.Risky, role)
			risk = SeverityMedium
		default:
			permissions.ReadOnly = append(permissions.ReadOnly, role)
		}

		resources = append(resources, ResourceExposure{
			ResourceType: "project_role_binding",
			Name:         projectID,
			Permissions:  []string{role},
			Risk:         string(risk),
			Reason:       fmt.Sprintf("Role %s bound on project %s", role, projectID),
		})
	}

	permissions.Admin = sortDedup(permissions.Admin)
	permissions.Risky = sortDedup(permissions.Risky)
	permissions.ReadOnly = sortDedup(permissions.ReadOnly)

	var roles []RoleBinding
	if len(boundRoles) > 0 {
		roles = append(roles, RoleBinding{Name: projectID, Source: "project_iam_policy", Permissions: boundRoles})
	}

	return roles, resources, permissions
}

func isGCPAdminRole(role string) bool {
	_, ok := gcpAdminRoles[role]
	return ok
}

func gcpListServiceAccountKeys(client *iam.Service, projectID, email string) ([]*iam.ServiceAccountKey, error) {
	resourceName := fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, email)
	resp, err := client.Projects.ServiceAccounts.Keys.List(resourceName).Do()
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func gcpDeriveSeverity(p PermissionSummary) Severity {
	switch {
	case len(p.Admin) > 0:
		return SeverityHigh
	case len(p.Risky) > 0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
