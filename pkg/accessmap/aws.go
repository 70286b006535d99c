package accessmap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// adminPolicyNames are AWS managed policies treated as full administrative
// access regardless of the resource they're attached to.
var adminPolicyNames = map[string]struct{}{
	"AdministratorAccess": {},
	"PowerUserAccess":     {},
}

// privilegeEscalationPolicyNames are AWS managed policies known to grant
// IAM-management actions (pass role, attach policy, create access key)
// that are commonly used to pivot to a higher-privileged identity.
var privilegeEscalationPolicyNames = map[string]struct{}{
	"IAMFullAccess": {},
}

// AWSDriver maps an AWS access key pair to an AccessMapResult by resolving
// the caller identity via STS and enumerating attached IAM policies.
type AWSDriver struct {
	// Region is used for the STS/IAM API calls; AWS STS is effectively
	// global but the SDK still requires a region to sign requests.
	Region string
}

func (d *AWSDriver) region() string {
	if d.Region != "" {
		return d.Region
	}
	return "us-east-1"
}

// Map implements Driver.
func (d *AWSDriver) Map(ctx context.Context, req Request) (Result, error) {
	if req.AWSAccessKey == "" || req.AWSSecretKey == "" {
		return Result{}, fmt.Errorf("aws access-map: requires an access key and secret key")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(d.region()),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			req.AWSAccessKey, req.AWSSecretKey, req.AWSSessionToken,
		)),
	)
	if err != nil {
		return Result{}, fmt.Errorf("aws access-map: failed to build config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)
	identityOut, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Result{}, fmt.Errorf("aws access-map: failed to resolve caller identity: %w", err)
	}

	arn := aws.ToString(identityOut.Arn)
	accountID := aws.ToString(identityOut.Account)
	userID := aws.ToString(identityOut.UserId)

	identity := AccessSummary{
		ID:         arn,
		AccessType: awsIdentityType(arn),
		AccountID:  accountID,
	}

	iamClient := iam.NewFromConfig(cfg)
	entityName := awsEntityNameFromARN(arn)

	var roles []RoleBinding
	var resources []ResourceExposure
	var permissions PermissionSummary
	var riskNotes []string

	switch identity.AccessType {
	case "assumed-role":
		roleName := awsRoleNameFromARN(arn)
		policies, err := listAttachedRolePolicies(ctx, iamClient, roleName)
		if err != nil {
			riskNotes = append(riskNotes, fmt.Sprintf("Failed to enumerate attached role policies: %s", err))
		}
		roles, resources, permissions = awsClassifyPolicies("role", roleName, policies)
	case "user":
		policies, err := listAttachedUserPolicies(ctx, iamClient, entityName)
		if err != nil {
			riskNotes = append(riskNotes, fmt.Sprintf("Failed to enumerate attached user policies: %s", err))
		}
		roles, resources, permissions = awsClassifyPolicies("user", entityName, policies)
	default:
		riskNotes = append(riskNotes, "Credential identity type does not support IAM policy enumeration")
	}

	severity := awsDeriveSeverity(permissions)

	if len(resources) == 0 {
		resources = append(resources, ResourceExposure{
			ResourceType: "account",
			Name:         accountID,
			Risk:         string(SeverityLow),
			Reason:       "AWS account associated with the credential",
		})
	}

	return Result{
		Cloud:           "aws",
		Identity:        identity,
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		RiskNotes:       riskNotes,
		TokenDetails: &TokenDetails{
			Name:     entityName,
			Username: entityName,
			UserID:   userID,
		},
	}, nil
}

func awsIdentityType(arn string) string {
	switch {
	case strings.Contains(arn, ":assumed-role/"):
		return "assumed-role"
	case strings.Contains(arn, ":user/"):
		return "user"
	case strings.Contains(arn, ":root"):
		return "root"
	default:
		return "unknown"
	}
}

func awsEntityNameFromARN(arn string) string {
	idx := strings.LastIndex(arn, "/")
	if idx == -1 {
		return arn
	}
	return arn[idx+1:]
}

func awsRoleNameFromARN(arn string) string {
	// assumed-role ARNs are arn:aws:sts::<account>:assumed-role/<role>/<session>
	parts := strings.Split(arn, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return awsEntityNameFromARN(arn)
}

func listAttachedUserPolicies(ctx context.Context, client *iam.Client, userName string) ([]iamtypes.AttachedPolicy, error) {
	var policies []iamtypes.AttachedPolicy
	var marker *string
	for {
		out, err := client.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{
			UserName: aws.String(userName),
			Marker:   marker,
		})
		if err != nil {
			return policies, err
		}
		policies = append(policies, out.AttachedPolicies...)
		if !out.IsTruncated {
			break
		}
		marker = out.Marker
	}
	return policies, nil
}

func listAttachedRolePolicies(ctx context.Context, client *iam.Client, roleName string) ([]iamtypes.AttachedPolicy, error) {
	var policies []iamtypes.AttachedPolicy
	var marker *string
	for {
		out, err := client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(roleName),
			Marker:   marker,
		})
		if err != nil {
			return policies, err
		}
		policies = append(policies, out.AttachedPolicies...)
		if !out.IsTruncated {
			break
		}
		marker = out.Marker
	}
	return policies, nil
}

func awsClassifyPolicies(entityKind, entityName string, policies []iamtypes.AttachedPolicy) ([]RoleBinding, []ResourceExposure, PermissionSummary) {
	var permissions PermissionSummary
	var resources []ResourceExposure
	var policyNames []string

	for _, p := range policies {
		name := aws.ToString(p.PolicyName)
		policyNames = append(policyNames, name)

		risk := SeverityLow
		switch {
		case isAdminPolicyName(name):
			permissions.Admin = append(permissions.Admin, name)
			risk = SeverityHigh
		case isPrivilegeEscalationPolicyName(name):
			permissions.PrivilegeEscalation = append(permissions.PrivilegeEscalation, name)
			risk = SeverityHigh
		case strings.Contains(strings.ToLower(name), "write") || strings.Contains(strings.ToLower(name), "full"):
			permissions.Risky = append(permissions.Risky, name)
			risk = SeverityMedium
		default:
			permissions.ReadOnly = append(permissions.ReadOnly, name)
		}

		resources = append(resources, ResourceExposure{
			ResourceType: "iam_policy",
			Name:         name,
			Permissions:  []string{name},
			Risk:         string(risk),
			Reason:       fmt.Sprintf("Policy attached to %s %s", entityKind, entityName),
		})
	}

	permissions.Admin = sortDedup(permissions.Admin)
	permissions.PrivilegeEscalation = sortDedup(permissions.PrivilegeEscalation)
	permissions.Risky = sortDedup(permissions.Risky)
	permissions.ReadOnly = sortDedup(permissions.ReadOnly)

	var roles []RoleBinding
	if len(policyNames) > 0 {
		roles = append(roles, RoleBinding{
			Name:        entityName,
			Source:      entityKind,
			Permissions: sortDedup(policyNames),
		})
	}

	return roles, resources, permissions
}

func isAdminPolicyName(name string) bool {
	_, ok := adminPolicyNames[name]
	return ok
}

func isPrivilegeEscalationPolicyName(name string) bool {
	_, ok := privilegeEscalationPolicyNames[name]
	return ok
}

func awsDeriveSeverity(p PermissionSummary) Severity {
	switch {
	case len(p.Admin) > 0 || len(p.PrivilegeEscalation) > 0:
		return SeverityHigh
	case len(p.Risky) > 0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
