// Package accessmap probes a validated credential against its cloud or
// SaaS provider and derives a normalized AccessMapResult describing the
// identity, its roles, permissions, exposed resources, and severity (the
// Access-Map Engine, C9).
package accessmap

import (
	"context"
	"sort"

	"github.com/go-logr/logr"
)

// Severity is the overall risk classification of a mapped credential.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// AccessSummary describes the resolved identity.
type AccessSummary struct {
	ID         string
	AccessType string
	Project    string
	Tenant     string
	AccountID  string
}

// RoleBinding is one role or set of scopes bound to the identity.
type RoleBinding struct {
	Name        string
	Source      string
	Permissions []string
}

// PermissionSummary groups derived permissions by risk profile. Each slice
// is an ordered, deduplicated set.
type PermissionSummary struct {
	Admin               []string
	PrivilegeEscalation []string
	Risky               []string
	ReadOnly            []string
}

// ResourceExposure is one resource reachable with the credential.
type ResourceExposure struct {
	ResourceType string
	Name         string
	Permissions  []string
	Risk         string
	Reason       string
}

// TokenDetails carries optional metadata about an access token, when the
// provider exposes it.
type TokenDetails struct {
	Name         string
	Username     string
	AccountType  string
	Company      string
	Location     string
	Email        string
	URL          string
	TokenType    string
	CreatedAt    string
	LastUsedAt   string
	ExpiresAt    string
	UserID       string
	Scopes       []string
}

// ProviderMetadata is optional metadata about the provider instance (e.g.
// a self-hosted GitLab's version).
type ProviderMetadata struct {
	Version    string
	Enterprise bool
}

// Result is the normalized output of a single access-map run.
type Result struct {
	Cloud            string
	Identity         AccessSummary
	Roles            []RoleBinding
	Permissions      PermissionSummary
	Resources        []ResourceExposure
	Severity         Severity
	Recommendations  []string
	RiskNotes        []string
	TokenDetails     *TokenDetails
	ProviderMetadata *ProviderMetadata
}

// Request is a validated credential to be mapped to an identity.
type Request struct {
	Cloud               string
	AWSAccessKey        string
	AWSSecretKey        string
	AWSSessionToken     string
	GCPCredentialJSON   string
	AzureCredentialJSON string
	AzureContainerHints []string
	AzureDevOpsToken    string
	AzureDevOpsOrg      string
	GitHubToken         string
	GitLabToken         string
	SlackToken          string
}

// Driver maps one Request to a Result.
type Driver interface {
	Map(ctx context.Context, req Request) (Result, error)
}

// buildRecommendations deterministically derives remediation guidance from
// severity: rotate+least-privilege always apply, with an escalating tier
// of follow-up advice.
func buildRecommendations(sev Severity) []string {
	recs := []string{
		"Rotate the credential and audit recent usage",
		"Apply the principle of least privilege to attached roles",
	}
	switch sev {
	case SeverityCritical, SeverityHigh:
		recs = append(recs, "Investigate blast radius and revoke unused bindings")
	case SeverityMedium:
		recs = append(recs, "Review write-level permissions and tighten scopes")
	default:
		recs = append(recs, "Maintain monitoring for anomalous access")
	}
	return recs
}

func defaultProjectResource(projectID string, sev Severity) ResourceExposure {
	return ResourceExposure{
		ResourceType: "project",
		Name:         projectID,
		Risk:         string(sev),
		Reason:       "Project containing the provided credential",
	}
}

func degradedResult(cloud, identityLabel string, err error) Result {
	sev := SeverityMedium
	return Result{
		Cloud: cloud,
		Identity: AccessSummary{
			ID:         identityLabel,
			AccessType: "unknown",
		},
		Resources:       []ResourceExposure{defaultProjectResource("", sev)},
		Severity:        sev,
		Recommendations: buildRecommendations(sev),
		RiskNotes:       []string{"Identity mapping failed: " + err.Error()},
	}
}

// MapRequests dispatches each request to its provider driver, converting
// any driver error into a degraded result rather than propagating it —
// per the spec, a single bad credential never fails the whole batch.
func MapRequests(ctx context.Context, log logr.Logger, drivers map[string]Driver, requests []Request) []Result {
	results := make([]Result, 0, len(requests))
	for _, req := range requests {
		driver, ok := drivers[req.Cloud]
		if !ok {
			results = append(results, degradedResult(req.Cloud, req.Cloud, errUnsupportedProvider(req.Cloud)))
			continue
		}
		res, err := driver.Map(ctx, req)
		if err != nil {
			log.Info("access-map driver failed, recording degraded result", "cloud", req.Cloud, "error", err.Error())
			results = append(results, degradedResult(req.Cloud, identityLabel(req), err))
			continue
		}
		results = append(results, res)
	}
	return results
}

func identityLabel(req Request) string {
	switch {
	case req.AWSAccessKey != "":
		return req.AWSAccessKey
	case req.GCPCredentialJSON != "":
		return "service_account"
	case req.AzureCredentialJSON != "":
		return "storage_account"
	case req.AzureDevOpsToken != "":
		return "pat"
	case req.GitHubToken != "":
		return "token"
	case req.GitLabToken != "":
		return "token"
	case req.SlackToken != "":
		return "token"
	default:
		return req.Cloud
	}
}

type unsupportedProviderError string

func (e unsupportedProviderError) Error() string { return "access-map: unsupported provider " + string(e) }

func errUnsupportedProvider(cloud string) error { return unsupportedProviderError(cloud) }

func sortDedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
