package accessmap

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

const azureStorageAPIVersion = "2023-11-03"

type azureStorageCredential struct {
	StorageAccount string `json:"storage_account"`
	StorageKey     string `json:"storage_key"`
}

type azureBlobEnumerationResults struct {
	XMLName    xml.Name `xml:"EnumerationResults"`
	NextMarker string   `xml:"NextMarker"`
	Containers struct {
		Container []struct {
			Name string `xml:"Name"`
		} `xml:"Container"`
	} `xml:"Containers"`
}

// AzureStorageDriver maps an Azure storage account key to an
// AccessMapResult. A storage account key always grants full control over
// the account, so severity is fixed at Critical regardless of what
// listing the containers reveals.
type AzureStorageDriver struct {
	HTTPClient *http.Client
	Now        func() time.Time // overridable for tests; defaults to time.Now
}

func (d *AzureStorageDriver) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return common.RetryableHTTPClient()
}

func (d *AzureStorageDriver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Map implements Driver.
func (d *AzureStorageDriver) Map(ctx context.Context, req Request) (Result, error) {
	cred, err := common.UnmarshalJSON[azureStorageCredential]([]byte(req.AzureCredentialJSON))
	if err != nil {
		return Result{}, fmt.Errorf("azure access-map: invalid credential JSON: %w", err)
	}
	if cred.StorageAccount == "" || cred.StorageKey == "" {
		return Result{}, fmt.Errorf("azure access-map: credential JSON missing storage_account/storage_key")
	}

	riskNotes := []string{"Storage account keys grant full control over the storage account"}

	containers := req.AzureContainerHints
	if len(containers) == 0 {
		listed, err := d.listContainers(ctx, cred.StorageAccount, cred.StorageKey)
		if err != nil {
			riskNotes = append(riskNotes, fmt.Sprintf("Container enumeration failed: %s", err))
		} else {
			containers = listed
		}
	}

	severity := SeverityCritical
	permissions := PermissionSummary{Admin: []string{"storage:*"}}
	roles := []RoleBinding{{Name: "storage_account_key", Source: "shared_key", Permissions: []string{"storage:*"}}}

	var resources []ResourceExposure
	resources = append(resources, ResourceExposure{
		ResourceType: "storage_account",
		Name:         cred.StorageAccount,
		Permissions:  []string{"storage:*"},
		Risk:         string(SeverityCritical),
		Reason:       "Storage account accessible with shared key",
	})
	if len(containers) == 0 {
		resources = append(resources, ResourceExposure{
			ResourceType: "storage_container",
			Permissions:  []string{"storage:*"},
			Risk:         string(SeverityCritical),
			Reason:       "Container list unavailable; storage account key still grants full access",
		})
	} else {
		for _, c := range containers {
			resources = append(resources, ResourceExposure{
				ResourceType: "storage_container",
				Name:         c,
				Permissions:  []string{"storage:*"},
				Risk:         string(SeverityCritical),
				Reason:       "Container accessible with shared key",
			})
		}
	}

	return Result{
		Cloud:           "azure",
		Identity:        AccessSummary{ID: cred.StorageAccount, AccessType: "storage_account_key"},
		Roles:           roles,
		Permissions:     permissions,
		Resources:       resources,
		Severity:        severity,
		Recommendations: buildRecommendations(severity),
		RiskNotes:       riskNotes,
	}, nil
}

// AzureSharedKeyAuthHeader computes the "SharedKey account:signature" value
// for a GET container-list request against account, signed with key
// (base64-encoded) at dateRFC1123 with the given marker (may be ""). This
// is split out from listContainers so it can be driven directly by tests
// against the canonical string in the spec.
func AzureSharedKeyAuthHeader(account, key, dateRFC1123, marker string) (string, error) {
	canonHeaders := fmt.Sprintf("x-ms-date:%s\nx-ms-version:%s\n", dateRFC1123, azureStorageAPIVersion)
	canonResource := fmt.Sprintf("/%s/\ncomp:list", account)
	if marker != "" {
		canonResource += fmt.Sprintf("\nmarker:%s", marker)
	}
	stringToSign := "GET\n\n\n\n\n\n\n\n\n\n\n\n" + canonHeaders + canonResource

	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("azure access-map: invalid storage key: %w", err)
	}
	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("SharedKey %s:%s", account, signature), nil
}

func (d *AzureStorageDriver) listContainers(ctx context.Context, account, key string) ([]string, error) {
	seen := make(map[string]struct{})
	var ordered []string
	marker := ""

	for {
		dateRFC1123 := d.now().UTC().Format(time.RFC1123)
		dateRFC1123 = dateRFC1123[:len(dateRFC1123)-len("UTC")] + "GMT"

		reqURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/", account))
		if err != nil {
			return nil, err
		}
		q := reqURL.Query()
		q.Set("comp", "list")
		if marker != "" {
			q.Set("marker", marker)
		}
		reqURL.RawQuery = q.Encode()

		auth, err := AzureSharedKeyAuthHeader(account, key, dateRFC1123, marker)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("x-ms-date", dateRFC1123)
		httpReq.Header.Set("x-ms-version", azureStorageAPIVersion)
		httpReq.Header.Set("Authorization", auth)

		resp, err := d.httpClient().Do(httpReq)
		if err != nil {
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("azure storage list containers failed (HTTP %d): %s", resp.StatusCode, string(body))
		}

		var parsed azureBlobEnumerationResults
		if err := xml.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("azure storage: XML parse error: %w", err)
		}
		for _, c := range parsed.Containers.Container {
			if c.Name == "" {
				continue
			}
			if _, ok := seen[c.Name]; !ok {
				seen[c.Name] = struct{}{}
				ordered = append(ordered, c.Name)
			}
		}
		if parsed.NextMarker == "" {
			break
		}
		marker = parsed.NextMarker
	}

	return sortDedup(ordered), nil
}
