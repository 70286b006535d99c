package repoenum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
)

// ResourceKind is a Hugging Face resource category.
type ResourceKind string

const (
	ResourceModel   ResourceKind = "model"
	ResourceDataset ResourceKind = "dataset"
	ResourceSpace   ResourceKind = "space"
)

func (k ResourceKind) apiPath() string {
	switch k {
	case ResourceDataset:
		return "datasets"
	case ResourceSpace:
		return "spaces"
	default:
		return "models"
	}
}

func (k ResourceKind) gitURL(slug string) string {
	switch k {
	case ResourceDataset:
		return fmt.Sprintf("https://huggingface.co/datasets/%s.git", slug)
	case ResourceSpace:
		return fmt.Sprintf("https://huggingface.co/spaces/%s.git", slug)
	default:
		return fmt.Sprintf("https://huggingface.co/%s.git", slug)
	}
}

// HuggingFaceSpec describes a Hugging Face enumeration request.
type HuggingFaceSpec struct {
	Users         []string
	Organizations []string
	Models        []string
	Datasets      []string
	Spaces        []string
	Token         string
}

// hfItem is the subset of a Hugging Face API list-item response used to
// recover a resource's id.
type hfItem struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId"`
}

func (i hfItem) identifier() string {
	if i.ID != "" {
		return i.ID
	}
	return i.ModelID
}

// parseSlugForKind extracts the "owner/name" slug for kind from raw, which
// may be a bare path, a prefixed path ("datasets/user/data"), or a full
// huggingface.co URL. Returns "" if no slug could be recovered.
func parseSlugForKind(kind ResourceKind, raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var segments []string
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return ""
		}
		for _, s := range strings.Split(u.Path, "/") {
			if s != "" {
				segments = append(segments, s)
			}
		}
	} else {
		for _, s := range strings.Split(trimmed, "/") {
			if s != "" {
				segments = append(segments, s)
			}
		}
	}
	return parseSlugSegments(kind, segments)
}

func parseSlugSegments(kind ResourceKind, segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	parts := append([]string(nil), segments...)
	lowered := strings.ToLower(strings.TrimSpace(parts[0]))
	var plural, singular string
	switch kind {
	case ResourceDataset:
		plural, singular = "datasets", "dataset"
	case ResourceSpace:
		plural, singular = "spaces", "space"
	default:
		plural, singular = "models", "model"
	}
	if lowered == plural || lowered == singular {
		parts = parts[1:]
	}
	if len(parts) < 2 {
		return ""
	}
	owner := strings.TrimSpace(parts[0])
	name := strings.TrimSuffix(strings.TrimSpace(strings.Join(parts[1:], "/")), ".git")
	if owner == "" || name == "" {
		return ""
	}
	return owner + "/" + name
}

// parseNextLink extracts the rel="next" URL from an RFC 5988-ish Link
// header value, as Hugging Face emits it.
func parseNextLink(value string) string {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		urlPart, params, ok := strings.Cut(part, ">")
		if !ok {
			continue
		}
		if strings.Contains(params, `rel="next"`) {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(urlPart), "<"))
		}
	}
	return ""
}

// fetchPaginated walks a Hugging Face list endpoint following Link-header
// rel="next" cursors, stopping cleanly (without error) on a 403/429.
func fetchPaginated(ctx context.Context, log logr.Logger, httpClient *http.Client, startURL, token, context_ string) ([]hfItem, error) {
	var items []hfItem
	currentURL := startURL
	for currentURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return items, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return items, err
		}

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			log.Info("Hugging Face rate limit reached, stopping enumeration", "context", context_)
			resp.Body.Close()
			return items, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return items, fmt.Errorf("huggingface: request failed while enumerating %s: %s", context_, resp.Status)
		}

		var page []hfItem
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		linkHeader := resp.Header.Get("Link")
		resp.Body.Close()
		if decodeErr != nil {
			return items, fmt.Errorf("huggingface: failed to parse response while enumerating %s: %w", context_, decodeErr)
		}
		items = append(items, page...)

		currentURL = ""
		if linkHeader != "" {
			currentURL = parseNextLink(linkHeader)
		}
	}
	return items, nil
}

// EnumerateHuggingFace lists the configured users'/organizations' models,
// datasets, and spaces, plus any explicitly named resources, and returns a
// sorted deduplicated list of clone URLs.
func EnumerateHuggingFace(ctx context.Context, log logr.Logger, httpClient *http.Client, spec HuggingFaceSpec, excl *exclude.Matcher) ([]string, error) {
	var urls []string
	add := func(kind ResourceKind, slug string) {
		if slug == "" {
			return
		}
		cloneURL := kind.gitURL(slug)
		if excl != nil && excl.Matches(cloneURL) {
			return
		}
		urls = append(urls, cloneURL)
	}

	authors := append(append([]string(nil), spec.Users...), spec.Organizations...)
	for _, kind := range []ResourceKind{ResourceModel, ResourceDataset, ResourceSpace} {
		for _, author := range authors {
			listURL := fmt.Sprintf("https://huggingface.co/api/%s?author=%s&limit=100", kind.apiPath(), url.QueryEscape(author))
			items, err := fetchPaginated(ctx, log, httpClient, listURL, spec.Token, string(kind)+"s for "+author)
			if err != nil {
				return dedupSorted(urls), err
			}
			for _, item := range items {
				slug := parseSlugForKind(kind, item.identifier())
				add(kind, slug)
			}
		}
	}

	for _, m := range spec.Models {
		add(ResourceModel, parseSlugForKind(ResourceModel, m))
	}
	for _, d := range spec.Datasets {
		add(ResourceDataset, parseSlugForKind(ResourceDataset, d))
	}
	for _, s := range spec.Spaces {
		add(ResourceSpace, parseSlugForKind(ResourceSpace, s))
	}

	return dedupSorted(urls), nil
}
