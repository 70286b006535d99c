package repoenum

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v67/github"
	"github.com/stretchr/testify/require"

	"github.com/kingfisher-scan/kingfisher/pkg/exclude"
)

// TestEnumerateGitHub_ScenarioS2 reproduces the spec's S2 scenario: a
// two-page user repo listing with an exclusion glob dropping the archived
// repos, leaving exactly one clone URL.
func TestEnumerateGitHub_ScenarioS2(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice/repos", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/users/alice/repos?page=2>; rel="next"`, "http://"+r.Host))
			fmt.Fprint(w, `[
				{"name":"project","clone_url":"https://github.com/alice/project.git","owner":{"login":"alice"}},
				{"name":"archive-2021","clone_url":"https://github.com/alice/archive-2021.git","owner":{"login":"alice"}}
			]`)
		case "2":
			fmt.Fprint(w, `[
				{"name":"archive-2022","clone_url":"https://github.com/alice/archive-2022.git","owner":{"login":"alice"}}
			]`)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := github.NewClient(srv.Client())
	baseURL, err := client.BaseURL.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL

	excl := exclude.Build(logr.Discard(), []string{"alice/archive-*"})
	urls, err := EnumerateGitHub(context.Background(), logr.Discard(), client, GitHubSpec{Users: []string{"alice"}}, excl)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/alice/project.git"}, urls)
}
