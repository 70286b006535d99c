// Package config loads scan and access-map configuration from a YAML file
// and environment variables. Environment variables always take precedence
// over the file, matching the teacher's convention of env-var overrides for
// secrets that should never be committed to a config file.
package config

import (
	"os"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kingfisher-scan/kingfisher/pkg/common"
)

// Tokens holds the provider credentials consumed by the repo enumerator and
// rule validation probes. Absent or empty values mean anonymous access.
type Tokens struct {
	GitHub      string `yaml:"github_token"`
	GitLab      string `yaml:"gitlab_token"`
	HuggingFace string `yaml:"huggingface_token"`
}

// Config is the root of the on-disk configuration file.
type Config struct {
	Tokens      Tokens   `yaml:"tokens"`
	Exclude     []string `yaml:"exclude"`
	RulesPath   string   `yaml:"rules_path"`
	CloneLimit  *int     `yaml:"clone_limit"`
	IncludeExternalIgnoreSyntax bool `yaml:"include_external_ignore_syntax"`
}

// Load reads a YAML config file at path (if non-empty and present) and then
// overlays the KF_GITHUB_TOKEN / KF_GITLAB_TOKEN / KF_HUGGINGFACE_TOKEN
// environment variables on top, since secrets should never need to live in
// a file on disk.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, pkgerrors.Wrapf(err, "config: failed to parse %s", path)
			}
		case os.IsNotExist(err):
			// No config file is not an error; env vars may still supply
			// everything needed.
		default:
			return nil, pkgerrors.Wrapf(err, "config: failed to read %s", path)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// MergeExclude combines the config file's exclude list with CLI-supplied
// patterns, dropping duplicates so the same pattern compiled twice doesn't
// show up twice in exclude.Build's diagnostics.
func (c *Config) MergeExclude(extra []string) []string {
	merged := append([]string(nil), c.Exclude...)
	for _, e := range extra {
		common.AddStringSliceItem(e, &merged)
	}
	return merged
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("KF_GITHUB_TOKEN"); ok && v != "" {
		cfg.Tokens.GitHub = v
	}
	if v, ok := os.LookupEnv("KF_GITLAB_TOKEN"); ok && v != "" {
		cfg.Tokens.GitLab = v
	}
	if v, ok := os.LookupEnv("KF_HUGGINGFACE_TOKEN"); ok && v != "" {
		cfg.Tokens.HuggingFace = v
	}
}
