// Package exclude compiles raw exclusion strings (owner/repo specifiers,
// clone URLs, or globs over either) into a predicate over normalized clone
// URLs (the Exclusion Matcher, C7).
package exclude

import (
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gobwas/glob"
)

// entry is one compiled exclusion: either an exact normalized path or a
// glob pattern over one.
type entry struct {
	exact string
	g     glob.Glob
}

func (e entry) matches(path string) bool {
	if e.g != nil {
		return e.g.Match(path)
	}
	return e.exact == path
}

// Matcher is a compiled predicate over normalized clone-URL paths.
type Matcher struct {
	entries []entry
}

// Build compiles raw into a Matcher. Invalid raw entries are logged and
// skipped rather than rejected, so one bad line in a config file never
// disables the whole exclusion list.
func Build(log logr.Logger, raw []string) *Matcher {
	m := &Matcher{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		path := normalize(r)
		if path == "" {
			log.Info("skipping invalid exclusion entry", "entry", r)
			continue
		}
		if strings.ContainsAny(path, "*?[") {
			g, err := glob.Compile(path)
			if err != nil {
				log.Info("invalid exclusion glob, falling back to exact match", "entry", r, "error", err.Error())
				m.entries = append(m.entries, entry{exact: path})
				continue
			}
			m.entries = append(m.entries, entry{g: g})
			continue
		}
		m.entries = append(m.entries, entry{exact: path})
	}
	return m
}

// Matches reports whether cloneURL's normalized path is excluded.
func (m *Matcher) Matches(cloneURL string) bool {
	if m == nil {
		return false
	}
	path := normalize(cloneURL)
	if path == "" {
		return false
	}
	for _, e := range m.entries {
		if e.matches(path) {
			return true
		}
	}
	return false
}

// normalize extracts the lowercase, ".git"-stripped owner/…/name path from
// any of the accepted forms: bare "owner/repo", an HTTP(S) URL, an
// "ssh://…" URL, or "git@host:owner/repo". Returns "" if no path segments
// could be recovered.
func normalize(raw string) string {
	var rest string
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "ssh://"):
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		rest = u.Path
	case strings.Contains(raw, "@") && strings.Contains(raw, ":"):
		// git@host:owner/repo(.git)
		at := strings.IndexByte(raw, '@')
		colon := strings.IndexByte(raw[at:], ':')
		if colon == -1 {
			return ""
		}
		rest = raw[at+colon+1:]
	default:
		rest = raw
	}

	rest = strings.Trim(rest, "/")
	rest = strings.TrimSuffix(rest, ".git")
	if rest == "" {
		return ""
	}
	return strings.ToLower(rest)
}
