// Package rules applies compiled detection rules to blob bytes, joins
// rule-to-rule data dependencies, and deduplicates findings by fingerprint
// (the Rule Matcher & Findings Store, C6).
package rules

import (
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"sync"

	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"github.com/kingfisher-scan/kingfisher/pkg/ignore"
	"github.com/kingfisher-scan/kingfisher/pkg/safelist"
)

// Confidence is the rule author's stated confidence tier.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// DependsOnRule names another rule's id and a named capture variable: the
// dependency rule must have at least one match on the same blob whose
// capture for that variable equals the dependent rule's own capture for
// the same variable.
type DependsOnRule struct {
	RuleID   string
	Variable string
}

// Rule is a compiled detection rule.
type Rule struct {
	ID                string
	Name              string
	Pattern           *regexp.Regexp
	MinEntropy        float64
	Confidence        Confidence
	Visible           bool
	Examples          []string
	NegativeExamples  []string
	References        []string
	DependsOnRule     []DependsOnRule
	PatternReqs       []string // literal substrings that must all be present before the regex is even attempted

	// EntropyGroup, if non-empty, names the capture group whose text is
	// used for the entropy calculation; otherwise the whole match is used.
	EntropyGroup string
}

// ValidationStatus is the outcome of an optional provider-specific probe.
type ValidationStatus string

const (
	ValidationUnknown  ValidationStatus = "Unknown"
	ValidationActive   ValidationStatus = "Active"
	ValidationInactive ValidationStatus = "Inactive"
)

// Validation is the result of running a rule's validation probe.
type Validation struct {
	Status       ValidationStatus
	ResponseBody string
	ResponseCode int
	Success      bool
}

// SourceSpan is an optional line/column location for a match.
type SourceSpan struct {
	StartLine, StartColumn int
	EndLine, EndColumn     int
}

// Match is one finding: a rule match against a specific blob.
type Match struct {
	RuleID      string
	BlobID      string // hex object id; kept as a string so this package has no gitindex dependency
	Start, End  int
	Source      *SourceSpan
	Groups      []string // ordered; Groups[0] is the unnamed full match
	GroupNames  []string // parallel to Groups; "" for unnamed groups
	Fingerprint uint64
	Entropy     float64
	Visible     bool
	Validation  Validation
}

// namedCapture returns the text of the capture named name, if present.
func (m Match) namedCapture(name string) (string, bool) {
	for i, n := range m.GroupNames {
		if n == name && i < len(m.Groups) {
			return m.Groups[i], true
		}
	}
	return "", false
}

// ShannonEntropy computes the Shannon entropy (base 2) of data's byte
// distribution.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	entropy := 0.0
	n := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// Fingerprint computes the 64-bit stable hash over (rule id, normalized
// match bytes) used for dedup.
func Fingerprint(ruleID string, normalized []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ruleID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(normalized)
	return h.Sum64()
}

// Matcher holds the compiled rule set plus an aho-corasick pre-filter over
// each rule's required literal substrings (PatternReqs), so blobs that
// cannot possibly satisfy a rule skip the more expensive regex pass.
type Matcher struct {
	rules   []*Rule
	byID    map[string]*Rule
	trie    *ahocorasick.Trie
	ignoreF *ignore.Filter
}

// NewMatcher compiles a Matcher from a rule set. includeExternalIgnoreSyntax
// controls whether gitleaks/trufflehog inline-ignore spellings are honored.
func NewMatcher(ruleSet []*Rule, includeExternalIgnoreSyntax bool) (*Matcher, error) {
	m := &Matcher{
		byID:    make(map[string]*Rule, len(ruleSet)),
		ignoreF: ignore.New(includeExternalIgnoreSyntax),
	}

	var literals []string
	seen := make(map[string]struct{})
	for _, r := range ruleSet {
		if _, dup := m.byID[r.ID]; dup {
			return nil, fmt.Errorf("rules: duplicate rule id %q", r.ID)
		}
		m.byID[r.ID] = r
		m.rules = append(m.rules, r)
		for _, req := range r.PatternReqs {
			if _, ok := seen[req]; !ok {
				seen[req] = struct{}{}
				literals = append(literals, req)
			}
		}
	}
	if err := validateDependencyDAG(ruleSet); err != nil {
		return nil, err
	}
	if len(literals) > 0 {
		m.trie = ahocorasick.NewTrieBuilder().AddStrings(literals).Build()
	}
	return m, nil
}

// validateDependencyDAG rejects rule sets whose depends_on_rule relation
// contains a cycle, per the spec's rule-load-time requirement.
func validateDependencyDAG(ruleSet []*Rule) error {
	byID := make(map[string]*Rule, len(ruleSet))
	for _, r := range ruleSet {
		byID[r.ID] = r
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ruleSet))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("rules: dependency cycle detected at rule %q", id)
		}
		color[id] = gray
		if r, ok := byID[id]; ok {
			for _, dep := range r.DependsOnRule {
				if err := visit(dep.RuleID); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, r := range ruleSet {
		if err := visit(r.ID); err != nil {
			return err
		}
	}
	return nil
}

// candidateRules returns the subset of rules whose PatternReqs are all
// satisfied by data (or which declare no requirements at all).
func (m *Matcher) candidateRules(data []byte) []*Rule {
	if m.trie == nil {
		return m.rules
	}
	present := make(map[string]struct{})
	for _, hit := range m.trie.Match(data) {
		present[string(hit.Pattern())] = struct{}{}
	}
	var out []*Rule
	for _, r := range m.rules {
		if len(r.PatternReqs) == 0 {
			out = append(out, r)
			continue
		}
		ok := true
		for _, req := range r.PatternReqs {
			if _, found := present[req]; !found {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// MatchBlob applies every candidate rule against blob's bytes and returns
// the raw, per-rule matches surviving entropy, inline-ignore, and
// safe-match filtering, but not yet dependency-joined or deduped.
func (m *Matcher) MatchBlob(blobID string, data []byte) []Match {
	var out []Match
	for _, r := range m.candidateRules(data) {
		locs := r.Pattern.FindAllSubmatchIndex(data, -1)
		names := r.Pattern.SubexpNames()
		for _, loc := range locs {
			start, end := loc[0], loc[1]
			groups := make([]string, 0, len(loc)/2)
			groupNames := make([]string, 0, len(loc)/2)
			for i := 0; i < len(loc); i += 2 {
				gi := i / 2
				if loc[i] < 0 {
					groups = append(groups, "")
				} else {
					groups = append(groups, string(data[loc[i]:loc[i+1]]))
				}
				if gi < len(names) {
					groupNames = append(groupNames, names[gi])
				} else {
					groupNames = append(groupNames, "")
				}
			}

			entropySubject := groups[0]
			if r.EntropyGroup != "" {
				for i, n := range groupNames {
					if n == r.EntropyGroup && i < len(groups) {
						entropySubject = groups[i]
						break
					}
				}
			}
			entropy := ShannonEntropy([]byte(entropySubject))
			if entropy < r.MinEntropy {
				continue
			}

			if m.ignoreF.Suppresses(data, ignore.Span{Start: start, End: end}) {
				continue
			}
			if _, safe := safelist.Classify(data[start:end]); safe {
				continue
			}

			out = append(out, Match{
				RuleID:      r.ID,
				BlobID:      blobID,
				Start:       start,
				End:         end,
				Groups:      groups,
				GroupNames:  groupNames,
				Fingerprint: Fingerprint(r.ID, []byte(groups[0])),
				Entropy:     entropy,
				Visible:     r.Visible,
				Validation:  Validation{Status: ValidationUnknown},
			})
		}
	}
	return out
}

// ApplyDependencies filters matches, retaining a match for a dependent rule
// only when, for every one of its DependsOnRule entries, some match of the
// named provider rule on the same blob shares the same value for the
// named capture variable.
func (m *Matcher) ApplyDependencies(blobID string, matches []Match) []Match {
	byRule := make(map[string][]Match)
	for _, mt := range matches {
		byRule[mt.RuleID] = append(byRule[mt.RuleID], mt)
	}

	var out []Match
	for _, mt := range matches {
		rule, ok := m.byID[mt.RuleID]
		if !ok || len(rule.DependsOnRule) == 0 {
			out = append(out, mt)
			continue
		}
		satisfied := true
		for _, dep := range rule.DependsOnRule {
			val, ok := mt.namedCapture(dep.Variable)
			if !ok {
				satisfied = false
				break
			}
			found := false
			for _, providerMatch := range byRule[dep.RuleID] {
				if v, ok := providerMatch.namedCapture(dep.Variable); ok && v == val {
					found = true
					break
				}
			}
			if !found {
				satisfied = false
				break
			}
		}
		if satisfied {
			out = append(out, mt)
		}
	}
	return out
}

// IsDependencyProvider reports whether ruleID is named in some other
// rule's DependsOnRule list.
func (m *Matcher) IsDependencyProvider(ruleID string) bool {
	for _, r := range m.rules {
		for _, dep := range r.DependsOnRule {
			if dep.RuleID == ruleID {
				return true
			}
		}
	}
	return false
}

// Record is one stored (origin, blob id, match) triple.
type Record struct {
	Origin string
	BlobID string
	Match  Match
}

// Store is the thread-safe Findings Store: it grows monotonically, with
// dedup performed in-place on insertion.
type Store struct {
	mu                    sync.Mutex
	records               []Record
	seenFingerprint       map[uint64][]int // fingerprint -> indices into records, for non-provider rules
	seenFingerprintByBlob map[uint64]map[string]int
	dependencyProviders   map[string]struct{}
}

// NewStore returns an empty Findings Store.
func NewStore() *Store {
	return &Store{
		seenFingerprint:       make(map[uint64][]int),
		seenFingerprintByBlob: make(map[uint64]map[string]int),
		dependencyProviders:   make(map[string]struct{}),
	}
}

// RecordRules remembers which rule ids are dependency-provider rules, so
// Record can apply the correct dedup semantics.
func (s *Store) RecordRules(m *Matcher, ruleIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ruleIDs {
		if m.IsDependencyProvider(id) {
			s.dependencyProviders[id] = struct{}{}
		}
	}
}

// Record appends (origin, blob id, match) triples, applying the dedup
// contract: two triples collapse iff they share a finding_fingerprint and
// either neither rule is a dependency provider, or their blob ids match.
// Dependency-provider matches from distinct blobs are never merged.
func (s *Store) Record(origin, blobID string, matches []Match, dedup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mt := range matches {
		rec := Record{Origin: origin, BlobID: blobID, Match: mt}
		if !dedup {
			s.append(rec)
			continue
		}

		_, isProvider := s.dependencyProviders[mt.RuleID]
		if isProvider {
			byBlob, ok := s.seenFingerprintByBlob[mt.Fingerprint]
			if !ok {
				byBlob = make(map[string]int)
				s.seenFingerprintByBlob[mt.Fingerprint] = byBlob
			}
			if _, dup := byBlob[blobID]; dup {
				continue
			}
			idx := s.append(rec)
			byBlob[blobID] = idx
			continue
		}

		if _, dup := s.firstNonProviderIndex(mt.Fingerprint); dup {
			continue
		}
		idx := s.append(rec)
		s.seenFingerprint[mt.Fingerprint] = append(s.seenFingerprint[mt.Fingerprint], idx)
	}
}

func (s *Store) firstNonProviderIndex(fp uint64) (int, bool) {
	idxs, ok := s.seenFingerprint[fp]
	if !ok || len(idxs) == 0 {
		return 0, false
	}
	return idxs[0], true
}

func (s *Store) append(rec Record) int {
	s.records = append(s.records, rec)
	return len(s.records) - 1
}

// GetMatches returns the stored triples in insertion order after dedup
// collapse.
func (s *Store) GetMatches() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// SortByRuleThenBlob is a convenience helper for deterministic reporting
// order; it does not mutate the store's own insertion-order contract.
func SortByRuleThenBlob(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Match.RuleID != records[j].Match.RuleID {
			return records[i].Match.RuleID < records[j].Match.RuleID
		}
		return records[i].BlobID < records[j].BlobID
	})
}
