package rules_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingfisher-scan/kingfisher/pkg/rules"
)

func mustPattern(expr string) *regexp.Regexp {
	return regexp.MustCompile(expr)
}

func TestDedup_ProviderRuleNeverMergesAcrossBlobs(t *testing.T) {
	providerRule := &rules.Rule{ID: "PROVIDER", Name: "provider", Pattern: mustPattern(`x`), Confidence: rules.ConfidenceHigh, Visible: true}
	dependentRule := &rules.Rule{
		ID: "DEPENDENT", Name: "dependent", Pattern: mustPattern(`y`), Confidence: rules.ConfidenceHigh, Visible: true,
		DependsOnRule: []rules.DependsOnRule{{RuleID: "PROVIDER", Variable: "id"}},
	}
	matcher, err := rules.NewMatcher([]*rules.Rule{providerRule, dependentRule}, false)
	require.NoError(t, err)

	store := rules.NewStore()
	store.RecordRules(matcher, []string{"PROVIDER", "DEPENDENT"})

	fp := rules.Fingerprint("PROVIDER", []byte("x"))
	match := rules.Match{RuleID: "PROVIDER", Fingerprint: fp, Groups: []string{"x"}}

	store.Record("blobA", "blobA", []rules.Match{match}, true)
	store.Record("blobB", "blobB", []rules.Match{match}, true)

	require.Len(t, store.GetMatches(), 2, "dependency-provider matches must never merge across distinct blobs")
}

func TestDedup_NonProviderRuleCollapsesAcrossBlobs(t *testing.T) {
	soloRule := &rules.Rule{ID: "SOLO", Name: "solo", Pattern: mustPattern(`x`), Confidence: rules.ConfidenceHigh, Visible: true}
	matcher, err := rules.NewMatcher([]*rules.Rule{soloRule}, false)
	require.NoError(t, err)

	store := rules.NewStore()
	store.RecordRules(matcher, []string{"SOLO"})

	fp := rules.Fingerprint("SOLO", []byte("x"))
	match := rules.Match{RuleID: "SOLO", Fingerprint: fp, Groups: []string{"x"}}

	store.Record("blobA", "blobA", []rules.Match{match}, true)
	store.Record("blobB", "blobB", []rules.Match{match}, true)

	require.Len(t, store.GetMatches(), 1, "matches from a rule that is not a dependency provider must collapse across blobs")
}

func TestApplyDependencies_RetainsOnlyWhenProviderCaptureMatches(t *testing.T) {
	clientID := &rules.Rule{
		ID: "CLIENT_ID", Name: "client id", Pattern: mustPattern(`client_id=(?P<id>\w+)`), Confidence: rules.ConfidenceMedium, Visible: true,
	}
	clientSecret := &rules.Rule{
		ID: "CLIENT_SECRET", Name: "client secret", Pattern: mustPattern(`secret_for=(?P<id>\w+)`), Confidence: rules.ConfidenceHigh, Visible: true,
		DependsOnRule: []rules.DependsOnRule{{RuleID: "CLIENT_ID", Variable: "id"}},
	}
	matcher, err := rules.NewMatcher([]*rules.Rule{clientID, clientSecret}, false)
	require.NoError(t, err)

	blobWithBoth := []byte("client_id=abc123 secret_for=abc123")
	matches := matcher.MatchBlob("blob1", blobWithBoth)
	joined := matcher.ApplyDependencies("blob1", matches)

	var foundSecret bool
	for _, m := range joined {
		if m.RuleID == "CLIENT_SECRET" {
			foundSecret = true
		}
	}
	require.True(t, foundSecret, "dependent match must be retained when the provider rule captures the same variable value on the same blob")

	blobMismatchedID := []byte("client_id=zzz999 secret_for=abc123")
	matches2 := matcher.MatchBlob("blob2", blobMismatchedID)
	joined2 := matcher.ApplyDependencies("blob2", matches2)
	for _, m := range joined2 {
		require.NotEqual(t, "CLIENT_SECRET", m.RuleID, "dependent match must be dropped when no provider match shares its captured value")
	}
}

func TestShannonEntropy_LowForRepeatedBytes(t *testing.T) {
	require.Less(t, rules.ShannonEntropy([]byte("aaaaaaaaaa")), 1.0)
	require.Greater(t, rules.ShannonEntropy([]byte("aB3$kZ9!qW")), 2.0)
}

func TestFingerprint_StableAndDistinguishesRules(t *testing.T) {
	a := rules.Fingerprint("RULE_A", []byte("same-value"))
	b := rules.Fingerprint("RULE_B", []byte("same-value"))
	require.NotEqual(t, a, b)
	require.Equal(t, a, rules.Fingerprint("RULE_A", []byte("same-value")))
}
