// Package safelist classifies a matched byte range as a benign placeholder
// via an ordered set of byte-regex rules (the Safe-Match Filter, C5).
package safelist

import "regexp"

// Rule is one ordered entry of the safe-list: a case-insensitive regex and
// the human-readable reason returned when it fires.
type Rule struct {
	Reason  string
	Pattern *regexp.Regexp
}

func mustRule(reason, pattern string) Rule {
	return Rule{Reason: reason, Pattern: regexp.MustCompile(`(?i)` + pattern)}
}

// secretKeyGate is the "looks like it's naming a credential" prefix every
// redaction/placeholder rule below requires before its value-shape match,
// so e.g. a bare `foo: true` line is never classified safe just because
// some unrelated field happens to hold a boolean.
const secretKeyGate = `(password|pass|pwd|passwd|secret|cred|key|auth|authorization)[^=:?]{0,8}[=:?][^=:?]{0,8}`

// Rules is the ordered safe-list (Glossary §G1). The first rule whose
// pattern matches the candidate window wins.
var Rules = []Rule{
	mustRule(`EXAMPLEKEY assignment`, `[:=][^:=]{0,64}EXAMPLEKEY`),
	mustRule(`AKIA...EXAMPLE placeholder access key`, `\bAKIA(?:.*?EXAMPLE|.*?FAKE|TEST|.*?SAMPLE)\b`),
	mustRule(`secret-like key followed by redaction marker (&&, ||, or ***** run)`,
		secretKeyGate+`\s(&&|\|\||\*{5,50})`),
	mustRule(`secret-like key with short value followed by another short assignment`,
		secretKeyGate+`\b\w{4,12}\s{0,6}=\s{0,6}\D{0,3}\w{1,12}`),
	mustRule(`secret-like key assigned from a shell variable reference`,
		secretKeyGate+`\$\w{4,30}`),
	mustRule(`secret-like key set via openssl rand`, `(password|pass|pwd|passwd|secret|cred|key|auth|authorization)[^=:?]{0,16}[=:?][^=:?]{0,8}\bopenssl\s{0,4}rand\b`),
	mustRule(`secret-like key assigned a value containing 'encrypted'`,
		secretKeyGate+`encrypted`),
	mustRule(`secret-like key assigned boolean literal`, secretKeyGate+`\b(?:false|true)\b`),
	mustRule(`secret-like key assigned null-ish or self-referential placeholder`,
		secretKeyGate+`\b(null|nil|none|password|pass|pwd|passwd|secret|cred|key|auth|authorization).{1,6}$`),
	mustRule(`xkcd fake password 'hunter2'`, secretKeyGate+`hunter2`),
	mustRule(`counting sequence '123456789' or 'abcdefghij'`, `123456789|abcdefghij`),
	mustRule(`<secretmanager> placeholder`, `<secretmanager>`),
	mustRule(`OpenAPI schema reference near assignment`, `[=:?][^=:?]{0,8}#/components/schemas/`),
	mustRule(`example MongoDB URI with placeholder credentials`, `\bmongodb(?:\+srv)?://(?:user|foo)[^:@]+:(?:pass|bar)[^@]+@[-\w.%+/:]{3,64}(?:/\w+)?`),
	mustRule(`classpath:// reference`, `\b(classpath://)`),
	mustRule(`${ENV_VAR} interpolation placeholder`, `\b[^\s\t]{0,16}[=:][^$]*\$\{[a-z_-]{5,30}\}`),
	mustRule(`example basic-auth URL to example/test host`, `\b(?:https?:)?//[^:@]{3,50}:[^:@]{3,50}@[\w.]{0,16}(?:example|test)`),
	mustRule(`SECRETMANAGER placeholder`, `[:=][^:=]{0,32}\bSECRETMANAGER`),
}

// Classify runs the ordered rule set against window (the matched bytes, or
// a small surrounding context window chosen by the caller) and returns the
// first matching reason.
func Classify(window []byte) (reason string, ok bool) {
	for _, r := range Rules {
		if r.Pattern.Match(window) {
			return r.Reason, true
		}
	}
	return "", false
}
