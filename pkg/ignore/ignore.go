// Package ignore detects directive comments that suppress a finding at or
// near a match span.
package ignore

import (
	"bytes"
	"strings"
)

// Span is a byte range [Start, End) within a blob.
type Span struct {
	Start int
	End   int
}

// DefaultDirectives are always active.
var DefaultDirectives = []string{"kingfisher:ignore", "kingfisher:allow"}

// ExternalDirectives are accepted only when external-syntax compatibility
// is enabled.
var ExternalDirectives = []string{"gitleaks:allow", "trufflehog:ignore"}

// Filter holds the configured directive vocabulary.
type Filter struct {
	directives []string
}

// New builds a Filter. When includeExternal is true, gitleaks/trufflehog
// directive spellings are also recognized.
func New(includeExternal bool) *Filter {
	f := &Filter{directives: append([]string(nil), DefaultDirectives...)}
	if includeExternal {
		f.directives = append(f.directives, ExternalDirectives...)
	}
	return f
}

// commentPrefixes maps an accepted comment-opening suffix to whether it
// must be preceded only by whitespace on its line (blockOnly) or may also
// follow other content as long as whitespace immediately precedes it.
var commentSuffixes = []string{"#", "//", "/*", "--", "*/", "*"}

// lineAt returns the byte range [start, end) of the line containing offset.
func lineAt(data []byte, offset int) (int, int) {
	start := bytes.LastIndexByte(data[:offset], '\n')
	if start == -1 {
		start = 0
	} else {
		start++
	}
	end := bytes.IndexByte(data[offset:], '\n')
	if end == -1 {
		end = len(data)
	} else {
		end += offset
	}
	return start, end
}

// lineHasDirective reports whether line contains one of the filter's
// directives immediately preceded by a recognized comment-opening token
// (case-insensitive on the directive text).
func (f *Filter) lineHasDirective(line []byte) bool {
	lower := bytes.ToLower(line)
	for _, d := range f.directives {
		idx := bytes.Index(lower, []byte(strings.ToLower(d)))
		if idx == -1 {
			continue
		}
		if f.commentPrecedes(line, idx) {
			return true
		}
	}
	return false
}

// commentPrecedes reports whether the bytes immediately before pos (after
// trimming trailing whitespace) end in a recognized comment-opening token,
// itself preceded by whitespace or start-of-line (or, for "*", only
// whitespace to the left on the whole line).
func (f *Filter) commentPrecedes(line []byte, pos int) bool {
	prefix := bytes.TrimRight(line[:pos], " \t")
	for _, suffix := range commentSuffixes {
		if !bytes.HasSuffix(prefix, []byte(suffix)) {
			continue
		}
		before := prefix[:len(prefix)-len(suffix)]
		if suffix == "*" {
			// Requires only whitespace to the left on the whole line (a
			// block-comment continuation line like " * kingfisher:ignore").
			if len(bytes.TrimLeft(before, " \t")) == 0 {
				return true
			}
			continue
		}
		// Every other comment opener only needs whitespace or start-of-line
		// immediately before the opener itself, not an empty prefix.
		if len(before) == 0 || before[len(before)-1] == ' ' || before[len(before)-1] == '\t' {
			return true
		}
	}
	return false
}

// isSkippable reports whether a line (sans surrounding whitespace) is
// empty, a bare quote-run delimiter ("""/'''/```), or ends in a run of at
// least 3 identical quote characters - the multi-line string guards the
// spec requires us to walk past when searching for a directive.
func isSkippable(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return true
	}
	for _, delim := range [][]byte{[]byte(`"""`), []byte(`'''`), []byte("```")} {
		if bytes.Equal(trimmed, delim) {
			return true
		}
	}
	if len(trimmed) >= 3 {
		last := trimmed[len(trimmed)-1]
		if last == '"' || last == '\'' || last == '`' {
			run := 0
			for i := len(trimmed) - 1; i >= 0 && trimmed[i] == last; i-- {
				run++
			}
			if run >= 3 {
				return true
			}
		}
	}
	return false
}

// Suppresses reports whether a directive comment near span suppresses a
// finding, per the four-way search described in the spec: the match's
// first and last line, then walking up/down past skippable
// (empty/quote-run) lines to the first substantive line in each direction.
func (f *Filter) Suppresses(data []byte, span Span) bool {
	if span.Start < 0 || span.End > len(data) || span.Start >= span.End {
		return false
	}

	firstStart, firstEnd := lineAt(data, span.Start)
	if f.lineHasDirective(data[firstStart:firstEnd]) {
		return true
	}

	lastLineOffset := span.End - 1
	lastStart, lastEnd := lineAt(data, lastLineOffset)
	if lastStart != firstStart && f.lineHasDirective(data[lastStart:lastEnd]) {
		return true
	}

	if f.walk(data, firstStart, -1) {
		return true
	}
	if f.walk(data, lastEnd, 1) {
		return true
	}
	return false
}

// walk scans lines starting just before (dir=-1) or just after (dir=1) the
// given boundary offset, skipping skippable lines, and tests the first
// substantive line found for a directive.
func (f *Filter) walk(data []byte, boundary int, dir int) bool {
	offset := boundary
	for {
		if dir < 0 {
			if offset <= 0 {
				return false
			}
			offset--
		} else {
			if offset >= len(data) {
				return false
			}
			offset++
			if offset >= len(data) {
				return false
			}
		}
		start, end := lineAt(data, offset)
		line := data[start:end]
		if isSkippable(line) {
			offset = start
			if dir > 0 {
				offset = end
			}
			continue
		}
		return f.lineHasDirective(line)
	}
}
