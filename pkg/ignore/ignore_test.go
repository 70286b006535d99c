package ignore_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingfisher-scan/kingfisher/pkg/ignore"
)

func spanOf(data []byte, substr string) ignore.Span {
	i := bytes.Index(data, []byte(substr))
	if i == -1 {
		panic("substring not found: " + substr)
	}
	return ignore.Span{Start: i, End: i + len(substr)}
}

func TestSuppresses_MultilineStringDirectiveBelow(t *testing.T) {
	data := []byte("let s = \"\"\"\nline1\nline2\n\"\"\"\n# kingfisher:ignore\n")
	f := ignore.New(false)
	span := spanOf(data, "line1\nline2")
	require.True(t, f.Suppresses(data, span))
}

func TestSuppresses_MultilineStringDirectiveAbove(t *testing.T) {
	data := []byte("# kingfisher:ignore\nlet s = \"\"\"\nline1\nline2\n\"\"\"\n")
	f := ignore.New(false)
	span := spanOf(data, "line1\nline2")
	require.True(t, f.Suppresses(data, span))
}

func TestSuppresses_FalsePositiveInURL(t *testing.T) {
	data := []byte("http://kingfisher:ignore")
	f := ignore.New(false)
	span := ignore.Span{Start: 0, End: len(data)}
	require.False(t, f.Suppresses(data, span))
}

func TestSuppresses_SameLineTrailingComment(t *testing.T) {
	data := []byte(`secret = "xyz" # kingfisher:ignore` + "\n")
	f := ignore.New(false)
	span := spanOf(data, "xyz")
	require.True(t, f.Suppresses(data, span))
}

func TestSuppresses_ExternalSyntaxRequiresOptIn(t *testing.T) {
	data := []byte("token = \"xyz\" // gitleaks:allow\n")
	span := spanOf(data, "xyz")

	require.False(t, ignore.New(false).Suppresses(data, span))
	require.True(t, ignore.New(true).Suppresses(data, span))
}

func TestSuppresses_BlockCommentContinuationLine(t *testing.T) {
	data := []byte("token := \"xyz\"\n * kingfisher:ignore\n")
	f := ignore.New(false)
	span := spanOf(data, "xyz")
	require.True(t, f.Suppresses(data, span))
}
