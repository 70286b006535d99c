package repoenum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSlugForKind(t *testing.T) {
	require.Equal(t, "user/data", parseSlugForKind(ResourceDataset, "datasets/user/data.git"))
	require.Equal(t, "user/demo", parseSlugForKind(ResourceSpace, "https://huggingface.co/spaces/user/demo"))
	require.Equal(t, "user/model", parseSlugForKind(ResourceModel, "user/model"))
}

func TestParseNextLink(t *testing.T) {
	header := `<https://huggingface.co/api/models?cursor=abc>; rel="next"`
	require.Equal(t, "https://huggingface.co/api/models?cursor=abc", parseNextLink(header))
}

func TestParseNextLink_NoNextRel(t *testing.T) {
	header := `<https://huggingface.co/api/models?cursor=abc>; rel="prev"`
	require.Equal(t, "", parseNextLink(header))
}
