// Package blobenum produces, for every blob in a repository's object
// database, the list of commit/path pairs that first introduced it.
package blobenum

import (
	"github.com/go-git/go-git/v5"

	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
	"github.com/kingfisher-scan/kingfisher/pkg/commitgraph"
	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
)

// Appearance is a single first-seen attribution of a blob: the shared,
// immutable commit metadata plus the repository-relative path (which is not
// guaranteed to be valid UTF-8).
type Appearance struct {
	Commit *commitgraph.CommitMetadata
	Path   []byte
}

// ExcludePath reports whether path should be dropped from a blob's
// appearance list. Implementations typically wrap a compiled glob set.
type ExcludePath func(path []byte) bool

// Result maps every blob id in the repository to its (possibly empty) list
// of appearances.
type Result map[gitindex.ObjectID][]Appearance

// Enumerate runs the full C3 algorithm: build C1, register every commit
// into a commitgraph.Graph, run C2's GetRepoMetadata, and attach
// appearances to each blob. If the metadata graph traversal fails (e.g. a
// cycle), it degrades to Metadataless: every blob is emitted with an empty
// appearance list.
func Enumerate(ctx logContext.Context, repo *git.Repository, exclude ExcludePath) (Result, error) {
	ix, err := gitindex.Build(ctx, repo)
	if err != nil {
		return nil, err
	}
	ctx.Logger().Info("blobenum: indexed object database",
		"objects", ix.NumObjects(), "blobs", ix.NumBlobs(), "commits", ix.NumCommits())

	g := commitgraph.BuildFromIndex(repo, ix, func(msg string, id gitindex.ObjectID, err error) {
		ctx.Logger().V(1).Info(msg, "id", id.String(), "err", err)
	})

	rows, err := commitgraph.GetRepoMetadata(ix, g)
	if err != nil {
		ctx.Logger().Info("blobenum: metadata graph traversal failed, degrading to metadataless mode", "err", err)
		return Metadataless(ix), nil
	}

	result := make(Result, ix.NumBlobs())
	for id := range ix.IntoBlobs() {
		result[id] = nil
	}

	for _, row := range rows {
		meta, ok := g.Metadata(row.CommitID)
		if !ok {
			continue
		}
		for _, ib := range row.Introduced {
			result[ib.BlobID] = append(result[ib.BlobID], Appearance{Commit: meta, Path: ib.Path})
		}
	}

	if exclude != nil {
		for blob, apps := range result {
			hadAny := len(apps) > 0
			var kept []Appearance
			for _, a := range apps {
				if !exclude(a.Path) {
					kept = append(kept, a)
				}
			}
			if len(kept) == 0 && hadAny {
				delete(result, blob)
				continue
			}
			result[blob] = kept
		}
	}

	return result, nil
}

// Metadataless iterates object headers and collects blob ids with empty
// appearance sets. Used when the caller explicitly disables history
// analysis, or when the metadata graph traversal fails.
func Metadataless(ix *gitindex.Index) Result {
	result := make(Result, ix.NumBlobs())
	for id := range ix.IntoBlobs() {
		result[id] = nil
	}
	return result
}
