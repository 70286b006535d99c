// Package gitindex partitions a Git object database into blob, tree, and
// commit sets with O(1) lookup by object id.
package gitindex

import (
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	pkgerrors "github.com/pkg/errors"

	logContext "github.com/kingfisher-scan/kingfisher/pkg/context"
)

// ObjectID is the content-addressed, globally unique key for a Git object.
// go-git's plumbing.Hash already models this as a 20-byte SHA-1 with a
// lowercase-hex String() method, so we reuse it rather than reinvent it.
type ObjectID = plumbing.Hash

// Kind classifies a tree entry.
type Kind uint8

const (
	KindBlob Kind = iota
	KindTree
	KindSubmodule
)

// TreeEntry is one (name, kind, object id) row of a decoded tree.
type TreeEntry struct {
	Name string
	Kind Kind
	ID   ObjectID
}

// TreeNode is the fully decoded adjacency of a tree object.
type TreeNode struct {
	ID      ObjectID
	Entries []TreeEntry
}

// ErrUnknownTree is returned when a caller asks for a tree id the index
// never observed.
var ErrUnknownTree = errors.New("gitindex: unknown tree id")

// Index is the Repository Object Index (C1): three disjoint sets of object
// ids partitioned by kind, with trees fully decoded into adjacency lists.
type Index struct {
	blobs   map[ObjectID]struct{}
	commits map[ObjectID]struct{}
	trees   map[ObjectID]*TreeNode

	commitOrder []ObjectID
}

// Build walks repo's object database pack-first/loose-ascending (as
// delegated to go-git's storer) and partitions every object it can decode.
// Unreadable headers and tree-decode failures are logged and skipped; they
// never abort the walk.
func Build(ctx logContext.Context, repo *git.Repository) (*Index, error) {
	ix := &Index{
		blobs:   make(map[ObjectID]struct{}),
		commits: make(map[ObjectID]struct{}),
		trees:   make(map[ObjectID]*TreeNode),
	}

	iter, err := repo.Storer.IterEncodedObjects(plumbing.AnyObject)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gitindex: opening object database iterator")
	}
	defer iter.Close()

	err = iter.ForEach(func(eo plumbing.EncodedObject) error {
		id := eo.Hash()
		switch eo.Type() {
		case plumbing.BlobObject:
			ix.blobs[id] = struct{}{}
		case plumbing.CommitObject:
			if _, dup := ix.commits[id]; !dup {
				ix.commitOrder = append(ix.commitOrder, id)
			}
			ix.commits[id] = struct{}{}
		case plumbing.TreeObject:
			tree, decErr := object.DecodeTree(repo.Storer, eo)
			if decErr != nil {
				ctx.Logger().V(1).Info("gitindex: skipping unreadable tree", "id", id.String(), "err", decErr)
				return nil
			}
			node := &TreeNode{ID: id, Entries: make([]TreeEntry, 0, len(tree.Entries))}
			for _, e := range tree.Entries {
				kind := KindBlob
				switch e.Mode {
				case filemode.Dir:
					kind = KindTree
				case filemode.Submodule:
					kind = KindSubmodule
				}
				node.Entries = append(node.Entries, TreeEntry{Name: e.Name, Kind: kind, ID: e.Hash})
			}
			ix.trees[id] = node
		default:
			// Tags and other object kinds are outside the C1 partition.
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gitindex: walking object database")
	}

	return ix, nil
}

// NumObjects returns the total count of partitioned objects.
func (ix *Index) NumObjects() int { return len(ix.blobs) + len(ix.commits) + len(ix.trees) }

// NumBlobs returns the number of distinct blob ids observed.
func (ix *Index) NumBlobs() int { return len(ix.blobs) }

// NumCommits returns the number of distinct commit ids observed.
func (ix *Index) NumCommits() int { return len(ix.commits) }

// NumTrees returns the number of distinct tree ids observed.
func (ix *Index) NumTrees() int { return len(ix.trees) }

// Commits returns every observed commit id, in object-database walk order.
func (ix *Index) Commits() []ObjectID {
	out := make([]ObjectID, len(ix.commitOrder))
	copy(out, ix.commitOrder)
	return out
}

// HasCommit reports whether id was observed as a commit.
func (ix *Index) HasCommit(id ObjectID) bool {
	_, ok := ix.commits[id]
	return ok
}

// GetTree returns the decoded adjacency for tree id, if known. Tree entries
// pointing to unknown ids are tolerated upstream; they simply fail this
// lookup when followed.
func (ix *Index) GetTree(id ObjectID) (*TreeNode, bool) {
	t, ok := ix.trees[id]
	return t, ok
}

// IntoBlobs returns the full set of blob ids partitioned by Build. The name
// mirrors the "consuming" accessor in the spec; callers typically call this
// once, after which the Index itself is discarded.
func (ix *Index) IntoBlobs() map[ObjectID]struct{} {
	out := make(map[ObjectID]struct{}, len(ix.blobs))
	for k := range ix.blobs {
		out[k] = struct{}{}
	}
	return out
}
