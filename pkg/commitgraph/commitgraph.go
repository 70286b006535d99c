// Package commitgraph builds the commit-parent DAG with tree references and
// derives the first introduction of every blob along a deterministic
// reverse-topological order.
package commitgraph

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kingfisher-scan/kingfisher/pkg/gitindex"
)

// treeWalkCacheSize bounds the per-run memoization of flattened subtrees.
// Consecutive commits in real history overwhelmingly share most of their
// tree, so caching by tree id turns the O(commits * tree size) walk below
// into close to O(distinct trees * tree size).
const treeWalkCacheSize = 4096

// ErrCycle is returned by GetRepoMetadata when the commit graph is not
// acyclic; valid Git history never triggers this, but corrupted or
// adversarially constructed object databases can.
var ErrCycle = errors.New("commitgraph: cycle detected, cannot produce topological order")

// CommitMetadata is the immutable, shared record attached to every commit
// vertex. Appearance entries reference it by pointer; never deep-copy it.
type CommitMetadata struct {
	CommitID       gitindex.ObjectID
	TreeID         gitindex.ObjectID
	Parents        []gitindex.ObjectID
	CommitterName  string
	CommitterEmail string
	CommitterWhen  time.Time
}

// CommitterTimestamp renders the Git-style "<unix-seconds> <±HHMM>" form
// used in the external serialization contract.
func (m *CommitMetadata) CommitterTimestamp() string {
	_, offset := m.CommitterWhen.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hh := offset / 3600
	mm := (offset % 3600) / 60
	return fmt.Sprintf("%d %s%02d%02d", m.CommitterWhen.Unix(), sign, hh, mm)
}

type vertex struct {
	meta     *CommitMetadata
	children []gitindex.ObjectID
}

// Graph is the commit-parent DAG (C2). Vertices are commits carrying a tree
// index reference; edges run parent→child.
type Graph struct {
	vertices map[gitindex.ObjectID]*vertex
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{vertices: make(map[gitindex.ObjectID]*vertex)}
}

// GetCommitIdx upserts a vertex for commitID, attaching meta the first time
// it becomes known. Subsequent calls with a different meta are ignored: the
// first-seen metadata for a commit is authoritative.
func (g *Graph) GetCommitIdx(commitID gitindex.ObjectID, meta *CommitMetadata) *CommitMetadata {
	v, ok := g.vertices[commitID]
	if !ok {
		v = &vertex{meta: meta}
		g.vertices[commitID] = v
		return meta
	}
	if v.meta == nil {
		v.meta = meta
	}
	return v.meta
}

// AddEdge registers a parent→child edge. Both ids are upserted as bare
// vertices if not already present; the caller is expected to also call
// GetCommitIdx for each with real metadata.
func (g *Graph) AddEdge(parent, child gitindex.ObjectID) {
	if _, ok := g.vertices[parent]; !ok {
		g.vertices[parent] = &vertex{}
	}
	if _, ok := g.vertices[child]; !ok {
		g.vertices[child] = &vertex{}
	}
	g.vertices[parent].children = append(g.vertices[parent].children, child)
}

// Metadata returns the shared metadata record for a commit id, if known.
func (g *Graph) Metadata(commitID gitindex.ObjectID) (*CommitMetadata, bool) {
	v, ok := g.vertices[commitID]
	if !ok || v.meta == nil {
		return nil, false
	}
	return v.meta, true
}

// BuildFromIndex walks every commit in ix, decodes it via repo's object
// store, and populates a Graph: each commit is registered with its tree and
// a parent→child edge is added for every resolvable parent. Commits or
// trees that fail to decode are skipped with a diagnostic; dangling parents
// (ids that are not themselves registered) are permitted per the spec.
func BuildFromIndex(repo *git.Repository, ix *gitindex.Index, onDiagnostic func(string, gitindex.ObjectID, error)) *Graph {
	g := New()
	for _, id := range ix.Commits() {
		encoded, err := repo.Storer.EncodedObject(plumbing.CommitObject, id)
		if err != nil {
			if onDiagnostic != nil {
				onDiagnostic("commitgraph: cannot load commit", id, err)
			}
			continue
		}
		c, err := object.DecodeCommit(repo.Storer, encoded)
		if err != nil {
			if onDiagnostic != nil {
				onDiagnostic("commitgraph: cannot decode commit", id, err)
			}
			continue
		}
		if _, ok := ix.GetTree(c.TreeHash); !ok && !c.TreeHash.IsZero() {
			if onDiagnostic != nil {
				onDiagnostic("commitgraph: commit tree missing from index", id, nil)
			}
			continue
		}
		meta := &CommitMetadata{
			CommitID:       id,
			TreeID:         c.TreeHash,
			Parents:        append([]gitindex.ObjectID(nil), c.ParentHashes...),
			CommitterName:  c.Committer.Name,
			CommitterEmail: c.Committer.Email,
			CommitterWhen:  c.Committer.When,
		}
		g.GetCommitIdx(id, meta)
		for _, p := range c.ParentHashes {
			g.AddEdge(p, id)
		}
	}
	return g
}

// IntroducedBlob is one (blob, path) pair first revealed by a commit.
type IntroducedBlob struct {
	BlobID gitindex.ObjectID
	Path   []byte
}

// CommitIntroduction is the ordered output row of GetRepoMetadata.
type CommitIntroduction struct {
	CommitID   gitindex.ObjectID
	Introduced []IntroducedBlob
}

// heapItem orders ready-to-process commits by (committer timestamp
// ascending, commit id lexicographic), the tie-break pinned by the spec.
type heapItem struct {
	id   gitindex.ObjectID
	when time.Time
}

type readyHeap []heapItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].id.String() < h[j].id.String()
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// reverseTopoOrder computes a deterministic topological order over the
// parent→child edges (ancestors before descendants), with ties broken by
// committer timestamp then commit id. This reproduces "first-seen"
// semantics regardless of branch structure.
func reverseTopoOrder(g *Graph) ([]gitindex.ObjectID, error) {
	indegree := make(map[gitindex.ObjectID]int, len(g.vertices))
	for id, v := range g.vertices {
		if v.meta == nil {
			// Dangling parent reference with no metadata of its own: it
			// never blocks a child, so it is excluded from the ordering.
			continue
		}
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, p := range v.meta.Parents {
			if pv, ok := g.vertices[p]; ok && pv.meta != nil {
				indegree[id]++
			}
		}
	}

	ready := &readyHeap{}
	heap.Init(ready)
	for id, d := range indegree {
		if d == 0 {
			heap.Push(ready, heapItem{id: id, when: g.vertices[id].meta.CommitterWhen})
		}
	}

	order := make([]gitindex.ObjectID, 0, len(indegree))
	for ready.Len() > 0 {
		item := heap.Pop(ready).(heapItem)
		order = append(order, item.id)
		for _, childID := range g.vertices[item.id].children {
			if _, tracked := indegree[childID]; !tracked {
				continue
			}
			indegree[childID]--
			if indegree[childID] == 0 {
				heap.Push(ready, heapItem{id: childID, when: g.vertices[childID].meta.CommitterWhen})
			}
		}
	}

	if len(order) != len(indegree) {
		return nil, ErrCycle
	}
	return order, nil
}

// relBlob is one (relative path, blob id) pair produced by walkTreeCached,
// relative to the tree id it was cached under rather than any commit's
// root prefix.
type relBlob struct {
	path   string
	blobID gitindex.ObjectID
}

// walkTreeCached recursively expands a tree into (relative path, blob id)
// pairs in tree walk order, memoizing the flattened result per tree id in
// cache. Submodule entries are not blobs and are skipped; entries pointing
// to unknown subtree ids are tolerated by simply not descending.
func walkTreeCached(ix *gitindex.Index, treeID gitindex.ObjectID, cache *lru.Cache[gitindex.ObjectID, []relBlob]) []relBlob {
	if cached, ok := cache.Get(treeID); ok {
		return cached
	}

	node, ok := ix.GetTree(treeID)
	if !ok {
		cache.Add(treeID, nil)
		return nil
	}

	var out []relBlob
	for _, e := range node.Entries {
		switch e.Kind {
		case gitindex.KindBlob:
			out = append(out, relBlob{path: e.Name, blobID: e.ID})
		case gitindex.KindTree:
			for _, sub := range walkTreeCached(ix, e.ID, cache) {
				out = append(out, relBlob{path: e.Name + "/" + sub.path, blobID: sub.blobID})
			}
		case gitindex.KindSubmodule:
			// Not part of this repository's blob set.
		}
	}
	cache.Add(treeID, out)
	return out
}

// GetRepoMetadata is the core C2 operation: it produces an ordered sequence
// of commit introductions, one per commit in reverse-topological order,
// each carrying the blobs first revealed by that commit.
func GetRepoMetadata(ix *gitindex.Index, g *Graph) ([]CommitIntroduction, error) {
	order, err := reverseTopoOrder(g)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[gitindex.ObjectID, []relBlob](treeWalkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("commitgraph: building tree-walk cache: %w", err)
	}

	seen := make(map[gitindex.ObjectID]struct{})
	result := make([]CommitIntroduction, 0, len(order))
	for _, id := range order {
		meta, ok := g.Metadata(id)
		if !ok {
			continue
		}
		entries := walkTreeCached(ix, meta.TreeID, cache)

		introduced := make([]IntroducedBlob, 0, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.blobID]; dup {
				continue
			}
			seen[e.blobID] = struct{}{}
			introduced = append(introduced, IntroducedBlob{BlobID: e.blobID, Path: []byte(e.path)})
		}
		result = append(result, CommitIntroduction{CommitID: id, Introduced: introduced})
	}
	return result, nil
}
