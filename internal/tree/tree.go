package tree

import (
	"github.com/phil-mansfield/mpisph/internal/errs"
	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
)

// Tree is a hashed map from Morton key to Branch, rebuilt from scratch each
// step rather than dynamically refined under particle motion. The root is
// always present.
type Tree struct {
	Codec        *morton.Codec
	LeafCapacity int

	arena  []Branch
	index  map[Key]int
	maxDepth int
}

// New returns an empty Tree over the given domain codec, with only the root
// branch present.
func New(codec *morton.Codec, leafCapacity int) *Tree {
	t := &Tree{Codec: codec, LeafCapacity: leafCapacity}
	t.Clear()
	return t
}

// Clear drops every branch except the root and resets the observed max
// depth, without discarding the Codec or LeafCapacity.
func (t *Tree) Clear() {
	t.arena = make([]Branch, 1, 64)
	t.arena[0] = Branch{Key: morton.Root, Leaf: true}
	t.index = map[Key]int{morton.Root: 0}
	t.maxDepth = 0
}

// Root returns the root branch.
func (t *Tree) Root() *Branch { return &t.arena[0] }

// Get looks up the branch at key directly.
func (t *Tree) Get(key Key) (*Branch, bool) {
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return &t.arena[i], true
}

// Child returns the branch at b.Key.push(i), or (nil, false) if absent.
func (t *Tree) Child(b *Branch, i int) (*Branch, bool) {
	if !b.hasChild(i) {
		return nil, false
	}
	return t.Get(b.Key.Child(t.Codec.Dim, i))
}

// MaxDepth returns the deepest branch key length observed since the last
// Clear.
func (t *Tree) MaxDepth() int { return t.maxDepth }

// AllBranches returns every branch currently in the tree, root first, for
// callers that need to dump the whole structure (e.g. the diagnostic
// tree-snapshot dump).
func (t *Tree) AllBranches() []*Branch {
	out := make([]*Branch, len(t.arena))
	for i := range t.arena {
		out[i] = &t.arena[i]
	}
	return out
}

// Insert locates the target leaf for the particle at index i of batch by
// descending keys from the root, appends it to the leaf's bucket, and
// refines the leaf if its bucket now exceeds LeafCapacity. i's full-depth
// key (batch.Key[i]) must already be populated by the codec.
func (t *Tree) Insert(batch *particle.Batch, i int) {
	full := batch.Key[i]
	bi := t.descendToLeaf(full)
	depth := t.arena[bi].Key.Depth(t.Codec.Dim)

	t.arena[bi].Bucket = append(t.arena[bi].Bucket, i)
	t.arena[bi].Count = len(t.arena[bi].Bucket)
	if depth > t.maxDepth {
		t.maxDepth = depth
	}

	if len(t.arena[bi].Bucket) > t.LeafCapacity && depth < t.Codec.MaxDepth {
		t.refine(bi, batch, depth)
	} else if len(t.arena[bi].Bucket) > t.LeafCapacity {
		errs.Recoverable("tree: leaf %s exceeds capacity %d at max depth %d; allowing overflow",
			t.arena[bi].Key, t.LeafCapacity, t.Codec.MaxDepth)
	}
}

// descendToLeaf walks from the root along full's path, under the tree's
// current topology, and returns the arena index of the leaf it reaches.
func (t *Tree) descendToLeaf(full Key) int {
	dim := t.Codec.Dim
	bi := 0 // arena index of current branch, starts at root.
	depth := 0
	for !t.arena[bi].Leaf {
		depth++
		childIdx := full.ChildIndexAtDepth(dim, depth)
		ci, ok := t.index[t.arena[bi].Key.Child(dim, childIdx)]
		if !ok {
			errs.Structural("tree: missing child %d of branch %s after refine", childIdx, t.arena[bi].Key)
		}
		bi = ci
	}
	return bi
}

// LeafFor returns the key of the leaf branch that a particle with the given
// full-depth key currently resolves to, without inserting it. The ghost
// planner uses this right after Insert to record the branch a received
// ghost landed in, for its plan's in-list.
func (t *Tree) LeafFor(key Key) Key {
	return t.arena[t.descendToLeaf(key)].Key
}

// refine splits the leaf at arena index bi into 2^dim children, moving its
// bucket's particles into whichever child their key addresses. Refinement
// only ever happens on insert, never on delete, per the per-step rebuild
// discipline (no coarsening).
func (t *Tree) refine(bi int, batch *particle.Batch, depth int) {
	dim := t.Codec.Dim
	nChild := morton.ChildCount(dim)
	parentKey := t.arena[bi].Key
	bucket := t.arena[bi].Bucket

	childArenaIdx := make([]int, nChild)
	for i := 0; i < nChild; i++ {
		key := parentKey.Child(dim, i)
		t.arena = append(t.arena, Branch{Key: key, Leaf: true})
		idx := len(t.arena) - 1
		t.index[key] = idx
		childArenaIdx[i] = idx
		t.arena[bi].setChild(i)
	}

	for _, p := range bucket {
		childIdx := batch.Key[p].ChildIndexAtDepth(dim, depth+1)
		ci := childArenaIdx[childIdx]
		t.arena[ci].Bucket = append(t.arena[ci].Bucket, p)
		t.arena[ci].Count = len(t.arena[ci].Bucket)
	}

	t.arena[bi].Leaf = false
	t.arena[bi].Refined = true
	t.arena[bi].Bucket = nil
	if depth+1 > t.maxDepth {
		t.maxDepth = depth + 1
	}

	// A freshly split child may itself already be over capacity if many
	// particles share a deeper prefix; refine it too.
	for _, ci := range childArenaIdx {
		if len(t.arena[ci].Bucket) > t.LeafCapacity && depth+1 < t.Codec.MaxDepth {
			t.refine(ci, batch, depth+1)
		}
	}
}
