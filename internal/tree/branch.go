/*Package tree implements the hashed branch store, its stack-based
spatial queries, and the centre-of-mass aggregator.

Branches are arena-indexed: the tree holds a []Branch slice and a
map[morton.Key]int from key to slice index, never a raw pointer or parent
pointer. This also makes a Tree trivially relocatable: copying the arena
and the map copies the whole structure.
*/
package tree

import (
	"github.com/phil-mansfield/mpisph/internal/morton"
	"gonum.org/v1/gonum/spatial/r3"
)

// Branch is one node of the hashed tree, addressed by Key.
type Branch struct {
	Key Key

	Leaf    bool
	Refined bool // true once this branch has ever been split into children.

	// ChildMask has bit i set if child i has been instantiated in the
	// tree's arena. It mirrors map membership but is checked without a
	// map lookup on the hot traversal path.
	ChildMask uint16

	Mass     float64
	Centroid r3.Vec
	BMin     r3.Vec
	BMax     r3.Vec
	// Count is the subtree particle count as of the last ComputeCOM, counting
	// only particles its filter accepted. Insert keeps a leaf's Count at
	// len(Bucket) but does not update interior branches.
	Count    int

	// Bucket holds arena indices (into the tree's owning particle.Batch)
	// of particles directly contained by this branch. Only meaningful
	// while Leaf is true.
	Bucket []int
}

// Key is an alias kept local to the package so call sites read "tree.Key"
// rather than reaching into morton for the common case.
type Key = morton.Key

func (b *Branch) hasChild(i int) bool {
	return b.ChildMask&(1<<uint(i)) != 0
}

func (b *Branch) setChild(i int) {
	b.ChildMask |= 1 << uint(i)
}
