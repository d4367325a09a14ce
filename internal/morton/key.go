/*Package morton implements the Morton/Z-order key codec:
mapping a point in a bounded domain to an integer key that linearises the
point into the depth-first order of a conceptual 2^dim-ary tree, plus the
sibling/child/parent navigation needed to walk that tree without ever
storing a parent pointer.

Keys carry a leading sentinel bit so a key's depth is recoverable in O(1)
from its bit length, following the convention lib/particles/id_order.go's
IDOrder interface uses for grid indices, generalized from a fixed uniform
grid to an adaptively refined tree.
*/
package morton

import (
	"fmt"
	"math/bits"

	"github.com/cznic/mathutil"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxDim is the largest supported dimensionality.
const MaxDim = 3

// Key is a Morton-ordered tree address. The sentinel bit is the highest set
// bit; the remaining bits are depth*dim bits of child-index chunks, most
// significant chunk first. The root key is 1 (sentinel only, depth 0).
type Key uint64

// Root is the key of the tree's root branch.
const Root Key = 1

// ChildCount returns 2^dim, the branching factor of the tree, using the same
// modular-exponentiation helper the pack's ftree package uses for computing
// powers of two from a dimension count.
func ChildCount(dim int) int {
	return int(mathutil.ModPowUint64(2, uint64(dim), mathutil.MaxInt))
}

// Depth returns the number of child-index chunks below the sentinel bit.
func (k Key) Depth(dim int) int {
	return (bits.Len64(uint64(k)) - 1) / dim
}

// Push appends one dim-bit chunk, descending to child i (0 <= i < 2^dim).
func (k Key) Push(dim, i int) Key {
	return Key(uint64(k)<<uint(dim) | uint64(i))
}

// Child is an alias for Push, named for readability at call sites that
// navigate rather than construct.
func (k Key) Child(dim, i int) Key { return k.Push(dim, i) }

// Pop removes the last dim-bit chunk, returning the parent key. Popping the
// root key is a programming error and panics.
func (k Key) Pop(dim int) Key {
	if k == Root {
		panic("morton: cannot pop the root key")
	}
	return Key(uint64(k) >> uint(dim))
}

// Parent is an alias for Pop.
func (k Key) Parent(dim int) Key { return k.Pop(dim) }

// Truncate reduces k to the key of its depth-d ancestor (or itself, if its
// depth is already <= d).
func (k Key) Truncate(dim, d int) Key {
	cur := k.Depth(dim)
	if d >= cur {
		return k
	}
	return Key(uint64(k) >> uint((cur-d)*dim))
}

// ChildIndexAtDepth returns the child index (0 <= i < 2^dim) that was chosen
// when descending from depth-1 to depth along the path to k. depth must be
// in [1, k.Depth(dim)].
func (k Key) ChildIndexAtDepth(dim, depth int) int {
	t := k.Truncate(dim, depth)
	return int(uint64(t) & uint64(ChildCount(dim)-1))
}

// Less gives the total order on keys; it coincides with a depth-first,
// left-to-right walk of the conceptual full tree because chunks are packed
// most-significant-first and Go's unsigned comparison is lexicographic over
// those chunks once bit widths are equalized by the sentinel.
func Less(a, b Key) bool {
	da, db := bits.Len64(uint64(a)), bits.Len64(uint64(b))
	if da == db {
		return a < b
	}
	// Align the shallower key to the deeper one's bit width so the shared
	// prefix compares correctly; the extra low bits read as zero, which is
	// exactly "visited before any of its children" in DFS order.
	if da < db {
		return uint64(a)<<uint(db-da) <= uint64(b)
	}
	return uint64(a) < uint64(b)<<uint(da-db)
}

func (k Key) String() string {
	return fmt.Sprintf("%#x", uint64(k))
}

// Codec maps points in a fixed domain range to full-depth keys.
type Codec struct {
	Lo, Hi   r3.Vec
	Dim      int
	MaxDepth int // M: quantisation bits per dimension.
}

// NewCodec builds a Codec whose maxDepth is chosen so that dim*maxDepth+1
// fits comfortably in 64 bits, honouring the caller's requested maxDepth
// when it's smaller.
func NewCodec(lo, hi r3.Vec, dim, requestedMaxDepth int) (*Codec, error) {
	if dim < 1 || dim > MaxDim {
		return nil, fmt.Errorf("morton: dim must be in [1, %d], got %d", MaxDim, dim)
	}
	limit := (63) / dim
	maxDepth := requestedMaxDepth
	if maxDepth > limit {
		maxDepth = limit
	}
	if maxDepth < 1 {
		return nil, fmt.Errorf("morton: dim %d leaves no room for any tree depth in a 64-bit key", dim)
	}
	return &Codec{Lo: lo, Hi: hi, Dim: dim, MaxDepth: maxDepth}, nil
}

func comp(v r3.Vec, d int) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Encode computes the full-depth key for p. Every point within [Lo, Hi)
// maps to a key whose reconstructed cell contains it: coordinates are
// clamped into [0, 1) before quantisation so boundary points (p_d == hi_d)
// land in the last cell instead of overflowing it.
func (c *Codec) Encode(p r3.Vec) Key {
	span := uint64(1) << uint(c.MaxDepth)
	var q [MaxDim]uint64
	for d := 0; d < c.Dim; d++ {
		lo, hi := comp(c.Lo, d), comp(c.Hi, d)
		u := (comp(p, d) - lo) / (hi - lo)
		if u < 0 {
			u = 0
		}
		if u >= 1 {
			u = 1 - 1e-15
		}
		qd := uint64(u * float64(span))
		if qd >= span {
			qd = span - 1
		}
		q[d] = qd
	}

	k := Root
	for level := 0; level < c.MaxDepth; level++ {
		shift := uint(c.MaxDepth - 1 - level)
		chunk := 0
		for d := 0; d < c.Dim; d++ {
			bit := (q[d] >> shift) & 1
			chunk |= int(bit) << uint(d)
		}
		k = k.Push(c.Dim, chunk)
	}
	return k
}

// CellBounds reconstructs the bounding box of the cell addressed by k,
// useful for tests that check point-in-reconstructed-cell containment.
func (c *Codec) CellBounds(k Key) (lo, hi r3.Vec) {
	depth := k.Depth(c.Dim)
	var qlo, qhi [MaxDim]uint64
	span := uint64(1) << uint(c.MaxDepth)
	for d := 0; d < c.Dim; d++ {
		qhi[d] = span
	}
	for level := 1; level <= depth; level++ {
		chunk := k.ChildIndexAtDepth(c.Dim, level)
		for d := 0; d < c.Dim; d++ {
			bit := (chunk >> uint(d)) & 1
			mid := (qlo[d] + qhi[d]) / 2
			if bit == 1 {
				qlo[d] = mid
			} else {
				qhi[d] = mid
			}
		}
	}

	var loArr, hiArr [MaxDim]float64
	for d := 0; d < c.Dim; d++ {
		l, h := comp(c.Lo, d), comp(c.Hi, d)
		loArr[d] = l + float64(qlo[d])/float64(span)*(h-l)
		hiArr[d] = l + float64(qhi[d])/float64(span)*(h-l)
	}
	return r3.Vec{X: loArr[0], Y: loArr[1], Z: loArr[2]},
		r3.Vec{X: hiArr[0], Y: hiArr[1], Z: hiArr[2]}
}
