package tree

import (
	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// postOrder returns the arena indices of every branch reachable from root,
// ordered so that every child precedes its parent. It builds the order with
// two stacks instead of recursion, since a real run's tree can be far
// deeper than the goroutine's default stack margin comfortably allows.
func (t *Tree) postOrder(root *Branch) []int {
	dim := t.Codec.Dim
	var visit, order []int
	visit = append(visit, t.index[root.Key])
	for len(visit) > 0 {
		bi := visit[len(visit)-1]
		visit = visit[:len(visit)-1]
		order = append(order, bi)
		b := &t.arena[bi]
		for i := 0; i < morton.ChildCount(dim); i++ {
			if child, ok := t.Child(b, i); ok {
				visit = append(visit, t.index[child.Key])
			}
		}
	}
	// order is currently a pre-order traversal (parents before children);
	// reversing it yields children before parents, i.e. post-order for the
	// purpose of a bottom-up rollup, since siblings' relative order never
	// matters to an associative accumulation.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// ComputeCOM rolls up mass, centre of mass, and bounding box from the
// leaves up to root, using filter to decide which particles in a leaf's
// bucket contribute. Passing IncludeLocal excludes ghosts, periodic mirrors
// and not-yet-shipped NonLocal particles, giving the "local-only" COM used
// mid-step before ghosts are known; passing IncludeAll (the default when
// filter is nil) gives the
// all-particle COM used once ghost exchange has completed.
func (t *Tree) ComputeCOM(batch *particle.Batch, filter Filter) {
	if filter == nil {
		filter = IncludeAll
	}
	order := t.postOrder(t.Root())
	for _, bi := range order {
		b := &t.arena[bi]
		if b.Leaf {
			t.computeLeafCOM(b, batch, filter)
			continue
		}
		t.computeInteriorCOM(b)
	}
}

func (t *Tree) computeLeafCOM(b *Branch, batch *particle.Batch, filter Filter) {
	b.Mass = 0
	b.Centroid = r3.Vec{}
	b.Count = 0
	first := true
	for _, i := range b.Bucket {
		if !filter(batch.Loc[i]) {
			continue
		}
		m := batch.Mass[i]
		p := batch.Position[i]
		b.Mass += m
		b.Centroid = b.Centroid.Add(p.Scale(m))
		b.Count++
		if first {
			b.BMin, b.BMax = p, p
			first = false
		} else {
			b.BMin = componentMin(b.BMin, p)
			b.BMax = componentMax(b.BMax, p)
		}
	}
	if b.Mass > 0 {
		b.Centroid = b.Centroid.Scale(1 / b.Mass)
	}
	if first {
		// No particle in this leaf survived the filter; fall back to the
		// cell's geometric bounds so an empty leaf still has a well
		// defined, non-degenerate box for query pruning.
		b.BMin, b.BMax = t.Codec.CellBounds(b.Key)
	}
}

func (t *Tree) computeInteriorCOM(b *Branch) {
	dim := t.Codec.Dim
	b.Mass = 0
	b.Centroid = r3.Vec{}
	b.Count = 0
	first := true
	for i := 0; i < morton.ChildCount(dim); i++ {
		child, ok := t.Child(b, i)
		if !ok {
			continue
		}
		b.Mass += child.Mass
		b.Centroid = b.Centroid.Add(child.Centroid.Scale(child.Mass))
		b.Count += child.Count
		if child.Count == 0 {
			continue
		}
		if first {
			b.BMin, b.BMax = child.BMin, child.BMax
			first = false
		} else {
			b.BMin = componentMin(b.BMin, child.BMin)
			b.BMax = componentMax(b.BMax, child.BMax)
		}
	}
	if b.Mass > 0 {
		b.Centroid = b.Centroid.Scale(1 / b.Mass)
	}
	if first {
		b.BMin, b.BMax = t.Codec.CellBounds(b.Key)
	}
}

func componentMin(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: min64(a.X, b.X), Y: min64(a.Y, b.Y), Z: min64(a.Z, b.Z)}
}

func componentMax(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: max64(a.X, b.X), Y: max64(a.Y, b.Y), Z: max64(a.Z, b.Z)}
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
