package tree

import (
	"sort"
	"sync"

	"github.com/phil-mansfield/mpisph/internal/geom"
	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// Filter selects which arena-index particles a query should consider;
// pass nil to consider every particle in the tree.
type Filter func(loc particle.Locality) bool

// IncludeAll is the Filter that accepts every particle.
func IncludeAll(particle.Locality) bool { return true }

// IncludeLocal is the Filter used by the local-only COM variant, and by the
// ghost planner when it queries its own tree for a peer's Out-list, to
// avoid shipping or double-counting a ghost or periodic-mirror copy of a
// particle this worker doesn't own.
func IncludeLocal(loc particle.Locality) bool {
	return loc.Kind != particle.Ghost &&
		loc.Kind != particle.PeriodicMirror &&
		loc.Kind != particle.NonLocal
}

// FindInRadius performs a stack-based DFS from start, descending into any
// child whose cached bounding box intersects the sphere, and returns the
// batch indices of every particle within r of c. Results are sorted by
// particle id so repeated calls with identical inputs are byte-identical,
// satisfying the idempotence property: traversal order itself is never
// observable. The child boxes and counts it prunes on are the ones the last
// ComputeCOM cached, so the results are complete only when ComputeCOM has
// run since the tree's last Insert.
func (t *Tree) FindInRadius(batch *particle.Batch, start *Branch, c r3.Vec, r float64, filter Filter) []int {
	if filter == nil {
		filter = IncludeAll
	}
	var out []int
	stack := []*Branch{start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if b.Leaf {
			for _, i := range b.Bucket {
				if !filter(batch.Loc[i]) {
					continue
				}
				if geom.Within(c, batch.Position[i], r) {
					out = append(out, i)
				}
			}
			continue
		}
		for i := 0; i < morton.ChildCount(t.Codec.Dim); i++ {
			child, ok := t.Child(b, i)
			if !ok {
				continue
			}
			if child.Count == 0 {
				continue
			}
			if geom.IntersectsSphereBox(child.BMin, child.BMax, c, r) {
				stack = append(stack, child)
			}
		}
	}
	sortByID(batch, out)
	return out
}

// FindInBox is FindInRadius's box-box analogue.
func (t *Tree) FindInBox(batch *particle.Batch, start *Branch, bmin, bmax r3.Vec, filter Filter) []int {
	if filter == nil {
		filter = IncludeAll
	}
	var out []int
	stack := []*Branch{start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if b.Leaf {
			for _, i := range b.Bucket {
				if !filter(batch.Loc[i]) {
					continue
				}
				if geom.ContainsPoint(bmin, bmax, batch.Position[i]) {
					out = append(out, i)
				}
			}
			continue
		}
		for i := 0; i < morton.ChildCount(t.Codec.Dim); i++ {
			child, ok := t.Child(b, i)
			if !ok {
				continue
			}
			if child.Count == 0 {
				continue
			}
			if geom.IntersectsBoxBox(child.BMin, child.BMax, bmin, bmax) {
				stack = append(stack, child)
			}
		}
	}
	sortByID(batch, out)
	return out
}

func sortByID(batch *particle.Batch, idx []int) {
	sort.Slice(idx, func(i, j int) bool {
		return batch.ID[idx[i]] < batch.ID[idx[j]]
	})
}

// allLeaves returns every leaf reachable from start whose box intersects
// [bmin, bmax], via a second DFS from start — this is the "interaction
// list" search used by ApplySubCells.
func (t *Tree) allLeaves(start *Branch, bmin, bmax r3.Vec) []*Branch {
	var out []*Branch
	stack := []*Branch{start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.Count == 0 {
			continue
		}
		if b.Leaf {
			if geom.IntersectsBoxBox(b.BMin, b.BMax, bmin, bmax) {
				out = append(out, b)
			}
			continue
		}
		if !geom.IntersectsBoxBox(b.BMin, b.BMax, bmin, bmax) {
			continue
		}
		for i := 0; i < morton.ChildCount(t.Codec.Dim); i++ {
			if child, ok := t.Child(b, i); ok {
				stack = append(stack, child)
			}
		}
	}
	return out
}

// sinkBranches enumerates the sink granularity used to schedule
// neighbourhood work: leaves, and any interior branch whose subtree count
// is below nCrit.
func (t *Tree) sinkBranches(start *Branch, nCrit int) []*Branch {
	var out []*Branch
	stack := []*Branch{start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.Count == 0 {
			continue
		}
		if b.Leaf || b.Count < nCrit {
			out = append(out, b)
			continue
		}
		for i := 0; i < morton.ChildCount(t.Codec.Dim); i++ {
			if child, ok := t.Child(b, i); ok {
				stack = append(stack, child)
			}
		}
	}
	return out
}

// SinkFunc is invoked once per local particle in a sink branch, with the
// union of particles from that sink's interaction list within radius h of
// it. It must not structurally mutate the tree or batch.
type SinkFunc func(particleIdx int, neighbours []int)

// ApplySubCells enumerates sink branches (leaves, or any branch with fewer
// than nCrit particles) from start, computes each sink's interaction list
// (leaves whose box intersects the sink's box, found by a second DFS from
// root), and invokes fn for every local particle in the sink with the union
// of interaction-list particles within radius h of it. Sinks run in
// parallel over a bounded worker pool; per-task local result handling is
// the caller's responsibility inside fn.
func (t *Tree) ApplySubCells(batch *particle.Batch, root, start *Branch, h float64, nCrit, threads int, fn SinkFunc) {
	sinks := t.sinkBranches(start, nCrit)
	if threads < 1 {
		threads = 1
	}

	jobs := make(chan *Branch)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sink := range jobs {
				t.runSink(batch, root, sink, h, fn)
			}
		}()
	}
	for _, s := range sinks {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
}

func (t *Tree) runSink(batch *particle.Batch, root, sink *Branch, h float64, fn SinkFunc) {
	inflatedMin, inflatedMax := geom.Inflate(sink.BMin, sink.BMax, h)
	interactionList := t.allLeaves(root, inflatedMin, inflatedMax)

	var candidates []int
	for _, leaf := range interactionList {
		candidates = append(candidates, leaf.Bucket...)
	}

	// An interior sink holds no bucket of its own; gather every leaf bucket
	// under it.
	var members []int
	stack := []*Branch{sink}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		members = append(members, b.Bucket...)
		for c := 0; c < morton.ChildCount(t.Codec.Dim); c++ {
			if child, ok := t.Child(b, c); ok {
				stack = append(stack, child)
			}
		}
	}

	for _, i := range members {
		if !particleIsLocal(batch, i) {
			continue
		}
		var neighbours []int
		for _, j := range candidates {
			if j == i {
				continue
			}
			if geom.Within(batch.Position[i], batch.Position[j], h) {
				neighbours = append(neighbours, j)
			}
		}
		fn(i, neighbours)
	}
}

func particleIsLocal(batch *particle.Batch, i int) bool {
	return batch.Loc[i].Kind != particle.Ghost && batch.Loc[i].Kind != particle.PeriodicMirror
}
