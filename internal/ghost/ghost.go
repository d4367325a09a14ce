/*Package ghost implements the ghost-particle planner and refresher: the per-peer send/receive geometry for sharing the particles near a
worker's domain boundary is built once from a spatial query against each
peer's inflated bounding box, then reused — unchanged — across every
subsequent step's refresh, which only re-ships the current field values
along that fixed plan.

Grounded on original_source/mpisph/mpi_partition.cc's
mpi_branches_exchange_useful_positions (plan construction via find_in_box
against an all-gathered, 2h-inflated peer range) and mpi_refresh_ghosts
(the reuse-the-plan refresh step, which relinks each already-inserted
ghost's body pointer rather than reinserting it).
*/
package ghost

import (
	"github.com/phil-mansfield/mpisph/internal/comm"
	"github.com/phil-mansfield/mpisph/internal/errs"
	"github.com/phil-mansfield/mpisph/internal/geom"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/phil-mansfield/mpisph/internal/tree"
	"gonum.org/v1/gonum/spatial/r3"
)

// floatFields mirrors distsort's packed float layout: position, velocity,
// half-step velocity, acceleration (3 each), then the five scalar fields.
const floatFields = 17

// Plan is the reusable send/receive geometry for one worker's ghost layer,
// together with the in-list recording where each received ghost lives: the
// arena slot of the tree's owning batch it occupies, and the leaf branch it
// was inserted under. Refresh uses the in-list to overwrite a ghost's data
// in place rather than reinsert it.
type Plan struct {
	sendIdx              []int // indices into the owning Batch, grouped by destination rank
	sendCounts, sendDisp []int

	recvCounts, recvDisp []int
	total                int

	tr    *tree.Tree
	batch *particle.Batch

	// ghostIdx[i] and inBranch[i] describe the i-th particle of the most
	// recent receive, in the fixed Alltoallv receive order: the arena
	// index in batch it occupies, and the leaf branch key it resolved to.
	ghostIdx []int
	inBranch []tree.Key
}

// Build inflates the local tree's root box by 2h, all-gathers every rank's
// inflated box, and queries the local tree for the particles each peer
// needs. It ships that query's results, inserts each received ghost into tr
// (appending it to batch), and records the in-list Refresh will later use to
// update those same particles without touching the tree again.
func Build(w *comm.World, tr *tree.Tree, batch *particle.Batch, h float64) (*Plan, *particle.Batch) {
	n := w.Size()
	rank := w.Rank()

	root := tr.Root()
	inflatedMin, inflatedMax := geom.Inflate(root.BMin, root.BMax, 2*h)
	mins := w.AllGather_float64([]float64{inflatedMin.X, inflatedMin.Y, inflatedMin.Z})
	maxs := w.AllGather_float64([]float64{inflatedMax.X, inflatedMax.Y, inflatedMax.Z})

	sendCounts := make([]int, n)
	sendDisp := make([]int, n)
	var sendIdx []int
	for d := 0; d < n; d++ {
		if d == rank {
			continue
		}
		lo := r3.Vec{X: mins[d*3], Y: mins[d*3+1], Z: mins[d*3+2]}
		hi := r3.Vec{X: maxs[d*3], Y: maxs[d*3+1], Z: maxs[d*3+2]}
		found := tr.FindInBox(batch, tr.Root(), lo, hi, tree.IncludeLocal)
		sendDisp[d] = len(sendIdx)
		sendCounts[d] = len(found)
		sendIdx = append(sendIdx, found...)
	}

	p := &Plan{sendIdx: sendIdx, sendCounts: sendCounts, sendDisp: sendDisp, tr: tr, batch: batch}
	ghosts := p.exchange(w, batch)
	p.insert(ghosts)
	return p, ghosts
}

// Refresh re-ships the current field values of every particle named by the
// plan's fixed sendIdx/sendCounts/sendDisp, then overwrites each already
// -inserted ghost's slot in the plan's batch with the freshly received
// values, in place. It never calls tr.Insert or rebuilds the tree: the
// exchange's Alltoallv ordering is deterministic for unchanged send
// geometry (both calls iterate source ranks in the same fixed order), so
// the i-th particle received here always belongs at the i-th slot Build's
// in-list recorded. It also returns the refreshed layer as a standalone
// batch, for callers that want to inspect or ship it on its own.
func (p *Plan) Refresh(w *comm.World, local *particle.Batch) *particle.Batch {
	ghosts := p.exchange(w, local)
	if ghosts.Len() != len(p.ghostIdx) {
		errs.Structural("ghost: refresh received %d particles but the plan's in-list expects %d; "+
			"send geometry must not change between Build and Refresh", ghosts.Len(), len(p.ghostIdx))
	}
	for i := 0; i < ghosts.Len(); i++ {
		part := ghosts.Get(i)
		part.Key = p.tr.Codec.Encode(part.Position)
		ghosts.Set(i, part)
		p.batch.Set(p.ghostIdx[i], part)
	}
	return ghosts
}

// insert appends each particle of ghosts to the plan's tree-owning batch
// and inserts it into the tree, recording the arena slot and leaf branch it
// landed in as the plan's in-list. Called once, from Build; Refresh reuses
// the recorded slots instead of inserting again.
func (p *Plan) insert(ghosts *particle.Batch) {
	p.ghostIdx = make([]int, ghosts.Len())
	p.inBranch = make([]tree.Key, ghosts.Len())
	for i := 0; i < ghosts.Len(); i++ {
		part := ghosts.Get(i)
		part.Key = p.tr.Codec.Encode(part.Position)
		ghosts.Set(i, part)

		idx := p.batch.Len()
		p.batch.Append(part)
		p.tr.Insert(p.batch, idx)

		p.ghostIdx[i] = idx
		p.inBranch[i] = p.tr.LeafFor(part.Key)
	}
}

// exchange ships the current field values of every particle named by
// sendIdx/sendCounts/sendDisp and returns the received ghost layer, without
// touching the tree or the plan's batch. Build and Refresh both call this;
// Build follows it with insert, Refresh with an in-place overwrite.
func (p *Plan) exchange(w *comm.World, local *particle.Batch) *particle.Batch {
	n := len(p.sendIdx)
	ids := make([]int64, n)
	floats := make([]float64, n*floatFields)
	for i, li := range p.sendIdx {
		ids[i] = int64(local.ID[li])
		packFloats(local, li, floats[i*floatFields:(i+1)*floatFields])
	}

	recvIDs, recvCounts, recvDisp := w.Alltoallv_int64(ids, p.sendCounts, p.sendDisp)
	recvFloats, _, _ := w.Alltoallv_float64(floats, scale(p.sendCounts, floatFields), scale(p.sendDisp, floatFields))

	p.recvCounts, p.recvDisp = recvCounts, recvDisp
	p.total = len(recvIDs)

	owners := p.owners()
	out := particle.NewBatch(len(recvIDs))
	for i := range recvIDs {
		pos, vel, vhalf, accel, mass, density, pressure, energy, smoothing :=
			unpackFloats(recvFloats[i*floatFields : (i+1)*floatFields])
		out.Append(particle.Particle{
			ID:               uint64(recvIDs[i]),
			Position:         pos,
			Velocity:         vel,
			VelocityHalfStep: vhalf,
			Acceleration:     accel,
			Mass:             mass,
			Density:          density,
			Pressure:         pressure,
			Energy:           energy,
			Smoothing:        smoothing,
			Loc:              particle.GhostOf(owners[i]),
		})
	}
	return out
}

// owners expands recvCounts into one owning rank per received ghost, in
// receive order.
func (p *Plan) owners() []int {
	out := make([]int, 0, p.total)
	for r, c := range p.recvCounts {
		for k := 0; k < c; k++ {
			out = append(out, r)
		}
	}
	return out
}

func packFloats(b *particle.Batch, i int, dst []float64) {
	pos, v, vh, a := b.Position[i], b.Velocity[i], b.VHalf[i], b.Accel[i]
	dst[0], dst[1], dst[2] = pos.X, pos.Y, pos.Z
	dst[3], dst[4], dst[5] = v.X, v.Y, v.Z
	dst[6], dst[7], dst[8] = vh.X, vh.Y, vh.Z
	dst[9], dst[10], dst[11] = a.X, a.Y, a.Z
	dst[12], dst[13], dst[14], dst[15], dst[16] =
		b.Mass[i], b.Density[i], b.Pressure[i], b.Energy[i], b.Smoothing[i]
}

func unpackFloats(f []float64) (pos, vel, vhalf, accel r3.Vec, mass, density, pressure, energy, smoothing float64) {
	pos = r3.Vec{X: f[0], Y: f[1], Z: f[2]}
	vel = r3.Vec{X: f[3], Y: f[4], Z: f[5]}
	vhalf = r3.Vec{X: f[6], Y: f[7], Z: f[8]}
	accel = r3.Vec{X: f[9], Y: f[10], Z: f[11]}
	mass, density, pressure, energy, smoothing = f[12], f[13], f[14], f[15], f[16]
	return
}

func scale(x []int, factor int) []int {
	out := make([]int, len(x))
	for i, v := range x {
		out[i] = v * factor
	}
	return out
}
