/*Package distsort implements the distributed sort:
every worker's particles are redistributed so each rank ends up holding a
contiguous, key-sorted slice of the global domain with an exact target
particle count.

The algorithm is grounded on original_source/mpisph/mpi_partition.cc's
mpi_sort: fixed, evenly spaced key-range splitters (no runtime pivot
sampling, since particle keys start out roughly balanced across ranks) bin
each rank's locally sorted particles, an all-to-all-v ships each bin to its
destination, and a full-right-then-full-left sweep trades single-particle
runs between neighbouring ranks until every rank's count matches its
target exactly.
*/
package distsort

import (
	"math"
	"sort"

	"github.com/phil-mansfield/mpisph/internal/comm"
	"github.com/phil-mansfield/mpisph/internal/errs"
	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// Splitters partitions [lo, hi] (both full-depth keys from the same Codec)
// into n consecutive, equal-width ranges and returns the n-1 interior
// boundaries. Because every key in play shares the same depth, plain
// uint64 order over the raw key coincides with morton.Less, so a splitter
// is just an evenly spaced key value rather than a sampled quantile.
func Splitters(lo, hi morton.Key, n int) []morton.Key {
	if n < 2 {
		return nil
	}
	span := (uint64(hi) - uint64(lo) + 1) / uint64(n)
	if span == 0 {
		span = 1
	}
	out := make([]morton.Key, n-1)
	for i := 0; i < n-1; i++ {
		out[i] = morton.Key(uint64(lo) + uint64(i+1)*span)
	}
	return out
}

// binByKey computes Alltoallv send counts/displacements for a batch whose
// keys are already sorted ascending: bucket d holds every key <= splitter
// d and > splitter d-1, so each bucket is a contiguous run.
func binByKey(keys []morton.Key, splitters []morton.Key) (counts, disp []int) {
	n := len(splitters) + 1
	counts = make([]int, n)
	disp = make([]int, n)
	start := 0
	for d := 0; d < n-1; d++ {
		end := sort.Search(len(keys), func(i int) bool { return keys[i] > splitters[d] })
		disp[d] = start
		counts[d] = end - start
		start = end
	}
	disp[n-1] = start
	counts[n-1] = len(keys) - start
	return counts, disp
}

// GlobalKeyRange reduces every rank's local key extremes into the global
// [lo, hi] Splitters needs.
func GlobalKeyRange(w *comm.World, batch *particle.Batch) (lo, hi morton.Key) {
	// An empty rank contributes neutral values so it does not move the range.
	localLo, localHi := int64(math.MaxInt64), int64(morton.Root)
	if batch.Len() > 0 {
		localLo, localHi = int64(batch.Key[0]), int64(batch.Key[0])
		for _, k := range batch.Key {
			if int64(k) < localLo {
				localLo = int64(k)
			}
			if int64(k) > localHi {
				localHi = int64(k)
			}
		}
	}
	globalLo := w.AllReduce_int64(localLo, comm.Min)
	globalHi := w.AllReduce_int64(localHi, comm.Max)
	return morton.Key(uint64(globalLo)), morton.Key(uint64(globalHi))
}

// Sort redistributes batch across w's ranks so that afterward each rank
// holds a key-sorted, contiguous slice of the global domain with exactly
// targetCounts[rank] particles. targetCounts must sum to the global
// particle count across every rank; violating that is a collective error
// is collective, not a per-particle one.
func Sort(w *comm.World, batch *particle.Batch, targetCounts []int64) *particle.Batch {
	batch.SortByKey()
	if w.Size() == 1 {
		return batch
	}

	lo, hi := GlobalKeyRange(w, batch)
	splitters := Splitters(lo, hi, w.Size())
	counts, disp := binByKey(batch.Key, splitters)

	out := exchange(w, batch, counts, disp)
	out = sweepRight(w, out, targetCounts)
	out = sweepLeft(w, out, targetCounts)

	total := w.AllReduce_int64(int64(out.Len()), comm.Sum)
	var wantTotal int64
	for _, c := range targetCounts {
		wantTotal += c
	}
	if total != wantTotal {
		errs.Collective("distsort: redistributed %d particles, targets summed to %d", total, wantTotal)
	}
	return out
}

func currentCounts(w *comm.World, n int) []int64 {
	return w.AllGather_int64([]int64{int64(n)})
}

func computeNeeds(totals, target []int64) []int64 {
	needs := make([]int64, len(totals))
	for i := range totals {
		needs[i] = target[i] - totals[i]
	}
	return needs
}

func allMatch(a, b []int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sweepRight repeatedly hands off however many particles a rank has in
// excess of its target to its right neighbour (rank+1), converging in at
// most Size() passes, per mpi_sort's "full right" phase.
func sweepRight(w *comm.World, batch *particle.Batch, target []int64) *particle.Batch {
	n := w.Size()
	rank := w.Rank()
	for pass := 0; pass < n; pass++ {
		totals := currentCounts(w, batch.Len())
		if allMatch(totals, target) {
			return batch
		}
		needs := computeNeeds(totals, target)

		nsend := 0
		if rank != n-1 && needs[rank] < 0 {
			nsend = int(-needs[rank])
		}
		remaining := batch.Len() - nsend

		sendCounts := make([]int, n)
		sendDisp := make([]int, n)
		sendCounts[rank] = remaining
		if nsend > 0 {
			sendCounts[rank+1] = nsend
			sendDisp[rank+1] = remaining
		}
		batch = exchange(w, batch, sendCounts, sendDisp)
	}
	return batch
}

// sweepLeft is sweepRight's mirror image, handing excess particles to the
// left neighbour, per mpi_sort's "full left" phase.
func sweepLeft(w *comm.World, batch *particle.Batch, target []int64) *particle.Batch {
	n := w.Size()
	rank := w.Rank()
	for pass := 0; pass < n; pass++ {
		totals := currentCounts(w, batch.Len())
		if allMatch(totals, target) {
			return batch
		}
		needs := computeNeeds(totals, target)

		nsend := 0
		if rank != 0 && needs[rank] < 0 {
			nsend = int(-needs[rank])
		}

		sendCounts := make([]int, n)
		sendDisp := make([]int, n)
		if nsend > 0 {
			sendCounts[rank-1] = nsend
			sendDisp[rank-1] = 0
		}
		sendCounts[rank] = batch.Len() - nsend
		sendDisp[rank] = nsend
		batch = exchange(w, batch, sendCounts, sendDisp)
	}

	totals := currentCounts(w, batch.Len())
	if !allMatch(totals, target) {
		errs.Collective("distsort: residual balancing failed to converge after %d passes", n)
	}
	return batch
}

// floatFields is the number of float64 values packed per particle: position,
// velocity, half-step velocity, and acceleration (3 each), then mass,
// density, pressure, energy, and smoothing length.
const floatFields = 17

func packFloats(b *particle.Batch, i int, dst []float64) {
	p, v, vh, a := b.Position[i], b.Velocity[i], b.VHalf[i], b.Accel[i]
	dst[0], dst[1], dst[2] = p.X, p.Y, p.Z
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

// exchange ships the particles named by (sendCounts, sendDisp) — contiguous
// per-destination runs into batch, exactly as Alltoallv expects — to their
// destination ranks and returns the key-sorted batch assembled from every
// rank's incoming particles. A rank may address itself: setting
// sendCounts[w.Rank()] keeps that run local through the same collective.
func exchange(w *comm.World, batch *particle.Batch, sendCounts, sendDisp []int) *particle.Batch {
	n := batch.Len()
	ids := make([]int64, n)
	keys := make([]int64, n)
	kinds := make([]int64, n)
	owners := make([]int64, n)
	floats := make([]float64, n*floatFields)
	for i := 0; i < n; i++ {
		ids[i] = int64(batch.ID[i])
		keys[i] = int64(batch.Key[i])
		kinds[i] = int64(batch.Loc[i].Kind)
		owners[i] = int64(batch.Loc[i].Owner)
		packFloats(batch, i, floats[i*floatFields:(i+1)*floatFields])
	}

	recvIDs, _, _ := w.Alltoallv_int64(ids, sendCounts, sendDisp)
	recvKeys, _, _ := w.Alltoallv_int64(keys, sendCounts, sendDisp)
	recvKinds, _, _ := w.Alltoallv_int64(kinds, sendCounts, sendDisp)
	recvOwners, _, _ := w.Alltoallv_int64(owners, sendCounts, sendDisp)
	recvFloats, _, _ := w.Alltoallv_float64(floats, scale(sendCounts, floatFields), scale(sendDisp, floatFields))

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
			Loc:              particle.Locality{Kind: particle.LocalityKind(recvKinds[i]), Owner: int(recvOwners[i])},
			Key:              morton.Key(uint64(recvKeys[i])),
		})
	}
	out.SortByKey()
	return out
}
