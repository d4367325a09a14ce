/*Package comm implements a BSP-phase communication fabric: a fixed set of
workers advancing through barriers, broadcasts, gathers, and all-to-all-v
exchanges in lockstep.

Method names and the per-type split (Bcast_int64 vs Bcast_float64, and so
on) are carried over from lib/mpi/mpi.go's cgo bindings, but the
transport here is a goroutine/channel mesh rather than an OpenMPI call --
see DESIGN.md for why the cgo path could not be wired directly. A Fabric of
size 1 degenerates every collective to a local, lock-free copy so a
single-worker run never blocks on its own barrier.
*/
package comm

import (
	"sync"

	"github.com/phil-mansfield/mpisph/internal/errs"
)

// ReduceOp selects the combining operator for AllReduce.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Max
	Min
)

// Fabric is the shared rendezvous point every rank's World meets at.
type Fabric struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     int
	arrived int
	slot    []interface{}
}

// NewFabric builds a Fabric for the given number of ranks.
func NewFabric(size int) *Fabric {
	if size < 1 {
		errs.Structural("comm: fabric size must be >= 1, got %d", size)
	}
	f := &Fabric{size: size, slot: make([]interface{}, size)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// World returns the handle rank should use to participate in collectives.
func (f *Fabric) World(rank int) *World {
	if rank < 0 || rank >= f.size {
		errs.Structural("comm: rank %d out of range [0, %d)", rank, f.size)
	}
	return &World{f: f, rank: rank}
}

// World is one rank's view of a Fabric: a worker's handle onto the
// collective, standing in for an MPI communicator.
type World struct {
	f    *Fabric
	rank int
}

// Size returns the number of ranks in this World's Fabric.
func (w *World) Size() int { return w.f.size }

// Rank returns this World's own rank, in [0, Size()).
func (w *World) Rank() int { return w.rank }

// rendezvous blocks every caller until all f.size ranks have submitted a
// payload for the current generation. The last rank to arrive runs combine
// (if non-nil) over the full slot and that result becomes what every rank
// reads back before the barrier releases; combine runs exactly once per
// generation, never concurrently with a caller still writing into slot.
func (f *Fabric) rendezvous(rank int, payload interface{}, combine func([]interface{}) []interface{}) []interface{} {
	f.mu.Lock()
	myGen := f.gen
	f.slot[rank] = payload
	f.arrived++
	if f.arrived == f.size {
		if combine != nil {
			f.slot = combine(f.slot)
		}
		f.arrived = 0
		f.gen++
		f.cond.Broadcast()
	} else {
		for f.gen == myGen {
			f.cond.Wait()
		}
	}
	out := make([]interface{}, f.size)
	copy(out, f.slot)
	f.mu.Unlock()
	return out
}

// Barrier blocks until every rank has called Barrier for this phase.
func (w *World) Barrier() {
	if w.f.size == 1 {
		return
	}
	w.f.rendezvous(w.rank, nil, nil)
}

// Bcast_int64 returns root's buf to every rank, including root itself.
func (w *World) Bcast_int64(buf []int64, root int) []int64 {
	if w.f.size == 1 {
		return buf
	}
	combine := func(slots []interface{}) []interface{} {
		rootBuf := slots[root].([]int64)
		out := make([]interface{}, len(slots))
		for i := range out {
			out[i] = rootBuf
		}
		return out
	}
	res := w.f.rendezvous(w.rank, buf, combine)
	return res[w.rank].([]int64)
}

// Bcast_float64 is Bcast_int64's float64 analogue.
func (w *World) Bcast_float64(buf []float64, root int) []float64 {
	if w.f.size == 1 {
		return buf
	}
	combine := func(slots []interface{}) []interface{} {
		rootBuf := slots[root].([]float64)
		out := make([]interface{}, len(slots))
		for i := range out {
			out[i] = rootBuf
		}
		return out
	}
	res := w.f.rendezvous(w.rank, buf, combine)
	return res[w.rank].([]float64)
}

// Gather_int64 concatenates every rank's send, in rank order, and returns
// the result on root; other ranks get nil.
func (w *World) Gather_int64(send []int64, root int) []int64 {
	if w.f.size == 1 {
		return send
	}
	combine := func(slots []interface{}) []interface{} {
		var out []int64
		for i := range slots {
			out = append(out, slots[i].([]int64)...)
		}
		res := make([]interface{}, len(slots))
		res[root] = out
		return res
	}
	res := w.f.rendezvous(w.rank, send, combine)
	if res[w.rank] == nil {
		return nil
	}
	return res[w.rank].([]int64)
}

// AllGather_int64 is Gather_int64 with the concatenated result delivered to
// every rank.
func (w *World) AllGather_int64(send []int64) []int64 {
	if w.f.size == 1 {
		return send
	}
	combine := func(slots []interface{}) []interface{} {
		var out []int64
		for i := range slots {
			out = append(out, slots[i].([]int64)...)
		}
		res := make([]interface{}, len(slots))
		for i := range res {
			res[i] = out
		}
		return res
	}
	res := w.f.rendezvous(w.rank, send, combine)
	return res[w.rank].([]int64)
}

// AllGather_float64 is AllGather_int64's float64 analogue, used to exchange
// the per-worker local bounding boxes the ghost planner and global-range
// reduction both need.
func (w *World) AllGather_float64(send []float64) []float64 {
	if w.f.size == 1 {
		return send
	}
	combine := func(slots []interface{}) []interface{} {
		var out []float64
		for i := range slots {
			out = append(out, slots[i].([]float64)...)
		}
		res := make([]interface{}, len(slots))
		for i := range res {
			res[i] = out
		}
		return res
	}
	res := w.f.rendezvous(w.rank, send, combine)
	return res[w.rank].([]float64)
}

type alltoallPayload struct {
	Data   []int64
	Counts []int
	Disp   []int
}

// Alltoallv_int64 is the variable-count all-to-all exchange the distributed
// sort and ghost exchange are built on: sendCounts[d]/sendDisp[d]
// describe the slice of send destined for rank d. It returns the receive
// buffer plus the recvCounts/recvDisp describing which sender each portion
// of it came from, mirroring MPI_Alltoallv's two-sided count/displacement
// convention.
func (w *World) Alltoallv_int64(send []int64, sendCounts, sendDisp []int) (recv []int64, recvCounts, recvDisp []int) {
	n := w.f.size
	if n == 1 {
		return send, sendCounts, sendDisp
	}
	combine := func(slots []interface{}) []interface{} {
		payloads := make([]alltoallPayload, n)
		for i, s := range slots {
			payloads[i] = s.(alltoallPayload)
		}
		out := make([]interface{}, n)
		for d := 0; d < n; d++ {
			var data []int64
			counts := make([]int, n)
			disp := make([]int, n)
			for s := 0; s < n; s++ {
				c := payloads[s].Counts[d]
				off := payloads[s].Disp[d]
				disp[s] = len(data)
				counts[s] = c
				data = append(data, payloads[s].Data[off:off+c]...)
			}
			out[d] = alltoallPayload{Data: data, Counts: counts, Disp: disp}
		}
		return out
	}
	res := w.f.rendezvous(w.rank, alltoallPayload{Data: send, Counts: sendCounts, Disp: sendDisp}, combine)
	p := res[w.rank].(alltoallPayload)
	return p.Data, p.Counts, p.Disp
}

type alltoallFloatPayload struct {
	Data   []float64
	Counts []int
	Disp   []int
}

// Alltoallv_float64 is Alltoallv_int64's float64 analogue, used to ship
// particle scalar fields (mass, density, ...) across the same plan built
// from an Alltoallv_int64 id exchange.
func (w *World) Alltoallv_float64(send []float64, sendCounts, sendDisp []int) (recv []float64, recvCounts, recvDisp []int) {
	n := w.f.size
	if n == 1 {
		return send, sendCounts, sendDisp
	}
	combine := func(slots []interface{}) []interface{} {
		payloads := make([]alltoallFloatPayload, n)
		for i, s := range slots {
			payloads[i] = s.(alltoallFloatPayload)
		}
		out := make([]interface{}, n)
		for d := 0; d < n; d++ {
			var data []float64
			counts := make([]int, n)
			disp := make([]int, n)
			for s := 0; s < n; s++ {
				c := payloads[s].Counts[d]
				off := payloads[s].Disp[d]
				disp[s] = len(data)
				counts[s] = c
				data = append(data, payloads[s].Data[off:off+c]...)
			}
			out[d] = alltoallFloatPayload{Data: data, Counts: counts, Disp: disp}
		}
		return out
	}
	res := w.f.rendezvous(w.rank, alltoallFloatPayload{Data: send, Counts: sendCounts, Disp: sendDisp}, combine)
	p := res[w.rank].(alltoallFloatPayload)
	return p.Data, p.Counts, p.Disp
}

// AllReduce_float64 combines every rank's v with op and delivers the result
// to all ranks.
func (w *World) AllReduce_float64(v float64, op ReduceOp) float64 {
	if w.f.size == 1 {
		return v
	}
	combine := func(slots []interface{}) []interface{} {
		acc := slots[0].(float64)
		for i := 1; i < len(slots); i++ {
			x := slots[i].(float64)
			switch op {
			case Max:
				if x > acc {
					acc = x
				}
			case Min:
				if x < acc {
					acc = x
				}
			default:
				acc += x
			}
		}
		out := make([]interface{}, len(slots))
		for i := range out {
			out[i] = acc
		}
		return out
	}
	res := w.f.rendezvous(w.rank, v, combine)
	return res[w.rank].(float64)
}

// AllReduce_int64 is AllReduce_float64's integer analogue, used for global
// particle-count reductions.
func (w *World) AllReduce_int64(v int64, op ReduceOp) int64 {
	if w.f.size == 1 {
		return v
	}
	combine := func(slots []interface{}) []interface{} {
		acc := slots[0].(int64)
		for i := 1; i < len(slots); i++ {
			x := slots[i].(int64)
			switch op {
			case Max:
				if x > acc {
					acc = x
				}
			case Min:
				if x < acc {
					acc = x
				}
			default:
				acc += x
			}
		}
		out := make([]interface{}, len(slots))
		for i := range out {
			out[i] = acc
		}
		return out
	}
	res := w.f.rendezvous(w.rank, v, combine)
	return res[w.rank].(int64)
}
