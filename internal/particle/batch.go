package particle

import (
	"sort"

	"github.com/phil-mansfield/mpisph/internal/morton"
	"gonum.org/v1/gonum/spatial/r3"
)

// Batch is a struct-of-arrays container for particles: the layout the hot
// loops (tree insertion, COM rollup, ghost packing) actually walk. It plays
// the same role as lib/particles.go's Particles map of named Fields, but is
// monomorphised to the fixed SPH field set instead of being driven by
// runtime type assertions, per the "specialise hot loops... keep generic
// data layout" strategy in the design notes.
type Batch struct {
	ID        []uint64
	Position  []r3.Vec
	Velocity  []r3.Vec
	VHalf     []r3.Vec
	Accel     []r3.Vec
	Mass      []float64
	Density   []float64
	Pressure  []float64
	Energy    []float64
	Smoothing []float64
	Loc       []Locality
	Key       []morton.Key
}

// NewBatch returns an empty Batch with capacity for n particles.
func NewBatch(n int) *Batch {
	return &Batch{
		ID:        make([]uint64, 0, n),
		Position:  make([]r3.Vec, 0, n),
		Velocity:  make([]r3.Vec, 0, n),
		VHalf:     make([]r3.Vec, 0, n),
		Accel:     make([]r3.Vec, 0, n),
		Mass:      make([]float64, 0, n),
		Density:   make([]float64, 0, n),
		Pressure:  make([]float64, 0, n),
		Energy:    make([]float64, 0, n),
		Smoothing: make([]float64, 0, n),
		Loc:       make([]Locality, 0, n),
		Key:       make([]morton.Key, 0, n),
	}
}

// Len returns the number of particles in the batch.
func (b *Batch) Len() int { return len(b.ID) }

// Append adds p to the end of the batch.
func (b *Batch) Append(p Particle) {
	b.ID = append(b.ID, p.ID)
	b.Position = append(b.Position, p.Position)
	b.Velocity = append(b.Velocity, p.Velocity)
	b.VHalf = append(b.VHalf, p.VelocityHalfStep)
	b.Accel = append(b.Accel, p.Acceleration)
	b.Mass = append(b.Mass, p.Mass)
	b.Density = append(b.Density, p.Density)
	b.Pressure = append(b.Pressure, p.Pressure)
	b.Energy = append(b.Energy, p.Energy)
	b.Smoothing = append(b.Smoothing, p.Smoothing)
	b.Loc = append(b.Loc, p.Loc)
	b.Key = append(b.Key, p.Key)
}

// AppendBatch appends every particle of other to b, in order.
func (b *Batch) AppendBatch(other *Batch) {
	for i := 0; i < other.Len(); i++ {
		b.Append(other.Get(i))
	}
}

// Get materializes the particle at index i.
func (b *Batch) Get(i int) Particle {
	return Particle{
		ID:               b.ID[i],
		Position:         b.Position[i],
		Velocity:         b.Velocity[i],
		VelocityHalfStep: b.VHalf[i],
		Acceleration:     b.Accel[i],
		Mass:             b.Mass[i],
		Density:          b.Density[i],
		Pressure:         b.Pressure[i],
		Energy:           b.Energy[i],
		Smoothing:        b.Smoothing[i],
		Loc:              b.Loc[i],
		Key:              b.Key[i],
	}
}

// Set overwrites the particle at index i.
func (b *Batch) Set(i int, p Particle) {
	b.ID[i] = p.ID
	b.Position[i] = p.Position
	b.Velocity[i] = p.Velocity
	b.VHalf[i] = p.VelocityHalfStep
	b.Accel[i] = p.Acceleration
	b.Mass[i] = p.Mass
	b.Density[i] = p.Density
	b.Pressure[i] = p.Pressure
	b.Energy[i] = p.Energy
	b.Smoothing[i] = p.Smoothing
	b.Loc[i] = p.Loc
	b.Key[i] = p.Key
}

// Transfer copies particles from "from" indices of b into "to" indices of
// dest. from and to are parallel arrays, passed together so that the cost
// of bounds/length checking is amortized across the whole move instead of
// paid per particle, the same discipline Field.Transfer uses
// for its index arrays.
func (b *Batch) Transfer(dest *Batch, from, to []int) {
	for i := range from {
		dest.Set(to[i], b.Get(from[i]))
	}
}

// KeepIf returns a new Batch holding only the particles of b for which keep
// returns true, preserving order. Used to drop periodic-mirror or ghost
// particles before a rebuild without disturbing the surviving particles'
// relative order.
func (b *Batch) KeepIf(keep func(Locality) bool) *Batch {
	out := NewBatch(b.Len())
	for i := 0; i < b.Len(); i++ {
		if keep(b.Loc[i]) {
			out.Append(b.Get(i))
		}
	}
	return out
}

// SortByKey sorts the batch in place by Morton key, with particle id as the
// tiebreak the distributed sort and query routines rely on for determinism
// under duplicate keys.
func (b *Batch) SortByKey() {
	idx := make([]int, b.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		ki, kj := b.Key[idx[i]], b.Key[idx[j]]
		if ki != kj {
			return morton.Less(ki, kj)
		}
		return b.ID[idx[i]] < b.ID[idx[j]]
	})
	b.permute(idx)
}

func (b *Batch) permute(idx []int) {
	n := b.Len()
	out := NewBatch(n)
	for _, i := range idx {
		out.Append(b.Get(i))
	}
	*b = *out
}
