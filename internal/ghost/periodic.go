package ghost

import (
	"math"

	"github.com/phil-mansfield/mpisph/internal/particle"
	"gonum.org/v1/gonum/spatial/r3"
)

// PeriodicDims names which axes wrap. Wrap and Mirrors act on every axis
// whose flag is set; they do not consult the run's Dim, so the trailing
// flags of a Dim < 3 run are left false by the caller.
type PeriodicDims struct {
	X, Y, Z bool
}

// Wrap folds p back into [lo, hi) along every periodic axis.
func Wrap(dims PeriodicDims, lo, hi, p r3.Vec) r3.Vec {
	if dims.X {
		p.X = wrap1D(lo.X, hi.X, p.X)
	}
	if dims.Y {
		p.Y = wrap1D(lo.Y, hi.Y, p.Y)
	}
	if dims.Z {
		p.Z = wrap1D(lo.Z, hi.Z, p.Z)
	}
	return p
}

func wrap1D(lo, hi, x float64) float64 {
	span := hi - lo
	if span <= 0 {
		return x
	}
	y := math.Mod(x-lo, span)
	if y < 0 {
		y += span
	}
	return y + lo
}

// MirrorRadius is the margin used to generate periodic image particles
// near a periodic boundary: 2.5h, distinct from the ghost planner's 2h
// margin (original_source/mpisph/bodies_system.h uses the two constants for
// the two different purposes).
func MirrorRadius(h float64) float64 { return 2.5 * h }

// Mirrors returns the periodic image(s) of p that fall within margin of the
// [lo, hi) domain boundary along every periodic axis: zero, one, or more
// images depending on how many faces/edges/corners p is near. An interior
// point far from every periodic boundary yields no images.
func Mirrors(dims PeriodicDims, lo, hi r3.Vec, p r3.Vec, margin float64) []r3.Vec {
	offsets := [][3]float64{{0, 0, 0}}
	offsets = mirrorAxis(offsets, 0, dims.X, lo.X, hi.X, p.X, margin)
	offsets = mirrorAxis(offsets, 1, dims.Y, lo.Y, hi.Y, p.Y, margin)
	offsets = mirrorAxis(offsets, 2, dims.Z, lo.Z, hi.Z, p.Z, margin)

	var out []r3.Vec
	for _, o := range offsets {
		if o == [3]float64{0, 0, 0} {
			continue
		}
		out = append(out, r3.Vec{X: p.X + o[0], Y: p.Y + o[1], Z: p.Z + o[2]})
	}
	return out
}

// mirrorAxis doubles the offset list whenever p sits within margin of
// either face along the given axis, appending +-span to that axis's
// component of every existing offset combination.
func mirrorAxis(offsets [][3]float64, axis int, periodic bool, lo, hi, x, margin float64) [][3]float64 {
	if !periodic {
		return offsets
	}
	span := hi - lo
	out := append([][3]float64(nil), offsets...)
	if x-lo < margin {
		for _, o := range offsets {
			o[axis] += span
			out = append(out, o)
		}
	}
	if hi-x < margin {
		for _, o := range offsets {
			o[axis] -= span
			out = append(out, o)
		}
	}
	return out
}

// ApplyPeriodic wraps every particle's position in batch back into
// [lo, hi) along the periodic axes, in place.
func ApplyPeriodic(dims PeriodicDims, lo, hi r3.Vec, batch *particle.Batch) {
	for i := range batch.Position {
		batch.Position[i] = Wrap(dims, lo, hi, batch.Position[i])
	}
}
