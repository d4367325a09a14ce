/*Package geom implements the three O(dim) predicates the tree's descent
routines are built from: point-in-sphere, sphere-box intersection, and
box-box intersection. Boxes and points are gonum's r3.Vec/r3.Box, the same
types the pack's vendored barneshut octree (see other_examples'
openshift-origin__barneshut3.go) uses for its own bounding volumes.

Only the leading Dim components of any Vec are meaningful; 1D and 2D runs
leave the trailing components at zero on both sides of every comparison, so
the predicates are correct without a dimension parameter of their own.
*/
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Within reports whether p lies within radius r of center (touching counts).
func Within(center, p r3.Vec, r float64) bool {
	d := p.Sub(center)
	return r3.Dot(d, d) <= r*r
}

// clampToBox returns the point in [bmin, bmax] closest to p, component-wise.
func clampToBox(bmin, bmax, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: clamp(p.X, bmin.X, bmax.X),
		Y: clamp(p.Y, bmin.Y, bmax.Y),
		Z: clamp(p.Z, bmin.Z, bmax.Z),
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// IntersectsSphereBox reports whether the sphere centered at c with radius r
// intersects the axis-aligned box [bmin, bmax] (touching counts).
func IntersectsSphereBox(bmin, bmax, c r3.Vec, r float64) bool {
	closest := clampToBox(bmin, bmax, c)
	d := closest.Sub(c)
	return r3.Dot(d, d) <= r*r
}

// IntersectsBoxBox reports whether two axis-aligned boxes overlap in every
// dimension (touching counts).
func IntersectsBoxBox(aMin, aMax, bMin, bMax r3.Vec) bool {
	return overlap1D(aMin.X, aMax.X, bMin.X, bMax.X) &&
		overlap1D(aMin.Y, aMax.Y, bMin.Y, bMax.Y) &&
		overlap1D(aMin.Z, aMax.Z, bMin.Z, bMax.Z)
}

func overlap1D(aLo, aHi, bLo, bHi float64) bool {
	return aLo <= bHi && bLo <= aHi
}

// ContainsPoint reports whether p lies within [bmin, bmax], component-wise
// (touching counts).
func ContainsPoint(bmin, bmax, p r3.Vec) bool {
	return p.X >= bmin.X && p.X <= bmax.X &&
		p.Y >= bmin.Y && p.Y <= bmax.Y &&
		p.Z >= bmin.Z && p.Z <= bmax.Z
}

// Inflate returns [bmin, bmax] expanded outward by eps in every dimension.
func Inflate(bmin, bmax r3.Vec, eps float64) (r3.Vec, r3.Vec) {
	e := r3.Vec{X: eps, Y: eps, Z: eps}
	return bmin.Sub(e), bmax.Add(e)
}

// Union returns the smallest box containing both [aMin, aMax] and
// [bMin, bMax].
func Union(aMin, aMax, bMin, bMax r3.Vec) (r3.Vec, r3.Vec) {
	return r3.Vec{X: math.Min(aMin.X, bMin.X), Y: math.Min(aMin.Y, bMin.Y), Z: math.Min(aMin.Z, bMin.Z)},
		r3.Vec{X: math.Max(aMax.X, bMax.X), Y: math.Max(aMax.Y, bMax.Y), Z: math.Max(aMax.Z, bMax.Z)}
}
