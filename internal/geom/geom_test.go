package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestWithin(t *testing.T) {
	c := r3.Vec{X: 0, Y: 0, Z: 0}
	assert.True(t, Within(c, r3.Vec{X: 1, Y: 0, Z: 0}, 1))
	assert.True(t, Within(c, r3.Vec{X: 0.5, Y: 0.5, Z: 0}, 1))
	assert.False(t, Within(c, r3.Vec{X: 1.01, Y: 0, Z: 0}, 1))
}

func TestIntersectsSphereBox(t *testing.T) {
	bmin, bmax := r3.Vec{X: 0, Y: 0, Z: 0}, r3.Vec{X: 1, Y: 1, Z: 1}
	assert.True(t, IntersectsSphereBox(bmin, bmax, r3.Vec{X: 2, Y: 0.5, Z: 0.5}, 1))
	assert.False(t, IntersectsSphereBox(bmin, bmax, r3.Vec{X: 3, Y: 0.5, Z: 0.5}, 1))
	// touching boundary counts as intersecting.
	assert.True(t, IntersectsSphereBox(bmin, bmax, r3.Vec{X: 2, Y: 0.5, Z: 0.5}, 1.0))
}

func TestIntersectsBoxBoxSymmetric(t *testing.T) {
	a0, a1 := r3.Vec{X: 0, Y: 0, Z: 0}, r3.Vec{X: 1, Y: 1, Z: 1}
	b0, b1 := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 1.5, Y: 1.5, Z: 1.5}
	assert.True(t, IntersectsBoxBox(a0, a1, b0, b1))
	assert.True(t, IntersectsBoxBox(b0, b1, a0, a1))

	c0, c1 := r3.Vec{X: 2, Y: 2, Z: 2}, r3.Vec{X: 3, Y: 3, Z: 3}
	assert.False(t, IntersectsBoxBox(a0, a1, c0, c1))
}

func TestIntersectsBoxBoxTouching(t *testing.T) {
	a0, a1 := r3.Vec{X: 0, Y: 0, Z: 0}, r3.Vec{X: 1, Y: 1, Z: 1}
	b0, b1 := r3.Vec{X: 1, Y: 0, Z: 0}, r3.Vec{X: 2, Y: 1, Z: 1}
	assert.True(t, IntersectsBoxBox(a0, a1, b0, b1))
}

func TestContainsPoint(t *testing.T) {
	bmin, bmax := r3.Vec{X: 0, Y: 0, Z: 0}, r3.Vec{X: 1, Y: 1, Z: 1}
	assert.True(t, ContainsPoint(bmin, bmax, r3.Vec{X: 1, Y: 1, Z: 1}))
	assert.False(t, ContainsPoint(bmin, bmax, r3.Vec{X: 1.1, Y: 1, Z: 1}))
}
