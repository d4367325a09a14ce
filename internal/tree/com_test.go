package tree

import (
	"math"
	"testing"

	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestComputeCOMConservesMass(t *testing.T) {
	codec := newTestCodec(t)
	b := randomBatch(400, codec, 21)
	tr := buildTree(b, codec, 8)
	tr.ComputeCOM(b, IncludeAll)

	var want float64
	for i := 0; i < b.Len(); i++ {
		want += b.Mass[i]
	}
	assert.InDelta(t, want, tr.Root().Mass, 1e-9*want)
}

func TestComputeCOMBoundingBoxContainsAllParticles(t *testing.T) {
	codec := newTestCodec(t)
	b := randomBatch(400, codec, 22)
	tr := buildTree(b, codec, 8)
	tr.ComputeCOM(b, IncludeAll)

	root := tr.Root()
	for i := 0; i < b.Len(); i++ {
		p := b.Position[i]
		assert.True(t, p.X >= root.BMin.X-1e-12 && p.X <= root.BMax.X+1e-12)
		assert.True(t, p.Y >= root.BMin.Y-1e-12 && p.Y <= root.BMax.Y+1e-12)
		assert.True(t, p.Z >= root.BMin.Z-1e-12 && p.Z <= root.BMax.Z+1e-12)
	}
}

func TestComputeCOMCentroidMatchesWeightedMean(t *testing.T) {
	codec := newTestCodec(t)
	b := randomBatch(250, codec, 23)
	tr := buildTree(b, codec, 8)
	tr.ComputeCOM(b, IncludeAll)

	var mass float64
	var weighted r3.Vec
	for i := 0; i < b.Len(); i++ {
		m := b.Mass[i]
		mass += m
		weighted = weighted.Add(b.Position[i].Scale(m))
	}
	want := weighted.Scale(1 / mass)
	got := tr.Root().Centroid

	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}

func TestComputeCOMExcludesGhostsWithLocalFilter(t *testing.T) {
	codec := newTestCodec(t)
	b := randomBatch(100, codec, 24)
	// Mark half the particles as ghosts owned by another worker.
	for i := 0; i < b.Len(); i += 2 {
		loc := particle.GhostOf(1)
		b.Loc[i] = loc
	}
	tr := buildTree(b, codec, 8)

	var localMass float64
	for i := 0; i < b.Len(); i++ {
		if b.Loc[i].Kind != particle.Ghost {
			localMass += b.Mass[i]
		}
	}

	tr.ComputeCOM(b, IncludeLocal)
	assert.True(t, math.Abs(tr.Root().Mass-localMass) < 1e-9*localMass)
}
