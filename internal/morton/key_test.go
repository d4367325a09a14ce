package morton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestRootDepthZero(t *testing.T) {
	assert.Equal(t, 0, Root.Depth(3))
}

func TestPushPopRoundTrip(t *testing.T) {
	k := Root.Push(3, 5)
	assert.Equal(t, 1, k.Depth(3))
	assert.Equal(t, Root, k.Pop(3))
}

func TestTruncate(t *testing.T) {
	k := Root.Push(2, 1).Push(2, 2).Push(2, 3)
	assert.Equal(t, 3, k.Depth(2))
	assert.Equal(t, Root.Push(2, 1).Push(2, 2), k.Truncate(2, 2))
	assert.Equal(t, Root, k.Truncate(2, 0))
}

func TestChildIndexAtDepth(t *testing.T) {
	k := Root.Push(2, 1).Push(2, 2).Push(2, 3)
	assert.Equal(t, 1, k.ChildIndexAtDepth(2, 1))
	assert.Equal(t, 2, k.ChildIndexAtDepth(2, 2))
	assert.Equal(t, 3, k.ChildIndexAtDepth(2, 3))
}

func TestChildCount(t *testing.T) {
	assert.Equal(t, 2, ChildCount(1))
	assert.Equal(t, 4, ChildCount(2))
	assert.Equal(t, 8, ChildCount(3))
}

func TestEncodeContainment(t *testing.T) {
	codec, err := NewCodec(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 3, 10)
	require.NoError(t, err)

	points := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 0.999999, Y: 0.999999, Z: 0.999999},
		{X: 0.1, Y: 0.9, Z: 0.3},
	}
	for _, p := range points {
		k := codec.Encode(p)
		lo, hi := codec.CellBounds(k)
		assert.True(t, lo.X <= p.X && p.X <= hi.X, "x out of cell for %v", p)
		assert.True(t, lo.Y <= p.Y && p.Y <= hi.Y, "y out of cell for %v", p)
		assert.True(t, lo.Z <= p.Z && p.Z <= hi.Z, "z out of cell for %v", p)
	}
}

func TestEncodeBoundaryPoint(t *testing.T) {
	codec, err := NewCodec(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 3, 8)
	require.NoError(t, err)

	// A particle exactly on the domain boundary must still map to a valid
	// key that places it in some leaf cell.
	k := codec.Encode(r3.Vec{X: 1, Y: 1, Z: 1})
	assert.Equal(t, codec.MaxDepth, k.Depth(3))
}

func TestLessIsDepthFirstOrder(t *testing.T) {
	root := Root
	a := root.Push(2, 0)
	b := root.Push(2, 1)
	aa := a.Push(2, 0)

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.True(t, Less(a, aa))
}

func TestNewCodecRejectsBadDim(t *testing.T) {
	_, err := NewCodec(r3.Vec{}, r3.Vec{X: 1}, 0, 10)
	assert.Error(t, err)
	_, err = NewCodec(r3.Vec{}, r3.Vec{X: 1}, 4, 10)
	assert.Error(t, err)
}
