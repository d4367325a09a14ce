package distsort

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/phil-mansfield/mpisph/internal/comm"
	"github.com/phil-mansfield/mpisph/internal/morton"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomLocalBatch(n int, codec *morton.Codec, seed int64, idOffset int) *particle.Batch {
	rng := rand.New(rand.NewSource(seed))
	b := particle.NewBatch(n)
	for i := 0; i < n; i++ {
		p := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		b.Append(particle.Particle{
			ID:       uint64(idOffset + i + 1),
			Position: p,
			Mass:     1 + rng.Float64(),
			Loc:      particle.LocalTo(0),
			Key:      codec.Encode(p),
		})
	}
	return b
}

func TestSplittersPartitionEvenly(t *testing.T) {
	lo, hi := morton.Key(100), morton.Key(199)
	sp := Splitters(lo, hi, 4)
	require.Len(t, sp, 3)
	assert.Equal(t, morton.Key(125), sp[0])
	assert.Equal(t, morton.Key(150), sp[1])
	assert.Equal(t, morton.Key(175), sp[2])
}

func TestBinByKeyProducesContiguousRuns(t *testing.T) {
	keys := []morton.Key{100, 110, 120, 130, 140, 150, 160, 170, 180, 190}
	splitters := []morton.Key{124, 149, 174}
	counts, disp := binByKey(keys, splitters)

	assert.Equal(t, []int{3, 2, 3, 2}, counts)
	total := 0
	for i, c := range counts {
		assert.Equal(t, total, disp[i])
		total += c
	}
	assert.Equal(t, len(keys), total)
}

func TestSortRedistributesToExactTargets(t *testing.T) {
	codec, err := morton.NewCodec(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 3, 12)
	require.NoError(t, err)

	const size = 4
	fabric := comm.NewFabric(size)
	locals := []*particle.Batch{
		randomLocalBatch(37, codec, 1, 0),
		randomLocalBatch(52, codec, 2, 1000),
		randomLocalBatch(19, codec, 3, 2000),
		randomLocalBatch(64, codec, 4, 3000),
	}
	globalTotal := 0
	for _, b := range locals {
		globalTotal += b.Len()
	}
	targets := make([]int64, size)
	base := globalTotal / size
	for i := range targets {
		targets[i] = int64(base)
	}
	targets[size-1] += int64(globalTotal - base*size)

	results := make([]*particle.Batch, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := fabric.World(r)
			results[r] = Sort(w, locals[r], targets)
		}(r)
	}
	wg.Wait()

	seenIDs := make(map[uint64]bool)
	for i, res := range results {
		assert.EqualValues(t, targets[i], res.Len())
		for j := 0; j < res.Len(); j++ {
			assert.False(t, seenIDs[res.ID[j]], "duplicate id %d", res.ID[j])
			seenIDs[res.ID[j]] = true
		}
		for j := 1; j < res.Len(); j++ {
			assert.True(t, morton.Less(res.Key[j-1], res.Key[j]) || res.Key[j-1] == res.Key[j])
		}
	}
	assert.Equal(t, globalTotal, len(seenIDs))

	// Every rank's key range must not overlap the next rank's.
	for i := 0; i < size-1; i++ {
		if results[i].Len() == 0 || results[i+1].Len() == 0 {
			continue
		}
		maxHere := results[i].Key[results[i].Len()-1]
		minNext := results[i+1].Key[0]
		assert.True(t, morton.Less(maxHere, minNext) || maxHere == minNext)
	}
}

func TestSortSingleRankIsIdentitySortedByKey(t *testing.T) {
	codec, err := morton.NewCodec(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, 3, 12)
	require.NoError(t, err)

	b := randomLocalBatch(40, codec, 5, 0)
	fabric := comm.NewFabric(1)
	w := fabric.World(0)

	out := Sort(w, b, []int64{40})
	assert.Equal(t, 40, out.Len())
	for i := 1; i < out.Len(); i++ {
		assert.True(t, morton.Less(out.Key[i-1], out.Key[i]) || out.Key[i-1] == out.Key[i])
	}
}
