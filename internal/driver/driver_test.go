package driver

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/phil-mansfield/mpisph/internal/comm"
	"github.com/phil-mansfield/mpisph/internal/config"
	"github.com/phil-mansfield/mpisph/internal/ghost"
	"github.com/phil-mansfield/mpisph/internal/particle"
	"github.com/phil-mansfield/mpisph/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func slabBatch(n, rank, size int, seed int64) *particle.Batch {
	rng := rand.New(rand.NewSource(seed))
	lo := float64(rank) / float64(size)
	hi := float64(rank+1) / float64(size)
	b := particle.NewBatch(n)
	for i := 0; i < n; i++ {
		p := r3.Vec{X: lo + rng.Float64()*(hi-lo), Y: rng.Float64(), Z: rng.Float64()}
		b.Append(particle.Particle{
			ID:        uint64(rank*100000 + i + 1),
			Position:  p,
			Mass:      1,
			Smoothing: 0.05,
			Velocity:  r3.Vec{X: 0.01},
			Loc:       particle.LocalTo(rank),
		})
	}
	return b
}

func countingVisitor(calls *int32Counter) tree.SinkFunc {
	return func(i int, neighbours []int) {
		calls.add(1)
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func testParams(t *testing.T) *config.Params {
	raw := config.Default()
	require.NoError(t, raw.Overwrite(map[string]string{"Threads": "2"}))
	p, err := raw.Process()
	require.NoError(t, err)
	return p
}

func TestStepConservesGlobalParticleCount(t *testing.T) {
	const size = 3
	const n = 40
	fabric := comm.NewFabric(size)
	params := testParams(t)

	targetCounts := make([]int64, size)
	for r := range targetCounts {
		targetCounts[r] = n
	}

	states := make([]*State, size)
	for r := 0; r < size; r++ {
		states[r] = &State{Batch: slabBatch(n, r, size, int64(r+1))}
	}

	var counter int32Counter
	visitors := []Visitor{{Name: "count", Apply: countingVisitor(&counter)}}

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := fabric.World(r)
			d := New(w, params, ghost.PeriodicDims{}, visitors, Checkpoint{}, targetCounts)
			d.Step(states[r])
		}(r)
	}
	wg.Wait()

	total := 0
	for r := 0; r < size; r++ {
		assert.Equal(t, n, states[r].Batch.Len())
		total += states[r].Batch.Len()
	}
	assert.Equal(t, n*size, total)
	assert.True(t, counter.get() > 0)

	for r := 0; r < size; r++ {
		assert.Equal(t, 1, states[r].Step)
		assert.True(t, states[r].Dt >= 0)
	}
}

func TestStepLeavesNoDuplicateParticleIDs(t *testing.T) {
	const size = 2
	const n = 24
	fabric := comm.NewFabric(size)
	params := testParams(t)

	targetCounts := []int64{n, n}
	states := make([]*State, size)
	for r := 0; r < size; r++ {
		states[r] = &State{Batch: slabBatch(n, r, size, int64(r+7))}
	}

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := fabric.World(r)
			d := New(w, params, ghost.PeriodicDims{}, nil, Checkpoint{}, targetCounts)
			d.Step(states[r])
		}(r)
	}
	wg.Wait()

	for r := 0; r < size; r++ {
		ids := map[uint64]bool{}
		for _, id := range states[r].Batch.ID {
			assert.False(t, ids[id], "duplicate particle id after step")
			ids[id] = true
		}
	}
}

func TestStepRefreshGhostsAcrossMultipleVisitors(t *testing.T) {
	const size = 3
	const n = 30
	fabric := comm.NewFabric(size)
	params := testParams(t)

	targetCounts := make([]int64, size)
	for r := range targetCounts {
		targetCounts[r] = n
	}

	states := make([]*State, size)
	for r := 0; r < size; r++ {
		states[r] = &State{Batch: slabBatch(n, r, size, int64(r+11))}
	}

	var first, second int32Counter
	visitors := []Visitor{
		{Name: "first", Apply: countingVisitor(&first), RefreshGhosts: true},
		{Name: "second", Apply: countingVisitor(&second)},
	}

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := fabric.World(r)
			d := New(w, params, ghost.PeriodicDims{}, visitors, Checkpoint{}, targetCounts)
			d.Step(states[r])
		}(r)
	}
	wg.Wait()

	// A mid-sequence ghost refresh must leave the global particle count
	// unchanged and every rank with a tree and a plan, and both visitors
	// must have run.
	total := 0
	for r := 0; r < size; r++ {
		assert.Equal(t, n, states[r].Batch.Len())
		total += states[r].Batch.Len()
		assert.NotNil(t, states[r].Tree)
		assert.NotNil(t, states[r].Plan)
	}
	assert.Equal(t, n*size, total)
	assert.True(t, first.get() > 0)
	assert.True(t, second.get() > 0)

	// Refreshing the ghost layer a second time after Step, against the same
	// plan and tree each rank left behind, must not grow or corrupt either.
	// Every rank's plan is driven concurrently, matching the collective
	// rendezvous the ghost exchange requires.
	branchesBefore := len(states[1].Tree.AllBranches())
	var wg2 sync.WaitGroup
	for r := 0; r < size; r++ {
		wg2.Add(1)
		go func(r int) {
			defer wg2.Done()
			w := fabric.World(r)
			states[r].Plan.Refresh(w, states[r].Batch)
		}(r)
	}
	wg2.Wait()
	assert.Equal(t, branchesBefore, len(states[1].Tree.AllBranches()))
}

func TestPeriodicStepCleansMirrorsBeforeNextStep(t *testing.T) {
	const size = 1
	const n = 30
	fabric := comm.NewFabric(size)
	params := testParams(t)
	targetCounts := []int64{n}

	// Particles clustered near the low-X boundary so periodic mirrors are
	// generated across the wrap.
	rng := rand.New(rand.NewSource(1))
	batch := particle.NewBatch(n)
	for i := 0; i < n; i++ {
		p := r3.Vec{X: rng.Float64() * 0.05, Y: rng.Float64(), Z: rng.Float64()}
		batch.Append(particle.Particle{
			ID:        uint64(i + 1),
			Position:  p,
			Mass:      1,
			Smoothing: 0.05,
			Loc:       particle.LocalTo(0),
		})
	}
	st := &State{Batch: batch}

	w := fabric.World(0)
	d := New(w, params, ghost.PeriodicDims{X: true, Y: true, Z: true}, nil, Checkpoint{}, targetCounts)

	d.Step(st)
	for _, loc := range st.Batch.Loc {
		assert.NotEqual(t, particle.PeriodicMirror, loc.Kind)
	}
	countAfterFirst := st.Batch.Len()
	assert.Equal(t, n, countAfterFirst)

	d.Step(st)
	for _, loc := range st.Batch.Loc {
		assert.NotEqual(t, particle.PeriodicMirror, loc.Kind)
	}
	assert.Equal(t, n, st.Batch.Len())
}
