package comm

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runOnAllRanks(f *Fabric, fn func(w *World, rank int)) {
	var wg sync.WaitGroup
	for r := 0; r < f.size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			fn(f.World(r), r)
		}(r)
	}
	wg.Wait()
}

func TestBarrierReleasesEveryRank(t *testing.T) {
	f := NewFabric(4)
	var mu sync.Mutex
	order := make([]int, 0, 4)

	runOnAllRanks(f, func(w *World, rank int) {
		w.Barrier()
		mu.Lock()
		order = append(order, rank)
		mu.Unlock()
	})

	assert.Len(t, order, 4)
}

func TestBcastInt64DeliversRootValue(t *testing.T) {
	f := NewFabric(3)
	results := make([][]int64, 3)
	var mu sync.Mutex

	runOnAllRanks(f, func(w *World, rank int) {
		var buf []int64
		if rank == 1 {
			buf = []int64{7, 8, 9}
		} else {
			buf = make([]int64, 3)
		}
		got := w.Bcast_int64(buf, 1)
		mu.Lock()
		results[rank] = got
		mu.Unlock()
	})

	for _, r := range results {
		assert.Equal(t, []int64{7, 8, 9}, r)
	}
}

func TestGatherInt64ConcatenatesInRankOrder(t *testing.T) {
	f := NewFabric(3)
	var root []int64
	var mu sync.Mutex

	runOnAllRanks(f, func(w *World, rank int) {
		send := []int64{int64(rank), int64(rank)}
		got := w.Gather_int64(send, 0)
		if rank == 0 {
			mu.Lock()
			root = got
			mu.Unlock()
		} else {
			assert.Nil(t, got)
		}
	})

	assert.Equal(t, []int64{0, 0, 1, 1, 2, 2}, root)
}

func TestAllGatherFloat64DeliversToEveryRank(t *testing.T) {
	f := NewFabric(3)
	results := make([][]float64, 3)
	var mu sync.Mutex

	runOnAllRanks(f, func(w *World, rank int) {
		got := w.AllGather_float64([]float64{float64(rank)})
		mu.Lock()
		results[rank] = got
		mu.Unlock()
	})

	for _, r := range results {
		assert.Equal(t, []float64{0, 1, 2}, r)
	}
}

func TestAlltoallvInt64RoutesByDestination(t *testing.T) {
	f := NewFabric(3)
	recvByRank := make([][]int64, 3)
	var mu sync.Mutex

	// Rank r sends [r*10+d] to destination d, one element each.
	runOnAllRanks(f, func(w *World, rank int) {
		send := make([]int64, 3)
		counts := make([]int, 3)
		disp := make([]int, 3)
		for d := 0; d < 3; d++ {
			send[d] = int64(rank*10 + d)
			counts[d] = 1
			disp[d] = d
		}
		recv, _, _ := w.Alltoallv_int64(send, counts, disp)
		mu.Lock()
		recvByRank[rank] = append([]int64(nil), recv...)
		mu.Unlock()
	})

	for d := 0; d < 3; d++ {
		got := append([]int64(nil), recvByRank[d]...)
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		want := []int64{int64(0*10 + d), int64(1*10 + d), int64(2*10 + d)}
		assert.Equal(t, want, got)
	}
}

func TestAllReduceFloat64Sum(t *testing.T) {
	f := NewFabric(4)
	results := make([]float64, 4)
	var mu sync.Mutex

	runOnAllRanks(f, func(w *World, rank int) {
		got := w.AllReduce_float64(float64(rank+1), Sum)
		mu.Lock()
		results[rank] = got
		mu.Unlock()
	})

	for _, r := range results {
		assert.Equal(t, 10.0, r)
	}
}

func TestAllReduceInt64Max(t *testing.T) {
	f := NewFabric(4)
	results := make([]int64, 4)
	var mu sync.Mutex

	runOnAllRanks(f, func(w *World, rank int) {
		got := w.AllReduce_int64(int64(rank), Max)
		mu.Lock()
		results[rank] = got
		mu.Unlock()
	})

	for _, r := range results {
		assert.Equal(t, int64(3), r)
	}
}

func TestSingleRankFabricNeverBlocks(t *testing.T) {
	f := NewFabric(1)
	w := f.World(0)
	w.Barrier()
	assert.Equal(t, []int64{1, 2, 3}, w.Bcast_int64([]int64{1, 2, 3}, 0))
	assert.Equal(t, 5.0, w.AllReduce_float64(5.0, Sum))
}
