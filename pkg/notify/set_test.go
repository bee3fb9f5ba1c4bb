package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_PromoteDemote(t *testing.T) {
	var s Set[int]
	require.Zero(t, s.Len())
	require.Nil(t, s.state.Load(), "empty set must not allocate")

	require.True(t, s.Add(1))
	require.False(t, s.Add(1))
	require.Equal(t, 1, s.Len())
	require.Nil(t, s.state.Load().many, "a lone subscriber is stored inline")

	require.True(t, s.Add(2))
	require.True(t, s.Add(3))
	require.Equal(t, 3, s.Len())
	require.ElementsMatch(t, []int{1, 2, 3}, s.Snapshot())

	require.True(t, s.Remove(2))
	require.False(t, s.Remove(2))
	require.ElementsMatch(t, []int{1, 3}, s.Snapshot())

	require.Equal(t, 1, s.RemoveIf(func(v int) bool { return v == 3 }))
	require.Nil(t, s.state.Load().many, "one remaining element is demoted to inline")
	require.True(t, s.Contains(1))

	require.True(t, s.Remove(1))
	require.Nil(t, s.state.Load())
}

func TestSet_ConcurrentAddRemove(t *testing.T) {
	const workers = 16
	const perWorker = 200

	var s Set[int]
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				v := w*perWorker + i
				assert.True(t, s.Add(v))
				// Readers racing with writers see consistent snapshots.
				s.ForEach(func(int) {})
				if v%2 == 0 {
					assert.True(t, s.Remove(v))
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*perWorker/2, s.Len())
	s.ForEach(func(v int) {
		require.Equal(t, 1, v%2)
	})
}

func TestSet_RemoveIfPrunesFired(t *testing.T) {
	type sub struct {
		fired bool
	}
	var s Set[*sub]
	a, b, c := &sub{}, &sub{fired: true}, &sub{fired: true}
	s.Add(a)
	s.Add(b)
	s.Add(c)

	require.Equal(t, 2, s.RemoveIf(func(x *sub) bool { return x.fired }))
	require.Equal(t, []*sub{a}, s.Snapshot())
	require.Zero(t, s.RemoveIf(func(x *sub) bool { return x.fired }))
}
