package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEveryTask(t *testing.T) {
	p := NewPool(4, nil)
	var ran atomic.Int32
	for range 1000 {
		p.Post(func() { ran.Add(1) })
	}
	require.NoError(t, p.Wait(context.Background()))
	require.Equal(t, int32(1000), ran.Load())
}

func TestPool_TasksPostingTasks(t *testing.T) {
	p := NewPool(2, nil)
	var ran atomic.Int32
	var fan func(depth int)
	fan = func(depth int) {
		ran.Add(1)
		if depth == 0 {
			return
		}
		p.Post(func() { fan(depth - 1) })
		p.Post(func() { fan(depth - 1) })
	}
	p.Post(func() { fan(6) })
	require.NoError(t, p.Wait(context.Background()))
	require.Equal(t, int32(127), ran.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	p := NewPool(workers, nil)
	var running, peak atomic.Int32
	for range 50 {
		p.Post(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	require.NoError(t, p.Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestPool_CapturesPanics(t *testing.T) {
	p := NewPool(1, nil)
	errBoom := errors.New("boom")
	var after atomic.Bool
	p.Post(func() { panic(errBoom) })
	p.Post(func() { after.Store(true) })

	err := p.Wait(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, errBoom)
	var tp *TaskPanicError
	require.ErrorAs(t, err, &tp)
	require.NotEmpty(t, tp.Stack)
	require.True(t, after.Load(), "a panicking task must not stop the pool")
}

func TestPool_WaitHonoursContext(t *testing.T) {
	p := NewPool(1, nil)
	release := make(chan struct{})
	p.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Wait(context.Background()))
}

func TestManual(t *testing.T) {
	var m Manual
	var order []int
	m.Post(func() {
		order = append(order, 1)
		m.Post(func() { order = append(order, 3) })
	})
	m.Post(func() { order = append(order, 2) })

	require.Equal(t, 2, m.Len())
	require.Empty(t, order, "nothing runs until the queue is drained")
	require.Equal(t, 3, m.Drain())
	require.Equal(t, []int{1, 2, 3}, order)
	require.False(t, m.Step())
}
