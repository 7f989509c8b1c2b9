package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediateRunsBeforeReturning(t *testing.T) {
	s := NewImmediate()
	ran := false
	h := s.Schedule(func() { ran = true })
	assert.True(t, ran)
	assert.NotEqual(t, None, h)
}

func TestFuncAdapter(t *testing.T) {
	var got func()
	s := Func(func(cb func()) Handle {
		got = cb
		return 7
	})
	assert.Equal(t, Handle(7), s.Schedule(func() {}))
	assert.NotNil(t, got)
}

func TestManualQueuesUntilRun(t *testing.T) {
	s := NewManual()
	var order []int
	h1 := s.Schedule(func() { order = append(order, 1) })
	h2 := s.Schedule(func() { order = append(order, 2) })
	h3 := s.Schedule(func() { order = append(order, 3) })

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Cancel(h3))
	assert.False(t, s.Cancel(h3))
	assert.Empty(t, order)

	assert.Equal(t, 2, s.RunPending())
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, s.Len())
}

func TestTimerRunsAndCancels(t *testing.T) {
	s := NewTimer(0)
	fired := make(chan struct{})
	s.Schedule(func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer callback did not run")
	}

	slow := NewTimer(time.Hour)
	h := slow.Schedule(func() { t.Error("cancelled callback ran") })
	assert.True(t, slow.Cancel(h))
	assert.False(t, slow.Cancel(h))
}

func TestLoopBatchesFrameCallbacks(t *testing.T) {
	loop := NewLoop(context.Background(), 5*time.Millisecond, nil)
	defer loop.Close()

	var count atomic.Int32
	done := make(chan struct{})
	require.NoError(t, loop.Do(context.Background(), func() {
		loop.Schedule(func() { count.Add(1) })
		loop.Schedule(func() {
			count.Add(1)
			close(done)
		})
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame did not run")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestLoopCancelAndClose(t *testing.T) {
	loop := NewLoop(context.Background(), time.Hour, nil)
	h := loop.Schedule(func() {})
	assert.True(t, loop.Cancel(h))

	require.NoError(t, loop.Post(func() { panic("survives") }))
	require.NoError(t, loop.Do(context.Background(), func() {}))

	loop.Close()
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrLoopClosed)
}
