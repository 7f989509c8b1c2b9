// Package sched provides the primitives a store uses to defer its commit.
package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle identifies a scheduled callback. None is never returned by a scheduler.
type Handle uint64

const None Handle = 0

type Scheduler interface {
	Schedule(cb func()) Handle
}

// Canceler is implemented by schedulers that can drop a callback before it runs.
type Canceler interface {
	Cancel(h Handle) bool
}

// Func adapts a plain function to a Scheduler.
type Func func(cb func()) Handle

func (f Func) Schedule(cb func()) Handle { return f(cb) }

type counter struct{ n atomic.Uint64 }

func (c *counter) next() Handle { return Handle(c.n.Add(1)) }

// Immediate runs the callback before Schedule returns.
type Immediate struct{ ids counter }

func NewImmediate() *Immediate { return &Immediate{} }

func (s *Immediate) Schedule(cb func()) Handle {
	h := s.ids.next()
	cb()
	return h
}

// Manual queues callbacks until RunPending is called.
type Manual struct {
	mu      sync.Mutex
	ids     counter
	pending []manualTask
}

type manualTask struct {
	h  Handle
	cb func()
}

func NewManual() *Manual { return &Manual{} }

func (s *Manual) Schedule(cb func()) Handle {
	h := s.ids.next()
	s.mu.Lock()
	s.pending = append(s.pending, manualTask{h: h, cb: cb})
	s.mu.Unlock()
	return h
}

func (s *Manual) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.pending {
		if task.h == h {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Manual) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunPending runs the callbacks queued so far and returns how many ran.
// Callbacks scheduled while running wait for the next call.
func (s *Manual) RunPending() int {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, task := range tasks {
		task.cb()
	}
	return len(tasks)
}

// Timer runs callbacks on a time.AfterFunc goroutine after a fixed delay.
type Timer struct {
	delay  time.Duration
	ids    counter
	mu     sync.Mutex
	timers map[Handle]*time.Timer
}

func NewTimer(delay time.Duration) *Timer {
	return &Timer{delay: delay, timers: make(map[Handle]*time.Timer)}
}

func (s *Timer) Schedule(cb func()) Handle {
	h := s.ids.next()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[h] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		cb()
	})
	return h
}

func (s *Timer) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[h]
	if !ok {
		return false
	}
	delete(s.timers, h)
	return t.Stop()
}
