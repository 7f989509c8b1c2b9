package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrLoopClosed = errors.New("loop closed")

// Loop is a single goroutine event loop. Tasks posted with Post or Do run in
// order on the loop goroutine; callbacks passed to Schedule run together at
// the next frame, at most once per frame interval. Everything that touches a
// store's views should run on the loop.
type Loop struct {
	ids     counter
	tasks   chan func()
	wake    chan struct{}
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	frame []manualTask

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop starts a loop. A zero frame interval runs scheduled callbacks as
// soon as the loop is free.
func NewLoop(ctx context.Context, frame time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if frame > 0 {
		limit = rate.Every(frame)
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		tasks:   make(chan func(), 64),
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	var frameC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			l.safely("task", fn)
		case <-l.wake:
			if frameC == nil {
				frameC = time.After(l.limiter.Reserve().Delay())
			}
		case <-frameC:
			frameC = nil
			l.runFrame()
		}
	}
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	tasks := l.frame
	l.frame = nil
	l.mu.Unlock()

	for _, task := range tasks {
		l.safely("frame callback", task.cb)
	}
}

func (l *Loop) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop recovered panic", slog.String("in", what), slog.Any("panic", r))
		}
	}()
	fn()
}

// Schedule queues cb for the next frame.
func (l *Loop) Schedule(cb func()) Handle {
	h := l.ids.next()
	l.mu.Lock()
	l.frame = append(l.frame, manualTask{h: h, cb: cb})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

func (l *Loop) Cancel(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, task := range l.frame {
		if task.h == h {
			l.frame = append(l.frame[:i], l.frame[i+1:]...)
			return true
		}
	}
	return false
}

// Post queues fn without waiting for it.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Close stops the loop and waits for the running task to finish. Pending
// frame callbacks are dropped.
func (l *Loop) Close() {
	l.cancel()
	<-l.done
}
