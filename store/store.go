// Package store owns an authoritative state tree and commits the write-intents
// raised through its views in batches.
//
// A Store moves between two states. It is idle while the pending log is empty.
// The first write-intent appends to the log and schedules one commit; later
// write-intents only append. The commit drains the log, replays it against the
// state and notifies every listener once with a fresh root view.
//
// Write-intents may come from any goroutine. Views handed out by a Store read
// the live tree under a read lock that a commit holds for writing while it
// replays, so reads from other goroutines see either the old or the new state.
// A write-intent raised while a commit is running, from a Mutate procedure or
// a listener, goes into a following commit that starts once the running one
// has notified its listeners.
package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kevinxiao27/mutstate/internal/telemetry"
	"github.com/kevinxiao27/mutstate/ol"
	"github.com/kevinxiao27/mutstate/proxy"
	"github.com/kevinxiao27/mutstate/sched"
)

var ErrNotComposite = errors.New("initial state must be a record, list, map or set")

type Listener func(root *proxy.View)

// CancelFunc removes one registration. Calling it again is a no-op.
type CancelFunc func()

type Option func(*Store)

func WithScheduler(s sched.Scheduler) Option {
	return func(st *Store) {
		if s != nil {
			st.scheduler = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// WithName labels the store in logs, metrics and traces.
func WithName(name string) Option {
	return func(st *Store) { st.name = name }
}

// WithErrorHandler is called with every failed commit.
func WithErrorHandler(fn func(error)) Option {
	return func(st *Store) { st.onError = fn }
}

type registration struct {
	id uuid.UUID
	fn Listener
}

type Store struct {
	name      string
	logger    *slog.Logger
	scheduler sched.Scheduler
	onError   func(error)

	stateMu sync.RWMutex // write-held while a commit replays
	state   any

	mu         sync.Mutex
	log        *ol.Log
	listeners  []registration
	pending    bool
	gen        uint64 // bumped each time a commit is scheduled
	handle     sched.Handle
	committing bool
	rerun      bool // a commit was asked for while committing
	committed  any  // copy of state after the last commit
}

// New takes ownership of initial. Plain slices inside it are converted to
// *[]any so that list replacements keep identity; the containers holding
// them are copied rather than rewritten.
func New(initial any, opts ...Option) (*Store, error) {
	if ol.KindOf(initial) == ol.Primitive {
		return nil, ErrNotComposite
	}

	state := ol.Normalize(initial)
	s := &Store{
		name:      "default",
		logger:    slog.Default(),
		scheduler: sched.NewTimer(0),
		state:     state,
		committed: ol.Clone(state),
		log:       ol.NewLog(),
		listeners: []registration{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Name() string { return s.name }

// Root returns a view over the committed state. Pending writes are not visible.
// Reads through it wait for a running replay to finish, so a Mutate procedure
// must not read through views of its own store.
func (s *Store) Root() *proxy.View {
	return proxy.WrapGuarded(s.state, ol.Path{}, s.onWrite, s.stateMu.RLocker()).(*proxy.View)
}

// Snapshot returns a deep copy of the state as of the last finished commit.
// It never waits on a running commit.
func (s *Store) Snapshot() any {
	s.mu.Lock()
	committed := s.committed
	s.mu.Unlock()
	return ol.Clone(committed)
}

// Pending reports how many entries wait for the next commit.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Len()
}

func (s *Store) Listen(fn Listener) CancelFunc {
	id := uuid.New()
	s.mu.Lock()
	s.listeners = append(s.listeners, registration{id: id, fn: fn})
	n := len(s.listeners)
	s.mu.Unlock()
	telemetry.SetListeners(s.name, n)

	return func() {
		s.mu.Lock()
		idx := slices.IndexFunc(s.listeners, func(r registration) bool { return r.id == id })
		if idx < 0 {
			s.mu.Unlock()
			return
		}
		s.listeners = slices.Delete(s.listeners, idx, idx+1)
		n := len(s.listeners)
		s.mu.Unlock()
		telemetry.SetListeners(s.name, n)
	}
}

// Flush commits pending entries now instead of waiting for the scheduler.
// It does nothing while the store is idle. While a commit is running, Flush
// hands the entries to the commit that follows it and returns at once.
func (s *Store) Flush() error {
	return s.FlushContext(context.Background())
}

func (s *Store) FlushContext(ctx context.Context) error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	h := s.handle
	s.mu.Unlock()

	if c, ok := s.scheduler.(sched.Canceler); ok && h != sched.None {
		c.Cancel(h)
	}
	return s.commit(ctx, 0, true)
}

func (s *Store) onWrite(path ol.Path, action ol.Action) {
	telemetry.RecordAction(s.name, string(action.Kind()))

	s.mu.Lock()
	s.log.Append(path, action)
	if s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	h := s.scheduler.Schedule(func() {
		_ = s.commit(context.Background(), gen, false)
	})
	if h == sched.None {
		s.logger.Warn("scheduler returned no handle", slog.String("store", s.name))
	}

	s.mu.Lock()
	if s.pending && s.gen == gen {
		s.handle = h
	}
	s.mu.Unlock()
}

// commit runs the pending log. A scheduled callback only commits the
// generation it was scheduled for; Flush forces the current one. A commit
// asked for while another is running is left to that one, which keeps going
// until nothing is left to rerun.
func (s *Store) commit(ctx context.Context, gen uint64, force bool) error {
	s.mu.Lock()
	if !s.pending || (!force && s.gen != gen) {
		s.mu.Unlock()
		return nil
	}
	if s.committing {
		s.rerun = true
		s.mu.Unlock()
		return nil
	}
	s.committing = true
	s.mu.Unlock()

	var errs []error
	for {
		if err := s.commitOnce(ctx); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		again := s.rerun && s.pending
		s.rerun = false
		s.committing = again
		s.mu.Unlock()
		if !again {
			break
		}
	}

	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func (s *Store) commitOnce(ctx context.Context) error {
	s.mu.Lock()
	entries := s.log.Drain()
	s.pending = false
	s.handle = sched.None
	s.mu.Unlock()

	ctx, c := telemetry.StartCommit(ctx, s.name, len(entries))
	s.stateMu.Lock()
	err := ol.ReplayContext(ctx, s.state, entries)
	committed := ol.Clone(s.state)
	s.stateMu.Unlock()

	if err != nil {
		s.logger.Error("commit failed",
			slog.String("store", s.name),
			slog.Int("actions", len(entries)),
			slog.String("error", err.Error()))
		if s.onError != nil {
			s.onError(err)
		}
	}

	s.mu.Lock()
	s.committed = committed
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	root := s.Root()
	for _, l := range listeners {
		l.fn(root)
	}
	c.Notified(len(listeners))
	c.End(err)

	s.logger.Debug("store committed",
		slog.String("store", s.name),
		slog.Int("actions", len(entries)),
		slog.Int("listeners", len(listeners)))
	return err
}
