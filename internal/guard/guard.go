// Package guard provides single-owner exclusive access to one shared value.
//
// Every holder reaches the value through a Handle obtained from Acquire, or
// through the scoped helpers Do and Call which release on every exit path
// (return, error, panic). Waiters blocked in Acquire leave the wait set
// without side effects when their context ends. Ordering among waiters is
// not FIFO.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mutex owns one value and grants at most one live Handle at a time.
type Mutex[T any] struct {
	sem     chan struct{}
	value   T
	waiting atomic.Int64
}

// New wraps value in a Mutex.
func New[T any](value T) *Mutex[T] {
	return &Mutex[T]{
		sem:   make(chan struct{}, 1),
		value: value,
	}
}

// Acquire blocks until the caller is the exclusive holder or ctx ends.
func (m *Mutex[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case m.sem <- struct{}{}:
		return &Handle[T]{m: m}, nil
	default:
	}

	m.waiting.Add(1)
	defer m.waiting.Add(-1)
	select {
	case m.sem <- struct{}{}:
		// select picks at random when both cases are ready.
		if err := ctx.Err(); err != nil {
			<-m.sem
			return nil, err
		}
		return &Handle[T]{m: m}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the value without acquiring. Only use it for accessors that
// synchronize themselves, such as read-only snapshots.
func (m *Mutex[T]) Peek() T {
	return m.value
}

// Held reports whether a Handle is currently live.
func (m *Mutex[T]) Held() bool {
	return len(m.sem) == 1
}

// Waiting reports how many callers are blocked in Acquire.
func (m *Mutex[T]) Waiting() int64 {
	return m.waiting.Load()
}

// Handle is one exclusive acquisition. Release is idempotent.
type Handle[T any] struct {
	m        *Mutex[T]
	once     sync.Once
	released atomic.Bool
}

// Value returns the guarded value. It panics after Release.
func (h *Handle[T]) Value() T {
	if h.released.Load() {
		panic("guard: use of released handle")
	}
	return h.m.value
}

// Release gives up exclusive access.
func (h *Handle[T]) Release() {
	h.once.Do(func() {
		h.released.Store(true)
		<-h.m.sem
	})
}

// Do runs fn while holding m.
func Do[T any](ctx context.Context, m *Mutex[T], fn func(context.Context, T) error) error {
	h, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx, h.Value())
}

// Call runs fn while holding m and returns its result.
func Call[T, R any](ctx context.Context, m *Mutex[T], fn func(context.Context, T) (R, error)) (R, error) {
	h, err := m.Acquire(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	defer h.Release()
	return fn(ctx, h.Value())
}
