// Package waiter implements the correlation table that matches asynchronous
// responses to the requests that triggered them.
package waiter

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is delivered to a pending call whose TTL fires before a
// response arrives. Callers distinguish it from a connection-loss rejection.
var ErrTimeout = errors.New("wait timeout")

// maxSafeID is the ceiling after which ids wrap back and restart from 1.
// A wrapped id colliding with a still-pending very old call is a known
// hazard under extreme concurrency; the wrap behavior is kept as-is.
const maxSafeID = uint64(1)<<53 - 1

type pending[T any] struct {
	ch    chan outcome[T]
	timer *time.Timer
}

type outcome[T any] struct {
	value T
	err   error
}

// Call is a single pending correlated request.
type Call[T any] struct {
	ID uint64
	ch chan outcome[T]
}

// Result blocks until the call is resolved or rejected.
func (c *Call[T]) Result() (T, error) {
	out := <-c.ch
	return out.value, out.err
}

// Waiter maps monotonically increasing correlation ids to pending calls.
type Waiter[T any] struct {
	mu         sync.Mutex
	pool       map[uint64]*pending[T]
	id         uint64
	allSettled func()
}

func New[T any]() *Waiter[T] {
	return &Waiter[T]{
		pool: make(map[uint64]*pending[T]),
	}
}

// Wait allocates the next id and registers a pending call. A non-zero ttl
// arms a deadline timer that rejects only this call with ErrTimeout.
func (w *Waiter[T]) Wait(ttl time.Duration) *Call[T] {
	w.mu.Lock()
	if w.id >= maxSafeID {
		w.id = 0
	}
	w.id++
	id := w.id

	p := &pending[T]{ch: make(chan outcome[T], 1)}
	w.pool[id] = p
	if ttl > 0 {
		p.timer = time.AfterFunc(ttl, func() {
			w.EmitError(id, ErrTimeout)
		})
	}
	w.mu.Unlock()

	return &Call[T]{ID: id, ch: p.ch}
}

// Emit resolves the pending call registered under id and removes it. When
// the pool drains, a registered all-settled callback fires once.
func (w *Waiter[T]) Emit(id uint64, result T) {
	w.mu.Lock()
	p, ok := w.pool[id]
	if ok {
		w.remove(id, p)
	}
	cb := w.drainCallback()
	w.mu.Unlock()

	if ok {
		p.ch <- outcome[T]{value: result}
	}
	if cb != nil {
		cb()
	}
}

// EmitError rejects the pending call registered under id and removes it.
func (w *Waiter[T]) EmitError(id uint64, err error) {
	w.mu.Lock()
	p, ok := w.pool[id]
	if ok {
		w.remove(id, p)
	}
	cb := w.drainCallback()
	w.mu.Unlock()

	if ok {
		p.ch <- outcome[T]{err: err}
	}
	if cb != nil {
		cb()
	}
}

// RejectAll rejects every pending call with err and leaves the table empty.
// Called on connection loss so no caller hangs past a disconnect.
func (w *Waiter[T]) RejectAll(err error) {
	w.mu.Lock()
	drained := make([]*pending[T], 0, len(w.pool))
	for id, p := range w.pool {
		w.remove(id, p)
		drained = append(drained, p)
	}
	cb := w.drainCallback()
	w.mu.Unlock()

	for _, p := range drained {
		p.ch <- outcome[T]{err: err}
	}
	if cb != nil {
		cb()
	}
}

// Remove drops a pending call without resolving it.
func (w *Waiter[T]) Remove(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pool[id]
	if !ok {
		return false
	}
	w.remove(id, p)
	return true
}

// Pending reports how many calls are currently outstanding.
func (w *Waiter[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pool)
}

// WaitForAll blocks until every pending call settles, or until ttl elapses
// when ttl is non-zero. Returns immediately if the table is empty.
func (w *Waiter[T]) WaitForAll(ttl time.Duration) {
	w.mu.Lock()
	if len(w.pool) == 0 {
		w.mu.Unlock()
		return
	}
	done := make(chan struct{})
	w.allSettled = func() { close(done) }
	w.mu.Unlock()

	if ttl > 0 {
		select {
		case <-done:
		case <-time.After(ttl):
		}
		return
	}
	<-done
}

// remove must be called with the lock held.
func (w *Waiter[T]) remove(id uint64, p *pending[T]) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(w.pool, id)
}

// drainCallback must be called with the lock held; it detaches the
// all-settled callback when the pool just became empty.
func (w *Waiter[T]) drainCallback() func() {
	if len(w.pool) != 0 || w.allSettled == nil {
		return nil
	}
	cb := w.allSettled
	w.allSettled = nil
	return cb
}
