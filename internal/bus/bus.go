// Package bus provides small push-style containers used to fan out state
// changes: Value holds a current value plus observers, Feed is a plain
// observer list. Both guarantee that a single subscriber sees events in
// emission order; Value additionally hands a late subscriber the current
// value right away.
package bus

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Feed is an observer list without a retained value.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   []subscriber[T]
	nextID int
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

// Subscribe registers fn and returns an unsubscribe func. Handlers run
// synchronously on the emitting goroutine and must not emit back into the
// same feed.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers v to every subscriber in registration order. Emissions are
// serialized, so no subscriber observes two events out of order.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s.fn(v)
	}
}

// Value is a Feed that retains the latest value.
type Value[T any] struct {
	feed    Feed[T]
	mu      sync.RWMutex
	current T
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set stores next as the current value and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	v.mu.Unlock()
	v.feed.Emit(next)
}

// Subscribe registers fn, invoking it immediately with the current value.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	unsub := v.feed.Subscribe(fn)
	fn(v.Get())
	return unsub
}
