// Package notify is a small callback registry used for connectivity and
// sync-status change notifications.
//
// Publish snapshots the subscriber list before invoking callbacks, so a
// callback may subscribe or unsubscribe (itself or others) without deadlock.
// Callbacks run synchronously on the publishing goroutine, in subscription order.
package notify

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

type Broker[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is idempotent.
func (b *Broker[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broker[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			next := make([]subscriber[T], 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber registered at the time of the call.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	snapshot := b.subs
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len reports the current number of subscribers.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
