// Package observable provides the single-writer reactive cells the engagement
// core shares state through. Subscribers are called synchronously, in
// subscription order, on the goroutine that publishes.
package observable

import "sync"

// Subscription is returned by Subscribe. Cancel is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel stops delivery to the subscriber.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Feed broadcasts discrete values to its subscribers.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

// Subscribe registers fn and returns the handle that removes it.
func (f *Feed[T]) Subscribe(fn func(T)) *Subscription {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	return &Subscription{cancel: func() { f.remove(id) }}
}

// Publish delivers v to every subscriber registered at the time of the call.
// A subscriber cancelled by an earlier subscriber in the same round is
// skipped.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	snapshot := make([]subscriber[T], len(f.subs))
	copy(snapshot, f.subs)
	f.mu.Unlock()

	for _, sub := range snapshot {
		if !f.active(sub.id) {
			continue
		}
		sub.fn(v)
	}
}

// Len returns the number of live subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed[T]) active(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.id == id {
			return true
		}
	}
	return false
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.subs {
		if sub.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

// Reader is the read-only view of a Value handed to non-owners.
type Reader[T any] interface {
	Get() T
	Subscribe(fn func(T)) *Subscription
}

// Value is a single-value cell. Set stores before it publishes, so a
// subscriber reading Get during delivery sees the new value.
type Value[T any] struct {
	mu   sync.RWMutex
	v    T
	feed Feed[T]
}

// NewValue returns a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (c *Value[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

func (c *Value[T]) Set(v T) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
	c.feed.Publish(v)
}

func (c *Value[T]) Subscribe(fn func(T)) *Subscription {
	return c.feed.Subscribe(fn)
}

// Subscribers returns the number of live subscribers.
func (c *Value[T]) Subscribers() int {
	return c.feed.Len()
}

// Bag collects subscriptions owned by one component so teardown can cancel
// them together.
type Bag struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bag) Add(subs ...*Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, subs...)
	b.mu.Unlock()
}

// CancelAll cancels every collected subscription and empties the bag.
func (b *Bag) CancelAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}
