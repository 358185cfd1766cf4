// Package dispatch serializes every state mutation of the engagement core
// onto one logical thread.
package dispatch

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("dispatch queue is closed")

// Queue accepts work to run on the core's serialized thread.
type Queue interface {
	Post(fn func()) error
}

// Serial runs posted work one item at a time, in post order, on a dedicated
// goroutine. Posting never blocks, so work running on the queue may post
// follow-up work.
type Serial struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewSerial starts the queue goroutine.
func NewSerial() *Serial {
	q := &Serial{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Serial) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

func (q *Serial) Post(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
	return nil
}

// Sync posts fn and waits for it to finish. It must not be called from the
// queue goroutine.
func (q *Serial) Sync(fn func()) error {
	finished := make(chan struct{})
	if err := q.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// Flush waits until everything posted before the call has run.
func (q *Serial) Flush() error {
	return q.Sync(func() {})
}

// Close drains pending work and stops the goroutine. Idempotent.
func (q *Serial) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// Inline runs posted work immediately on the caller's goroutine. Callers must
// already guarantee serialization.
type Inline struct{}

func (Inline) Post(fn func()) error {
	fn()
	return nil
}
