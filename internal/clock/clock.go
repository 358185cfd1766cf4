// Package clock provides the cancellable timers the core schedules timeouts,
// countdowns and transient notices with.
package clock

import (
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Timer is a scheduled callback. Cancel is idempotent and cancelling a timer
// that already fired is a no-op.
type Timer interface {
	Cancel()
}

// Scheduler schedules callbacks. Implementations deliver callbacks on the
// core's serialized queue.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Real schedules on wall-clock time and posts every callback through post.
type Real struct {
	clock bclock.Clock
	post  func(func())
}

// NewReal returns a scheduler backed by clk. A nil clk uses the system clock.
func NewReal(clk bclock.Clock, post func(func())) *Real {
	if clk == nil {
		clk = bclock.New()
	}
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return &Real{clock: clk, post: post}
}

func (r *Real) AfterFunc(d time.Duration, fn func()) Timer {
	t := &realTimer{}
	timer := r.clock.AfterFunc(d, func() {
		r.post(func() {
			if t.take() {
				fn()
			}
		})
	})
	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()
	return t
}

func (r *Real) Every(d time.Duration, fn func()) Timer {
	t := &realTimer{}
	var arm func()
	arm = func() {
		timer := r.clock.AfterFunc(d, func() {
			r.post(func() {
				if t.isCancelled() {
					return
				}
				fn()
				arm()
			})
		})
		t.mu.Lock()
		t.timer = timer
		t.mu.Unlock()
	}
	arm()
	return t
}

type realTimer struct {
	mu        sync.Mutex
	timer     *bclock.Timer
	fired     bool
	cancelled bool
}

func (t *realTimer) take() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.fired {
		return false
	}
	t.fired = true
	return true
}

func (t *realTimer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *realTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Manual is a virtual-time scheduler. Callbacks run synchronously inside
// Advance, in deadline order, on the caller's goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers []*manualTimer
}

func NewManual() *Manual {
	return &Manual{}
}

type manualTimer struct {
	m        *Manual
	seq      uint64
	deadline time.Duration
	period   time.Duration
	fn       func()
	done     bool
}

func (t *manualTimer) Cancel() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.done = true
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.add(d, d, fn)
}

func (m *Manual) add(d, period time.Duration, fn func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, seq: m.seq, deadline: m.now + d, period: period, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Elapsed returns the virtual time advanced so far.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	return len(m.timers)
}

// Advance moves virtual time forward by d, firing every timer that comes due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		m.prune()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.deadline
		if next.period > 0 {
			next.deadline += next.period
		} else {
			next.done = true
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].deadline == m.timers[j].deadline {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline < m.timers[j].deadline
	})
	for _, t := range m.timers {
		if !t.done && t.deadline <= target {
			return t
		}
	}
	return nil
}

func (m *Manual) prune() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	m.timers = live
}
