package clock

import (
	"sync/atomic"
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	m := NewManual()
	var order []string
	m.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, m.Pending())
}

func TestManualCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManual()
	fired := 0
	timer := m.AfterFunc(time.Second, func() { fired++ })

	timer.Cancel()
	timer.Cancel()
	m.Advance(time.Minute)

	assert.Zero(t, fired)
}

func TestManualCancelAfterFireIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManual()
	fired := 0
	timer := m.AfterFunc(time.Second, func() { fired++ })

	m.Advance(time.Second)
	timer.Cancel()
	timer.Cancel()

	assert.Equal(t, 1, fired)
}

func TestManualEveryRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	m := NewManual()
	ticks := 0
	var timer Timer
	timer = m.Every(time.Second, func() {
		ticks++
		if ticks == 3 {
			timer.Cancel()
		}
	})

	m.Advance(10 * time.Second)

	assert.Equal(t, 3, ticks)
	assert.Equal(t, 10*time.Second, m.Elapsed())
}

func TestRealPostsThroughQueue(t *testing.T) {
	t.Parallel()

	mock := bclock.NewMock()
	var posted atomic.Int32
	done := make(chan struct{})
	r := NewReal(mock, func(fn func()) {
		posted.Add(1)
		fn()
	})

	r.AfterFunc(time.Second, func() { close(done) })
	mock.Add(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	assert.Equal(t, int32(1), posted.Load())
}

func TestRealCancelBeforeFire(t *testing.T) {
	t.Parallel()

	mock := bclock.NewMock()
	var fired atomic.Int32
	r := NewReal(mock, nil)

	timer := r.AfterFunc(time.Second, func() { fired.Add(1) })
	timer.Cancel()
	timer.Cancel()
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)

	assert.Zero(t, fired.Load())
}
