// Package clock narrows github.com/benbjohnson/clock to the two calls the
// heartbeat, grace, polling, reconnect and typing timers make, and gives
// tests a mock that steps through due timers one instant at a time.
package clock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{ c clock.Clock }

// Real returns the wall clock.
func Real() Clock { return wallClock{c: clock.New()} }

func (w wallClock) Now() time.Time { return w.c.Now() }

func (w wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return w.c.AfterFunc(d, f)
}

// Mock is a manually advanced Clock over clock.Mock. The underlying mock runs
// each callback on its own goroutine; Add waits for every callback due at an
// instant to return before moving past it, so callbacks that schedule new
// timers see the instant they fired at.
type Mock struct {
	mock *clock.Mock

	mu     sync.Mutex
	timers []*mockTimer
}

type mockTimer struct {
	m     *Mock
	timer *clock.Timer
	when  time.Time
	done  chan struct{}
}

// NewMock returns a Mock set to start.
func NewMock(start time.Time) *Mock {
	m := clock.NewMock()
	m.Set(start)
	return &Mock{mock: m}
}

func (m *Mock) Now() time.Time { return m.mock.Now() }

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	t := &mockTimer{m: m, done: make(chan struct{})}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.when = m.mock.Now().Add(d)
	t.timer = m.mock.AfterFunc(d, func() {
		defer close(t.done)
		f()
	})
	m.timers = append(m.timers, t)
	return t
}

// Add moves the clock forward by d, firing every timer that falls due,
// including timers scheduled by callbacks within the window.
func (m *Mock) Add(d time.Duration) {
	target := m.mock.Now().Add(d)
	for {
		m.mu.Lock()
		at, due := m.takeDue(target)
		m.mu.Unlock()
		if len(due) == 0 {
			break
		}
		m.step(at)
		for _, t := range due {
			<-t.done
		}
	}
	m.step(target)
}

// Pending returns the number of scheduled timers that have not fired.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Mock) step(to time.Time) {
	d := to.Sub(m.mock.Now())
	if d < 0 {
		d = 0
	}
	m.mock.Add(d)
}

// takeDue removes and returns the timers sharing the earliest due time at or
// before target.
func (m *Mock) takeDue(target time.Time) (time.Time, []*mockTimer) {
	var at time.Time
	for _, t := range m.timers {
		if t.when.After(target) {
			continue
		}
		if at.IsZero() || t.when.Before(at) {
			at = t.when
		}
	}
	if at.IsZero() {
		return at, nil
	}
	var due []*mockTimer
	kept := m.timers[:0]
	for _, t := range m.timers {
		if t.when.Equal(at) {
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	m.timers = kept
	return at, due
}

func (m *Mock) remove(t *mockTimer) bool {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (t *mockTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if !t.m.remove(t) {
		return false
	}
	return t.timer.Stop()
}
