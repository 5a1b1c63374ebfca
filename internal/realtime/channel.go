package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// State is the authorization state of a channel subscription.
type State int

const (
	StatePending State = iota
	StateSubscribed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Handler receives the raw payload of a broadcast event.
type Handler func(data json.RawMessage)

// ListenerID identifies one handler registration; Off removes exactly it.
type ListenerID uint64

type listener struct {
	id    ListenerID
	owner string
	event string
	fn    Handler
}

// Channel is a shared handle on a named broadcast channel. Several owners may
// hold and listen on the same channel; it is closed when the last owner
// releases it.
type Channel struct {
	name   string
	nextID *atomic.Uint64

	mu        sync.Mutex
	state     State
	holds     map[string]int
	listeners []listener
	closed    bool
}

func newChannel(name string, nextID *atomic.Uint64) *Channel {
	return &Channel{
		name:   name,
		nextID: nextID,
		holds:  make(map[string]int),
	}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers fn for event on behalf of owner. It returns 0 if the channel
// has already been closed.
func (c *Channel) On(owner, event string, fn Handler) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		log.Warningf("realtime: %s listener on closed channel %s ignored", owner, c.name)
		return 0
	}
	id := ListenerID(c.nextID.Add(1))
	c.listeners = append(c.listeners, listener{id: id, owner: owner, event: event, fn: fn})
	return id
}

// Off removes the registration with the given id, leaving every other
// handler (including other handlers of the same owner) in place.
func (c *Channel) Off(id ListenerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Owners returns the number of distinct owners holding or listening.
func (c *Channel) Owners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ownersLocked())
}

// Dispatch delivers an event to every matching handler in registration
// order. A panicking handler is logged and does not stop delivery.
func (c *Channel) Dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	var fns []Handler
	for _, l := range c.listeners {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		c.call(event, fn, data)
	}
}

func (c *Channel) call(event string, fn Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("realtime: handler for %s on %s panicked: %v", event, c.name, r)
		}
	}()
	fn(data)
}

func (c *Channel) hold(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holds[owner]++
}

// release drops every hold and handler of owner and reports whether the
// channel is now unused.
func (c *Channel) release(owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.holds, owner)
	kept := c.listeners[:0]
	for _, l := range c.listeners {
		if l.owner != owner {
			kept = append(kept, l)
		}
	}
	c.listeners = kept
	return len(c.holds) == 0 && len(c.listeners) == 0
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) close() {
	c.mu.Lock()
	c.closed = true
	c.state = StatePending
	c.listeners = nil
	c.mu.Unlock()
}

func (c *Channel) ownersLocked() map[string]struct{} {
	owners := make(map[string]struct{}, len(c.holds))
	for o := range c.holds {
		owners[o] = struct{}{}
	}
	for _, l := range c.listeners {
		owners[l.owner] = struct{}{}
	}
	return owners
}
