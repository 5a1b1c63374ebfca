// Package typing coordinates "user is typing" indicators: throttled local
// signals sent over REST and an auto-expiring set of remote typers.
package typing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
)

var log = logging.MustGetLogger("typing")

const (
	DefaultThrottle  = 2 * time.Second
	DefaultStopAfter = 4 * time.Second
	DefaultExpire    = 6 * time.Second

	sendTimeout = 5 * time.Second
)

type User struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// Event is the payload of a user.typing broadcast.
type Event struct {
	RoomID   int64  `json:"room_id"`
	UserID   int64  `json:"user_id"`
	Name     string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// DecodeEvent parses a user.typing payload, rejecting events without a user
// or typing flag.
func DecodeEvent(data json.RawMessage) (Event, error) {
	var raw struct {
		RoomID   int64  `json:"room_id"`
		UserID   int64  `json:"user_id"`
		Name     string `json:"user_name"`
		IsTyping *bool  `json:"is_typing"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode typing event: %w", err)
	}
	if raw.UserID == 0 || raw.IsTyping == nil {
		return Event{}, errors.New("decode typing event: missing user_id or is_typing")
	}
	return Event{RoomID: raw.RoomID, UserID: raw.UserID, Name: raw.Name, IsTyping: *raw.IsTyping}, nil
}

// Signaler sends the local typing state.
type Signaler interface {
	SendTyping(ctx context.Context, roomID int64, typing bool) error
}

type Options struct {
	Clock clock.Clock
	// Throttle is the minimum gap between two "typing" signals.
	Throttle time.Duration
	// StopAfter is the silence after which "stopped typing" is sent.
	StopAfter time.Duration
	// Expire force-removes a remote typer that never sent a stop.
	Expire   time.Duration
	OnChange func()
}

// emission is the local debounce state.
type emission struct {
	lastSentAt time.Time
	lastSent   bool
	stopTimer  clock.Timer
}

type typer struct {
	user   User
	expire clock.Timer
}

type Coordinator struct {
	api    Signaler
	roomID int64
	me     int64
	clock  clock.Clock
	opts   Options

	// localMu guards the emission state. Decisions are queued on the outbox
	// under it, so signals leave in decision order.
	localMu sync.Mutex
	local   emission
	closed  bool

	outMu   sync.Mutex
	outbox  []bool
	wake    chan struct{}
	quit    chan struct{}
	pending sync.WaitGroup
	wg      sync.WaitGroup

	mu     sync.Mutex
	typers map[int64]*typer
	order  []int64
}

func NewCoordinator(api Signaler, roomID, me int64, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.StopAfter <= 0 {
		opts.StopAfter = DefaultStopAfter
	}
	if opts.Expire <= 0 {
		opts.Expire = DefaultExpire
	}
	c := &Coordinator{
		api:    api,
		roomID: roomID,
		me:     me,
		clock:  opts.Clock,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		typers: make(map[int64]*typer),
	}
	c.wg.Add(1)
	go c.sendLoop()
	return c
}

// InputChanged reacts to the composer's content changing. It never waits on
// the network; signals are sent in order by a background sender.
func (c *Coordinator) InputChanged(text string) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	if c.closed {
		return
	}
	if text == "" {
		c.stopTimerLocked()
		if c.local.lastSent {
			c.signalLocked(false)
		}
		return
	}

	now := c.clock.Now()
	if !c.local.lastSent || now.Sub(c.local.lastSentAt) > c.opts.Throttle {
		c.local.lastSentAt = now
		c.signalLocked(true)
	}

	c.stopTimerLocked()
	var tm clock.Timer
	tm = c.clock.AfterFunc(c.opts.StopAfter, func() {
		c.localMu.Lock()
		defer c.localMu.Unlock()
		if c.closed || c.local.stopTimer != tm {
			return
		}
		c.local.stopTimer = nil
		if c.local.lastSent {
			c.signalLocked(false)
		}
	})
	c.local.stopTimer = tm
}

// HandleRemote applies a typing event from another user.
func (c *Coordinator) HandleRemote(ev Event) {
	if ev.UserID == c.me {
		return
	}
	c.mu.Lock()
	t, known := c.typers[ev.UserID]
	if !ev.IsTyping {
		if known {
			c.removeLocked(ev.UserID)
		}
		c.mu.Unlock()
		if known {
			c.changed()
		}
		return
	}
	if !known {
		t = &typer{}
		c.typers[ev.UserID] = t
		c.order = append(c.order, ev.UserID)
	} else if t.expire != nil {
		t.expire.Stop()
	}
	t.user = User{UserID: ev.UserID, Name: ev.Name}
	var tm clock.Timer
	tm = c.clock.AfterFunc(c.opts.Expire, func() {
		c.mu.Lock()
		cur, ok := c.typers[ev.UserID]
		if !ok || cur.expire != tm {
			c.mu.Unlock()
			return
		}
		c.removeLocked(ev.UserID)
		c.mu.Unlock()
		c.changed()
	})
	t.expire = tm
	c.mu.Unlock()
	if !known {
		c.changed()
	}
}

// Typers returns the users currently typing, in order of appearance.
func (c *Coordinator) Typers() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]User, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.typers[id].user)
	}
	return out
}

// Clear forgets every remote typer, e.g. when switching conversations.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	had := len(c.order) > 0
	for _, t := range c.typers {
		if t.expire != nil {
			t.expire.Stop()
		}
	}
	c.typers = make(map[int64]*typer)
	c.order = nil
	c.mu.Unlock()
	if had {
		c.changed()
	}
}

// Wait blocks until every signal queued so far has been sent.
func (c *Coordinator) Wait() { c.pending.Wait() }

// Close cancels every timer and, if the peer was last told the local user is
// typing, tells it the user stopped. It returns once the queued signals have
// been sent.
func (c *Coordinator) Close() {
	c.localMu.Lock()
	if !c.closed {
		c.closed = true
		c.stopTimerLocked()
		if c.local.lastSent {
			c.signalLocked(false)
		}
		close(c.quit)
	}
	c.localMu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	for _, t := range c.typers {
		if t.expire != nil {
			t.expire.Stop()
		}
	}
	c.typers = make(map[int64]*typer)
	c.order = nil
	c.mu.Unlock()
}

// signalLocked records the decision and queues it for the sender.
func (c *Coordinator) signalLocked(typing bool) {
	c.local.lastSent = typing
	c.outMu.Lock()
	c.pending.Add(1)
	c.outbox = append(c.outbox, typing)
	c.outMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) sendLoop() {
	defer c.wg.Done()
	for {
		if typing, ok := c.next(); ok {
			c.send(typing)
			continue
		}
		select {
		case <-c.wake:
		case <-c.quit:
			for {
				typing, ok := c.next()
				if !ok {
					return
				}
				c.send(typing)
			}
		}
	}
}

func (c *Coordinator) next() (bool, bool) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if len(c.outbox) == 0 {
		return false, false
	}
	typing := c.outbox[0]
	c.outbox = c.outbox[1:]
	return typing, true
}

func (c *Coordinator) send(typing bool) {
	defer c.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.api.SendTyping(ctx, c.roomID, typing); err != nil {
		log.Debugf("typing: signal %v room=%d: %v", typing, c.roomID, err)
	}
}

func (c *Coordinator) stopTimerLocked() {
	if c.local.stopTimer != nil {
		c.local.stopTimer.Stop()
		c.local.stopTimer = nil
	}
}

func (c *Coordinator) removeLocked(id int64) {
	if t, ok := c.typers[id]; ok && t.expire != nil {
		t.expire.Stop()
	}
	delete(c.typers, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Coordinator) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}
