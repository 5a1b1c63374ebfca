// Package presence tracks who is online in a room. Membership is driven by
// markOnline, heartbeats and markOffline on the server; the tracker keeps the
// local view fresh from pushed snapshots with polling as a fallback.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

var log = logging.MustGetLogger("presence")

const (
	DefaultHeartbeat    = 2 * time.Minute
	DefaultGrace        = 3 * time.Minute
	DefaultPollFast     = 30 * time.Second
	DefaultPollSlow     = 60 * time.Second
	DefaultChannelRetry = 5 * time.Second

	offlineTimeout = 10 * time.Second
)

type Member struct {
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Snapshot is the payload of a presence.updated event.
type Snapshot struct {
	RoomID  int64    `json:"room_id"`
	Members []Member `json:"members"`
}

// DecodeSnapshot parses a presence.updated payload. A payload without a
// member list is rejected rather than read as "nobody online".
func DecodeSnapshot(data json.RawMessage) (Snapshot, error) {
	var raw struct {
		RoomID  int64     `json:"room_id"`
		Members *[]Member `json:"members"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("decode presence snapshot: %w", err)
	}
	if raw.Members == nil {
		return Snapshot{}, errors.New("decode presence snapshot: missing members")
	}
	return Snapshot{RoomID: raw.RoomID, Members: *raw.Members}, nil
}

// API is the REST surface used by the tracker.
type API interface {
	MarkOnline(ctx context.Context, roomID int64) error
	MarkOffline(ctx context.Context, roomID int64) error
	Heartbeat(ctx context.Context, roomID int64) error
	Online(ctx context.Context, roomID int64) ([]Member, error)
}

// Channel is the part of a realtime channel the tracker listens on.
type Channel interface {
	On(owner, event string, fn realtime.Handler) realtime.ListenerID
	Off(id realtime.ListenerID) bool
	State() realtime.State
}

// Lookup finds an already-open channel by name without creating it.
type Lookup func(name string) (Channel, bool)

// TransportLookup adapts a transport to a Lookup.
func TransportLookup(t *realtime.Transport) Lookup {
	return func(name string) (Channel, bool) {
		ch, ok := t.Channel(name)
		if !ok {
			return nil, false
		}
		return ch, true
	}
}

type State int

const (
	StateIdle State = iota
	StateActive
	StateHidden
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateHidden:
		return "hidden"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

type Options struct {
	Clock        clock.Clock
	Heartbeat    time.Duration
	Grace        time.Duration
	PollFast     time.Duration
	PollSlow     time.Duration
	ChannelRetry time.Duration
	// Deliver receives decoded snapshots from the channel. When nil they are
	// applied directly with ApplySnapshot.
	Deliver func(members []Member)
	// OnChange is called whenever the member set or live status may have
	// changed.
	OnChange func()
}

// Tracker runs the presence lifecycle of one room for the local user.
type Tracker struct {
	api     API
	roomID  int64
	channel string
	owner   string
	lookup  Lookup
	clock   clock.Clock
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes transitions and the network calls they make.
	opMu      sync.Mutex
	state     State
	closed    bool
	heartbeat clock.Timer
	grace     clock.Timer
	poll      clock.Timer
	retry     clock.Timer
	listener  realtime.ListenerID

	mu       sync.Mutex
	ch       Channel
	members  []Member
	lastPush time.Time
	// pushes counts applied snapshots; a fetch that saw a different count
	// when it started is stale.
	pushes uint64
}

func NewTracker(api API, roomID int64, lookup Lookup, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.PollFast <= 0 {
		opts.PollFast = DefaultPollFast
	}
	if opts.PollSlow <= 0 {
		opts.PollSlow = DefaultPollSlow
	}
	if opts.ChannelRetry <= 0 {
		opts.ChannelRetry = DefaultChannelRetry
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		api:     api,
		roomID:  roomID,
		channel: realtime.RoomChannel(roomID),
		owner:   fmt.Sprintf("presence.%d", roomID),
		lookup:  lookup,
		clock:   opts.Clock,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start mounts the tracker. A visible page goes straight to Active; a hidden
// one waits in Hidden with the grace timer running.
func (t *Tracker) Start(visible bool) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.closed || t.state != StateIdle {
		return
	}
	t.acquireLocked()
	t.schedulePollLocked()
	if visible {
		t.enterActiveLocked()
		return
	}
	t.enterHiddenLocked()
}

// SetVisible feeds page visibility changes into the state machine.
func (t *Tracker) SetVisible(visible bool) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.closed {
		return
	}
	switch {
	case visible && (t.state == StateHidden || t.state == StateStopped):
		t.enterActiveLocked()
	case !visible && t.state == StateActive:
		t.enterHiddenLocked()
	}
}

// Stop unmounts the tracker: every timer is cancelled and the user is marked
// offline unless the grace timer already did so. Nothing fires afterwards.
func (t *Tracker) Stop() {
	t.cancel()

	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, slot := range []*clock.Timer{&t.heartbeat, &t.grace, &t.poll, &t.retry} {
		if *slot != nil {
			(*slot).Stop()
			*slot = nil
		}
	}
	t.mu.Lock()
	ch := t.ch
	t.ch = nil
	t.mu.Unlock()
	if ch != nil {
		ch.Off(t.listener)
	}
	prev := t.state
	t.state = StateStopped
	if prev == StateIdle || prev == StateStopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()
	if err := t.api.MarkOffline(ctx, t.roomID); err != nil {
		log.Warningf("presence: mark offline room=%d: %v", t.roomID, err)
	}
}

func (t *Tracker) State() State {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return t.state
}

// Online returns the current member set.
func (t *Tracker) Online() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Member(nil), t.members...)
}

// Live reports whether presence is pushed over a confirmed realtime channel
// rather than only polled.
func (t *Tracker) Live() bool {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	return ch != nil && ch.State() == realtime.StateSubscribed
}

// ApplySnapshot replaces the member set wholesale with a pushed snapshot.
func (t *Tracker) ApplySnapshot(members []Member) {
	t.mu.Lock()
	t.pushes++
	t.lastPush = t.clock.Now()
	t.mu.Unlock()
	t.replace(members, nil)
}

// Refresh refetches the online set over REST. The result is dropped when a
// pushed snapshot was applied while the request was in flight.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	since := t.pushes
	t.mu.Unlock()

	members, err := t.api.Online(ctx, t.roomID)
	if err != nil {
		return fmt.Errorf("fetch online members: %w", err)
	}
	if !t.replace(members, &since) {
		log.Debugf("presence: room=%d: fetch overtaken by a pushed snapshot", t.roomID)
	}
	return nil
}

// replace installs a new member set. A fetched set carries the push count
// seen when its request started and is only installed if no push landed
// since.
func (t *Tracker) replace(members []Member, since *uint64) bool {
	t.mu.Lock()
	if since != nil && *since != t.pushes {
		t.mu.Unlock()
		return false
	}
	t.members = append([]Member(nil), members...)
	t.mu.Unlock()
	t.changed()
	return true
}

func (t *Tracker) enterActiveLocked() {
	t.stopLocked(&t.grace)
	t.state = StateActive
	if err := t.api.MarkOnline(t.ctx, t.roomID); err != nil {
		log.Warningf("presence: mark online room=%d: %v", t.roomID, err)
	}
	t.beatLocked()
	if err := t.Refresh(t.ctx); err != nil {
		log.Warningf("presence: room=%d: %v", t.roomID, err)
	}
	t.scheduleHeartbeatLocked()
}

func (t *Tracker) enterHiddenLocked() {
	t.stopLocked(&t.heartbeat)
	t.state = StateHidden
	t.scheduleLocked(&t.grace, t.opts.Grace, func() {
		if t.state != StateHidden {
			return
		}
		t.state = StateStopped
		if err := t.api.MarkOffline(t.ctx, t.roomID); err != nil {
			log.Warningf("presence: mark offline room=%d: %v", t.roomID, err)
		}
		t.changed()
	})
	t.changed()
}

func (t *Tracker) scheduleHeartbeatLocked() {
	t.scheduleLocked(&t.heartbeat, t.opts.Heartbeat, func() {
		if t.state != StateActive {
			return
		}
		t.beatLocked()
		t.scheduleHeartbeatLocked()
	})
}

func (t *Tracker) beatLocked() {
	if err := t.api.Heartbeat(t.ctx, t.roomID); err != nil {
		log.Debugf("presence: heartbeat room=%d: %v", t.roomID, err)
	}
}

func (t *Tracker) schedulePollLocked() {
	interval := t.opts.PollFast
	if t.Live() {
		interval = t.opts.PollSlow
	}
	t.scheduleLocked(&t.poll, interval, func() {
		t.mu.Lock()
		recent := !t.lastPush.IsZero() && t.clock.Now().Sub(t.lastPush) < t.opts.PollSlow
		t.mu.Unlock()
		if !(t.Live() && recent) {
			if err := t.Refresh(t.ctx); err != nil {
				log.Debugf("presence: poll room=%d: %v", t.roomID, err)
			}
		}
		t.schedulePollLocked()
	})
}

// acquireLocked attaches to the room channel, retrying until it has been
// opened by another feature.
func (t *Tracker) acquireLocked() {
	if t.lookup != nil {
		if ch, ok := t.lookup(t.channel); ok {
			if id := ch.On(t.owner, realtime.EventPresenceUpdated, t.onSnapshot); id != 0 {
				t.listener = id
				t.mu.Lock()
				t.ch = ch
				t.mu.Unlock()
				log.Debugf("presence: listening on %s", t.channel)
				t.changed()
				return
			}
		}
	}
	t.scheduleLocked(&t.retry, t.opts.ChannelRetry, t.acquireLocked)
}

func (t *Tracker) onSnapshot(data json.RawMessage) {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		log.Warningf("presence: dropping event on %s: %v", t.channel, err)
		return
	}
	if t.opts.Deliver != nil {
		t.opts.Deliver(snap.Members)
		return
	}
	t.ApplySnapshot(snap.Members)
}

// scheduleLocked replaces the timer in slot. The callback runs under opMu
// and only if it is still the timer in slot.
func (t *Tracker) scheduleLocked(slot *clock.Timer, d time.Duration, fn func()) {
	t.stopLocked(slot)
	var tm clock.Timer
	tm = t.clock.AfterFunc(d, func() {
		t.opMu.Lock()
		defer t.opMu.Unlock()
		if t.closed || *slot != tm {
			return
		}
		*slot = nil
		fn()
	})
	*slot = tm
}

func (t *Tracker) stopLocked(slot *clock.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (t *Tracker) changed() {
	if t.opts.OnChange != nil {
		t.opts.OnChange()
	}
}
