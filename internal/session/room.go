// Package session wires the realtime transport, conversation store, inbox,
// presence tracker and typing coordinator of one room view together. Each
// room runs a single event loop that applies decoded broadcast events in
// arrival order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/inbox"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/presence"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/typing"
)

var log = logging.MustGetLogger("session")

const eventQueueSize = 256

// Backend is the REST surface a room needs.
type Backend interface {
	chat.API
	presence.API
	typing.Signaler
	inbox.Lister
}

type Options struct {
	RoomID int64
	Me     int64
	// Token authorizes the realtime connection and channel subscriptions.
	Token   string
	Visible bool
	Clock   clock.Clock

	Presence presence.Options
	Typing   typing.Options
	Chat     chat.Options
}

// Room is one mounted room view.
type Room struct {
	id        int64
	me        int64
	owner     string
	transport *realtime.Transport

	store   *chat.Store
	inbox   *inbox.Aggregator
	tracker *presence.Tracker
	typing  *typing.Coordinator

	events    chan Event
	updates   chan struct{}
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	open       *chat.Key
	subscribed map[string]bool
}

// Open mounts a room: it connects the transport if needed, subscribes the
// room and user channels and starts presence. Realtime failures are logged
// and leave the room working on polling.
func Open(ctx context.Context, transport *realtime.Transport, backend Backend, opts Options) (*Room, error) {
	if opts.RoomID == 0 || opts.Me == 0 {
		return nil, errors.New("session: room and user ids are required")
	}
	if opts.Clock != nil {
		opts.Presence.Clock = opts.Clock
		opts.Typing.Clock = opts.Clock
		opts.Chat.Clock = opts.Clock
	}

	r := &Room{
		id:         opts.RoomID,
		me:         opts.Me,
		owner:      fmt.Sprintf("session.%d", opts.RoomID),
		transport:  transport,
		events:     make(chan Event, eventQueueSize),
		updates:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		subscribed: make(map[string]bool),
	}

	notify := func() { r.notify() }
	chatOpts := opts.Chat
	chatOpts.OnChange = func(chat.Key) { r.notify() }
	r.store = chat.NewStore(backend, opts.Me, chatOpts)
	r.inbox = inbox.NewAggregator(backend, opts.RoomID, opts.Me, inbox.Options{OnChange: notify})
	typingOpts := opts.Typing
	typingOpts.OnChange = notify
	r.typing = typing.NewCoordinator(backend, opts.RoomID, opts.Me, typingOpts)
	presenceOpts := opts.Presence
	presenceOpts.OnChange = notify
	presenceOpts.Deliver = func(members []presence.Member) { r.enqueue(PresenceSnapshot{Members: members}) }
	r.tracker = presence.NewTracker(backend, opts.RoomID, r.lookup, presenceOpts)

	go r.loop()

	transport.Connect(ctx, opts.Token)
	if err := r.subscribe(); err != nil {
		log.Warningf("session: room %d realtime unavailable, polling: %v", r.id, err)
	}
	r.tracker.Start(opts.Visible)
	if err := r.inbox.Reload(ctx); err != nil {
		log.Warningf("session: room %d: %v", r.id, err)
	}
	for _, s := range r.inbox.Summaries() {
		r.store.SeedUnread(chat.Key{RoomID: r.id, PeerID: s.Peer.ID}, s.UnreadCount)
	}
	return r, nil
}

func (r *Room) ID() int64 { return r.id }

func (r *Room) Me() int64 { return r.me }

// Updates signals that some view of the room changed. Signals are
// coalesced; readers re-query the views they render.
func (r *Room) Updates() <-chan struct{} { return r.updates }

func (r *Room) Messages(key chat.Key) []chat.Message { return r.store.Messages(key) }

func (r *Room) ConversationState(key chat.Key) chat.State { return r.store.State(key) }

func (r *Room) Unread(key chat.Key) int { return r.store.Unread(key) }

func (r *Room) Summaries() []inbox.Summary { return r.inbox.Summaries() }

func (r *Room) Online() []presence.Member { return r.tracker.Online() }

// Live reports whether presence is pushed in realtime (true) or polled.
func (r *Room) Live() bool { return r.tracker.Live() }

func (r *Room) Typers() []typing.User { return r.typing.Typers() }

// OpenConversation makes key the visible conversation, loads its history
// and marks it read.
func (r *Room) OpenConversation(ctx context.Context, key chat.Key) error {
	r.mu.Lock()
	k := key
	r.open = &k
	r.mu.Unlock()
	r.typing.Clear()

	if _, err := r.store.LoadHistory(ctx, key); err != nil {
		return err
	}
	r.MarkRead(key)
	return nil
}

// CloseConversation hides the open conversation and stops the local typing
// indicator.
func (r *Room) CloseConversation() {
	r.mu.Lock()
	r.open = nil
	r.mu.Unlock()
	r.typing.InputChanged("")
	r.typing.Clear()
}

// Send posts a text message optimistically and returns its local id.
func (r *Room) Send(key chat.Key, body string) string {
	id := r.store.SendOptimistic(chat.Draft{Key: key, Body: body, Type: chat.TypeText})
	r.typing.InputChanged("")
	return id
}

// SendAttachment posts a media message with an optional caption.
func (r *Room) SendAttachment(key chat.Key, typ chat.MessageType, caption string, upload chat.Upload) string {
	return r.store.SendOptimistic(chat.Draft{Key: key, Body: caption, Type: typ, Upload: &upload})
}

func (r *Room) Resend(localID string) error { return r.store.Resend(localID) }

func (r *Room) Edit(ctx context.Context, id, body string) error {
	return r.store.Edit(ctx, id, body)
}

func (r *Room) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *Room) MarkRead(key chat.Key) {
	r.store.MarkAllRead(key)
	if key.PeerID != 0 {
		r.inbox.ResetUnread(key.PeerID)
	}
}

// Type reports the composer's content for the typing indicator.
func (r *Room) Type(text string) { r.typing.InputChanged(text) }

func (r *Room) SetVisible(visible bool) { r.tracker.SetVisible(visible) }

// Close unmounts the room. Timers are stopped, the user is marked offline
// and this room's listeners are removed; channels used by other features
// stay open.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.tracker.Stop()
		r.transport.UnsubscribeAll(r.owner)
		close(r.done)
		<-r.loopDone
		r.typing.Close()
		r.inbox.Close()
		r.store.Close()
	})
}

// subscribe opens whichever of the room's channels it does not hold yet.
func (r *Room) subscribe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result *multierror.Error
	for _, name := range []string{realtime.RoomChannel(r.id), realtime.UserChannel(r.me)} {
		if r.subscribed[name] {
			continue
		}
		ch, err := r.transport.Subscribe(r.owner, name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("subscribe %s: %w", name, err))
			continue
		}
		r.subscribed[name] = true
		for event, decode := range decoders {
			ch.On(r.owner, event, r.handler(name, event, decode))
		}
	}
	return result.ErrorOrNil()
}

// lookup hands the room channel to the presence tracker. While the channel
// is missing, every lookup retries the subscriptions.
func (r *Room) lookup(name string) (presence.Channel, bool) {
	select {
	case <-r.done:
		return nil, false
	default:
	}
	if _, ok := r.transport.Channel(name); !ok {
		if err := r.subscribe(); err != nil {
			log.Debugf("session: room %d: %v", r.id, err)
		}
	}
	return presence.TransportLookup(r.transport)(name)
}

func (r *Room) handler(channel, event string, decode decoder) realtime.Handler {
	return func(data json.RawMessage) {
		ev, err := decode(data)
		if err != nil {
			log.Warningf("session: dropping %s on %s: %v", event, channel, err)
			return
		}
		r.enqueue(ev)
	}
}

func (r *Room) enqueue(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Room) loop() {
	defer close(r.loopDone)
	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case <-r.done:
			return
		}
	}
}

func (r *Room) apply(ev Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("session: room %d: applying %T panicked: %v", r.id, ev, p)
		}
	}()
	ev.apply(r)
}

func (r *Room) isOpen(key chat.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open != nil && *r.open == key
}

func (r *Room) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
