// Package realtime owns the long-lived connection to the broadcast service
// and multiplexes named, authorization-scoped channels over it.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
)

var log = logging.MustGetLogger("realtime")

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: transport closed")
)

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a broadcast connection authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WebsocketDialer dials the broadcast service with gorilla/websocket,
// passing the token as a Bearer Authorization header.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options tune a Transport. Zero values pick the defaults.
type Options struct {
	Clock clock.Clock
	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	DialTimeout      time.Duration
}

// Transport is an explicitly owned broadcast connection. Create one per
// process (or per test) and release it with Close.
type Transport struct {
	dialer      Dialer
	clock       clock.Clock
	dialTimeout time.Duration
	nextID      atomic.Uint64

	mu         sync.Mutex
	token      string
	conn       Conn
	connecting bool
	closed     bool
	channels   map[string]*Channel
	bo         *backoff.ExponentialBackOff
	retry      clock.Timer

	writeMu sync.Mutex
}

func NewTransport(dialer Dialer, opts Options) *Transport {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = 5 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 2 * time.Minute
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectInitial
	bo.MaxInterval = opts.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Transport{
		dialer:      dialer,
		clock:       opts.Clock,
		dialTimeout: opts.DialTimeout,
		channels:    make(map[string]*Channel),
		bo:          bo,
	}
}

// Connect opens the connection if needed. When already connected (or
// connecting) it only replaces the credential used to authorize subsequent
// subscriptions. Failures are logged; the transport stays usable.
func (t *Transport) Connect(ctx context.Context, token string) {
	if token == "" {
		log.Warning("realtime: no auth token available, staying disconnected")
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.token = token
	if t.conn != nil || t.connecting {
		t.mu.Unlock()
		return
	}
	t.connecting = true
	t.mu.Unlock()

	t.dial(ctx, token)
}

// IsConnected reports whether the connection is currently up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Subscribe returns the shared handle for name, creating and authorizing it
// when it does not exist yet. owner takes a hold on the channel until
// UnsubscribeAll(owner).
func (t *Transport) Subscribe(owner, name string) (*Channel, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if ch, ok := t.channels[name]; ok {
		ch.hold(owner)
		t.mu.Unlock()
		return ch, nil
	}
	if t.conn == nil {
		t.mu.Unlock()
		log.Warningf("realtime: %s cannot subscribe to %s while disconnected", owner, name)
		return nil, ErrNotConnected
	}
	ch := newChannel(name, &t.nextID)
	ch.hold(owner)
	t.channels[name] = ch
	conn, token := t.conn, t.token
	t.mu.Unlock()

	t.send(conn, Frame{Type: FrameSubscribe, Channel: name, Auth: token})
	return ch, nil
}

// Channel returns the open channel with the given name without creating it.
func (t *Transport) Channel(name string) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[name]
	return ch, ok
}

// UnsubscribeAll releases every hold and handler registered by owner.
// Channels still used by other owners stay open.
func (t *Transport) UnsubscribeAll(owner string) {
	t.mu.Lock()
	var unused []string
	for name, ch := range t.channels {
		if ch.release(owner) {
			ch.close()
			delete(t.channels, name)
			unused = append(unused, name)
		}
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return
	}
	for _, name := range unused {
		t.send(conn, Frame{Type: FrameUnsubscribe, Channel: name})
	}
}

// Close tears the transport down. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	conn := t.conn
	t.conn = nil
	for name, ch := range t.channels {
		ch.close()
		delete(t.channels, name)
	}
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) dial(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, err := t.dialer.Dial(ctx, token)

	t.mu.Lock()
	t.connecting = false
	if err != nil {
		log.Warningf("realtime: connect failed: %v", err)
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		return
	}
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.bo.Reset()
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	resubscribe := make([]string, 0, len(t.channels))
	for name, ch := range t.channels {
		ch.setState(StatePending)
		resubscribe = append(resubscribe, name)
	}
	token = t.token
	t.mu.Unlock()

	log.Infof("realtime: connected, %d channel(s) to authorize", len(resubscribe))
	for _, name := range resubscribe {
		t.send(conn, Frame{Type: FrameSubscribe, Channel: name, Auth: token})
	}
	go t.readLoop(conn)
}

func (t *Transport) readLoop(conn Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.dropped(conn, err)
			return
		}
		t.handleFrame(f)
	}
}

func (t *Transport) handleFrame(f Frame) {
	switch f.Type {
	case FrameEvent:
		if ch, ok := t.Channel(f.Channel); ok {
			ch.Dispatch(f.Event, f.Data)
		}
	case FrameSubscriptionSucceeded:
		if ch, ok := t.Channel(f.Channel); ok {
			ch.setState(StateSubscribed)
		}
	case FrameSubscriptionError:
		log.Warningf("realtime: subscription to %s refused: %s", f.Channel, f.Message)
		if ch, ok := t.Channel(f.Channel); ok {
			ch.setState(StateFailed)
		}
	case FramePong:
	case FrameError:
		log.Warningf("realtime: server error: %s", f.Message)
	default:
		log.Debugf("realtime: ignoring frame %q", f.Type)
	}
}

func (t *Transport) dropped(conn Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	for _, ch := range t.channels {
		ch.setState(StatePending)
	}
	if !t.closed {
		log.Warningf("realtime: connection lost: %v", err)
		t.scheduleReconnectLocked()
	}
	t.mu.Unlock()
	conn.Close()
}

func (t *Transport) scheduleReconnectLocked() {
	if t.closed || t.retry != nil {
		return
	}
	d := t.bo.NextBackOff()
	if d == backoff.Stop {
		return
	}
	log.Debugf("realtime: reconnecting in %s", d)
	var timer clock.Timer
	timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.retry != timer {
			t.mu.Unlock()
			return
		}
		t.retry = nil
		if t.closed || t.conn != nil || t.connecting || t.token == "" {
			t.mu.Unlock()
			return
		}
		t.connecting = true
		token := t.token
		t.mu.Unlock()
		t.dial(context.Background(), token)
	})
	t.retry = timer
}

func (t *Transport) send(conn Conn, f Frame) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		log.Warningf("realtime: write %s %s: %v", f.Type, f.Channel, err)
	}
}
