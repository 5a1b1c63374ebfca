// Package ws is the server side of the broadcast service: authenticated
// websocket connections subscribe to named channels and receive the events
// published on them.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

var log = logging.MustGetLogger("ws")

const writeWait = 10 * time.Second

var ErrChannelForbidden = errors.New("channel not allowed")

// Conn is the subset of *websocket.Conn a client needs.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one authenticated connection.
type Client struct {
	hub  *Hub
	user *domain.User
	conn Conn

	writeMu sync.Mutex

	// guarded by hub.mu
	channels map[string]struct{}
}

func (c *Client) User() *domain.User { return c.user }

func (c *Client) send(f realtime.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Hub tracks clients and their channel subscriptions.
type Hub struct {
	rooms domain.RoomRepository

	mu      sync.RWMutex
	clients map[*Client]struct{}
	subs    map[string]map[*Client]struct{}
}

func NewHub(rooms domain.RoomRepository) *Hub {
	return &Hub{
		rooms:   rooms,
		clients: make(map[*Client]struct{}),
		subs:    make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(user *domain.User, conn Conn) *Client {
	c := &Client{hub: h, user: user, conn: conn, channels: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unregister removes the client and all of its subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for name := range c.channels {
		h.removeLocked(name, c)
	}
	c.channels = nil
}

// Authorize decides whether user may listen on channel: a private user
// channel only by its owner, a room channel by anyone while the room exists.
func (h *Hub) Authorize(ctx context.Context, user *domain.User, channel string) error {
	if rest, ok := strings.CutPrefix(channel, "private-user."); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id != user.ID {
			return ErrChannelForbidden
		}
		return nil
	}
	if rest, ok := strings.CutPrefix(channel, "room."); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return ErrChannelForbidden
		}
		if _, err := h.rooms.GetByID(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrChannelForbidden
			}
			return err
		}
		return nil
	}
	return ErrChannelForbidden
}

// Subscribe authorizes and adds the subscription. Subscribing twice is a
// no-op.
func (h *Hub) Subscribe(ctx context.Context, c *Client, channel string) error {
	if err := h.Authorize(ctx, c.user, channel); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return fmt.Errorf("client for user %d is gone", c.user.ID)
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Client]struct{})
	}
	h.subs[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.channels != nil {
		delete(c.channels, channel)
	}
	h.removeLocked(channel, c)
}

func (h *Hub) removeLocked(channel string, c *Client) {
	if set, ok := h.subs[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, channel)
		}
	}
}

// Subscribers reports how many connections listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Publish sends the event to every subscriber of channel. Connections that
// fail are closed; their read loop unregisters them.
func (h *Hub) Publish(channel, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Errorf("ws: encode %s for %s: %v", event, channel, err)
		return
	}
	f := realtime.Frame{Type: realtime.FrameEvent, Channel: channel, Event: event, Data: raw}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subs[channel]))
	for c := range h.subs[channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(f); err != nil {
			log.Debugf("ws: dropping user %d: %v", c.user.ID, err)
			c.conn.Close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var result *multierror.Error
	for _, c := range clients {
		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close user %d: %w", c.user.ID, err))
		}
	}
	return result.ErrorOrNil()
}
