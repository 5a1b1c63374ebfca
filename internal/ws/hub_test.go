package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/ws"
)

type roomRepo struct{ rooms map[int64]*domain.Room }

func (r roomRepo) Create(context.Context, *domain.Room) error { return nil }

func (r roomRepo) GetByID(_ context.Context, id int64) (*domain.Room, error) {
	if room, ok := r.rooms[id]; ok {
		return room, nil
	}
	return nil, domain.ErrNotFound
}

func (r roomRepo) List(context.Context) ([]*domain.Room, error) { return nil, nil }

type tokenAuth map[string]*domain.User

func (a tokenAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if u, ok := a[token]; ok {
		return u, nil
	}
	return nil, domain.ErrUnauthorized
}

var (
	sara = &domain.User{ID: 1, Username: "sara", IsActive: true}
	omar = &domain.User{ID: 2, Username: "omar", IsActive: true}
)

func newServer(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(roomRepo{rooms: map[int64]*domain.Room{7: {ID: 7, Name: "general"}}})
	auth := tokenAuth{"sara-token": sara, "omar-token": omar}
	srv := httptest.NewServer(ws.MakeHandler(hub, auth, []string{"https://app.example"}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { hub.Close() })
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, f realtime.Frame) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got realtime.Frame
	require.NoError(t, conn.ReadJSON(&got))
	return got
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	_, url := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer nope")
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsForeignOrigin(t *testing.T) {
	_, url := newServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer sara-token")
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubscribeAuthorization(t *testing.T) {
	_, url := newServer(t)
	conn := dial(t, url, "sara-token")

	got := roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.UserChannel(sara.ID), Auth: "sara-token"})
	assert.Equal(t, realtime.FrameSubscriptionSucceeded, got.Type)
	assert.Equal(t, "private-user.1", got.Channel)

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.UserChannel(omar.ID)})
	assert.Equal(t, realtime.FrameSubscriptionError, got.Type)

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.UserChannel(sara.ID), Auth: "omar-token"})
	assert.Equal(t, realtime.FrameSubscriptionError, got.Type, "token of another user")

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.RoomChannel(7)})
	assert.Equal(t, realtime.FrameSubscriptionSucceeded, got.Type)

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.RoomChannel(8)})
	assert.Equal(t, realtime.FrameSubscriptionError, got.Type)

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: "presence-everything"})
	assert.Equal(t, realtime.FrameSubscriptionError, got.Type)

	got = roundTrip(t, conn, realtime.Frame{Type: realtime.FramePing})
	assert.Equal(t, realtime.FramePong, got.Type)

	got = roundTrip(t, conn, realtime.Frame{Type: "shout"})
	assert.Equal(t, realtime.FrameError, got.Type)
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	hub, url := newServer(t)
	saraConn := dial(t, url, "sara-token")
	omarConn := dial(t, url, "omar-token")

	room := realtime.RoomChannel(7)
	require.Equal(t, realtime.FrameSubscriptionSucceeded,
		roundTrip(t, saraConn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: room}).Type)
	require.Equal(t, realtime.FrameSubscriptionSucceeded,
		roundTrip(t, omarConn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: realtime.UserChannel(omar.ID)}).Type)
	assert.Equal(t, 1, hub.Subscribers(room))

	hub.Publish(realtime.UserChannel(omar.ID), realtime.EventMessageSent, map[string]any{"id": 42})
	hub.Publish(room, realtime.EventUserTyping, map[string]any{"user_id": 2, "is_typing": true})

	got := read(t, omarConn)
	assert.Equal(t, realtime.FrameEvent, got.Type)
	assert.Equal(t, realtime.EventMessageSent, got.Event)
	var body struct{ ID int64 }
	require.NoError(t, json.Unmarshal(got.Data, &body))
	assert.EqualValues(t, 42, body.ID)

	got = read(t, saraConn)
	assert.Equal(t, realtime.EventUserTyping, got.Event)
	assert.Equal(t, room, got.Channel)

	require.NoError(t, saraConn.WriteJSON(realtime.Frame{Type: realtime.FrameUnsubscribe, Channel: room}))
	got = roundTrip(t, saraConn, realtime.Frame{Type: realtime.FramePing})
	require.Equal(t, realtime.FramePong, got.Type)
	assert.Zero(t, hub.Subscribers(room))
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	hub, url := newServer(t)
	conn := dial(t, url, "sara-token")

	room := realtime.RoomChannel(7)
	require.Equal(t, realtime.FrameSubscriptionSucceeded,
		roundTrip(t, conn, realtime.Frame{Type: realtime.FrameSubscribe, Channel: room}).Type)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.Subscribers(room) == 0 }, 2*time.Second, 10*time.Millisecond)
}
