package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/api"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
)

func newServer(t *testing.T, h http.HandlerFunc) *api.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return api.New(srv.URL, api.StaticToken("secret"), srv.Client())
}

func TestHistoryNormalizesReadFlag(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/3/messages", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("peer_id"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"messages":[
			{"id":2,"room_id":3,"sender_id":7,"receiver_id":1,"message":"b","created_at":"2024-05-01T12:00:01Z","is_read":true},
			{"id":1,"room_id":3,"sender_id":7,"receiver_id":1,"message":"a","created_at":"2024-05-01T12:00:00Z"}
		],"has_more":true}`)
	})

	page, err := c.History(context.Background(), chat.Key{RoomID: 3, PeerID: 7}, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.True(t, page.Messages[0].IsRead)
	assert.False(t, page.Messages[1].IsRead)
	assert.Equal(t, "1", page.Messages[1].ID)
}

func TestSendJSONCarriesClientToken(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, "tok-1", body["client_token"])
		assert.EqualValues(t, 7, body["receiver_id"])
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":42,"room_id":3,"sender_id":1,"receiver_id":7,"message":"hello","type":"text","client_token":"tok-1","created_at":"2024-05-01T12:00:00Z"}`)
	})

	m, err := c.Send(context.Background(), chat.Draft{Key: chat.Key{RoomID: 3, PeerID: 7}, Body: "hello", Type: chat.TypeText}, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "tok-1", m.ClientToken)
}

func TestSendMultipart(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "image", r.FormValue("type"))
		assert.Equal(t, "tok-2", r.FormValue("client_token"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "cat.png", hdr.Filename)
		assert.Equal(t, []byte{1, 2, 3}, data)
		io.WriteString(w, `{"id":43,"room_id":3,"sender_id":1,"type":"image","attachment_url":"/api/uploads/x.png","attachment_name":"cat.png","created_at":"2024-05-01T12:00:00Z"}`)
	})

	m, err := c.Send(context.Background(), chat.Draft{
		Key:    chat.Key{RoomID: 3},
		Type:   chat.TypeImage,
		Upload: &chat.Upload{Name: "cat.png", Data: []byte{1, 2, 3}},
	}, "tok-2")
	require.NoError(t, err)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, "/api/uploads/x.png", m.Attachment.URL)
}

func TestStatusErrors(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"not your message"}`)
	})

	err := c.Delete(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrStatus)
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "not your message", se.Message)
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called.Store(true) }))
	defer srv.Close()
	c := api.New(srv.URL, api.StaticToken(""), srv.Client())

	err := c.Heartbeat(context.Background(), 1)
	assert.ErrorIs(t, err, api.ErrNoToken)
	assert.False(t, called.Load())
}

func TestPresenceAndTypingRoutes(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/rooms/4/online":
			io.WriteString(w, `{"members":[{"user_id":2,"name":"sara"}]}`)
		case r.URL.Path == "/api/rooms/4/typing":
			var body map[string]bool
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.True(t, body["is_typing"])
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	require.NoError(t, c.MarkOnline(ctx, 4))
	require.NoError(t, c.Heartbeat(ctx, 4))
	members, err := c.Online(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, c.SendTyping(ctx, 4, true))
	require.NoError(t, c.MarkOffline(ctx, 4))

	require.Len(t, members, 1)
	assert.Equal(t, "sara", members[0].Name)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"POST /api/rooms/4/online",
		"POST /api/rooms/4/heartbeat",
		"GET /api/rooms/4/online",
		"POST /api/rooms/4/typing",
		"DELETE /api/rooms/4/online",
	}, seen)
}

func TestConversations(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"conversations":[
			{"other_user":{"id":2,"name":"sara"},"last_message":{"id":5,"room_id":4,"sender_id":2,"receiver_id":1,"message":"hi","created_at":"2024-05-01T12:00:00Z"},"unread_count":3},
			{"other_user":{"id":3,"name":"omar"},"last_message":null,"unread_count":0}
		]}`)
	})

	list, err := c.Conversations(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sara", list[0].Peer.Name)
	assert.Equal(t, 3, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hi", list[0].LastMessage.Body)
	assert.Nil(t, list[1].LastMessage)
}

func TestFileToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	ft := api.FileToken{Path: path}

	tok, err := ft.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, ft.Save("abc"))
	tok, err = ft.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMe(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"id":5,"username":"sara","display_name":"Sara","is_active":true}`)
	})

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, me.ID)
	assert.Equal(t, "Sara", me.DisplayName)
}
