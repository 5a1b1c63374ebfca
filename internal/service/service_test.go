package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/store/sqlite"
)

type published struct {
	Channel string
	Event   string
	Data    map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(channel, event string, data any) {
	raw, _ := json.Marshal(data)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Channel: channel, Event: event, Data: m})
}

func (r *recorder) take() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fixture struct {
	bus      *recorder
	messages *service.MessageService
	convs    *service.ConversationService
	presence *service.PresenceService
	room     *domain.Room
	sara     *domain.User
	omar     *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	ctx := context.Background()
	users := sqlite.NewUserRepo(db)
	rooms := sqlite.NewRoomRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	bus := &recorder{}

	f := &fixture{
		bus:      bus,
		messages: service.NewMessageService(rooms, users, msgs, bus),
		convs:    service.NewConversationService(rooms, users, msgs),
		presence: service.NewPresenceService(rooms, users, sqlite.NewPresenceRepo(db), bus, 8*time.Minute),
		sara:     &domain.User{Username: "sara", DisplayName: "Sara", HashedPassword: "x", IsActive: true},
		omar:     &domain.User{Username: "omar", HashedPassword: "x", IsActive: true},
	}
	require.NoError(t, users.Create(ctx, f.sara))
	require.NoError(t, users.Create(ctx, f.omar))
	f.room = &domain.Room{Name: "general", CreatedBy: f.sara.ID}
	require.NoError(t, rooms.Create(ctx, f.room))
	return f
}

func (f *fixture) dm(t *testing.T, from, to *domain.User, body, token string) *domain.Message {
	t.Helper()
	m, _, err := f.messages.Send(context.Background(), service.SendInput{
		RoomID: f.room.ID, SenderID: from.ID, ReceiverID: &to.ID, Body: body, ClientToken: token,
	})
	require.NoError(t, err)
	return m
}

func channels(events []published) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Channel)
	}
	return out
}

func TestSendDirectMessageBroadcastsToBothUsers(t *testing.T) {
	f := newFixture(t)

	m := f.dm(t, f.sara, f.omar, "  hi  ", "tok-1")
	assert.Equal(t, "hi", *m.Body)
	assert.Equal(t, domain.MessageText, m.Type)

	events := f.bus.take()
	assert.Equal(t, []string{realtime.UserChannel(f.omar.ID), realtime.UserChannel(f.sara.ID)}, channels(events))
	assert.Equal(t, realtime.EventMessageSent, events[0].Event)
	assert.Equal(t, "tok-1", events[0].Data["client_token"])
	assert.EqualValues(t, f.omar.ID, events[0].Data["receiver_id"])
}

func TestSendIsIdempotentOnClientToken(t *testing.T) {
	f := newFixture(t)

	first := f.dm(t, f.sara, f.omar, "hi", "tok-1")
	f.bus.take()

	again, created, err := f.messages.Send(context.Background(), service.SendInput{
		RoomID: f.room.ID, SenderID: f.sara.ID, ReceiverID: &f.omar.ID, Body: "hi", ClientToken: "tok-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Empty(t, f.bus.take(), "retries are not broadcast twice")
}

func TestSendRoomMessageUsesRoomChannel(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.messages.Send(context.Background(), service.SendInput{RoomID: f.room.ID, SenderID: f.omar.ID, Body: "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{realtime.RoomChannel(f.room.ID)}, channels(f.bus.take()))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := make([]rune, service.MaxMessageRunes+1)
	for i := range long {
		long[i] = 'a'
	}

	cases := map[string]service.SendInput{
		"empty":         {RoomID: f.room.ID, SenderID: f.sara.ID, Body: "   "},
		"too long":      {RoomID: f.room.ID, SenderID: f.sara.ID, Body: string(long)},
		"bad type":      {RoomID: f.room.ID, SenderID: f.sara.ID, Body: "x", Type: "sticker"},
		"no attachment": {RoomID: f.room.ID, SenderID: f.sara.ID, Type: domain.MessageImage},
		"to self":       {RoomID: f.room.ID, SenderID: f.sara.ID, ReceiverID: &f.sara.ID, Body: "x"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.messages.Send(ctx, in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	_, _, err := f.messages.Send(ctx, service.SendInput{RoomID: f.room.ID + 1, SenderID: f.sara.ID, Body: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	img, _, err := f.messages.Send(ctx, service.SendInput{
		RoomID: f.room.ID, SenderID: f.sara.ID, Type: domain.MessageImage,
		AttachmentURL: "/api/uploads/a.png", AttachmentName: "a.png",
	})
	require.NoError(t, err)
	assert.Nil(t, img.Body, "captionless attachments have no body")
}

func TestEditAndDeleteAreOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.dm(t, f.sara, f.omar, "hi", "")
	f.bus.take()

	_, err := f.messages.Edit(ctx, f.omar.ID, m.ID, "hacked")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, f.messages.Delete(ctx, f.omar.ID, m.ID), domain.ErrForbidden)

	edited, err := f.messages.Edit(ctx, f.sara.ID, m.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	events := f.bus.take()
	require.Len(t, events, 2)
	assert.Equal(t, realtime.EventMessageEdited, events[0].Event)
	assert.Equal(t, "hello", events[0].Data["message"])

	require.NoError(t, f.messages.Delete(ctx, f.sara.ID, m.ID))
	events = f.bus.take()
	require.Len(t, events, 2)
	assert.Equal(t, realtime.EventMessageDeleted, events[0].Event)

	_, err = f.messages.Edit(ctx, f.sara.ID, m.ID, "again")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"1", "2", "3"} {
		f.dm(t, f.sara, f.omar, body, "")
	}

	page, more, err := f.messages.History(context.Background(), f.omar.ID, f.room.ID, f.sara.ID, 1, 2)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page, 2)
	assert.Equal(t, "3", *page[0].Body)

	page, more, err = f.messages.History(context.Background(), f.omar.ID, f.room.ID, f.sara.ID, 2, 2)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, page, 1)
	assert.Equal(t, "1", *page[0].Body)
}

func TestMarkReadAndConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dm(t, f.sara, f.omar, "a", "")
	f.dm(t, f.sara, f.omar, "b", "")
	f.bus.take()

	list, err := f.convs.List(ctx, f.omar.ID, f.room.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sara", list[0].Peer.Name)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "b", *list[0].LastMessage.Body)

	require.NoError(t, f.messages.MarkRead(ctx, f.omar.ID, f.room.ID, f.sara.ID))
	events := f.bus.take()
	assert.Equal(t, []string{realtime.UserChannel(f.sara.ID), realtime.UserChannel(f.omar.ID)}, channels(events))
	assert.Equal(t, realtime.EventMessagesRead, events[0].Event)
	assert.EqualValues(t, f.omar.ID, events[0].Data["reader_id"])
	assert.EqualValues(t, f.sara.ID, events[0].Data["sender_id"])

	require.NoError(t, f.messages.MarkRead(ctx, f.omar.ID, f.room.ID, f.sara.ID))
	assert.Empty(t, f.bus.take(), "nothing left to read")

	list, err = f.convs.List(ctx, f.omar.ID, f.room.ID)
	require.NoError(t, err)
	assert.Zero(t, list[0].UnreadCount)

	list, err = f.convs.List(ctx, f.sara.ID, f.room.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "omar", list[0].Peer.Name)
}

func TestPresenceLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.presence.MarkOnline(ctx, f.sara, f.room.ID))
	events := f.bus.take()
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventPresenceUpdated, events[0].Event)
	assert.Len(t, events[0].Data["members"], 1)

	require.NoError(t, f.presence.Heartbeat(ctx, f.sara, f.room.ID))
	assert.Empty(t, f.bus.take(), "heartbeats for known entries are silent")

	require.NoError(t, f.presence.Heartbeat(ctx, f.omar, f.room.ID))
	assert.Len(t, f.bus.take(), 1, "a heartbeat after expiry re-announces the user")

	members, err := f.presence.Online(ctx, f.room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, f.presence.MarkOffline(ctx, f.omar, f.room.ID))
	require.NoError(t, f.presence.MarkOffline(ctx, f.omar, f.room.ID))
	assert.Len(t, f.bus.take(), 1)

	require.NoError(t, f.presence.Typing(ctx, f.sara, f.room.ID, true))
	events = f.bus.take()
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventUserTyping, events[0].Event)
	assert.Equal(t, "Sara", events[0].Data["user_name"])
	assert.Equal(t, true, events[0].Data["is_typing"])

	_, err = f.presence.Online(ctx, f.room.ID+1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
