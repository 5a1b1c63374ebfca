package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/store/sqlite"
)

type countingBus struct{ channels []string }

func (b *countingBus) Publish(channel, event string, data any) {
	if event == realtime.EventPresenceUpdated {
		b.channels = append(b.channels, channel)
	}
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, sqlite.Migrate(db))
	ctx := context.Background()

	users := sqlite.NewUserRepo(db)
	rooms := sqlite.NewRoomRepo(db)
	u := &domain.User{Username: "sara", HashedPassword: "x", IsActive: true}
	require.NoError(t, users.Create(ctx, u))
	room := &domain.Room{Name: "general", CreatedBy: u.ID}
	require.NoError(t, rooms.Create(ctx, room))

	bus := &countingBus{}
	svc := NewPresenceService(rooms, users, sqlite.NewPresenceRepo(db), bus, 8*time.Minute)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.MarkOnline(ctx, u, room.ID))

	now = now.Add(7 * time.Minute)
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Minute)
	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := svc.Online(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Equal(t, []string{realtime.RoomChannel(room.ID), realtime.RoomChannel(room.ID)}, bus.channels)
}
