package service

import (
	"context"
	"time"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

// PresenceService tracks who is viewing each room and relays typing
// indicators. Entries without a heartbeat for longer than the timeout are
// dropped by Sweep.
type PresenceService struct {
	rooms    domain.RoomRepository
	users    domain.UserRepository
	presence domain.PresenceRepository
	bus      Broadcaster
	timeout  time.Duration
	now      func() time.Time
}

func NewPresenceService(
	rooms domain.RoomRepository,
	users domain.UserRepository,
	presence domain.PresenceRepository,
	bus Broadcaster,
	timeout time.Duration,
) *PresenceService {
	return &PresenceService{
		rooms:    rooms,
		users:    users,
		presence: presence,
		bus:      bus,
		timeout:  timeout,
		now:      time.Now,
	}
}

type snapshotEvent struct {
	RoomID  int64                 `json:"room_id"`
	Members []domain.OnlineMember `json:"members"`
}

type typingEvent struct {
	RoomID   int64  `json:"room_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

func (s *PresenceService) MarkOnline(ctx context.Context, user *domain.User, roomID int64) error {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}
	at := s.now().UTC()
	if _, err := s.presence.Upsert(ctx, roomID, user.ID, at); err != nil {
		return err
	}
	s.touch(ctx, user.ID, at)
	s.publishSnapshot(ctx, roomID)
	return nil
}

// Heartbeat refreshes the entry. A heartbeat after the entry expired puts
// the user back online and broadcasts a snapshot.
func (s *PresenceService) Heartbeat(ctx context.Context, user *domain.User, roomID int64) error {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}
	at := s.now().UTC()
	created, err := s.presence.Upsert(ctx, roomID, user.ID, at)
	if err != nil {
		return err
	}
	s.touch(ctx, user.ID, at)
	if created {
		s.publishSnapshot(ctx, roomID)
	}
	return nil
}

func (s *PresenceService) MarkOffline(ctx context.Context, user *domain.User, roomID int64) error {
	removed, err := s.presence.Remove(ctx, roomID, user.ID)
	if err != nil {
		return err
	}
	s.touch(ctx, user.ID, s.now().UTC())
	if removed {
		s.publishSnapshot(ctx, roomID)
	}
	return nil
}

func (s *PresenceService) Online(ctx context.Context, roomID int64) ([]domain.OnlineMember, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.presence.ListOnline(ctx, roomID)
}

// Typing relays a typing indicator to the room channel.
func (s *PresenceService) Typing(ctx context.Context, user *domain.User, roomID int64, isTyping bool) error {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}
	s.bus.Publish(realtime.RoomChannel(roomID), realtime.EventUserTyping, typingEvent{
		RoomID:   roomID,
		UserID:   user.ID,
		UserName: user.Name(),
		IsTyping: isTyping,
	})
	return nil
}

// Sweep drops stale entries and broadcasts a snapshot for every room that
// changed. It returns the number of rooms affected.
func (s *PresenceService) Sweep(ctx context.Context) (int, error) {
	rooms, err := s.presence.Expire(ctx, s.now().UTC().Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	for _, roomID := range rooms {
		s.publishSnapshot(ctx, roomID)
	}
	return len(rooms), nil
}

func (s *PresenceService) touch(ctx context.Context, userID int64, at time.Time) {
	if err := s.users.TouchLastSeen(ctx, userID, at); err != nil {
		log.Warningf("service: touch last seen for %d: %v", userID, err)
	}
}

func (s *PresenceService) publishSnapshot(ctx context.Context, roomID int64) {
	members, err := s.presence.ListOnline(ctx, roomID)
	if err != nil {
		log.Errorf("service: presence snapshot for room %d: %v", roomID, err)
		return
	}
	s.bus.Publish(realtime.RoomChannel(roomID), realtime.EventPresenceUpdated, snapshotEvent{RoomID: roomID, Members: members})
}
