package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
}

// RoomRepository defines persistence operations for rooms.
type RoomRepository interface {
	Create(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, id int64) (*Room, error)
	List(ctx context.Context) ([]*Room, error)
}

// HistoryQuery selects one page of a conversation. A zero PeerID selects
// the room's shared messages; otherwise the direct messages between UserID
// and PeerID.
type HistoryQuery struct {
	RoomID int64
	UserID int64
	PeerID int64
	Offset int
	Limit  int
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	GetByClientToken(ctx context.Context, senderID int64, token string) (*Message, error)
	UpdateBody(ctx context.Context, id int64, body string, at time.Time) error
	Delete(ctx context.Context, id int64) error
	// List returns the page newest first.
	List(ctx context.Context, q HistoryQuery) ([]*Message, error)
	// MarkRead marks every unread message from senderID to readerID in the
	// room as read and returns how many changed.
	MarkRead(ctx context.Context, roomID, senderID, readerID int64, at time.Time) (int64, error)
	ListPeers(ctx context.Context, roomID, userID int64) ([]int64, error)
	LastBetween(ctx context.Context, roomID, a, b int64) (*Message, error)
	CountUnread(ctx context.Context, roomID, senderID, readerID int64) (int, error)
}

// PresenceRepository tracks who is viewing which room.
type PresenceRepository interface {
	// Upsert records a heartbeat and reports whether the entry is new.
	Upsert(ctx context.Context, roomID, userID int64, at time.Time) (bool, error)
	// Remove reports whether an entry existed.
	Remove(ctx context.Context, roomID, userID int64) (bool, error)
	ListOnline(ctx context.Context, roomID int64) ([]OnlineMember, error)
	// Expire drops entries whose last heartbeat is before cutoff and returns
	// the affected rooms.
	Expire(ctx context.Context, cutoff time.Time) ([]int64, error)
}
