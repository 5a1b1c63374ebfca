package domain

import "time"

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	Avatar         string    `db:"avatar" json:"avatar,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Name is what other users see.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Room is a shared space. Room messages have no receiver; direct messages
// inside a room name one.
type Room struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedBy int64     `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageVoice    MessageType = "voice"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageDocument, MessageVoice:
		return true
	}
	return false
}

// Message is a single chat message. Body is nil for attachments sent
// without a caption.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	RoomID         int64       `db:"room_id" json:"room_id"`
	SenderID       int64       `db:"sender_id" json:"sender_id"`
	ReceiverID     *int64      `db:"receiver_id" json:"receiver_id"`
	Body           *string     `db:"body" json:"message"`
	Type           MessageType `db:"type" json:"type"`
	AttachmentURL  string      `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentName string      `db:"attachment_name" json:"attachment_name,omitempty"`
	ClientToken    string      `db:"client_token" json:"client_token,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time  `db:"updated_at" json:"updated_at,omitempty"`
	IsEdited       bool        `db:"is_edited" json:"is_edited"`
	IsRead         bool        `db:"is_read" json:"is_read"`
	ReadAt         *time.Time  `db:"read_at" json:"-"`
}

// PresenceEntry records that a user is viewing a room.
type PresenceEntry struct {
	RoomID          int64     `db:"room_id"`
	UserID          int64     `db:"user_id"`
	OnlineSince     time.Time `db:"online_since"`
	LastHeartbeatAt time.Time `db:"last_heartbeat_at"`
}

// OnlineMember is one entry of a room's presence snapshot.
type OnlineMember struct {
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type Peer struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// ConversationSummary describes one direct conversation of a user in a room.
type ConversationSummary struct {
	Peer        Peer     `json:"other_user"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int      `json:"unread_count"`
}
