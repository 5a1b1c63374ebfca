// Package chat keeps the per-conversation message lists of a client and
// reconciles optimistic sends, REST responses and broadcast events into one
// ordered, deduplicated view.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownMessage = errors.New("chat: unknown message")
	ErrNotOwner       = errors.New("chat: message belongs to another user")
	ErrNotFailed      = errors.New("chat: message has not failed")
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeVoice    MessageType = "voice"
)

// Status tracks the delivery of a message sent from this client.
type Status int

const (
	StatusSent Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "sent"
	}
}

// Key scopes a conversation: a peer pair inside a room, or the room itself
// when PeerID is zero.
type Key struct {
	RoomID int64
	PeerID int64
}

type Attachment struct {
	URL  string
	Name string
}

type Message struct {
	ID          string
	Key         Key
	RoomID      int64
	SenderID    int64
	ReceiverID  int64
	Body        string
	Type        MessageType
	Attachment  *Attachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsEdited    bool
	IsRead      bool
	ClientToken string

	Status Status
	Err    error
}

// KeyFor derives the conversation a message belongs to from the point of
// view of user me.
func KeyFor(m Message, me int64) Key {
	if m.ReceiverID == 0 {
		return Key{RoomID: m.RoomID}
	}
	peer := m.ReceiverID
	if m.ReceiverID == me {
		peer = m.SenderID
	}
	return Key{RoomID: m.RoomID, PeerID: peer}
}

// Upload is a file sent along with a message.
type Upload struct {
	Name string
	Data []byte
}

// Draft is a message composed locally and not yet sent.
type Draft struct {
	Key    Key
	Body   string
	Type   MessageType
	Upload *Upload
}

// Edit replaces the body of a message.
type Edit struct {
	ID        string
	Body      string
	UpdatedAt time.Time
}

// ReadReceipt signals that ReaderID has read everything SenderID sent in the
// room up to ReadAt.
type ReadReceipt struct {
	RoomID   int64
	ReaderID int64
	SenderID int64
	ReadAt   time.Time
}

// HistoryPage is one page of history, newest message first.
type HistoryPage struct {
	Messages []Message
	HasMore  bool
}

// API is the REST surface the store depends on.
type API interface {
	History(ctx context.Context, key Key, page int) (HistoryPage, error)
	Send(ctx context.Context, d Draft, clientToken string) (Message, error)
	Edit(ctx context.Context, id, body string) (Message, error)
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, key Key) error
}

// State is the load state of a conversation.
type State struct {
	Loading bool
	Loaded  bool
	Err     error
}
