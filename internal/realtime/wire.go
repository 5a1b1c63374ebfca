package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged with the broadcast service.
const (
	FrameSubscribe             = "subscribe"
	FrameUnsubscribe           = "unsubscribe"
	FramePing                  = "ping"
	FramePong                  = "pong"
	FrameSubscriptionSucceeded = "subscription_succeeded"
	FrameSubscriptionError     = "subscription_error"
	FrameEvent                 = "event"
	FrameError                 = "error"
)

// Broadcast event names.
const (
	EventMessageSent     = "message.sent"
	EventMessageEdited   = "message.edited"
	EventMessageDeleted  = "message.deleted"
	EventMessagesRead    = "messages.read"
	EventUserTyping      = "user.typing"
	EventPresenceUpdated = "presence.updated"
)

// Frame is the single JSON envelope used in both directions on the
// broadcast connection.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Auth    string          `json:"auth,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// UserChannel is the private channel carrying direct-message events for a user.
func UserChannel(userID int64) string {
	return fmt.Sprintf("private-user.%d", userID)
}

// RoomChannel is the channel carrying room messages, typing and presence.
func RoomChannel(roomID int64) string {
	return fmt.Sprintf("room.%d", roomID)
}
