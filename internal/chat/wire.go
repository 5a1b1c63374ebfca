package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// WireMessage is the JSON form of a message in REST responses and
// message.sent events. Nullable fields are pointers so that a missing field
// can be told apart from a zero value.
type WireMessage struct {
	ID             int64      `json:"id"`
	RoomID         int64      `json:"room_id"`
	SenderID       int64      `json:"sender_id"`
	ReceiverID     *int64     `json:"receiver_id"`
	Message        *string    `json:"message"`
	Type           string     `json:"type"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentName string     `json:"attachment_name,omitempty"`
	ClientToken    string     `json:"client_token,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	IsRead         *bool      `json:"is_read"`
}

// ToMessage converts the wire form, normalizing a missing is_read to false.
func (w WireMessage) ToMessage() Message {
	m := Message{
		ID:          strconv.FormatInt(w.ID, 10),
		RoomID:      w.RoomID,
		SenderID:    w.SenderID,
		Type:        MessageType(w.Type),
		CreatedAt:   w.CreatedAt,
		IsEdited:    w.IsEdited,
		IsRead:      w.IsRead != nil && *w.IsRead,
		ClientToken: w.ClientToken,
	}
	if w.ReceiverID != nil {
		m.ReceiverID = *w.ReceiverID
	}
	if w.Message != nil {
		m.Body = *w.Message
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	if w.UpdatedAt != nil {
		m.UpdatedAt = *w.UpdatedAt
	}
	if w.AttachmentURL != "" {
		m.Attachment = &Attachment{URL: w.AttachmentURL, Name: w.AttachmentName}
	}
	return m
}

// DecodeMessage parses a message.sent payload.
func DecodeMessage(data json.RawMessage) (Message, error) {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if w.ID == 0 || w.SenderID == 0 || w.CreatedAt.IsZero() {
		return Message{}, errors.New("decode message: missing id, sender_id or created_at")
	}
	return w.ToMessage(), nil
}

// DecodeEdit parses a message.edited payload.
func DecodeEdit(data json.RawMessage) (Edit, error) {
	var raw struct {
		ID        int64     `json:"id"`
		Message   *string   `json:"message"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Edit{}, fmt.Errorf("decode edit: %w", err)
	}
	if raw.ID == 0 || raw.Message == nil {
		return Edit{}, errors.New("decode edit: missing id or message")
	}
	return Edit{ID: strconv.FormatInt(raw.ID, 10), Body: *raw.Message, UpdatedAt: raw.UpdatedAt}, nil
}

// DecodeDeleted parses a message.deleted payload and returns the id.
func DecodeDeleted(data json.RawMessage) (string, error) {
	var raw struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("decode delete: %w", err)
	}
	if raw.ID == 0 {
		return "", errors.New("decode delete: missing id")
	}
	return strconv.FormatInt(raw.ID, 10), nil
}

// DecodeReadReceipt parses a messages.read payload.
func DecodeReadReceipt(data json.RawMessage) (ReadReceipt, error) {
	var raw struct {
		RoomID   int64     `json:"room_id"`
		ReaderID int64     `json:"reader_id"`
		SenderID int64     `json:"sender_id"`
		ReadAt   time.Time `json:"read_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ReadReceipt{}, fmt.Errorf("decode read receipt: %w", err)
	}
	if raw.RoomID == 0 || raw.ReaderID == 0 || raw.SenderID == 0 {
		return ReadReceipt{}, errors.New("decode read receipt: missing room_id, reader_id or sender_id")
	}
	return ReadReceipt{RoomID: raw.RoomID, ReaderID: raw.ReaderID, SenderID: raw.SenderID, ReadAt: raw.ReadAt}, nil
}
