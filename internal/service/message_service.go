package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

const (
	MaxMessageRunes = 5000
	DefaultPerPage  = 50
	MaxPerPage      = 100
)

type MessageService struct {
	rooms    domain.RoomRepository
	users    domain.UserRepository
	messages domain.MessageRepository
	bus      Broadcaster
	now      func() time.Time
}

func NewMessageService(
	rooms domain.RoomRepository,
	users domain.UserRepository,
	messages domain.MessageRepository,
	bus Broadcaster,
) *MessageService {
	return &MessageService{
		rooms:    rooms,
		users:    users,
		messages: messages,
		bus:      bus,
		now:      time.Now,
	}
}

type SendInput struct {
	RoomID         int64
	SenderID       int64
	ReceiverID     *int64
	Body           string
	Type           domain.MessageType
	AttachmentURL  string
	AttachmentName string
	ClientToken    string
}

type editedEvent struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

type deletedEvent struct {
	ID int64 `json:"id"`
}

type readEvent struct {
	RoomID   int64     `json:"room_id"`
	ReaderID int64     `json:"reader_id"`
	SenderID int64     `json:"sender_id"`
	ReadAt   time.Time `json:"read_at"`
}

// Send stores a message and broadcasts message.sent. A repeated client token
// from the same sender returns the stored message without broadcasting
// again; created reports which case happened.
func (s *MessageService) Send(ctx context.Context, in SendInput) (msg *domain.Message, created bool, err error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, false, err
	}

	if in.ClientToken != "" {
		existing, err := s.messages.GetByClientToken(ctx, in.SenderID, in.ClientToken)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("check client token: %w", err)
		}
	}

	m := &domain.Message{
		RoomID:         in.RoomID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Type:           in.Type,
		AttachmentURL:  in.AttachmentURL,
		AttachmentName: in.AttachmentName,
		ClientToken:    in.ClientToken,
		CreatedAt:      s.now().UTC(),
	}
	if in.Body != "" {
		body := in.Body
		m.Body = &body
	}
	if err := s.messages.Create(ctx, m); err != nil {
		// A concurrent retry with the same token may have won the insert.
		if in.ClientToken != "" {
			if existing, lookupErr := s.messages.GetByClientToken(ctx, in.SenderID, in.ClientToken); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create message: %w", err)
	}

	publishAll(s.bus, channelsFor(m.RoomID, m.SenderID, m.ReceiverID), realtime.EventMessageSent, m)
	return m, true, nil
}

// ByClientToken returns the sender's message stored under token.
func (s *MessageService) ByClientToken(ctx context.Context, senderID int64, token string) (*domain.Message, error) {
	return s.messages.GetByClientToken(ctx, senderID, token)
}

func (s *MessageService) validate(ctx context.Context, in *SendInput) error {
	if _, err := s.rooms.GetByID(ctx, in.RoomID); err != nil {
		return err
	}
	if in.Type == "" {
		in.Type = domain.MessageText
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidInput, in.Type)
	}
	in.Body = strings.TrimSpace(in.Body)
	if utf8.RuneCountInString(in.Body) > MaxMessageRunes {
		return fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidInput, MaxMessageRunes)
	}
	if in.Type == domain.MessageText {
		if in.Body == "" {
			return fmt.Errorf("%w: message is empty", domain.ErrInvalidInput)
		}
		in.AttachmentURL, in.AttachmentName = "", ""
	} else if in.AttachmentURL == "" {
		return fmt.Errorf("%w: %s message needs an attachment", domain.ErrInvalidInput, in.Type)
	}
	if in.ReceiverID != nil {
		if *in.ReceiverID == in.SenderID {
			return fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidInput)
		}
		if _, err := s.users.GetByID(ctx, *in.ReceiverID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: unknown receiver", domain.ErrInvalidInput)
			}
			return err
		}
	}
	return nil
}

// Edit replaces the body of a text message owned by userID.
func (s *MessageService) Edit(ctx context.Context, userID, messageID int64, body string) (*domain.Message, error) {
	m, err := s.owned(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: message is empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxMessageRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidInput, MaxMessageRunes)
	}

	at := s.now().UTC()
	if err := s.messages.UpdateBody(ctx, m.ID, body, at); err != nil {
		return nil, err
	}
	m.Body = &body
	m.IsEdited = true
	m.UpdatedAt = &at

	publishAll(s.bus, channelsFor(m.RoomID, m.SenderID, m.ReceiverID), realtime.EventMessageEdited,
		editedEvent{ID: m.ID, Message: body, UpdatedAt: at})
	return m, nil
}

func (s *MessageService) Delete(ctx context.Context, userID, messageID int64) error {
	m, err := s.owned(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, m.ID); err != nil {
		return err
	}
	publishAll(s.bus, channelsFor(m.RoomID, m.SenderID, m.ReceiverID), realtime.EventMessageDeleted,
		deletedEvent{ID: m.ID})
	return nil
}

func (s *MessageService) owned(ctx context.Context, userID, messageID int64) (*domain.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, domain.ErrForbidden
	}
	return m, nil
}

// History returns one page of a conversation, newest first, and whether
// older pages exist. Pages are 1-based.
func (s *MessageService) History(ctx context.Context, userID, roomID, peerID int64, page, perPage int) ([]*domain.Message, bool, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, false, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	msgs, err := s.messages.List(ctx, domain.HistoryQuery{
		RoomID: roomID,
		UserID: userID,
		PeerID: peerID,
		Offset: (page - 1) * perPage,
		Limit:  perPage + 1,
	})
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) > perPage
	if hasMore {
		msgs = msgs[:perPage]
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, hasMore, nil
}

// MarkRead marks everything peerID sent to readerID in the room as read and
// broadcasts a receipt to both users when anything changed. Room messages
// carry no read state.
func (s *MessageService) MarkRead(ctx context.Context, readerID, roomID, peerID int64) error {
	if peerID == 0 {
		return nil
	}
	at := s.now().UTC()
	n, err := s.messages.MarkRead(ctx, roomID, peerID, readerID, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	log.Debugf("service: user %d read %d messages from %d in room %d", readerID, n, peerID, roomID)
	rr := readEvent{RoomID: roomID, ReaderID: readerID, SenderID: peerID, ReadAt: at}
	publishAll(s.bus, []string{realtime.UserChannel(peerID), realtime.UserChannel(readerID)}, realtime.EventMessagesRead, rr)
	return nil
}
