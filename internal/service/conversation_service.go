package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
)

// ConversationService builds the direct-conversation list of a user in a
// room.
type ConversationService struct {
	rooms    domain.RoomRepository
	users    domain.UserRepository
	messages domain.MessageRepository
}

func NewConversationService(
	rooms domain.RoomRepository,
	users domain.UserRepository,
	messages domain.MessageRepository,
) *ConversationService {
	return &ConversationService{
		rooms:    rooms,
		users:    users,
		messages: messages,
	}
}

// List returns one summary per peer, most recent conversation first.
func (s *ConversationService) List(ctx context.Context, userID, roomID int64) ([]domain.ConversationSummary, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	peers, err := s.messages.ListPeers(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ConversationSummary, 0, len(peers))
	for _, peerID := range peers {
		peer, err := s.users.GetByID(ctx, peerID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get peer %d: %w", peerID, err)
		}
		last, err := s.messages.LastBetween(ctx, roomID, userID, peerID)
		if err != nil {
			return nil, fmt.Errorf("last message with %d: %w", peerID, err)
		}
		unread, err := s.messages.CountUnread(ctx, roomID, peerID, userID)
		if err != nil {
			return nil, fmt.Errorf("unread from %d: %w", peerID, err)
		}
		out = append(out, domain.ConversationSummary{
			Peer: domain.Peer{
				ID:       peer.ID,
				Name:     peer.Name(),
				Avatar:   peer.Avatar,
				LastSeen: peer.LastSeen,
			},
			LastMessage: last,
			UnreadCount: unread,
		})
	}
	return out, nil
}
