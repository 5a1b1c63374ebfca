package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
)

type RoomService struct {
	rooms domain.RoomRepository
}

func NewRoomService(rooms domain.RoomRepository) *RoomService {
	return &RoomService{rooms: rooms}
}

func (s *RoomService) Create(ctx context.Context, creatorID int64, name string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return nil, fmt.Errorf("%w: room name must be 1-100 characters", domain.ErrInvalidInput)
	}
	room := &domain.Room{Name: name, CreatedBy: creatorID}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) Get(ctx context.Context, id int64) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *RoomService) List(ctx context.Context) ([]*domain.Room, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []*domain.Room{}
	}
	return rooms, nil
}
