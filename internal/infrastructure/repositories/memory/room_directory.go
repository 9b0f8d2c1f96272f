package memory

import (
	"context"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
)

type MemoryRoomDirectory struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomDirectory() ports.RoomDirectory {
	return &MemoryRoomDirectory{
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (d *MemoryRoomDirectory) Create(ctx context.Context, room *domain.Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.rooms[room.ID]; exists {
		return domain.ErrDuplicateRoomID
	}
	d.rooms[room.ID] = room.Clone()
	return nil
}

func (d *MemoryRoomDirectory) Get(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, exists := d.rooms[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (d *MemoryRoomDirectory) AddParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	if room.HasParticipant(userID) {
		return nil, domain.ErrAlreadyInRoom
	}
	if room.IsFull() {
		return nil, domain.ErrRoomFull
	}

	// Insertion order is join order.
	room.Participants = append(room.Participants, userID)
	return room.Clone(), nil
}

func (d *MemoryRoomDirectory) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	for i, p := range room.Participants {
		if p == userID {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			break
		}
	}
	return room.Clone(), nil
}

func (d *MemoryRoomDirectory) Delete(ctx context.Context, roomID domain.RoomID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.rooms[roomID]; !exists {
		return domain.ErrRoomNotFound
	}
	delete(d.rooms, roomID)
	return nil
}

func (d *MemoryRoomDirectory) ListPublic(ctx context.Context) ([]*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(d.rooms))
	for _, room := range d.rooms {
		if !room.IsPrivate {
			rooms = append(rooms, room.Clone())
		}
	}
	return rooms, nil
}

func (d *MemoryRoomDirectory) RoomsWithUser(ctx context.Context, userID domain.UserID) ([]*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var rooms []*domain.Room
	for _, room := range d.rooms {
		if room.HasParticipant(userID) {
			rooms = append(rooms, room.Clone())
		}
	}
	return rooms, nil
}
