package services

import (
	"context"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"
	"meshlink/pkg/utils"

	"go.uber.org/zap"
)

type roomService struct {
	rooms  ports.RoomDirectory
	users  ports.UserDirectory
	sender ports.Sender

	defaultMaxParticipants int
	maxParticipantsLimit   int

	logger *zap.SugaredLogger
}

// RoomServiceOptions tunes room creation bounds.
type RoomServiceOptions struct {
	DefaultMaxParticipants int
	MaxParticipantsLimit   int
}

// NewRoomService wires the room directory to the notification fan-out.
func NewRoomService(
	rooms ports.RoomDirectory,
	users ports.UserDirectory,
	sender ports.Sender,
	opts RoomServiceOptions,
	logger *zap.SugaredLogger,
) ports.RoomService {
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = 4
	}
	if opts.MaxParticipantsLimit <= 0 {
		opts.MaxParticipantsLimit = 16
	}
	return &roomService{
		rooms:                  rooms,
		users:                  users,
		sender:                 sender,
		defaultMaxParticipants: opts.DefaultMaxParticipants,
		maxParticipantsLimit:   opts.MaxParticipantsLimit,
		logger:                 logger,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, req domain.CreateRoomRequest) (*domain.Room, error) {
	roomID := req.RoomID
	if roomID == "" {
		roomID = domain.RoomID(utils.GenerateRoomID())
	}

	maxParticipants := req.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = s.defaultMaxParticipants
	}
	if maxParticipants > s.maxParticipantsLimit {
		maxParticipants = s.maxParticipantsLimit
	}

	room := &domain.Room{
		ID:              roomID,
		Name:            req.Name,
		IsPrivate:       req.IsPrivate,
		MaxParticipants: maxParticipants,
		Participants:    []domain.UserID{req.CreatorUserID},
		CreatorUserID:   req.CreatorUserID,
		CreatedAt:       time.Now(),
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	s.logger.Infow("room created",
		"room_id", room.ID,
		"creator", room.CreatorUserID,
		"max_participants", room.MaxParticipants,
		"private", room.IsPrivate,
	)

	s.broadcastListing(ctx)
	return room, nil
}

func (s *roomService) JoinRoom(ctx context.Context, req domain.JoinRoomRequest) (*domain.Room, error) {
	room, err := s.rooms.AddParticipant(ctx, req.RoomID, req.UserID)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("user joined room",
		"room_id", req.RoomID,
		"user_id", req.UserID,
		"participants", len(room.Participants),
	)

	// Existing participants learn about the joiner so each can initiate a
	// peer link toward the new member (full-mesh topology).
	s.notifyParticipants(ctx, room.OtherParticipants(req.UserID), protocol.EventUserJoinedRoom, protocol.RoomEventPayload{
		UserID: req.UserID,
		RoomID: req.RoomID,
	})

	s.broadcastListing(ctx)
	return room, nil
}

func (s *roomService) LeaveRoom(ctx context.Context, req domain.LeaveRoomRequest) error {
	room, err := s.rooms.RemoveParticipant(ctx, req.RoomID, req.UserID)
	if err == domain.ErrRoomNotFound {
		// Already-left is not an error.
		return nil
	}
	if err != nil {
		return err
	}

	if len(room.Participants) == 0 || req.UserID == room.CreatorUserID {
		reason := domain.RoomCloseReasonEmpty
		if req.UserID == room.CreatorUserID && len(room.Participants) > 0 {
			reason = domain.RoomCloseReasonHostLeft
		}

		if err := s.rooms.Delete(ctx, req.RoomID); err != nil && err != domain.ErrRoomNotFound {
			return err
		}

		s.logger.Infow("room closed",
			"room_id", req.RoomID,
			"reason", reason,
			"remaining", len(room.Participants),
		)

		s.notifyParticipants(ctx, room.Participants, protocol.EventRoomClosed, protocol.RoomEventPayload{
			RoomID: req.RoomID,
			Reason: reason,
		})
	} else {
		s.logger.Infow("user left room",
			"room_id", req.RoomID,
			"user_id", req.UserID,
			"remaining", len(room.Participants),
		)

		s.notifyParticipants(ctx, room.Participants, protocol.EventUserLeftRoom, protocol.RoomEventPayload{
			UserID: req.UserID,
			RoomID: req.RoomID,
		})
	}

	s.broadcastListing(ctx)
	return nil
}

func (s *roomService) AvailableRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.rooms.ListPublic(ctx)
}

func (s *roomService) LeaveAll(ctx context.Context, userID domain.UserID) error {
	rooms, err := s.rooms.RoomsWithUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if err := s.LeaveRoom(ctx, domain.LeaveRoomRequest{RoomID: room.ID, UserID: userID}); err != nil {
			s.logger.Warnw("failed to leave room on disconnect",
				"room_id", room.ID,
				"user_id", userID,
				"error", err,
			)
		}
	}
	return nil
}

// notifyParticipants delivers an event to each listed user's endpoint.
// Unknown endpoints are logged and skipped.
func (s *roomService) notifyParticipants(ctx context.Context, participants []domain.UserID, event string, payload interface{}) {
	for _, userID := range participants {
		endpoint, err := s.users.Resolve(ctx, userID)
		if err != nil {
			s.logger.Debugw("room participant has no endpoint", "user_id", userID, "event", event)
			continue
		}
		if err := s.sender.Send(ctx, endpoint, event, payload); err != nil {
			s.logger.Warnw("failed to notify room participant",
				"user_id", userID,
				"event", event,
				"error", err,
			)
		}
	}
}

// broadcastListing pushes the public-room listing to every connected user.
func (s *roomService) broadcastListing(ctx context.Context) {
	rooms, err := s.rooms.ListPublic(ctx)
	if err != nil {
		s.logger.Warnw("failed to list public rooms", "error", err)
		return
	}
	users, err := s.users.ConnectedUsers(ctx)
	if err != nil {
		s.logger.Warnw("failed to list connected users", "error", err)
		return
	}
	s.notifyParticipants(ctx, users, protocol.EventAvailableRoomsUpdated, rooms)
}
