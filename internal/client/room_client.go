package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"
	"meshlink/pkg/eventbus"

	"go.uber.org/zap"
)

// RoomEvent reports a membership change or closure for a joined room.
type RoomEvent struct {
	RoomID domain.RoomID
	UserID domain.UserID
	Reason string
}

// RoomClient layers full-mesh room semantics over a SignalingClient: on
// each join notification the existing member initiates a link toward the
// new member, and the joiner answers the incoming offers, so every pair
// negotiates independently.
type RoomClient struct {
	signaling *SignalingClient
	transport ports.ClientTransport

	mu          sync.Mutex
	currentRoom *domain.Room
	constraints ports.MediaConstraints

	roomEvents   *eventbus.Bus[RoomEvent]
	roomListings *eventbus.Bus[[]*domain.Room]

	logger *zap.SugaredLogger
}

func NewRoomClient(signaling *SignalingClient, transport ports.ClientTransport, logger *zap.SugaredLogger) *RoomClient {
	rc := &RoomClient{
		signaling:    signaling,
		transport:    transport,
		roomEvents:   eventbus.New[RoomEvent](logger),
		roomListings: eventbus.New[[]*domain.Room](logger),
		logger:       logger,
	}
	rc.registerHandlers()
	return rc
}

// Signaling exposes the underlying per-link client.
func (rc *RoomClient) Signaling() *SignalingClient {
	return rc.signaling
}

// OnRoomEvent subscribes to join/leave/close notifications for the current
// room.
func (rc *RoomClient) OnRoomEvent(fn func(RoomEvent)) func() {
	return rc.roomEvents.Subscribe(fn)
}

// OnRoomListings subscribes to public-room listing updates.
func (rc *RoomClient) OnRoomListings(fn func([]*domain.Room)) func() {
	return rc.roomListings.Subscribe(fn)
}

// CreateRoom creates a room with the caller as host and enters it.
func (rc *RoomClient) CreateRoom(ctx context.Context, name string, maxParticipants int, isPrivate bool, constraints ports.MediaConstraints) (*domain.Room, error) {
	var ack protocol.RoomAck
	req := domain.CreateRoomRequest{
		Name:            name,
		MaxParticipants: maxParticipants,
		IsPrivate:       isPrivate,
	}
	if err := rc.transport.EmitWithAck(ctx, protocol.EventCreateRoom, req, &ack); err != nil {
		return nil, err
	}
	if ack.Room == nil {
		return nil, errors.New("createRoom acknowledged without a room")
	}

	rc.mu.Lock()
	rc.currentRoom = ack.Room
	rc.constraints = constraints
	rc.mu.Unlock()

	rc.logger.Infow("room created", "room_id", ack.Room.ID)
	return ack.Room, nil
}

// JoinRoom enters an existing room. Links toward the joiner arrive as
// offers from the existing members and are answered automatically.
func (rc *RoomClient) JoinRoom(ctx context.Context, roomID domain.RoomID, constraints ports.MediaConstraints) (*domain.Room, error) {
	var ack protocol.RoomAck
	req := domain.JoinRoomRequest{RoomID: roomID}
	if err := rc.transport.EmitWithAck(ctx, protocol.EventJoinRoom, req, &ack); err != nil {
		return nil, err
	}
	if ack.Room == nil {
		return nil, errors.New("joinRoom acknowledged without a room")
	}

	rc.mu.Lock()
	rc.currentRoom = ack.Room
	rc.constraints = constraints
	rc.mu.Unlock()

	rc.logger.Infow("room joined", "room_id", roomID, "participants", len(ack.Room.Participants))
	return ack.Room, nil
}

// LeaveRoom exits the current room and tears down its mesh links.
func (rc *RoomClient) LeaveRoom(ctx context.Context) error {
	rc.mu.Lock()
	room := rc.currentRoom
	rc.currentRoom = nil
	rc.mu.Unlock()
	if room == nil {
		return nil
	}

	var ack protocol.RoomAck
	err := rc.transport.EmitWithAck(ctx, protocol.EventLeaveRoom, domain.LeaveRoomRequest{RoomID: room.ID}, &ack)
	rc.closeMesh(room)
	return err
}

// AvailableRooms fetches the public-room listing.
func (rc *RoomClient) AvailableRooms(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room
	if err := rc.transport.EmitWithAck(ctx, protocol.EventGetAvailableRooms, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CurrentRoom returns the joined room, or nil.
func (rc *RoomClient) CurrentRoom() *domain.Room {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.currentRoom == nil {
		return nil
	}
	return rc.currentRoom.Clone()
}

func (rc *RoomClient) registerHandlers() {
	rc.transport.On(protocol.EventUserJoinedRoom, func(payload json.RawMessage) {
		var ev protocol.RoomEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			rc.signaling.emitError(err)
			return
		}
		rc.handleUserJoined(ev)
	})

	rc.transport.On(protocol.EventUserLeftRoom, func(payload json.RawMessage) {
		var ev protocol.RoomEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			rc.signaling.emitError(err)
			return
		}
		rc.handleUserLeft(ev)
	})

	rc.transport.On(protocol.EventRoomClosed, func(payload json.RawMessage) {
		var ev protocol.RoomEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			rc.signaling.emitError(err)
			return
		}
		rc.handleRoomClosed(ev)
	})

	rc.transport.On(protocol.EventAvailableRoomsUpdated, func(payload json.RawMessage) {
		var rooms []*domain.Room
		if err := json.Unmarshal(payload, &rooms); err != nil {
			rc.signaling.emitError(err)
			return
		}
		rc.roomListings.Publish(rooms)
	})

	// Room offers come through the regular offer push; answer any offer
	// from a current co-participant.
	rc.signaling.OnOffersReceived(func(offers []*domain.Offer) {
		for _, offer := range offers {
			rc.maybeAnswer(offer)
		}
	})
}

func (rc *RoomClient) handleUserJoined(ev protocol.RoomEventPayload) {
	rc.mu.Lock()
	room := rc.currentRoom
	constraints := rc.constraints
	if room != nil && room.ID == ev.RoomID && !room.HasParticipant(ev.UserID) {
		room.Participants = append(room.Participants, ev.UserID)
	}
	rc.mu.Unlock()
	if room == nil || room.ID != ev.RoomID {
		return
	}

	rc.roomEvents.Publish(RoomEvent{RoomID: ev.RoomID, UserID: ev.UserID})

	// The existing member initiates toward the joiner; the joiner answers.
	_, _, err := rc.signaling.initiateLink(context.Background(), ev.UserID, constraints, domain.OfferRouting{
		TargetUserID: ev.UserID,
		RoomID:       ev.RoomID,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateLink) {
		rc.signaling.emitError(err)
	}
}

func (rc *RoomClient) handleUserLeft(ev protocol.RoomEventPayload) {
	rc.mu.Lock()
	room := rc.currentRoom
	if room != nil && room.ID == ev.RoomID {
		room.Participants = room.OtherParticipants(ev.UserID)
	}
	rc.mu.Unlock()
	if room == nil || room.ID != ev.RoomID {
		return
	}

	rc.signaling.CloseLink(ev.UserID)
	rc.roomEvents.Publish(RoomEvent{RoomID: ev.RoomID, UserID: ev.UserID})
}

func (rc *RoomClient) handleRoomClosed(ev protocol.RoomEventPayload) {
	rc.mu.Lock()
	room := rc.currentRoom
	if room != nil && room.ID == ev.RoomID {
		rc.currentRoom = nil
	}
	rc.mu.Unlock()
	if room == nil || room.ID != ev.RoomID {
		return
	}

	rc.closeMesh(room)
	rc.roomEvents.Publish(RoomEvent{RoomID: ev.RoomID, Reason: ev.Reason})
	rc.logger.Infow("room closed", "room_id", ev.RoomID, "reason", ev.Reason)
}

func (rc *RoomClient) maybeAnswer(offer *domain.Offer) {
	rc.mu.Lock()
	room := rc.currentRoom
	constraints := rc.constraints
	rc.mu.Unlock()
	if room == nil {
		return
	}
	if offer.Routing.RoomID != room.ID && !room.HasParticipant(offer.OffererUserID) {
		return
	}

	_, _, err := rc.signaling.AcceptOffer(context.Background(), offer, constraints)
	if err != nil && !errors.Is(err, domain.ErrDuplicateLink) {
		rc.signaling.emitError(err)
	}
}

// closeMesh tears down the links to every other participant of room.
func (rc *RoomClient) closeMesh(room *domain.Room) {
	for _, userID := range room.OtherParticipants(rc.signaling.selfID) {
		rc.signaling.CloseLink(userID)
	}
}
