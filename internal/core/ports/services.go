package ports

import (
	"context"

	"meshlink/internal/core/domain"
)

// Sender delivers a named event to one transport endpoint. The transport
// layer implements it; router and room services depend only on this.
type Sender interface {
	Send(ctx context.Context, endpoint domain.EndpointID, event string, payload interface{}) error
}

// RouterService routes offers, answers and candidates between endpoints
// using the UserDirectory, OfferTable and RoomDirectory.
type RouterService interface {
	// Connect registers the user's endpoint and replays the current open
	// offers to the newly connected client.
	Connect(ctx context.Context, userID domain.UserID, endpointID domain.EndpointID) error

	// HandleNewOffer records the offer and delivers it to every resolved
	// destination. Resolution precedence: explicit target, room broadcast,
	// explicit id list, broadcast to all other users. Unknown destinations
	// are logged and dropped.
	HandleNewOffer(ctx context.Context, sender domain.UserID, desc domain.SessionDescription, routing domain.OfferRouting) error

	// HandleNewAnswer accepts an answer for the offer identified by
	// offer.OffererUserID and returns the offer-side candidates buffered so
	// far; these form the acknowledgement payload. The completed offer is
	// forwarded to the offerer's endpoint.
	HandleNewAnswer(ctx context.Context, answerer domain.UserID, offer *domain.Offer) ([]domain.IceCandidate, error)

	// HandleIceCandidate buffers and routes one candidate message.
	HandleIceCandidate(ctx context.Context, msg domain.IceCandidateMessage) error

	// HandleCancelOffer withdraws the sender's open offer, if any.
	HandleCancelOffer(ctx context.Context, sender domain.UserID) error

	// HandleDisconnect tears down all routing state owned by the user.
	HandleDisconnect(ctx context.Context, userID domain.UserID) error
}

// RoomService implements room lifecycle and membership with the
// notification fan-out the mesh topology requires.
type RoomService interface {
	CreateRoom(ctx context.Context, req domain.CreateRoomRequest) (*domain.Room, error)
	JoinRoom(ctx context.Context, req domain.JoinRoomRequest) (*domain.Room, error)
	LeaveRoom(ctx context.Context, req domain.LeaveRoomRequest) error
	AvailableRooms(ctx context.Context) ([]*domain.Room, error)
	// LeaveAll executes the room-leave procedure for every room containing
	// the user. Called from the router's disconnect path.
	LeaveAll(ctx context.Context, userID domain.UserID) error
}
