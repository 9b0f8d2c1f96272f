package ports

import (
	"context"

	"meshlink/internal/core/domain"
)

// UserDirectory maps stable user ids to their current transport endpoint.
// It is the routing source of truth: one entry per connected session,
// upserted on (re)connect, removed on disconnect. Process-lifetime state,
// no persistence.
type UserDirectory interface {
	Upsert(ctx context.Context, userID domain.UserID, endpointID domain.EndpointID) error
	Resolve(ctx context.Context, userID domain.UserID) (domain.EndpointID, error)
	Remove(ctx context.Context, userID domain.UserID) error
	// ConnectedUsers returns all registered users in no particular order.
	ConnectedUsers(ctx context.Context) ([]domain.UserID, error)
}

// OfferTable holds in-flight offers awaiting an answer, keyed by the
// offering user. At most one open offer per offerer; Put replaces any
// previous entry for the same user.
type OfferTable interface {
	Put(ctx context.Context, offer *domain.Offer) error
	GetByOfferer(ctx context.Context, offerer domain.UserID) (*domain.Offer, error)
	GetByAnswerer(ctx context.Context, answerer domain.UserID) (*domain.Offer, error)
	// AppendOfferCandidate buffers a candidate generated by the offerer so
	// it can be replayed through the answer acknowledgement.
	AppendOfferCandidate(ctx context.Context, offerer domain.UserID, c domain.IceCandidate) error
	AppendAnswerCandidate(ctx context.Context, offerer domain.UserID, c domain.IceCandidate) error
	// SetAnswer stamps the accepted answer and answerer. The answer is
	// immutable: a second call for the same offer fails.
	SetAnswer(ctx context.Context, offerer domain.UserID, answerer domain.UserID, answer domain.SessionDescription) error
	Delete(ctx context.Context, offerer domain.UserID) error
	// Open returns every offer that has not been answered yet.
	Open(ctx context.Context) ([]*domain.Offer, error)
}

// RoomDirectory owns room records and membership. Implementations enforce
// the room invariants (participant limit, creator membership).
type RoomDirectory interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	AddParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Room, error)
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Room, error)
	Delete(ctx context.Context, roomID domain.RoomID) error
	// ListPublic returns all non-private rooms. Private rooms never appear
	// in the public listing.
	ListPublic(ctx context.Context) ([]*domain.Room, error)
	// RoomsWithUser returns every room the user currently participates in.
	RoomsWithUser(ctx context.Context, userID domain.UserID) ([]*domain.Room, error)
}
