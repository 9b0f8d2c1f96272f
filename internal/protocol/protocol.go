// Package protocol defines the signaling event catalogue and the envelope
// framing shared by the server and the Go client transport.
package protocol

import (
	"encoding/json"

	"meshlink/internal/core/domain"
)

// Client → server events.
const (
	EventNewOffer     = "newOffer"
	EventNewAnswer    = "newAnswer" // ack: []domain.IceCandidate
	EventIceCandidate = "sendIceCandidateToSignalingServer"
	EventCancelOffers = "cancelOffers"

	EventCreateRoom        = "createRoom"        // ack: RoomAck
	EventJoinRoom          = "joinRoom"          // ack: RoomAck
	EventLeaveRoom         = "leaveRoom"         // ack: RoomAck
	EventGetAvailableRooms = "getAvailableRooms" // ack: []domain.Room
)

// Server → client events.
const (
	EventNewOfferAwaiting      = "newOfferAwaiting"
	EventAnswerResponse        = "answerResponse"
	EventIceCandidateFromSrv   = "receivedIceCandidateFromServer"
	EventAvailableOffers       = "availableOffers"
	EventUserJoinedRoom        = "userJoinedRoom"
	EventUserLeftRoom          = "userLeftRoom"
	EventRoomClosed            = "roomClosed"
	EventAvailableRoomsUpdated = "availableRoomsUpdated"
	EventUserConnected         = "userConnected"
	EventUserDisconnected      = "userDisconnected"
)

// Envelope frames every message on the websocket. AckID is set on
// request/acknowledgement calls; the reply comes back as an EnvelopeAck
// carrying the same id.
type Envelope struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the reply frame for an emitWithAck call.
type Ack struct {
	AckID   string          `json:"ack_id"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewOfferPayload is the body of EventNewOffer. The routing selectors sit
// at the top level of the frame, beside the description.
type NewOfferPayload struct {
	Description domain.SessionDescription `json:"sessionDescription"`
	domain.OfferRouting
}

// RoomEventPayload is the body of the userJoinedRoom / userLeftRoom /
// roomClosed notifications.
type RoomEventPayload struct {
	UserID domain.UserID `json:"userId,omitempty"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
}

// RoomAck is the acknowledgement body for room operations.
type RoomAck struct {
	Room *domain.Room `json:"room,omitempty"`
}
