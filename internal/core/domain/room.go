package domain

import "time"

// Room close reasons reported to remaining participants.
const (
	RoomCloseReasonHostLeft = "host left"
	RoomCloseReasonEmpty    = "empty"
)

// Room is a named group of users who pairwise-negotiate sessions (full
// mesh). Participants keep insertion order: index 0 is the creator until
// the room closes.
type Room struct {
	ID              RoomID    `json:"roomId"`
	Name            string    `json:"name"`
	IsPrivate       bool      `json:"isPrivate"`
	MaxParticipants int       `json:"maxParticipants"`
	Participants    []UserID  `json:"participants"`
	CreatorUserID   UserID    `json:"creatorUserId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is currently in the room.
func (r *Room) HasParticipant(userID UserID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether the room reached its participant limit.
func (r *Room) IsFull() bool {
	return len(r.Participants) >= r.MaxParticipants
}

// OtherParticipants returns all participants except userID, in join order.
func (r *Room) OtherParticipants(userID UserID) []UserID {
	others := make([]UserID, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// Clone returns a deep copy so callers cannot mutate directory state
// through a returned record.
func (r *Room) Clone() *Room {
	clone := *r
	clone.Participants = append([]UserID(nil), r.Participants...)
	return &clone
}

// CreateRoomRequest is the client's createRoom payload. RoomID is optional;
// the directory allocates one when empty.
type CreateRoomRequest struct {
	Name            string `json:"roomName"`
	RoomID          RoomID `json:"roomId,omitempty"`
	MaxParticipants int    `json:"maxParticipants"`
	IsPrivate       bool   `json:"isPrivate"`
	CreatorUserID   UserID `json:"creatorUserId"`
}

// JoinRoomRequest is the client's joinRoom payload.
type JoinRoomRequest struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

// LeaveRoomRequest is the client's leaveRoom payload.
type LeaveRoomRequest struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}
