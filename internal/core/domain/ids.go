package domain

// UserID is the stable identifier a user presents at connect time.
type UserID string

// RoomID identifies a room for the lifetime of the room.
type RoomID string

// EndpointID identifies one live transport connection. A user gets a new
// endpoint on every (re)connect; the UserDirectory maps the stable UserID
// to the current endpoint.
type EndpointID string
