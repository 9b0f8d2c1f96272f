package ports

import (
	"context"
	"encoding/json"
)

// ClientTransport is the client side of the event channel: reliable,
// ordered per direction, with fire-and-forget publish and
// request/acknowledgement calls.
type ClientTransport interface {
	// Emit publishes an event without waiting for a response.
	Emit(event string, payload interface{}) error

	// EmitWithAck publishes an event and decodes the acknowledgement
	// payload into ackOut (may be nil to discard).
	EmitWithAck(ctx context.Context, event string, payload interface{}, ackOut interface{}) error

	// On registers the handler for a server-pushed event. One handler per
	// event; the dispatch loop runs handlers sequentially, preserving
	// arrival order.
	On(event string, handler func(payload json.RawMessage))

	// OnDisconnect registers a handler invoked once when the transport
	// connection drops.
	OnDisconnect(handler func())

	Close() error
}
