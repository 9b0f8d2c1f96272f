package ports

import (
	"context"

	"meshlink/internal/core/domain"
)

// EngineConnectionState mirrors the session engine's connectivity
// observable. The client's link state machine keys off these values and
// never assumes connectivity from message exchange alone.
type EngineConnectionState string

const (
	EngineStateNew          EngineConnectionState = "new"
	EngineStateConnecting   EngineConnectionState = "connecting"
	EngineStateConnected    EngineConnectionState = "connected"
	EngineStateDisconnected EngineConnectionState = "disconnected"
	EngineStateFailed       EngineConnectionState = "failed"
	EngineStateClosed       EngineConnectionState = "closed"
)

// MediaTrack is one media track handed over by the engine or captured
// locally. The coordinator never inspects payloads; it only moves handles.
type MediaTrack interface {
	ID() string
	Kind() string // "audio" or "video"
	Stop() error
}

// MediaStream groups tracks, standing in for the platform media stream.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	AddTrack(t MediaTrack)
	StopAll()
}

// SessionEngine is the external peer-session component, treated as a black
// box: offer/answer creation, description exchange, ICE and the encrypted
// media path are all internal to it.
type SessionEngine interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddIceCandidate(ctx context.Context, c domain.IceCandidate) error

	AddLocalTrack(t MediaTrack) error

	// Observables. Handlers are invoked from engine internals; registration
	// happens before any negotiation call.
	OnIceCandidate(fn func(domain.IceCandidate))
	OnTrack(fn func(MediaTrack))
	OnConnectionStateChange(fn func(EngineConnectionState))

	Close() error
}

// EngineFactory creates one engine per peer link.
type EngineFactory interface {
	NewEngine(ctx context.Context) (SessionEngine, error)
}

// MediaConstraints selects which capture kinds a media source should open.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource acquires local capture media. Acquisition failure (denied
// permission, missing device) surfaces as domain.ErrMediaAcquisition.
type MediaSource interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (MediaStream, error)
}
