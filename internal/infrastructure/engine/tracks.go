package engine

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// remoteTrack wraps a received webrtc track as a stoppable media track.
// Delivered packets land in a bounded buffer; a slow consumer drops the
// oldest packet rather than stalling the receive pump.
type remoteTrack struct {
	remote  *webrtc.TrackRemote
	packets chan *rtp.Packet

	stopOnce sync.Once
	stopped  chan struct{}
}

func newRemoteTrack(remote *webrtc.TrackRemote) *remoteTrack {
	return &remoteTrack{
		remote:  remote,
		packets: make(chan *rtp.Packet, 256),
		stopped: make(chan struct{}),
	}
}

func (t *remoteTrack) ID() string {
	return t.remote.ID()
}

func (t *remoteTrack) Kind() string {
	return t.remote.Kind().String()
}

func (t *remoteTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.stopped) })
	return nil
}

// Packets exposes the received RTP stream to consumers.
func (t *remoteTrack) Packets() <-chan *rtp.Packet {
	return t.packets
}

func (t *remoteTrack) deliver(pkt *rtp.Packet) {
	// Unmarshal aliases the reader's scratch buffer; the queued copy must
	// own its payload or the next read overwrites it in place.
	clone := *pkt
	clone.Payload = append([]byte(nil), pkt.Payload...)
	select {
	case t.packets <- &clone:
	default:
		select {
		case <-t.packets:
		default:
		}
		select {
		case t.packets <- &clone:
		default:
		}
	}
}

// localTrack wraps a webrtc static RTP track as a local media track.
type localTrack struct {
	track *webrtc.TrackLocalStaticRTP
	kind  string
}

func (t *localTrack) ID() string {
	return t.track.ID()
}

func (t *localTrack) Kind() string {
	return t.kind
}

func (t *localTrack) Stop() error {
	return nil
}

// Local exposes the underlying webrtc track for AddLocalTrack.
func (t *localTrack) Local() webrtc.TrackLocal {
	return t.track
}

// WriteRTP feeds one packet into the outgoing track.
func (t *localTrack) WriteRTP(pkt *rtp.Packet) error {
	return t.track.WriteRTP(pkt)
}
