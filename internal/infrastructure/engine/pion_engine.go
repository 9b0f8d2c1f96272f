// Package engine adapts pion/webrtc to the session-engine contract the
// client negotiates against.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the connection settings shared by every engine instance.
type Config struct {
	ICEServers []string
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// PLIInterval is how often a picture-loss indication is sent for
	// received video tracks to force keyframe refreshes.
	PLIInterval time.Duration
}

// PionEngineFactory creates one engine per peer link.
type PionEngineFactory struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewPionEngineFactory(config Config, logger *zap.SugaredLogger) *PionEngineFactory {
	if config.PLIInterval <= 0 {
		config.PLIInterval = 3 * time.Second
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}

	return &PionEngineFactory{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

func (f *PionEngineFactory) NewEngine(_ context.Context) (ports.SessionEngine, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(f.config.ICEServers))
	for _, u := range f.config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return &PionEngine{
		pc:          pc,
		pliInterval: f.config.PLIInterval,
		done:        make(chan struct{}),
		logger:      f.logger,
	}, nil
}

// PionEngine wraps one webrtc.PeerConnection behind the engine contract.
type PionEngine struct {
	pc          *webrtc.PeerConnection
	pliInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

func (e *PionEngine) CreateOffer(_ context.Context) (domain.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (e *PionEngine) CreateAnswer(_ context.Context) (domain.SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (e *PionEngine) SetLocalDescription(_ context.Context, desc domain.SessionDescription) error {
	return e.pc.SetLocalDescription(toPion(desc))
}

func (e *PionEngine) SetRemoteDescription(_ context.Context, desc domain.SessionDescription) error {
	return e.pc.SetRemoteDescription(toPion(desc))
}

func (e *PionEngine) AddIceCandidate(_ context.Context, c domain.IceCandidate) error {
	sdpMLineIndex := c.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if c.SDPMid != "" {
		sdpMid := c.SDPMid
		init.SDPMid = &sdpMid
	}
	if c.UsernameFragment != "" {
		frag := c.UsernameFragment
		init.UsernameFragment = &frag
	}
	return e.pc.AddICECandidate(init)
}

func (e *PionEngine) AddLocalTrack(t ports.MediaTrack) error {
	local, ok := t.(interface{ Local() webrtc.TrackLocal })
	if !ok {
		return fmt.Errorf("track %s does not carry a webrtc local track", t.ID())
	}

	sender, err := e.pc.AddTrack(local.Local())
	if err != nil {
		return err
	}

	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (e *PionEngine) OnIceCandidate(fn func(domain.IceCandidate)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-gathering marker; nothing to relay.
			return
		}
		init := c.ToJSON()
		cand := domain.IceCandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		if init.UsernameFragment != nil {
			cand.UsernameFragment = *init.UsernameFragment
		}
		fn(cand)
	})
}

func (e *PionEngine) OnTrack(fn func(ports.MediaTrack)) {
	e.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Infow("remote track started",
			"track_id", remote.ID(),
			"kind", remote.Kind().String(),
			"codec", remote.Codec().MimeType,
		)

		track := newRemoteTrack(remote)
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go e.sendPLI(remote, track.stopped)
		}
		go e.pumpTrack(remote, track)

		fn(track)
	})
}

func (e *PionEngine) OnConnectionStateChange(fn func(ports.EngineConnectionState)) {
	e.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(mapConnectionState(state))
	})
}

func (e *PionEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.pc.Close()
	})
	return err
}

// pumpTrack keeps the remote track's RTP flowing into the track buffer so
// packets are available to whoever consumes the sink.
func (e *PionEngine) pumpTrack(remote *webrtc.TrackRemote, track *remoteTrack) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		select {
		case <-e.done:
			return
		case <-track.stopped:
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if err != io.EOF {
				e.logger.Debugw("remote track read ended", "track_id", remote.ID(), "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			e.logger.Debugw("discarding malformed RTP packet", "track_id", remote.ID(), "error", err)
			continue
		}
		track.deliver(pkt)
	}
}

// sendPLI requests keyframes for a received video track at a fixed cadence.
func (e *PionEngine) sendPLI(remote *webrtc.TrackRemote, stopped <-chan struct{}) {
	ticker := time.NewTicker(e.pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-stopped:
			return
		case <-ticker.C:
			err := e.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
			})
			if err != nil {
				e.logger.Debugw("failed to send PLI", "track_id", remote.ID(), "error", err)
				return
			}
		}
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) ports.EngineConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return ports.EngineStateNew
	case webrtc.PeerConnectionStateConnecting:
		return ports.EngineStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ports.EngineStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ports.EngineStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ports.EngineStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ports.EngineStateClosed
	default:
		return ports.EngineStateNew
	}
}

func fromPion(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toPion(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
