package engine

import (
	"context"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

// RTPMediaSource opens static RTP tracks for local capture. Callers feed
// encoded RTP into the returned tracks from whatever capture pipeline they
// run; the coordinator only moves the handles.
type RTPMediaSource struct{}

func NewRTPMediaSource() *RTPMediaSource {
	return &RTPMediaSource{}
}

func (s *RTPMediaSource) GetUserMedia(_ context.Context, constraints ports.MediaConstraints) (ports.MediaStream, error) {
	streamID := utils.GenerateStreamID()
	stream := &localStream{id: streamID}

	if constraints.Audio {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			streamID,
		)
		if err != nil {
			return nil, domain.ErrMediaAcquisition
		}
		stream.AddTrack(&localTrack{track: track, kind: "audio"})
	}

	if constraints.Video {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			streamID,
		)
		if err != nil {
			stream.StopAll()
			return nil, domain.ErrMediaAcquisition
		}
		stream.AddTrack(&localTrack{track: track, kind: "video"})
	}

	return stream, nil
}

// localStream groups the capture tracks of one GetUserMedia call.
type localStream struct {
	id     string
	mu     sync.Mutex
	tracks []ports.MediaTrack
}

func (s *localStream) ID() string {
	return s.id
}

func (s *localStream) Tracks() []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.MediaTrack(nil), s.tracks...)
}

func (s *localStream) AddTrack(t ports.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *localStream) StopAll() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}
