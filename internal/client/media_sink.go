package client

import (
	"sync"

	"meshlink/internal/core/ports"
)

// mediaSink is the placeholder remote stream handed out before any track
// arrives. Tracks are appended as the engine surfaces them.
type mediaSink struct {
	id     string
	mu     sync.Mutex
	tracks []ports.MediaTrack
}

func newMediaSink(id string) *mediaSink {
	return &mediaSink{id: "remote-" + id}
}

func (s *mediaSink) ID() string {
	return s.id
}

func (s *mediaSink) Tracks() []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.MediaTrack(nil), s.tracks...)
}

func (s *mediaSink) AddTrack(t ports.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *mediaSink) StopAll() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}
