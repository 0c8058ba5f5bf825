package media

import (
	"sync"

	"callmesh/internal/core/domain"
)

// Stream is the transport-side implementation of domain.MediaStream: an id
// plus a guarded track list. The registry and the session layer share the
// same *Stream value, so track mutations are visible to both without a new
// registry transition.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []domain.MediaTrack
}

func NewStream(id string) *Stream {
	return &Stream{id: id}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []domain.MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AddTrack(track domain.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing == track {
			return
		}
	}
	s.tracks = append(s.tracks, track)
}

func (s *Stream) RemoveTrack(track domain.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tracks[:0]
	for _, existing := range s.tracks {
		if existing != track {
			kept = append(kept, existing)
		}
	}
	s.tracks = kept
}
