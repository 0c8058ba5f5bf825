package services

import (
	"fmt"
	"testing"

	"callmesh/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

type fakeTrack struct {
	id       string
	kind     string
	stops    int
	observer domain.MuteObserver
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop() { t.stops++ }
func (t *fakeTrack) SetMuteObserver(observer domain.MuteObserver) {
	t.observer = observer
}

type fakeObserver struct{}

func (fakeObserver) OnMute(domain.MediaTrack) {}
func (fakeObserver) OnUnmute(domain.MediaTrack) {}

type fakeStream struct {
	id     string
	tracks []domain.MediaTrack
}

func newFakeStream(id string, tracks ...domain.MediaTrack) *fakeStream {
	return &fakeStream{id: id, tracks: tracks}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []domain.MediaTrack {
	out := make([]domain.MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *fakeStream) AddTrack(track domain.MediaTrack) {
	s.tracks = append(s.tracks, track)
}

func (s *fakeStream) RemoveTrack(track domain.MediaTrack) {
	kept := s.tracks[:0]
	for _, existing := range s.tracks {
		if existing != track {
			kept = append(kept, existing)
		}
	}
	s.tracks = kept
}

type fakeDisplay struct {
	fail     bool
	next     int
	acquired map[string]int
	released map[string]int
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		acquired: make(map[string]int),
		released: make(map[string]int),
	}
}

func (d *fakeDisplay) Acquire(stream domain.MediaStream) (string, error) {
	if d.fail {
		return "", domain.ErrDisplayUnavailable
	}
	d.next++
	url := fmt.Sprintf("blob:%d", d.next)
	d.acquired[url]++
	return url, nil
}

func (d *fakeDisplay) Release(url string) {
	d.released[url]++
}

func newTestReducer(t *testing.T) (*StreamRegistryReducer, *fakeDisplay) {
	t.Helper()
	display := newFakeDisplay()
	return NewStreamRegistryReducer(display, zaptest.NewLogger(t).Sugar()), display
}
