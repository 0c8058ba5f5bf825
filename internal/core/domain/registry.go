package domain

type ParticipantID string
type StreamKind string

const (
	StreamKindCamera  StreamKind = "camera"
	StreamKindScreen  StreamKind = "screen"
	StreamKindDesktop StreamKind = "desktop"
	StreamKindWindow  StreamKind = "window"
	StreamKindAudio   StreamKind = "audio"
)

// StreamEntry is one stream attributed to a participant. URL is the preview
// handle acquired for the stream; empty means no preview is available.
type StreamEntry struct {
	Stream MediaStream
	Kind   StreamKind
	URL    string
}

// ParticipantStreams holds the streams currently owned by one participant,
// in arrival order. Entries are only ever appended or removed, never
// reordered.
type ParticipantStreams struct {
	ParticipantID ParticipantID
	Streams       []StreamEntry
}

// IndexOf returns the position of the entry whose stream is the given handle,
// compared by identity, or -1. Two distinct handles carrying equal metadata
// never match.
func (ps ParticipantStreams) IndexOf(stream MediaStream) int {
	for i, entry := range ps.Streams {
		if entry.Stream == stream {
			return i
		}
	}
	return -1
}

// Registry maps participants to their streams. It is an immutable value:
// transitions produce a new *Registry (or return the input pointer unchanged
// for no-ops), so consumers can detect change by comparing references.
type Registry struct {
	participants map[ParticipantID]ParticipantStreams
}

// EmptyRegistry is the canonical empty instance. It is both the initial state
// and the value returned after a full reset.
var EmptyRegistry = &Registry{}

// Len returns the number of participants that currently own streams.
func (r *Registry) Len() int {
	return len(r.participants)
}

// StreamCount returns the total number of stream entries across participants.
func (r *Registry) StreamCount() int {
	n := 0
	for _, ps := range r.participants {
		n += len(ps.Streams)
	}
	return n
}

// Get looks up the streams owned by a participant.
func (r *Registry) Get(id ParticipantID) (ParticipantStreams, bool) {
	ps, ok := r.participants[id]
	return ps, ok
}

// Participants returns the underlying mapping. Callers must treat it as
// read-only; mutating it breaks the copy-on-write contract.
func (r *Registry) Participants() map[ParticipantID]ParticipantStreams {
	return r.participants
}

// With returns a new registry with the participant's record replaced.
// Only the touched key is copied on write; untouched records are shared.
func (r *Registry) With(id ParticipantID, ps ParticipantStreams) *Registry {
	next := make(map[ParticipantID]ParticipantStreams, len(r.participants)+1)
	for k, v := range r.participants {
		next[k] = v
	}
	next[id] = ps
	return &Registry{participants: next}
}

// Without returns a new registry with the participant's key deleted. When the
// key is already absent the input registry is returned unchanged, and when
// deletion empties the registry the canonical EmptyRegistry is returned.
func (r *Registry) Without(id ParticipantID) *Registry {
	if _, ok := r.participants[id]; !ok {
		return r
	}
	if len(r.participants) == 1 {
		return EmptyRegistry
	}
	next := make(map[ParticipantID]ParticipantStreams, len(r.participants)-1)
	for k, v := range r.participants {
		if k != id {
			next[k] = v
		}
	}
	return &Registry{participants: next}
}
