package domain

// EventKind tags a registry lifecycle event.
type EventKind string

const (
	EventStreamAdd          EventKind = "stream-add"
	EventStreamRemove       EventKind = "stream-remove"
	EventStreamTrackAdd     EventKind = "stream-track-add"
	EventStreamTrackRemove  EventKind = "stream-track-remove"
	EventParticipantRemoved EventKind = "participant-removed"
	EventCallEnded          EventKind = "call-ended"

	// EventMediaResolved is emitted when user media is granted; it is handled
	// identically to EventStreamAdd.
	EventMediaResolved EventKind = "media-resolved"

	// EventMediaRejected is emitted when user media is denied. It never
	// changes the registry.
	EventMediaRejected EventKind = "media-rejected"
)

// Event is the tagged input of the stream registry reducer. ParticipantID
// carries the claimed owner before normalization; Stream and Track are set
// only for the kinds that need them.
type Event struct {
	Kind          EventKind
	ParticipantID ParticipantID
	Stream        MediaStream
	Track         MediaTrack
	StreamKind    StreamKind
}
