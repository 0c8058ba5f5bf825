package domain

// MuteObserver receives mute state changes for a single track.
type MuteObserver interface {
	OnMute(track MediaTrack)
	OnUnmute(track MediaTrack)
}

// MediaTrack is an opaque handle to one audio or video line inside a stream.
// The registry commands Stop on discard but does not own the track; the
// transport layer that supplied it (and the rendering layer) share it.
type MediaTrack interface {
	ID() string
	Kind() string

	// Stop halts the underlying hardware source. Implementations must be
	// idempotent.
	Stop()

	// SetMuteObserver registers the observer notified on mute state changes.
	// Passing nil detaches the current observer.
	SetMuteObserver(observer MuteObserver)
}

// MediaStream is an opaque handle bundling zero or more tracks, identified by
// an opaque id string. Relay servers may rewrite the id to the packed form
// "sfu_<participant>_<suffix>" to embed routing metadata.
type MediaStream interface {
	ID() string

	// Tracks returns a snapshot of the stream's current tracks.
	Tracks() []MediaTrack

	AddTrack(track MediaTrack)
	RemoveTrack(track MediaTrack)
}
