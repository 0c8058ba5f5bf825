package domain

import "errors"

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrTrackNotFound       = errors.New("track not found")

	// ErrDisplayUnavailable is returned by display providers when a preview
	// handle cannot be acquired. The reducer degrades this to an entry with
	// no URL; it is never surfaced to dispatch callers.
	ErrDisplayUnavailable = errors.New("display handle unavailable")
)
