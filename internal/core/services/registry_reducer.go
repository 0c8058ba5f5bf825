package services

import (
	"strings"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"go.uber.org/zap"
)

const relayPrefix = "sfu"

// StreamRegistryReducer applies lifecycle events to the stream registry.
// Every transition returns a new *domain.Registry, or the input pointer
// unchanged when the event is a no-op. Resource release for discarded entries
// (track stop, preview URL release) completes before the new value is
// returned.
//
// The reducer is not safe for concurrent use; the dispatch loop is its only
// caller and serializes events.
type StreamRegistryReducer struct {
	display ports.DisplayProvider
	logger  *zap.SugaredLogger
}

func NewStreamRegistryReducer(display ports.DisplayProvider, logger *zap.SugaredLogger) *StreamRegistryReducer {
	return &StreamRegistryReducer{
		display: display,
		logger:  logger,
	}
}

func (r *StreamRegistryReducer) Reduce(state *domain.Registry, ev domain.Event) *domain.Registry {
	switch ev.Kind {
	case domain.EventStreamAdd, domain.EventMediaResolved:
		if ev.Stream == nil {
			return state
		}
		return r.addStream(state, ev.ParticipantID, ev.Stream, ev.StreamKind)

	case domain.EventStreamRemove:
		if ev.Stream == nil {
			return state
		}
		return r.removeStream(state, ev.ParticipantID, ev.Stream)

	case domain.EventStreamTrackAdd:
		if ev.Stream == nil || ev.Track == nil {
			return state
		}
		return r.addTrack(state, ev.ParticipantID, ev.Stream, ev.Track)

	case domain.EventStreamTrackRemove:
		if ev.Stream == nil || ev.Track == nil {
			return state
		}
		return r.removeTrack(state, ev.ParticipantID, ev.Stream, ev.Track)

	case domain.EventParticipantRemoved:
		return r.removeParticipant(state, ev.ParticipantID)

	case domain.EventCallEnded:
		return r.reset(state)

	default:
		// media-rejected and unrecognized kinds never change the registry.
		return state
	}
}

// normalizeOwner derives the true owning participant from the stream id.
// A relay-rewritten id of the exact form "sfu_<participant>_<suffix>" packs
// the originating participant into the middle segment, overriding the id
// claimed by the signaling layer. Any other shape leaves the claim untouched.
func normalizeOwner(stream domain.MediaStream, claimed domain.ParticipantID) domain.ParticipantID {
	parts := strings.Split(stream.ID(), "_")
	if len(parts) == 3 && parts[0] == relayPrefix && parts[1] != "" {
		return domain.ParticipantID(parts[1])
	}
	return claimed
}

func (r *StreamRegistryReducer) addStream(state *domain.Registry, claimed domain.ParticipantID, stream domain.MediaStream, kind domain.StreamKind) *domain.Registry {
	owner := normalizeOwner(stream, claimed)

	ps, exists := state.Get(owner)
	if exists && ps.IndexOf(stream) >= 0 {
		// Redundant add of the same handle is idempotent.
		return state
	}

	var url string
	if acquired, err := r.display.Acquire(stream); err != nil {
		// A stream without a preview is still tracked.
		r.logger.Debugw("preview handle unavailable",
			"participant_id", owner,
			"stream_id", stream.ID(),
			"error", err,
		)
	} else {
		url = acquired
	}

	if !exists {
		ps = domain.ParticipantStreams{ParticipantID: owner}
	}

	streams := make([]domain.StreamEntry, len(ps.Streams), len(ps.Streams)+1)
	copy(streams, ps.Streams)
	ps.Streams = append(streams, domain.StreamEntry{Stream: stream, Kind: kind, URL: url})

	r.logger.Debugw("stream added",
		"participant_id", owner,
		"stream_id", stream.ID(),
		"kind", kind,
		"has_preview", url != "",
	)
	return state.With(owner, ps)
}

func (r *StreamRegistryReducer) removeStream(state *domain.Registry, claimed domain.ParticipantID, stream domain.MediaStream) *domain.Registry {
	owner := normalizeOwner(stream, claimed)

	ps, exists := state.Get(owner)
	if !exists {
		return state
	}

	kept := make([]domain.StreamEntry, 0, len(ps.Streams))
	removed := 0
	for _, entry := range ps.Streams {
		if entry.Stream == stream {
			r.releaseEntry(owner, entry)
			removed++
		} else {
			kept = append(kept, entry)
		}
	}

	if removed == 0 {
		// Unknown handle: the participant keeps its remaining entries and the
		// registry value is unchanged.
		return state
	}

	if len(kept) == 0 {
		r.logger.Debugw("last stream removed, dropping participant", "participant_id", owner)
		return state.Without(owner)
	}

	ps.Streams = kept
	return state.With(owner, ps)
}

func (r *StreamRegistryReducer) addTrack(state *domain.Registry, claimed domain.ParticipantID, stream domain.MediaStream, track domain.MediaTrack) *domain.Registry {
	owner := normalizeOwner(stream, claimed)

	if !streamHasTrack(stream, track) {
		stream.AddTrack(track)
	}

	if ps, exists := state.Get(owner); exists && ps.IndexOf(stream) >= 0 {
		// The entry already exists and stream identity drives re-render, so
		// the track mutation alone does not produce a new registry value.
		return state
	}

	// First track of a stream not yet registered: file the stream, now
	// carrying the track, under its owner.
	return r.addStream(state, owner, stream, "")
}

func (r *StreamRegistryReducer) removeTrack(state *domain.Registry, claimed domain.ParticipantID, stream domain.MediaStream, track domain.MediaTrack) *domain.Registry {
	owner := normalizeOwner(stream, claimed)

	ps, exists := state.Get(owner)
	if !exists || ps.IndexOf(stream) < 0 {
		return state
	}

	stream.RemoveTrack(track)
	if len(stream.Tracks()) == 0 {
		return r.removeStream(state, owner, stream)
	}
	return state
}

func (r *StreamRegistryReducer) removeParticipant(state *domain.Registry, id domain.ParticipantID) *domain.Registry {
	ps, exists := state.Get(id)
	if !exists {
		return state.Without(id)
	}

	for _, entry := range ps.Streams {
		r.releaseEntry(id, entry)
	}

	r.logger.Debugw("participant removed", "participant_id", id, "streams_released", len(ps.Streams))
	return state.Without(id)
}

func (r *StreamRegistryReducer) reset(state *domain.Registry) *domain.Registry {
	for id, ps := range state.Participants() {
		for _, entry := range ps.Streams {
			for _, track := range entry.Stream.Tracks() {
				// Detach observers before stopping so stale callbacks cannot
				// fire after teardown.
				track.SetMuteObserver(nil)
				track.Stop()
			}
			if entry.URL != "" {
				r.display.Release(entry.URL)
			}
		}
		r.logger.Debugw("participant torn down", "participant_id", id, "streams_released", len(ps.Streams))
	}
	return domain.EmptyRegistry
}

// releaseEntry stops every track of a discarded entry and releases its
// preview URL. Called exactly once per entry leaving the registry.
func (r *StreamRegistryReducer) releaseEntry(owner domain.ParticipantID, entry domain.StreamEntry) {
	for _, track := range entry.Stream.Tracks() {
		track.Stop()
	}
	if entry.URL != "" {
		r.display.Release(entry.URL)
	}
	r.logger.Debugw("stream released",
		"participant_id", owner,
		"stream_id", entry.Stream.ID(),
		"had_preview", entry.URL != "",
	)
}

func streamHasTrack(stream domain.MediaStream, track domain.MediaTrack) bool {
	for _, existing := range stream.Tracks() {
		if existing == track {
			return true
		}
	}
	return false
}
