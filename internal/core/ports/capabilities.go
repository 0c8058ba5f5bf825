package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// DisplayProvider acquires and releases preview handles for streams.
// Acquire is the only fallible capability the reducer consumes; Release is
// best-effort and must tolerate repeated or unknown URLs.
type DisplayProvider interface {
	Acquire(stream domain.MediaStream) (string, error)
	Release(url string)
}

// Reducer is the single reducing entry point over the stream registry.
// Implementations must return the input pointer unchanged for no-op events
// and must finish all commanded resource release before returning.
type Reducer interface {
	Reduce(state *domain.Registry, ev domain.Event) *domain.Registry
}

// EventSink receives every event applied by the dispatch loop, after the
// transition it caused. Used to mirror call membership to sibling nodes.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// EventDispatcher accepts lifecycle events for serialized application to the
// registry. The transport and media layers produce events through it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) error
}
