package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubReducer records the events it was given. Events with an empty
// participant id are treated as no-ops.
type stubReducer struct {
	mu    sync.Mutex
	kinds []domain.EventKind
}

func (r *stubReducer) Reduce(state *domain.Registry, ev domain.Event) *domain.Registry {
	r.mu.Lock()
	r.kinds = append(r.kinds, ev.Kind)
	r.mu.Unlock()

	if ev.ParticipantID == "" {
		return state
	}
	return state.With(ev.ParticipantID, domain.ParticipantStreams{ParticipantID: ev.ParticipantID})
}

func (r *stubReducer) seen() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

type stubSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *stubSink) Publish(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestDispatcher(t *testing.T, sink *stubSink) (*Dispatcher, *stubReducer) {
	t.Helper()
	reducer := &stubReducer{}
	// Avoid handing the dispatcher a non-nil interface wrapping a nil pointer.
	var eventSink ports.EventSink
	if sink != nil {
		eventSink = sink
	}
	d := NewDispatcher(reducer, eventSink, nil, zaptest.NewLogger(t).Sugar(), 16)
	return d, reducer
}

func TestDispatcher_AppliesEventsInOrder(t *testing.T) {
	d, reducer := newTestDispatcher(t, nil)
	d.Start(context.Background())

	kinds := []domain.EventKind{domain.EventStreamAdd, domain.EventStreamTrackAdd, domain.EventStreamRemove}
	for i, kind := range kinds {
		require.NoError(t, d.Dispatch(context.Background(), domain.Event{
			Kind:          kind,
			ParticipantID: domain.ParticipantID(string(rune('a' + i))),
		}))
	}
	d.Close()

	assert.Equal(t, kinds, reducer.seen())
	assert.Equal(t, 3, d.Current().Len())
}

func TestDispatcher_NotifiesOnlyOnChange(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	var mu sync.Mutex
	var notifications []*domain.Registry
	d.Subscribe(func(state *domain.Registry) {
		mu.Lock()
		notifications = append(notifications, state)
		mu.Unlock()
	})

	d.Start(context.Background())
	require.NoError(t, d.Dispatch(context.Background(), domain.Event{
		Kind: domain.EventStreamAdd, ParticipantID: "u1",
	}))
	// Empty participant id makes the stub reducer return the same reference.
	require.NoError(t, d.Dispatch(context.Background(), domain.Event{
		Kind: domain.EventMediaRejected,
	}))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notifications, 1)
	assert.Same(t, d.Current(), notifications[0])
}

func TestDispatcher_ForwardsAppliedEventsToSink(t *testing.T) {
	sink := &stubSink{}
	d, _ := newTestDispatcher(t, sink)
	d.Start(context.Background())

	require.NoError(t, d.Dispatch(context.Background(), domain.Event{
		Kind: domain.EventStreamAdd, ParticipantID: "u1",
	}))
	require.NoError(t, d.Dispatch(context.Background(), domain.Event{
		Kind: domain.EventParticipantRemoved, ParticipantID: "u1",
	}))
	d.Close()

	assert.Equal(t, 2, sink.count())
}

func TestDispatcher_SinkFailureDoesNotStopLoop(t *testing.T) {
	sink := &stubSink{err: errors.New("redis down")}
	d, reducer := newTestDispatcher(t, sink)
	d.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), domain.Event{
			Kind: domain.EventStreamAdd, ParticipantID: "u1",
		}))
	}
	d.Close()

	assert.Len(t, reducer.seen(), 3)
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	d, reducer := newTestDispatcher(t, nil)
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Dispatch(context.Background(), domain.Event{
			Kind: domain.EventStreamAdd, ParticipantID: "u1",
		}))
	}
	d.Close()

	assert.Len(t, reducer.seen(), 10)
	assert.ErrorContains(t, d.Dispatch(context.Background(), domain.Event{Kind: domain.EventStreamAdd}), "closed")
}

func TestDispatcher_InitialStateIsCanonicalEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	assert.Same(t, domain.EmptyRegistry, d.Current())
}
