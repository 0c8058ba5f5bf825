package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WireEvent is the redis representation of an applied registry event. Media
// handles never cross the wire; sibling nodes only track call membership, so
// stream and track identity travel as their opaque id strings.
type WireEvent struct {
	Kind          domain.EventKind     `json:"kind"`
	ParticipantID domain.ParticipantID `json:"participant_id,omitempty"`
	StreamID      string               `json:"stream_id,omitempty"`
	TrackID       string               `json:"track_id,omitempty"`
	StreamKind    domain.StreamKind    `json:"stream_kind,omitempty"`
	InstanceID    string               `json:"instance_id"`
	Timestamp     time.Time            `json:"timestamp"`
}

// EventMirror publishes applied registry events to a redis channel so
// sibling nodes can observe call membership. It implements ports.EventSink.
type EventMirror struct {
	client     *redis.Client
	instanceID string
	channel    string
	retryCfg   retry.Config
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventMirror(
	client *redis.Client,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventMirror {
	return &EventMirror{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		retryCfg:   retry.DefaultConfig(),
		logger:     logger,
	}
}

// Publish mirrors one applied event. Transient redis failures are retried
// with backoff; the dispatch loop treats a final failure as log-and-continue.
func (m *EventMirror) Publish(ctx context.Context, ev domain.Event) error {
	wire := WireEvent{
		Kind:          ev.Kind,
		ParticipantID: ev.ParticipantID,
		StreamKind:    ev.StreamKind,
		InstanceID:    m.instanceID,
		Timestamp:     time.Now(),
	}
	if ev.Stream != nil {
		wire.StreamID = ev.Stream.ID()
	}
	if ev.Track != nil {
		wire.TrackID = ev.Track.ID()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = retry.Do(ctx, m.retryCfg, func() error {
		return m.client.Publish(ctx, m.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	m.logger.Debugw("mirrored event",
		"kind", wire.Kind,
		"participant_id", wire.ParticipantID,
		"stream_id", wire.StreamID,
	)
	return nil
}

// Subscribe consumes mirrored events from sibling instances until ctx is
// cancelled. Events published by this instance are skipped. Only one
// subscription may be live at a time, but Subscribe may be called again after
// a previous call returns.
func (m *EventMirror) Subscribe(ctx context.Context, handler func(*WireEvent) error) error {
	m.mu.Lock()
	if m.pubsub != nil {
		m.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := m.client.Subscribe(ctx, m.channel)
	m.pubsub = pubsub
	m.mu.Unlock()

	defer func() {
		pubsub.Close()
		m.mu.Lock()
		if m.pubsub == pubsub {
			m.pubsub = nil
		}
		m.mu.Unlock()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event WireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				m.logger.Warnw("failed to unmarshal mirrored event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == m.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				m.logger.Warnw("error handling mirrored event",
					"kind", event.Kind,
					"error", err,
				)
			}
		}
	}
}

// Close closes the live subscription, if any.
func (m *EventMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pubsub != nil {
		return m.pubsub.Close()
	}
	return nil
}
