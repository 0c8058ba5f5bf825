package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/infrastructure/monitoring"
	"callmesh/pkg/tracing"

	"go.uber.org/zap"
)

// Observer is notified with the new registry value after every transition
// that changed it. Observers run on the dispatch goroutine and must not
// block.
type Observer func(*domain.Registry)

type envelope struct {
	ctx context.Context
	ev  domain.Event
}

// Dispatcher serializes lifecycle events onto a single goroutine, applies
// the reducer, and holds the current authoritative registry value. The
// reducer never sees concurrent invocations; readers get the latest value
// through Current without blocking the loop.
type Dispatcher struct {
	reducer   ports.Reducer
	sink      ports.EventSink               // optional
	collector *monitoring.RegistryCollector // optional
	logger    *zap.SugaredLogger

	events chan envelope

	mu        sync.RWMutex
	current   *domain.Registry
	observers []Observer

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func NewDispatcher(
	reducer ports.Reducer,
	sink ports.EventSink,
	collector *monitoring.RegistryCollector,
	logger *zap.SugaredLogger,
	queueSize int,
) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		reducer:   reducer,
		sink:      sink,
		collector: collector,
		logger:    logger,
		events:    make(chan envelope, queueSize),
		current:   domain.EmptyRegistry,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the event loop until Close is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.closed:
			// Drain whatever was enqueued before shutdown so commanded
			// resource release still happens.
			for {
				select {
				case env := <-d.events:
					d.apply(env.ctx, env.ev)
				default:
					return
				}
			}
		case env := <-d.events:
			d.apply(env.ctx, env.ev)
		}
	}
}

// Dispatch enqueues one event for application. It blocks while the queue is
// full and fails when the dispatcher is closed or the context expires.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	select {
	case <-d.closed:
		return fmt.Errorf("dispatcher closed")
	default:
	}

	select {
	case d.events <- envelope{ctx: ctx, ev: ev}:
		return nil
	case <-d.closed:
		return fmt.Errorf("dispatcher closed")
	case <-ctx.Done():
		return fmt.Errorf("dispatch cancelled: %w", ctx.Err())
	}
}

func (d *Dispatcher) apply(ctx context.Context, ev domain.Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := tracing.TraceRegistryEvent(ctx, string(ev.Kind), string(ev.ParticipantID))
	defer span.End()

	start := time.Now()

	d.mu.RLock()
	prev := d.current
	d.mu.RUnlock()

	next := d.reducer.Reduce(prev, ev)
	changed := next != prev

	tracing.AddSpanAttributes(spanCtx, tracing.ChangedKey.Bool(changed))
	if d.collector != nil {
		d.collector.RecordApply(ev.Kind, changed, time.Since(start), next)
	}

	if changed {
		d.mu.Lock()
		d.current = next
		observers := d.observers
		d.mu.Unlock()

		for _, observer := range observers {
			observer(next)
		}
		d.logger.Debugw("registry updated",
			"event_kind", ev.Kind,
			"participant_id", ev.ParticipantID,
			"participants", next.Len(),
			"streams", next.StreamCount(),
		)
	}

	if d.sink != nil {
		if err := d.sink.Publish(spanCtx, ev); err != nil {
			tracing.RecordError(spanCtx, err)
			d.logger.Warnw("event sink publish failed", "event_kind", ev.Kind, "error", err)
		}
	}
}

// Current returns the latest registry value. Consumers compare the returned
// pointer against a previously seen one to detect change.
func (d *Dispatcher) Current() *domain.Registry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Subscribe registers an observer for registry changes.
func (d *Dispatcher) Subscribe(observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer)
}

// Close stops accepting events and waits for the loop to drain and exit.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	<-d.done
}
