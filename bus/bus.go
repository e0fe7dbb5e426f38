// Package bus implements the in-process pub/sub and point-to-point façade
// (C11): Publish/Subscribe for fan-out delivery to every current
// subscriber of an event name, Send/Listen for competing-consumer delivery
// over a named queue. Grounded on the pack's channel-based
// memory broker, adapted from topic/consumer-group semantics to bus's
// simpler event-name/queue-name model.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Envelope is one delivered message.
type Envelope struct {
	ID        string
	EventName string
	Payload   []byte
}

// Bus is the in-process reference implementation of both the fan-out and
// point-to-point delivery models. It satisfies outbox.Publisher and
// outbox.Sender structurally, with no import back to package outbox.
type Bus struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers map[string]map[string]chan Envelope // eventName -> subscriberID -> channel
	queues      map[string]chan Envelope             // queue name -> shared channel
	tracer      trace.Tracer
}

// New returns an empty Bus. bufferSize sizes every channel it creates;
// Publish drops a message for a subscriber whose channel is full rather
// than block the committing thread, matching the memory broker's
// "channel full, skip" policy. Send does not drop: it waits for room.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		bufferSize:  bufferSize,
		subscribers: make(map[string]map[string]chan Envelope),
		queues:      make(map[string]chan Envelope),
		tracer:      otel.Tracer("go-cqrskit/bus"),
	}
}

// Publish delivers payload to every current Subscribe(eventName) receiver.
// A receiver whose channel is full does not block or fail the publish.
func (b *Bus) Publish(ctx context.Context, eventName string, payload []byte) error {
	_, span := b.tracer.Start(ctx, "bus.publish", trace.WithAttributes(attribute.String("bus.event_name", eventName)))
	defer span.End()

	env := Envelope{ID: uuid.NewString(), EventName: eventName, Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers[eventName] {
		select {
		case ch <- env:
		default:
		}
	}
	span.SetAttributes(attribute.Int("bus.subscribers", len(b.subscribers[eventName])))
	return nil
}

// Subscribe returns a Receiver fed every Publish call for eventName until
// the Receiver is closed.
func (b *Bus) Subscribe(eventName string) *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Envelope, b.bufferSize)
	if b.subscribers[eventName] == nil {
		b.subscribers[eventName] = make(map[string]chan Envelope)
	}
	b.subscribers[eventName][id] = ch

	return &Receiver{
		ch: ch,
		close: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers[eventName], id)
		},
	}
}

// Send delivers payload to exactly one Listen(queue) receiver by putting it
// on the queue's shared channel, created lazily. Unlike Publish, Send never
// silently drops: when the channel is full it blocks until ctx is done or a
// receiver drains it.
func (b *Bus) Send(ctx context.Context, queue string, payload []byte) error {
	_, span := b.tracer.Start(ctx, "bus.send", trace.WithAttributes(attribute.String("bus.queue", queue)))
	defer span.End()

	ch := b.queueChannel(queue)
	env := Envelope{ID: uuid.NewString(), EventName: queue, Payload: payload}
	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return ctx.Err()
	}
}

// Listen returns a Receiver competing with every other Listen(queue)
// receiver for deliveries sent to queue: each Send is received by exactly
// one of them.
func (b *Bus) Listen(queue string) *Receiver {
	ch := b.queueChannel(queue)
	return &Receiver{ch: ch, close: func() {}}
}

func (b *Bus) queueChannel(queue string) chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.queues[queue]
	if !ok {
		ch = make(chan Envelope, b.bufferSize)
		b.queues[queue] = ch
	}
	return ch
}
