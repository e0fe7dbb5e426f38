package outbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Worker claims batches from a Backend and delivers each message: a routed
// message (Target set) goes to Sender.Send, a fan-out message goes to
// Publisher.Publish. A delivery failure leaves the message Claimed (so the
// lease expiring and a later Claim retries it) until its attempts reach
// maxAttempts, at which point it is moved to the terminal Failed state
// instead of being retried forever.
type Worker struct {
	id          string
	backend     Backend
	publisher   Publisher
	sender      Sender
	limiter     *rate.Limiter
	batchSize   int
	lease       time.Duration
	maxAttempts int
	tracer      trace.Tracer
}

// NewWorker returns a Worker identified by id, claiming up to batchSize
// messages per poll for lease at limiter's pace — mirrors the membership
// service's use of rate.NewLimiter to pace a polling loop. maxAttempts
// bounds how many Claims a message may go through before it is marked
// Failed rather than left for another retry.
func NewWorker(id string, backend Backend, publisher Publisher, sender Sender, limiter *rate.Limiter, batchSize int, lease time.Duration, maxAttempts int) *Worker {
	return &Worker{
		id:          id,
		backend:     backend,
		publisher:   publisher,
		sender:      sender,
		limiter:     limiter,
		batchSize:   batchSize,
		lease:       lease,
		maxAttempts: maxAttempts,
		tracer:      otel.Tracer("go-cqrskit/outbox"),
	}
}

// ProcessBatch claims and delivers one batch, returning the number of
// messages claimed (0 if the outbox was empty).
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	ctx, span := w.tracer.Start(ctx, "outbox.worker.process_batch", trace.WithAttributes(attribute.String("outbox.worker_id", w.id)))
	defer span.End()

	messages, err := w.backend.Claim(ctx, w.id, w.lease, w.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	var succeeded []string
	for _, msg := range messages {
		if err := w.deliver(ctx, msg); err != nil {
			span.RecordError(err)
			if msg.Attempts >= w.maxAttempts {
				if markErr := w.backend.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
					return len(messages), markErr
				}
			}
			// Otherwise leave the message Claimed: its lease expires and a
			// later Claim (by this worker or another) retries it.
			continue
		}
		succeeded = append(succeeded, msg.ID)
	}
	if len(succeeded) > 0 {
		if err := w.backend.MarkSucceeded(ctx, succeeded); err != nil {
			return len(messages), err
		}
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(messages)), attribute.Int("outbox.delivered", len(succeeded)))
	return len(messages), nil
}

// Run polls ProcessBatch until ctx is done, for callers that want a
// fire-and-forget background loop rather than driving ProcessBatch
// themselves.
func (w *Worker) Run(ctx context.Context) {
	for {
		if _, err := w.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (w *Worker) deliver(ctx context.Context, msg Message) error {
	if msg.IsRouted() {
		if w.sender == nil {
			return fmt.Errorf("outbox: worker has no Sender configured for routed message %q", msg.ID)
		}
		return w.sender.Send(ctx, msg.Target, msg.Payload)
	}
	if w.publisher == nil {
		return fmt.Errorf("outbox: worker has no Publisher configured for fan-out message %q", msg.ID)
	}
	return w.publisher.Publish(ctx, msg.EventName, msg.Payload)
}
