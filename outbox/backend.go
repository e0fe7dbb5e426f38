package outbox

import (
	"context"
	"time"
)

// Backend is the storage contract a Worker polls. Claim atomically takes
// ownership of up to batchSize pending-or-lease-expired messages, FIFO by
// (created_at, id), marking them Claimed with workerID/leaseUntil and
// incrementing each message's attempts, so a crashed worker's claims expire
// and become reclaimable by a different worker.
type Backend interface {
	Claim(ctx context.Context, workerID string, lease time.Duration, batchSize int) ([]Message, error)
	MarkSucceeded(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Publisher delivers a fan-out message to every current subscriber of
// eventName. Implemented by package bus's Bus.
type Publisher interface {
	Publish(ctx context.Context, eventName string, payload []byte) error
}

// Sender delivers a routed message to exactly one consumer of queue.
// Implemented by package bus's Bus.
type Sender interface {
	Send(ctx context.Context, queue string, payload []byte) error
}
