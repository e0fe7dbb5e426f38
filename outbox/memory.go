package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is the in-process reference Backend: a slice of messages
// guarded by a mutex, claim order following insertion order.
type MemoryBackend struct {
	mu       sync.Mutex
	messages map[string]*Message
	order    []string
}

// NewMemoryBackend returns an empty outbox.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{messages: make(map[string]*Message)}
}

// Insert stages msg as pending, assigning it an id if empty.
func (b *MemoryBackend) Insert(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.State = StatePending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	b.messages[msg.ID] = &msg
	b.order = append(b.order, msg.ID)
	return nil
}

func (b *MemoryBackend) Claim(_ context.Context, workerID string, lease time.Duration, batchSize int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var claimed []Message
	for _, id := range b.order {
		if len(claimed) >= batchSize {
			break
		}
		msg := b.messages[id]
		if msg == nil || msg.State == StateSucceeded {
			continue
		}
		claimable := msg.State == StatePending || (msg.State == StateClaimed && now.After(msg.LeaseUntil))
		if !claimable {
			continue
		}
		msg.State = StateClaimed
		msg.ClaimedBy = workerID
		msg.LeaseUntil = now.Add(lease)
		msg.Attempts++
		claimed = append(claimed, *msg)
	}
	return claimed, nil
}

func (b *MemoryBackend) MarkSucceeded(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		if msg, ok := b.messages[id]; ok {
			msg.State = StateSucceeded
		}
	}
	return nil
}

// MarkFailed moves id to the terminal Failed state. Attempts is already
// current as of the Claim that handed this delivery to the caller; a
// worker below max_attempts should leave the message Claimed instead of
// calling MarkFailed, so lease expiry returns it to Pending for retry.
func (b *MemoryBackend) MarkFailed(_ context.Context, id string, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg, ok := b.messages[id]; ok {
		msg.State = StateFailed
	}
	return nil
}
