package bus_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jules-labs/go-cqrskit/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := bus.New(8)
	ctx := context.Background()

	r1 := b.Subscribe("ItemCheckedOut")
	r2 := b.Subscribe("ItemCheckedOut")
	defer r1.Close()
	defer r2.Close()

	require.NoError(t, b.Publish(ctx, "ItemCheckedOut", []byte("payload")))

	env1, err := r1.Receive(ctx)
	require.NoError(t, err)
	env2, err := r2.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, []byte("payload"), env1.Payload)
	assert.Equal(t, []byte("payload"), env2.Payload)
}

func TestPublishDoesNotReachClosedSubscriber(t *testing.T) {
	b := bus.New(8)
	ctx := context.Background()

	r := b.Subscribe("X")
	r.Close()

	require.NoError(t, b.Publish(ctx, "X", []byte("payload")))

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	r2 := b.Subscribe("X")
	_, err := r2.Receive(timeoutCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestSendDeliversToExactlyOneListener checks Send's exclusivity property:
// a Send reaches exactly one of N competing listeners.
func TestSendDeliversToExactlyOneListener(t *testing.T) {
	b := bus.New(8)
	ctx := context.Background()

	r1 := b.Listen("notifications")
	r2 := b.Listen("notifications")

	require.NoError(t, b.Send(ctx, "notifications", []byte("hello")))

	var deliveries atomic.Int32
	done := make(chan struct{}, 2)
	for _, r := range []*bus.Receiver{r1, r2} {
		go func(r *bus.Receiver) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			if _, err := r.Receive(timeoutCtx); err == nil {
				deliveries.Add(1)
			}
			done <- struct{}{}
		}(r)
	}
	<-done
	<-done
	assert.Equal(t, int32(1), deliveries.Load())
}
