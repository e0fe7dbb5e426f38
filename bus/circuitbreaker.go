package bus

import (
	"context"

	"github.com/sony/gobreaker"
)

// sender is the subset of Bus a CircuitBreakerSender wraps; satisfied by
// *Bus and by any other outbox.Sender-shaped type.
type sender interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

// CircuitBreakerSender wraps a Sender with a gobreaker.CircuitBreaker,
// tripping open after a run of Send failures (e.g. a queue with no
// listener draining it) so a stuck downstream doesn't stall every caller,
// the same wrap-the-backend-call idiom the pack's distlock.
// InstrumentedLocker applies to Acquire/Release.
type CircuitBreakerSender struct {
	next sender
	cb   *gobreaker.CircuitBreaker
}

// NewCircuitBreakerSender wraps next with a breaker named name using
// gobreaker's default settings.
func NewCircuitBreakerSender(next sender, name string) *CircuitBreakerSender {
	return &CircuitBreakerSender{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: name}),
	}
}

func (s *CircuitBreakerSender) Send(ctx context.Context, queue string, payload []byte) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.next.Send(ctx, queue, payload)
	})
	return err
}
