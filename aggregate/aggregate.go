// Package aggregate defines the minimal contract a domain object must
// satisfy to be hydrated and committed by a Repository.
package aggregate

import (
	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/upcast"
)

// Aggregate is any domain object whose state is rebuilt by replaying
// events. Apply must be a pure function of current in-memory state and the
// event; it is called once per record during hydrate, never during normal
// command execution.
type Aggregate interface {
	Header() *entity.Header
	Apply(record entity.Record) error
}

// Upcastable is implemented by aggregates that register a fixed upcaster
// chain; aggregates with no versioned events simply don't implement it.
type Upcastable interface {
	Upcasters() *upcast.Chain
}

// Hydrate replays committed events into a, honoring the replaying-flag
// discipline: the header is marked replaying before the loop
// and unmarked after, regardless of mid-loop failure, so a caller that
// inspects Replaying() after an error sees it cleared.
func Hydrate(a Aggregate, events []entity.Record) error {
	h := a.Header()
	h.BeginReplay()
	defer h.EndReplay()

	for _, r := range events {
		if err := a.Apply(r); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFunc decodes a record's payload and applies it to the receiver; it
// is the per-event-name unit registered in a Registry.
type DecodeFunc func(payload []byte) error

// Registry is a runtime name->handler table realizing a "registry of
// (event_name -> constructor)" pattern, an alternative to macro-generated
// apply dispatchers.
type Registry struct {
	handlers map[string]DecodeFunc
}

// NewRegistry returns an empty registry ready for On calls.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]DecodeFunc)}
}

// On registers the handler invoked when an event named name is applied.
func (reg *Registry) On(name string, fn DecodeFunc) *Registry {
	reg.handlers[name] = fn
	return reg
}

// Apply dispatches record to its registered handler, or fails with
// UnknownEvent if none is registered — a fatal-during-hydrate case: a
// committed event the current binary doesn't know how to apply.
func (reg *Registry) Apply(entityID string, record entity.Record) error {
	fn, ok := reg.handlers[record.EventName]
	if !ok {
		return cqerrs.UnknownEvent(entityID, record.EventName)
	}
	return fn(record.Payload)
}
