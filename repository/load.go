package repository

import (
	"context"

	"github.com/jules-labs/go-cqrskit/aggregate"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/upcast"
)

// Factory constructs a zero-value aggregate instance ready for Hydrate.
type Factory[A aggregate.Aggregate] func() A

// GetAggregate loads id via repo, restoring from a snapshot when one exists
// and replaying only the events committed after it, then replaying the
// remainder (or the full log, with no snapshot) through Hydrate.
//
// restore, if non-nil, applies a snapshot's payload onto a freshly
// constructed aggregate before event replay resumes.
func GetAggregate[A aggregate.Aggregate](
	ctx context.Context,
	repo Repository,
	id string,
	newAggregate Factory[A],
	restore func(a A, payload []byte) error,
) (A, error) {
	var zero A

	snap, err := repo.SnapshotGet(ctx, id)
	if err != nil {
		return zero, err
	}

	a := newAggregate()
	h := a.Header()

	header, err := repo.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if header == nil {
		// Brand new entity: nothing to replay, snapshot is moot. The id is
		// left unset so callers can tell "never written" from "loaded".
		return a, nil
	}
	if err := h.SetID(id); err != nil {
		return zero, err
	}

	var startVersion uint64
	events := header.Events()
	if snap != nil {
		if restore != nil {
			if err := restore(a, snap.Payload); err != nil {
				return zero, err
			}
		}
		startVersion = snap.Version
		events = eventsAfter(events, snap.Version)
	}

	upcasted := events
	if u, ok := aggregate.Aggregate(a).(aggregate.Upcastable); ok {
		chain := u.Upcasters()
		upcasted, err = chain.Apply(events)
		if err != nil {
			return zero, err
		}
	}

	h.LoadCommitted(startVersion, upcasted)
	if err := aggregate.Hydrate(a, upcasted); err != nil {
		return zero, err
	}
	return a, nil
}

func eventsAfter(events []entity.Record, version uint64) []entity.Record {
	for i, e := range events {
		if e.Sequence > version {
			return events[i:]
		}
	}
	return nil
}
