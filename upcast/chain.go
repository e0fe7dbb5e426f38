// Package upcast transforms stored event payloads across schema versions at
// read time.
package upcast

import (
	"fmt"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/entity"
)

// Upcaster transforms a payload from FromVersion to ToVersion (always
// FromVersion+1) for a single event name.
type Upcaster struct {
	EventName   string
	FromVersion uint32
	ToVersion   uint32
	Transform   func(payload []byte) ([]byte, error)
}

// Chain is a fixed, ordered set of upcasters registered per aggregate type.
type Chain struct {
	byNameFrom map[string]Upcaster
	maxTarget  map[string]uint32
}

// NewChain builds a lookup table from a flat upcaster list. Order within the
// input slice does not matter; the chain is selected by (name, fromVersion)
// at apply time.
func NewChain(upcasters ...Upcaster) *Chain {
	c := &Chain{
		byNameFrom: make(map[string]Upcaster, len(upcasters)),
		maxTarget:  make(map[string]uint32, len(upcasters)),
	}
	for _, u := range upcasters {
		to := u.ToVersion
		if to == 0 {
			to = u.FromVersion + 1
		}
		u.ToVersion = to
		c.byNameFrom[key(u.EventName, u.FromVersion)] = u
		if to > c.maxTarget[u.EventName] {
			c.maxTarget[u.EventName] = to
		}
	}
	return c
}

func key(name string, from uint32) string {
	return fmt.Sprintf("%s@%d", name, from)
}

// Empty reports whether zero upcasters are registered, enabling the fast
// path that skips the transform pass entirely.
func (c *Chain) Empty() bool {
	return c == nil || len(c.byNameFrom) == 0
}

// Apply transforms a slice of committed records to current schema. It
// never mutates the input records.
func (c *Chain) Apply(records []entity.Record) ([]entity.Record, error) {
	if c.Empty() {
		return records, nil
	}
	out := make([]entity.Record, len(records))
	for i, r := range records {
		upcasted, err := c.applyOne(r)
		if err != nil {
			return nil, err
		}
		out[i] = upcasted
	}
	return out, nil
}

func (c *Chain) applyOne(r entity.Record) (entity.Record, error) {
	target, ok := c.maxTarget[r.EventName]
	if !ok {
		target = r.Version
	}
	cur := r.Clone()
	for cur.Version < target {
		u, ok := c.byNameFrom[key(cur.EventName, cur.Version)]
		if !ok {
			return entity.Record{}, cqerrs.SchemaGap(cur.EventName, cur.Version, target)
		}
		payload, err := u.Transform(cur.Payload)
		if err != nil {
			return entity.Record{}, cqerrs.DecodeFailed(cur.EventName, err)
		}
		cur.Payload = payload
		cur.Version = u.ToVersion
	}
	return cur, nil
}
