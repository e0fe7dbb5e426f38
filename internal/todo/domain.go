// Package todo is the worked demo aggregate: a todo item with Create/
// Complete/Reopen commands, walking through its lifecycle and the
// optimistic-conflict case a racing commit hits.
package todo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jules-labs/go-cqrskit/aggregate"
	"github.com/jules-labs/go-cqrskit/entity"
)

// Todo is the aggregate: title, done flag, and the header every entity
// embeds for replay/commit bookkeeping.
type Todo struct {
	header *entity.Header
	Title  string
	Done   bool
}

// New returns a zero-value Todo ready for Hydrate or a Create command.
func New() *Todo {
	return &Todo{header: entity.NewHeader()}
}

func (t *Todo) Header() *entity.Header { return t.header }

// createdEvent is the payload of a TodoCreated event.
type createdEvent struct {
	Title string `json:"title"`
}

// Create initializes a brand-new todo. Fails if the aggregate already has
// an id (i.e. it was loaded rather than freshly constructed).
func (t *Todo) Create(id, title string) error {
	if t.header.ID() != "" {
		return fmt.Errorf("todo: already initialized as %q", t.header.ID())
	}
	if err := t.header.SetID(id); err != nil {
		return err
	}
	payload, err := json.Marshal(createdEvent{Title: title})
	if err != nil {
		return err
	}
	t.header.Digest("TodoCreated", payload, 1)
	t.Title = title
	t.Done = false
	return nil
}

// Complete marks the todo done. A no-op (no event recorded) if already
// done, so completing twice does not append a redundant event.
func (t *Todo) Complete() {
	if t.Done {
		return
	}
	t.header.Digest("TodoCompleted", nil, 1)
	t.Done = true
}

// Reopen marks the todo not done. A no-op if already open.
func (t *Todo) Reopen() {
	if !t.Done {
		return
	}
	t.header.Digest("TodoReopened", nil, 1)
	t.Done = false
}

// Apply implements aggregate.Aggregate, replaying one committed event.
func (t *Todo) Apply(r entity.Record) error {
	switch r.EventName {
	case "TodoCreated":
		var e createdEvent
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return err
		}
		t.Title = e.Title
		t.Done = false
	case "TodoCompleted":
		t.Done = true
	case "TodoReopened":
		t.Done = false
	default:
		return fmt.Errorf("todo: unknown event %q", r.EventName)
	}
	return nil
}

// snapshotPayload is the wire shape commit.Builder's CommitSnapshotted
// persists.
type snapshotPayload struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// SnapshotPayload implements commit.Snapshottable.
func (t *Todo) SnapshotPayload() ([]byte, error) {
	return json.Marshal(snapshotPayload{Title: t.Title, Done: t.Done})
}

// RestoreSnapshot implements the restore callback repository.GetAggregate
// expects, reconstructing state from a stored snapshot payload.
func RestoreSnapshot(t *Todo, payload []byte) error {
	var s snapshotPayload
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	t.Title = s.Title
	t.Done = s.Done
	return nil
}

var _ aggregate.Aggregate = (*Todo)(nil)

// View is the read-model projection served by GET endpoints.
type View struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
