package aggregate_test

import (
	"encoding/json"
	"testing"

	"github.com/jules-labs/go-cqrskit/aggregate"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// todo is a minimal create/complete/reopen aggregate fixture for this
// package's tests.
type todo struct {
	header    *entity.Header
	registry  *aggregate.Registry
	User      string
	Task      string
	Completed bool
}

type initializedPayload struct {
	User string `json:"user"`
	Task string `json:"task"`
}

func newTodo() *todo {
	t := &todo{header: entity.NewHeader()}
	t.registry = aggregate.NewRegistry().
		On("Initialized", func(p []byte) error {
			var e initializedPayload
			if err := json.Unmarshal(p, &e); err != nil {
				return err
			}
			t.User = e.User
			t.Task = e.Task
			return nil
		}).
		On("Completed", func(p []byte) error {
			t.Completed = true
			return nil
		}).
		On("Reopened", func(p []byte) error {
			t.Completed = false
			return nil
		})
	return t
}

func (t *todo) Header() *entity.Header { return t.header }

func (t *todo) Apply(r entity.Record) error {
	return t.registry.Apply(t.header.ID(), r)
}

func (t *todo) Initialize(id, user, task string) error {
	if err := t.header.SetID(id); err != nil {
		return err
	}
	payload, err := json.Marshal(initializedPayload{User: user, Task: task})
	if err != nil {
		return err
	}
	t.header.Digest("Initialized", payload, 1)
	return t.Apply(entity.Record{EventName: "Initialized", Payload: payload})
}

func (t *todo) Complete() {
	if t.Completed {
		return // guarded: already complete, no event appended
	}
	t.header.Digest("Completed", nil, 1)
	t.Completed = true
}

func (t *todo) Reopen() {
	if !t.Completed {
		return
	}
	t.header.Digest("Reopened", nil, 1)
	t.Completed = false
}

func TestTodoLifecycleMatchesScenario1(t *testing.T) {
	td := newTodo()
	require.NoError(t, td.Initialize("t1", "u1", "ship"))
	td.Complete()

	assert.Equal(t, uint64(0), td.Header().Version()) // not yet committed
	assert.Len(t, td.Header().Pending(), 2)
	assert.Equal(t, "Initialized", td.Header().Pending()[0].EventName)
	assert.Equal(t, "Completed", td.Header().Pending()[1].EventName)
	assert.True(t, td.Completed)
}

func TestGuardedCompleteAppendsNoEvent(t *testing.T) {
	td := newTodo()
	require.NoError(t, td.Initialize("t1", "u1", "ship"))
	td.Complete()
	before := len(td.Header().Pending())
	td.Complete() // already completed: guard is false
	assert.Len(t, td.Header().Pending(), before)
}

func TestHydrateReplaysWithoutRerecording(t *testing.T) {
	fresh := newTodo()
	payload, err := json.Marshal(initializedPayload{User: "u1", Task: "ship"})
	require.NoError(t, err)

	events := []entity.Record{
		{EventName: "Initialized", Version: 1, Payload: payload, Sequence: 1},
		{EventName: "Completed", Version: 1, Sequence: 2},
	}
	fresh.Header().LoadCommitted(0, events)
	require.NoError(t, aggregate.Hydrate(fresh, events))

	assert.False(t, fresh.Header().Replaying())
	assert.Empty(t, fresh.Header().Pending())
	assert.True(t, fresh.Completed)
	assert.Equal(t, "ship", fresh.Task)
}

func TestApplyUnknownEventIsFatal(t *testing.T) {
	td := newTodo()
	err := aggregate.Hydrate(td, []entity.Record{{EventName: "DoesNotExist"}})
	require.Error(t, err)
}
