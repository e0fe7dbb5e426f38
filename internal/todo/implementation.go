package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jules-labs/go-cqrskit/commit"
	"github.com/jules-labs/go-cqrskit/lock"
	"github.com/jules-labs/go-cqrskit/outbox"
	"github.com/jules-labs/go-cqrskit/readmodel"
	"github.com/jules-labs/go-cqrskit/repository"
)

const viewsCollection = "todos"

// snapshotFrequency is how many committed versions accumulate between
// automatic snapshots.
const snapshotFrequency = 5

// service implements Service: load the aggregate, run the command, then
// commit its events and read-model projection atomically via commit.Builder
// instead of a saga's hand-rolled compensating steps.
type service struct {
	repo   repository.Repository
	locks  lock.Manager
	views  readmodel.Store
	outbox outbox.Inserter
}

// NewService wires a Service over repo/locks/views/outboxBackend. outboxBackend
// may be nil, in which case no TodoCreated notification is queued.
func NewService(repo repository.Repository, locks lock.Manager, views readmodel.Store, outboxBackend outbox.Inserter) Service {
	return &service{repo: repo, locks: locks, views: views, outbox: outboxBackend}
}

// withLock serializes the whole load-command-commit critical section for
// id through s.locks, the same way lock.QueuedRepository does per Get/
// Commit pair, but held across the entire command so a racing command on
// the same id queues instead of retrying on VersionConflict.
func (s *service) withLock(ctx context.Context, id string, fn func(context.Context) error) error {
	handle, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer handle.Release()
	return fn(ctx)
}

func (s *service) load(ctx context.Context, id string) (*Todo, error) {
	return repository.GetAggregate(ctx, s.repo, id, New, RestoreSnapshot)
}

func (s *service) viewOf(t *Todo) View {
	return View{
		ID:        t.Header().ID(),
		Title:     t.Title,
		Done:      t.Done,
		Version:   t.Header().Version() + uint64(len(t.Header().Pending())),
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *service) CreateTodo(ctx context.Context, id, title string) (*View, error) {
	var view View
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		t, err := s.load(ctx, id)
		if err != nil {
			return fmt.Errorf("todo: load: %w", err)
		}
		if t.Header().Version() > 0 || len(t.Header().Pending()) > 0 {
			return fmt.Errorf("todo: %q already exists", id)
		}
		if err := t.Create(id, title); err != nil {
			return err
		}

		b := commit.NewBuilder(s.repo).CommitSnapshotted(t, snapshotFrequency)
		v := s.viewOf(t)
		b.ReadModel(readmodel.Insert(s.views, viewsCollection, id, v))
		if s.outbox != nil {
			b.Outbox(outbox.Insert(s.outbox, outbox.Message{EventName: "TodoCreated", Payload: mustJSON(v)}))
		}
		if err := b.Execute(ctx); err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *service) CompleteTodo(ctx context.Context, id string) (*View, error) {
	return s.transition(ctx, id, (*Todo).Complete, "TodoCompleted")
}

func (s *service) ReopenTodo(ctx context.Context, id string) (*View, error) {
	return s.transition(ctx, id, (*Todo).Reopen, "TodoReopened")
}

func (s *service) transition(ctx context.Context, id string, cmd func(*Todo), eventName string) (*View, error) {
	var view View
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		t, err := s.load(ctx, id)
		if err != nil {
			return fmt.Errorf("todo: load: %w", err)
		}
		if t.Header().ID() == "" {
			return fmt.Errorf("todo: %q not found", id)
		}
		cmd(t)

		b := commit.NewBuilder(s.repo).CommitSnapshotted(t, snapshotFrequency)
		v := s.viewOf(t)
		b.ReadModel(readmodel.Upsert(s.views, viewsCollection, id, v))
		if s.outbox != nil && len(t.Header().Pending()) > 0 {
			b.Outbox(outbox.Insert(s.outbox, outbox.Message{EventName: eventName, Payload: mustJSON(v)}))
		}
		if err := b.Execute(ctx); err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *service) GetTodo(ctx context.Context, id string) (*View, error) {
	row, ok, err := s.views.Get(ctx, viewsCollection, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("todo: %q not found", id)
	}
	var v View
	if err := row.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
