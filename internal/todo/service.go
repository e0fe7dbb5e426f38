package todo

import "context"

// Service is the command/query façade the HTTP handler calls.
type Service interface {
	CreateTodo(ctx context.Context, id, title string) (*View, error)
	CompleteTodo(ctx context.Context, id string) (*View, error)
	ReopenTodo(ctx context.Context, id string) (*View, error)
	GetTodo(ctx context.Context, id string) (*View, error)
}
