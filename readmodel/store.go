// Package readmodel implements the typed projection store (C8): a
// (collection, id) keyed store with three consistency modes (direct,
// transactional side effect, lock-guarded) built over the same opaque-bytes
// policy as package entity.
package readmodel

import (
	"context"
	"encoding/json"
)

// Row is one stored projection: its id, version, and JSON-encoded value.
// Version starts at 1 on Insert and increments on every Upsert/Update.
type Row struct {
	ID      string
	Data    []byte
	Version uint64
}

// Decode unmarshals Data into out, a pointer to the caller's projection type.
func (r Row) Decode(out any) error {
	return json.Unmarshal(r.Data, out)
}

// Store is the collaborator-facing read-model contract, keyed by
// (collection, id). Collections are created implicitly on first write.
type Store interface {
	// Get loads one row (with its current version), or (false, nil) if
	// (collection, id) doesn't exist.
	Get(ctx context.Context, collection, id string) (Row, bool, error)

	// Insert writes value as a new row at version 1, failing with
	// cqerrs.AlreadyExists if (collection, id) already exists.
	Insert(ctx context.Context, collection, id string, value any) error

	// Upsert writes value regardless of whether (collection, id) exists,
	// bumping the stored version (or setting it to 1 for a new row).
	Upsert(ctx context.Context, collection, id string, value any) error

	// Update performs a compare-and-swap on the row's version: it writes
	// value and bumps the version only if the stored version equals
	// expectedVersion (0 for a row that doesn't exist yet), failing with
	// cqerrs.VersionConflict otherwise.
	Update(ctx context.Context, collection, id string, value any, expectedVersion uint64) error

	// Delete removes a row if present; absent is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Find returns every row in collection for which predicate(row)
	// returns true. Predicate receives the raw row so it can decode
	// lazily; order is unspecified.
	Find(ctx context.Context, collection string, predicate func(Row) bool) ([]Row, error)

	// FindOne returns the first matching row, or (Row{}, false, nil) if
	// none matches.
	FindOne(ctx context.Context, collection string, predicate func(Row) bool) (Row, bool, error)
}

func encodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}
