package readmodel

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresStore is the concrete read-model backend, grounded directly on
// circulation.service.insertCheckoutIntoReadModel's single-table write
// shape, generalized to an arbitrary (collection, id, payload) table.
// Every write goes through repository.ExecutorFromContext so staging a
// readmodel.Effect inside a repository.Commit batch runs in the same
// transaction as the aggregate's event insert.
//
// Expected schema:
//
//	CREATE TABLE readmodel_rows (
//	    collection TEXT NOT NULL,
//	    id         TEXT NOT NULL,
//	    data       JSONB NOT NULL,
//	    version    BIGINT NOT NULL DEFAULT 1,
//	    PRIMARY KEY (collection, id)
//	);
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tracer: otel.Tracer("go-cqrskit/readmodel")}
}

func (s *PostgresStore) exec(ctx context.Context) repository.Executor {
	return repository.ExecutorFromContext(ctx, s.db)
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Row, bool, error) {
	ctx, span := s.tracer.Start(ctx, "readmodel.get", trace.WithAttributes(
		attribute.String("readmodel.collection", collection), attribute.String("readmodel.id", id)))
	defer span.End()

	var data []byte
	var version uint64
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT data, version FROM readmodel_rows WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return Row{}, false, cqerrs.Backend(id, err)
	}
	return Row{ID: id, Data: data, Version: version}, true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection, id string, value any) error {
	ctx, span := s.tracer.Start(ctx, "readmodel.insert", trace.WithAttributes(
		attribute.String("readmodel.collection", collection), attribute.String("readmodel.id", id)))
	defer span.End()

	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO readmodel_rows (collection, id, data, version) VALUES ($1, $2, $3, 1)
	`, collection, id, data)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return cqerrs.AlreadyExists(id)
	}
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend(id, err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, collection, id string, value any) error {
	ctx, span := s.tracer.Start(ctx, "readmodel.upsert", trace.WithAttributes(
		attribute.String("readmodel.collection", collection), attribute.String("readmodel.id", id)))
	defer span.End()

	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO readmodel_rows (collection, id, data, version) VALUES ($1, $2, $3, 1)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, version = readmodel_rows.version + 1
	`, collection, id, data)
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend(id, err)
	}
	return nil
}

// Update performs a compare-and-swap on (collection, id, version): the row
// is written and its version bumped only if the stored version still
// equals expectedVersion. A zero rows-affected result is ambiguous between
// "row missing" and "version mismatch", so it is resolved with a follow-up
// read to report an accurate actual version in the VersionConflict. A
// missing row with expectedVersion 0 is inserted at version 1.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, value any, expectedVersion uint64) error {
	ctx, span := s.tracer.Start(ctx, "readmodel.update", trace.WithAttributes(
		attribute.String("readmodel.collection", collection), attribute.String("readmodel.id", id)))
	defer span.End()

	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE readmodel_rows SET data = $3, version = version + 1
		WHERE collection = $1 AND id = $2 AND version = $4
	`, collection, id, data, expectedVersion)
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend(id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cqerrs.Backend(id, err)
	}
	if n == 0 {
		var actual uint64
		lookupErr := s.exec(ctx).QueryRowContext(ctx, `
			SELECT version FROM readmodel_rows WHERE collection = $1 AND id = $2
		`, collection, id).Scan(&actual)
		if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
			return cqerrs.Backend(id, lookupErr)
		}
		if errors.Is(lookupErr, sql.ErrNoRows) && expectedVersion == 0 {
			_, err := s.exec(ctx).ExecContext(ctx, `
				INSERT INTO readmodel_rows (collection, id, data, version) VALUES ($1, $2, $3, 1)
			`, collection, id, data)
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return cqerrs.VersionConflict(id, expectedVersion, 1)
			}
			if err != nil {
				span.RecordError(err)
				return cqerrs.Backend(id, err)
			}
			return nil
		}
		return cqerrs.VersionConflict(id, expectedVersion, actual)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	ctx, span := s.tracer.Start(ctx, "readmodel.delete", trace.WithAttributes(
		attribute.String("readmodel.collection", collection), attribute.String("readmodel.id", id)))
	defer span.End()

	_, err := s.exec(ctx).ExecContext(ctx, `
		DELETE FROM readmodel_rows WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend(id, err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, collection string, predicate func(Row) bool) ([]Row, error) {
	rows, err := s.scanCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range rows {
		if predicate(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, collection string, predicate func(Row) bool) (Row, bool, error) {
	rows, err := s.scanCollection(ctx, collection)
	if err != nil {
		return Row{}, false, err
	}
	for _, r := range rows {
		if predicate(r) {
			return r, true, nil
		}
	}
	return Row{}, false, nil
}

// scanCollection loads every row of collection. Find/FindOne run the
// predicate in Go rather than SQL, matching Store's contract, which has
// no query language of its own.
func (s *PostgresStore) scanCollection(ctx context.Context, collection string) ([]Row, error) {
	ctx, span := s.tracer.Start(ctx, "readmodel.scan", trace.WithAttributes(attribute.String("readmodel.collection", collection)))
	defer span.End()

	dbRows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id, data, version FROM readmodel_rows WHERE collection = $1
	`, collection)
	if err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}
	defer dbRows.Close()

	var out []Row
	for dbRows.Next() {
		var r Row
		if err := dbRows.Scan(&r.ID, &r.Data, &r.Version); err != nil {
			return nil, cqerrs.Backend("", err)
		}
		out = append(out, r)
	}
	return out, dbRows.Err()
}
