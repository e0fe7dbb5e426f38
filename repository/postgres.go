package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/snapshot"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresRepository is the concrete backend grounded directly on
// go-eventstore.EventStore: one serializable transaction per Commit, a
// COALESCE(MAX(sequence),0) version check, and a unique-violation-as-
// conflict fallback for the race the transaction isolation level doesn't
// fully close.
//
// Expected schema:
//
//	CREATE TABLE events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    entity_id   TEXT NOT NULL,
//	    sequence    BIGINT NOT NULL,
//	    event_name  TEXT NOT NULL,
//	    event_version INT NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    timestamp_ms BIGINT NOT NULL,
//	    metadata    JSONB,
//	    UNIQUE (entity_id, sequence)
//	);
type PostgresRepository struct {
	db       *sql.DB
	snapshot snapshot.Store
	tracer   trace.Tracer
}

// NewPostgresRepository wraps an existing connection pool.
func NewPostgresRepository(db *sql.DB, snapshotStore snapshot.Store) *PostgresRepository {
	if snapshotStore == nil {
		snapshotStore = snapshot.NewPostgresStore(db)
	}
	return &PostgresRepository{
		db:       db,
		snapshot: snapshotStore,
		tracer:   otel.Tracer("go-cqrskit/repository"),
	}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*entity.Header, error) {
	ctx, span := r.tracer.Start(ctx, "repository.get", trace.WithAttributes(attribute.String("entity.id", id)))
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_name, event_version, payload, timestamp_ms, metadata
		FROM events
		WHERE entity_id = $1
		ORDER BY sequence ASC
	`, id)
	if err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend(id, err)
	}
	defer rows.Close()

	var events []entity.Record
	for rows.Next() {
		var (
			rec         entity.Record
			metadataRaw []byte
		)
		if err := rows.Scan(&rec.Sequence, &rec.EventName, &rec.Version, &rec.Payload, &rec.Timestamp, &metadataRaw); err != nil {
			span.RecordError(err)
			return nil, cqerrs.Backend(id, err)
		}
		rec.Metadata = decodeMetadata(metadataRaw)
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend(id, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	h := entity.NewHeader()
	if err := h.SetID(id); err != nil {
		return nil, err
	}
	h.LoadCommitted(0, events)
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return h, nil
}

func (r *PostgresRepository) Find(ctx context.Context, predicate func(*entity.Header) bool) ([]*entity.Header, error) {
	ctx, span := r.tracer.Start(ctx, "repository.find")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM events`)
	if err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, cqerrs.Backend("", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, cqerrs.Backend("", err)
	}

	var out []*entity.Header
	for _, id := range ids {
		h, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if h != nil && predicate(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *PostgresRepository) Commit(ctx context.Context, batch []Entry) error {
	ctx, span := r.tracer.Start(ctx, "repository.commit", trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend("", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		h := e.Header
		pending := h.Pending()
		if len(pending) == 0 && len(e.Extra) == 0 {
			continue
		}
		id := h.ID()
		expected := h.Version()

		var actual uint64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence), 0) FROM events WHERE entity_id = $1
		`, id).Scan(&actual)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			span.RecordError(err)
			return cqerrs.Backend(id, err)
		}
		if actual != expected {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return cqerrs.VersionConflict(id, expected, actual)
		}

		for _, rec := range pending {
			metadataRaw, err := encodeMetadata(rec.Metadata)
			if err != nil {
				return cqerrs.EncodeFailed(id, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO events (entity_id, sequence, event_name, event_version, payload, timestamp_ms, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, id, rec.Sequence, rec.EventName, rec.Version, rec.Payload, rec.Timestamp, metadataRaw)
			if err != nil {
				if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
					return cqerrs.VersionConflict(id, expected, actual)
				}
				span.RecordError(err)
				return cqerrs.Backend(id, err)
			}
		}
	}

	txCtx := WithTx(ctx, tx)
	applies := make([]func() error, 0)
	for _, e := range batch {
		for _, eff := range e.Extra {
			apply, err := eff.Prepare(txCtx)
			if err != nil {
				return err
			}
			applies = append(applies, apply)
		}
	}
	for _, apply := range applies {
		if err := apply(); err != nil {
			return fmt.Errorf("repository: side effect apply: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return cqerrs.Backend("", err)
	}

	for _, e := range batch {
		if len(e.Header.Pending()) > 0 {
			e.Header.ApplyCommit()
		}
	}
	span.SetAttributes(attribute.Bool("commit.success", true))
	return nil
}

func (r *PostgresRepository) SnapshotPut(ctx context.Context, id string, s snapshot.Snapshot) error {
	return r.snapshot.Put(ctx, id, s)
}

func (r *PostgresRepository) SnapshotGet(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	return r.snapshot.Get(ctx, id)
}
