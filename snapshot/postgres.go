package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresStore is the concrete backend grounded on
// go-eventstore.EventStore's SaveSnapshot/LoadSnapshot: one row per
// aggregate id, overwritten in place by version-guarded UPSERT.
//
// Expected schema:
//
//	CREATE TABLE snapshots (
//	    id        TEXT PRIMARY KEY,
//	    version   BIGINT NOT NULL,
//	    payload   BYTEA NOT NULL,
//	    codec_tag TEXT NOT NULL DEFAULT '',
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tracer: otel.Tracer("go-cqrskit/snapshot")}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "snapshot.get", trace.WithAttributes(attribute.String("entity.id", id)))
	defer span.End()

	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, payload, codec_tag
		FROM snapshots
		WHERE id = $1
	`, id).Scan(&snap.ID, &snap.Version, &snap.Payload, &snap.CodecTag)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("snapshot: load %s: %w", id, err)
	}
	return &snap, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, snap Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "snapshot.put", trace.WithAttributes(
		attribute.String("entity.id", id),
		attribute.Int64("snapshot.version", int64(snap.Version)),
	))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, version, payload, codec_tag, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version,
		    payload = EXCLUDED.payload,
		    codec_tag = EXCLUDED.codec_tag,
		    updated_at = NOW()
		WHERE snapshots.version < EXCLUDED.version
	`, id, snap.Version, snap.Payload, snap.CodecTag)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("snapshot: put %s: %w", id, err)
	}
	return nil
}
