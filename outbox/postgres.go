package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresBackend is the concrete Backend, grounded on the fitpulse
// activity-service Dispatcher's claim-batch loop (SELECT ... FOR UPDATE
// SKIP LOCKED, then an UPDATE marking the claim) adapted from a fixed
// claimed_at timestamp to a worker_id/lease_until lease, so a worker that
// dies mid-delivery releases its claim when the lease expires instead of
// holding the message forever.
//
// Expected schema:
//
//	CREATE TABLE outbox_messages (
//	    id           TEXT PRIMARY KEY,
//	    event_name   TEXT NOT NULL,
//	    target       TEXT NOT NULL DEFAULT '',
//	    payload      BYTEA NOT NULL,
//	    metadata     JSONB NOT NULL DEFAULT '{}',
//	    state        TEXT NOT NULL DEFAULT 'pending',
//	    claimed_by   TEXT NOT NULL DEFAULT '',
//	    lease_until  TIMESTAMPTZ,
//	    attempts     INT NOT NULL DEFAULT 0,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresBackend struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db, tracer: otel.Tracer("go-cqrskit/outbox")}
}

func (b *PostgresBackend) exec(ctx context.Context) repository.Executor {
	return repository.ExecutorFromContext(ctx, b.db)
}

// Insert joins the repository's in-flight transaction when called from
// inside an Effect.Prepare apply closure during repository.Commit.
func (b *PostgresBackend) Insert(ctx context.Context, msg Message) error {
	ctx, span := b.tracer.Start(ctx, "outbox.insert", trace.WithAttributes(attribute.String("outbox.event_name", msg.EventName)))
	defer span.End()

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return cqerrs.EncodeFailed(msg.ID, err)
	}
	_, err = b.exec(ctx).ExecContext(ctx, `
		INSERT INTO outbox_messages (id, event_name, target, payload, metadata, state, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
	`, msg.ID, msg.EventName, msg.Target, msg.Payload, metadata)
	if err != nil {
		span.RecordError(err)
		return cqerrs.Backend(msg.ID, err)
	}
	return nil
}

func (b *PostgresBackend) Claim(ctx context.Context, workerID string, lease time.Duration, batchSize int) ([]Message, error) {
	ctx, span := b.tracer.Start(ctx, "outbox.claim", trace.WithAttributes(attribute.String("outbox.worker_id", workerID)))
	defer span.End()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_name, target, payload, metadata, attempts, created_at
		FROM outbox_messages
		WHERE state = 'pending' OR (state = 'claimed' AND lease_until < NOW())
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}

	var claimed []Message
	var ids []string
	for rows.Next() {
		var m Message
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.EventName, &m.Target, &m.Payload, &metadata, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, cqerrs.Backend("", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				rows.Close()
				return nil, cqerrs.DecodeFailed(m.ID, err)
			}
		}
		m.State = StateClaimed
		m.ClaimedBy = workerID
		claimed = append(claimed, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, cqerrs.Backend("", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	leaseUntil := time.Now().Add(lease)
	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox_messages SET state = 'claimed', claimed_by = $1, lease_until = $2, attempts = attempts + 1
		WHERE id = ANY($3)
	`, workerID, leaseUntil, pq.Array(ids)); err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, cqerrs.Backend("", err)
	}

	for i := range claimed {
		claimed[i].LeaseUntil = leaseUntil
		claimed[i].Attempts++
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(claimed)))
	return claimed, nil
}

func (b *PostgresBackend) MarkSucceeded(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `
		UPDATE outbox_messages SET state = 'succeeded' WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return cqerrs.Backend("", err)
	}
	return nil
}

// MarkFailed moves id to the terminal Failed state. attempts is already
// current as of the Claim that handed this delivery to the caller; a
// worker below max_attempts should leave the message Claimed instead of
// calling MarkFailed, so lease expiry returns it to Pending for retry.
func (b *PostgresBackend) MarkFailed(ctx context.Context, id string, _ string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE outbox_messages SET state = 'failed' WHERE id = $1
	`, id)
	if err != nil {
		return cqerrs.Backend(id, err)
	}
	return nil
}
