package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

// PGRepository stores keys in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert claims a key with ON CONFLICT DO NOTHING.
func (r *PGRepository) Insert(ctx context.Context, rec Record) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, owner, key, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, owner, key) DO NOTHING`,
		rec.Scope, rec.Owner, rec.Value, rec.Fingerprint, rec.CreatedAt)
	if err != nil {
		return false, db.Unavailable("idempotency: insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get reads a key.
func (r *PGRepository) Get(ctx context.Context, key Key) (Record, error) {
	rec := Record{Key: key}
	err := r.pool.QueryRow(ctx, `SELECT fingerprint, response, created_at FROM idempotency_keys
		WHERE scope = $1 AND owner = $2 AND key = $3`, key.Scope, key.Owner, key.Value).
		Scan(&rec.Fingerprint, &rec.Response, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, db.Unavailable("idempotency: get", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Complete stores the response of an in-flight key.
func (r *PGRepository) Complete(ctx context.Context, key Key, response []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE idempotency_keys SET response = $4
		WHERE scope = $1 AND owner = $2 AND key = $3`, key.Scope, key.Owner, key.Value, response)
	if err != nil {
		return db.Unavailable("idempotency: complete", err)
	}
	return nil
}

// Delete removes a key, typically used to roll back failed processing.
func (r *PGRepository) Delete(ctx context.Context, key Key) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND owner = $2 AND key = $3`,
		key.Scope, key.Owner, key.Value)
	if err != nil {
		return db.Unavailable("idempotency: delete", err)
	}
	return nil
}

// DeleteBefore removes entries created before cutoff.
func (r *PGRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, db.Unavailable("idempotency: cleanup", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
