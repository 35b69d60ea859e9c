package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

// SQLiteRepository stores keys in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps a handle opened with db.OpenSQLite.
func NewSQLiteRepository(handle *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: handle}
}

// Insert claims a key with ON CONFLICT DO NOTHING.
func (r *SQLiteRepository) Insert(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO idempotency_keys (scope, owner, key, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scope, owner, key) DO NOTHING`,
		rec.Scope, rec.Owner, rec.Value, rec.Fingerprint, rec.CreatedAt.UnixNano())
	if err != nil {
		return false, db.Unavailable("idempotency: insert", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, db.Unavailable("idempotency: insert", err)
	}
	return affected == 1, nil
}

// Get reads a key.
func (r *SQLiteRepository) Get(ctx context.Context, key Key) (Record, error) {
	rec := Record{Key: key}
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `SELECT fingerprint, response, created_at FROM idempotency_keys
		WHERE scope = ? AND owner = ? AND key = ?`, key.Scope, key.Owner, key.Value).
		Scan(&rec.Fingerprint, &rec.Response, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, db.Unavailable("idempotency: get", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

// Complete stores the response of an in-flight key.
func (r *SQLiteRepository) Complete(ctx context.Context, key Key, response []byte) error {
	_, err := r.db.ExecContext(ctx, `UPDATE idempotency_keys SET response = ?
		WHERE scope = ? AND owner = ? AND key = ?`, response, key.Scope, key.Owner, key.Value)
	if err != nil {
		return db.Unavailable("idempotency: complete", err)
	}
	return nil
}

// Delete removes a key.
func (r *SQLiteRepository) Delete(ctx context.Context, key Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE scope = ? AND owner = ? AND key = ?`,
		key.Scope, key.Owner, key.Value)
	if err != nil {
		return db.Unavailable("idempotency: delete", err)
	}
	return nil
}

// DeleteBefore removes entries created before cutoff.
func (r *SQLiteRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, db.Unavailable("idempotency: cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Unavailable("idempotency: cleanup", err)
	}
	return n, nil
}

var _ Repository = (*SQLiteRepository)(nil)
