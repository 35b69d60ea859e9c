package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

const pgEntryColumns = `id::text, operation, entity_type, entity_id, user_email, status, message, metadata, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert appends one row.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	if err := insertPG(ctx, r.pool, entry); err != nil {
		return db.Unavailable("audit: insert", err)
	}
	return nil
}

// CountSince counts rows in the window.
func (r *PGRepository) CountSince(ctx context.Context, operation, userEmail string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE operation = $1 AND user_email = $2 AND created_at >= $3`,
		operation, userEmail, since).Scan(&count)
	if err != nil {
		return 0, db.Unavailable("audit: count", err)
	}
	return count, nil
}

// InsertIfBelow serialises callers for the same (operation, user_email) key
// on a transaction-scoped advisory lock, then counts and conditionally
// inserts. ReadCommitted gives the count a snapshot taken after the lock is
// granted.
func (r *PGRepository) InsertIfBelow(ctx context.Context, entry Entry, since time.Time, limit int) (Admission, error) {
	var adm Admission
	err := db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, windowLockKey(entry.Operation, entry.UserEmail)); err != nil {
			return fmt.Errorf("lock window: %w", err)
		}
		var oldest *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*), MIN(created_at) FROM audit_log WHERE operation = $1 AND user_email = $2 AND created_at >= $3`,
			entry.Operation, entry.UserEmail, since).Scan(&adm.Count, &oldest); err != nil {
			return fmt.Errorf("count window: %w", err)
		}
		if oldest != nil {
			adm.Oldest = oldest.UTC()
		}
		if adm.Count >= limit {
			return nil
		}
		if err := insertPG(ctx, tx, entry); err != nil {
			return err
		}
		adm.Admitted = true
		if adm.Oldest.IsZero() {
			adm.Oldest = entry.CreatedAt
		}
		return nil
	})
	if err != nil {
		return Admission{}, db.Unavailable("audit: insert if below", err)
	}
	return adm, nil
}

// Get fetches a single row by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgEntryColumns+` FROM audit_log WHERE id::text = $1`, id)
	entry, err := scanPGEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, db.Unavailable("audit: get", err)
	}
	return entry, nil
}

// ListByUser returns a user's entries, newest first.
func (r *PGRepository) ListByUser(ctx context.Context, userEmail, operation string, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgEntryColumns+` FROM audit_log
		WHERE user_email = $1 AND ($2 = '' OR operation = $2)
		ORDER BY created_at DESC, id DESC
		OFFSET $3 LIMIT $4`, userEmail, operation, offset, limit)
	if err != nil {
		return nil, db.Unavailable("audit: list", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanPGEntry(rows)
		if err != nil {
			return nil, db.Unavailable("audit: list scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Unavailable("audit: list", err)
	}
	return entries, nil
}

// InsertTx appends a prepared entry inside the caller's transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	return insertPG(ctx, tx, entry)
}

func insertPG(ctx context.Context, q pgQuerier, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO audit_log (id, operation, entity_type, entity_id, user_email, status, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Operation, entry.EntityType, entry.EntityID, entry.UserEmail, entry.Status, entry.Message, metaJSON, entry.CreatedAt)
	return err
}

func scanPGEntry(row pgx.Row) (Entry, error) {
	var entry Entry
	var metaJSON []byte
	if err := row.Scan(&entry.ID, &entry.Operation, &entry.EntityType, &entry.EntityID, &entry.UserEmail, &entry.Status, &entry.Message, &metaJSON, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.Metadata = map[string]any{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}

func windowLockKey(operation, userEmail string) string {
	return "audit_window|" + operation + "|" + userEmail
}

var _ Repository = (*PGRepository)(nil)
