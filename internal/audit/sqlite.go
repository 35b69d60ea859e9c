package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

const sqliteEntryColumns = `id, operation, entity_type, entity_id, user_email, status, message, metadata, created_at`

// SQLiteRepository implements Repository on a single SQLite file. Timestamps
// are stored as unix nanoseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps a handle opened with db.OpenSQLite.
func NewSQLiteRepository(handle *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: handle}
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert appends one row.
func (r *SQLiteRepository) Insert(ctx context.Context, entry Entry) error {
	if err := insertSQLite(ctx, r.db, entry); err != nil {
		return db.Unavailable("audit: insert", err)
	}
	return nil
}

// CountSince counts rows in the window.
func (r *SQLiteRepository) CountSince(ctx context.Context, operation, userEmail string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE operation = ? AND user_email = ? AND created_at >= ?`,
		operation, userEmail, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, db.Unavailable("audit: count", err)
	}
	return count, nil
}

// InsertIfBelow runs count and insert inside one BEGIN IMMEDIATE transaction,
// which holds the database write lock for its whole duration.
func (r *SQLiteRepository) InsertIfBelow(ctx context.Context, entry Entry, since time.Time, limit int) (Admission, error) {
	var adm Admission
	err := db.WithSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		var oldest sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), MIN(created_at) FROM audit_log WHERE operation = ? AND user_email = ? AND created_at >= ?`,
			entry.Operation, entry.UserEmail, since.UnixNano()).Scan(&adm.Count, &oldest); err != nil {
			return fmt.Errorf("count window: %w", err)
		}
		if oldest.Valid {
			adm.Oldest = time.Unix(0, oldest.Int64).UTC()
		}
		if adm.Count >= limit {
			return nil
		}
		if err := insertSQLite(ctx, tx, entry); err != nil {
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
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteEntryColumns+` FROM audit_log WHERE id = ?`, id)
	entry, err := scanSQLiteEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, db.Unavailable("audit: get", err)
	}
	return entry, nil
}

// ListByUser returns a user's entries, newest first.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userEmail, operation string, offset, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteEntryColumns+` FROM audit_log
		WHERE user_email = ? AND (? = '' OR operation = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userEmail, operation, operation, limit, offset)
	if err != nil {
		return nil, db.Unavailable("audit: list", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
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

// InsertSQLTx appends a prepared entry inside the caller's transaction.
func InsertSQLTx(ctx context.Context, tx *sql.Tx, entry Entry) error {
	return insertSQLite(ctx, tx, entry)
}

func insertSQLite(ctx context.Context, q sqlExecer, entry Entry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO audit_log (`+sqliteEntryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Operation, entry.EntityType, entry.EntityID, entry.UserEmail, entry.Status, entry.Message, string(metaJSON), entry.CreatedAt.UnixNano())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var entry Entry
	var metaJSON string
	var createdAt int64
	if err := row.Scan(&entry.ID, &entry.Operation, &entry.EntityType, &entry.EntityID, &entry.UserEmail, &entry.Status, &entry.Message, &metaJSON, &createdAt); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	entry.Metadata = map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}

var _ Repository = (*SQLiteRepository)(nil)
