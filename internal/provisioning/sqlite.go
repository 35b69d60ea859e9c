package provisioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

const sqliteProfileColumns = `id, email, full_name, credits, subscription_status, role, created_at`

// SQLiteRepository stores profiles in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps a handle opened with db.OpenSQLite.
func NewSQLiteRepository(handle *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: handle}
}

// Get fetches a profile by principal id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Profile, error) {
	p, err := scanSQLiteProfile(r.db.QueryRowContext(ctx, `SELECT `+sqliteProfileColumns+` FROM user_profiles WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, db.Unavailable("provisioning: get", err)
	}
	return p, nil
}

// InsertIfAbsent runs inside an IMMEDIATE transaction, so concurrent callers
// are serialised on the database write lock.
func (r *SQLiteRepository) InsertIfAbsent(ctx context.Context, profile Profile, entry audit.Entry) (Profile, bool, error) {
	var stored Profile
	var created bool
	err := db.WithSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO user_profiles (id, email, full_name, credits, subscription_status, role, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			profile.ID, profile.Email, profile.FullName, profile.Credits, profile.SubscriptionStatus, profile.Role, profile.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		if affected == 0 {
			stored, err = scanSQLiteProfile(tx.QueryRowContext(ctx, `SELECT `+sqliteProfileColumns+` FROM user_profiles WHERE id = ?`, profile.ID))
			if err != nil {
				return fmt.Errorf("read existing profile: %w", err)
			}
			return nil
		}
		if err := audit.InsertSQLTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		stored = profile
		created = true
		return nil
	})
	if err != nil {
		return Profile{}, false, db.Unavailable("provisioning: insert", err)
	}
	return stored, created, nil
}

func scanSQLiteProfile(row *sql.Row) (Profile, error) {
	var p Profile
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Credits, &p.SubscriptionStatus, &p.Role, &createdAt); err != nil {
		return Profile{}, err
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return p, nil
}

var _ Repository = (*SQLiteRepository)(nil)
