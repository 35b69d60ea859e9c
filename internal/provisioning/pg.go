package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

const pgProfileColumns = `id, email, full_name, credits::float8, subscription_status, role, created_at`

// PGRepository stores profiles in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get fetches a profile by principal id.
func (r *PGRepository) Get(ctx context.Context, id string) (Profile, error) {
	p, err := scanPGProfile(r.pool.QueryRow(ctx, `SELECT `+pgProfileColumns+` FROM user_profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, db.Unavailable("provisioning: get", err)
	}
	return p, nil
}

// InsertIfAbsent relies on ON CONFLICT DO NOTHING. A concurrent inserter of
// the same id blocks on the conflicting row until the first transaction
// commits, after which the read below sees the winner's row.
func (r *PGRepository) InsertIfAbsent(ctx context.Context, profile Profile, entry audit.Entry) (Profile, bool, error) {
	var stored Profile
	var created bool
	err := db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO user_profiles (id, email, full_name, credits, subscription_status, role, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			profile.ID, profile.Email, profile.FullName, profile.Credits, profile.SubscriptionStatus, profile.Role, profile.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			stored, err = scanPGProfile(tx.QueryRow(ctx, `SELECT `+pgProfileColumns+` FROM user_profiles WHERE id = $1`, profile.ID))
			if err != nil {
				return fmt.Errorf("read existing profile: %w", err)
			}
			return nil
		}
		if err := audit.InsertTx(ctx, tx, entry); err != nil {
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

func scanPGProfile(row pgx.Row) (Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Credits, &p.SubscriptionStatus, &p.Role, &p.CreatedAt); err != nil {
		return Profile{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

var _ Repository = (*PGRepository)(nil)
