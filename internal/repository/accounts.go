package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/db"
)

const accountColumns = `id, role, email, given_name, surname, address, is_enabled, disabled_at, created_at, updated_at`

// GetAccount loads an account by id
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var a db.Account
	var role string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&role,
		&a.Email,
		&a.GivenName,
		&a.Surname,
		&a.Address,
		&a.IsEnabled,
		&a.DisabledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, "get account")
	}
	a.Role = db.Role(role)
	return &a, nil
}

// PurgeDisabledAccounts deletes accounts disabled before cutoff that own no meters,
// readings or bills.
func (r *Repository) PurgeDisabledAccounts(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM accounts a
		WHERE a.is_enabled = FALSE
		  AND a.disabled_at IS NOT NULL
		  AND a.disabled_at < $1
		  AND NOT EXISTS (SELECT 1 FROM meters m WHERE m.consumer_id = a.id)
		  AND NOT EXISTS (SELECT 1 FROM readings rd WHERE rd.account_id = a.id OR rd.decided_by = a.id)
		  AND NOT EXISTS (SELECT 1 FROM bills b WHERE b.account_id = a.id)
	`

	tag, err := r.pool.Exec(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, mapError(err, "purge disabled accounts")
	}
	return tag.RowsAffected(), nil
}
