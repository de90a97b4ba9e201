package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AdminRepository persists the set of identities authorized to
// adjudicate battles. Membership is mutated only through the
// authorization gate in the service layer.
type AdminRepository struct {
	db Querier
}

// NewAdminRepository creates a new AdminRepository instance.
func NewAdminRepository(db Querier) *AdminRepository {
	return &AdminRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *AdminRepository) WithTx(tx pgx.Tx) *AdminRepository {
	return &AdminRepository{db: tx}
}

// IsAdmin checks whether the user is in the admin set.
func (r *AdminRepository) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM admins WHERE user_id = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check admin membership: %w", err)
	}

	return exists, nil
}

// Grant adds a user to the admin set, recording who granted it.
// Granting an existing admin is a no-op.
func (r *AdminRepository) Grant(ctx context.Context, userID, grantedBy int64) error {
	const query = `
		INSERT INTO admins (user_id, granted_by, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, userID, grantedBy)
	if err != nil {
		return fmt.Errorf("failed to grant admin: %w", err)
	}

	return nil
}

// Revoke removes a user from the admin set. Returns whether a grant was
// actually removed.
func (r *AdminRepository) Revoke(ctx context.Context, userID int64) (bool, error) {
	const query = `DELETE FROM admins WHERE user_id = $1`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke admin: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
