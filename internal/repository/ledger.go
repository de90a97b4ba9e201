package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"battle-bot/internal/model"
)

const ledgerColumns = "id, user_id, amount, type, description, created_at"

// LedgerRepository records every balance movement for audit. Entries are
// append-only; balances themselves live in the accounts table.
type LedgerRepository struct {
	db Querier
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(db Querier) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *LedgerRepository) WithTx(tx pgx.Tx) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Amount,
		&e.Type,
		&e.Description,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create appends a ledger entry.
func (r *LedgerRepository) Create(ctx context.Context, userID, amount int64, entryType string, description *string) (*model.LedgerEntry, error) {
	const query = `
		INSERT INTO ledger_entries (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + ledgerColumns

	entry, err := scanEntry(r.db.QueryRow(ctx, query, userID, amount, entryType, description))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return entry, nil
}

// GetByUserID retrieves a user's ledger entries, newest first.
func (r *LedgerRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.queryEntries(ctx, query, userID, limit)
}

// GetByUserIDAndType retrieves a user's ledger entries filtered by type,
// newest first.
func (r *LedgerRepository) GetByUserIDAndType(ctx context.Context, userID int64, entryType string, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1 AND type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return r.queryEntries(ctx, query, userID, entryType, limit)
}

// NetByUserID returns the sum of a user's ledger amounts. With the
// initial grant recorded, this equals the account balance unless an
// admin used SetBalance directly.
func (r *LedgerRepository) NetByUserID(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`

	var net int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return net, nil
}

func (r *LedgerRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*model.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}
