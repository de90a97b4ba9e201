package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"battle-bot/internal/model"
)

// Common errors for account operations.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const accountColumns = "user_id, display_name, balance, wins, losses, created_at, updated_at"

// AccountRepository handles account persistence. It exclusively owns the
// accounts table; balances change only through its atomic operations.
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	return &AccountRepository{db: tx}
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.UserID,
		&a.DisplayName,
		&a.Balance,
		&a.Wins,
		&a.Losses,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create creates a new account with the given starting balance.
func (r *AccountRepository) Create(ctx context.Context, userID int64, displayName string, startingBalance int64) (*model.Account, error) {
	const query = `
		INSERT INTO accounts (user_id, display_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, displayName, startingBalance))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetByID retrieves an account by its user ID.
// Returns ErrAccountNotFound if the account does not exist.
func (r *AccountRepository) GetByID(ctx context.Context, userID int64) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetOrCreate retrieves an account by user ID, creating one with the
// starting balance if it doesn't exist. Returns the account and whether
// it was newly created.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, displayName string, startingBalance int64) (*model.Account, bool, error) {
	// Try to get existing account first
	account, err := r.GetByID(ctx, userID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	// Account doesn't exist, create new one
	account, err = r.Create(ctx, userID, displayName, startingBalance)
	if err != nil {
		// Handle race condition: another request might have created it
		account, err = r.GetByID(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return account, false, nil
	}

	return account, true, nil
}

// AdjustBalance atomically applies delta to an account's balance. The
// floor check is part of the same statement, so two concurrent wagers
// touching the same account cannot lose an update or drive the balance
// negative. Returns ErrInsufficientFunds if the result would go below
// zero, leaving the balance unchanged.
func (r *AccountRepository) AdjustBalance(ctx context.Context, userID int64, delta int64) (*model.Account, error) {
	const query = `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1 AND balance + $2 >= 0
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, delta))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the account is missing or the floor check failed.
			if _, getErr := r.GetByID(ctx, userID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return account, nil
}

// SetBalance sets an account's balance to an exact value.
// Used primarily for admin operations and tests.
func (r *AccountRepository) SetBalance(ctx context.Context, userID int64, balance int64) (*model.Account, error) {
	const query = `
		UPDATE accounts
		SET balance = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, balance))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to set balance: %w", err)
	}
	return account, nil
}

// IncrementStats atomically increments win and loss counters.
// Counters only grow; negative increments are a programming error and
// rejected by the callers, not here.
func (r *AccountRepository) IncrementStats(ctx context.Context, userID int64, wins, losses int64) (*model.Account, error) {
	const query = `
		UPDATE accounts
		SET wins = wins + $2, losses = losses + $3, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, wins, losses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to increment stats: %w", err)
	}
	return account, nil
}

// UpdateDisplayName updates an account's display name.
// Useful when a user changes their name on the messaging platform.
func (r *AccountRepository) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	const query = `
		UPDATE accounts
		SET display_name = $2, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.db.Exec(ctx, query, userID, displayName)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// FindByDisplayName looks up an account by display name. Display names
// are not unique; when several accounts share one, the account with the
// lowest user ID wins (first-match policy).
func (r *AccountRepository) FindByDisplayName(ctx context.Context, displayName string) (*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE display_name = $1
		ORDER BY user_id ASC
		LIMIT 1
	`

	account, err := scanAccount(r.db.QueryRow(ctx, query, displayName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account by display name: %w", err)
	}
	return account, nil
}

// TopByBalance retrieves the top N accounts by balance.
// Ties are broken by user ID ascending for deterministic ordering.
func (r *AccountRepository) TopByBalance(ctx context.Context, limit int) ([]*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY balance DESC, user_id ASC
		LIMIT $1
	`
	return r.queryAccounts(ctx, query, limit)
}

// TopByWins retrieves the top N accounts by win count.
// Ties are broken by user ID ascending for deterministic ordering.
func (r *AccountRepository) TopByWins(ctx context.Context, limit int) ([]*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY wins DESC, user_id ASC
		LIMIT $1
	`
	return r.queryAccounts(ctx, query, limit)
}

func (r *AccountRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]*model.Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// Exists checks if an account with the given user ID exists.
func (r *AccountRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}

	return exists, nil
}
