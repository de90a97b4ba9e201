package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the minimal surface migrations need. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunMigrations applies the database schema. Statements are idempotent so
// the migrations can run on every startup.
func RunMigrations(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: accounts
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id BIGINT PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL CHECK (balance >= 0),
			wins BIGINT NOT NULL DEFAULT 0,
			losses BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance DESC, user_id ASC);
		CREATE INDEX IF NOT EXISTS idx_accounts_wins ON accounts(wins DESC, user_id ASC);
		CREATE INDEX IF NOT EXISTS idx_accounts_display_name ON accounts(display_name);
	`)
	if err != nil {
		return fmt.Errorf("migration accounts: %w", err)
	}
	log.Info().Msg("Migration 1: accounts table created")

	// Migration 2: battles. The partial unique index enforces at most one
	// pending battle per participant pair, across concurrent proposers
	// and process restarts.
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS battles (
			id UUID PRIMARY KEY,
			pair_key TEXT NOT NULL,
			challenger_id BIGINT NOT NULL REFERENCES accounts(user_id),
			opponent_id BIGINT NOT NULL REFERENCES accounts(user_id),
			stake BIGINT NOT NULL CHECK (stake > 0),
			state VARCHAR(20) NOT NULL,
			outcome VARCHAR(20),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_battles_pending_pair
			ON battles(pair_key) WHERE state IN ('proposed', 'approved');
		CREATE INDEX IF NOT EXISTS idx_battles_pair_created ON battles(pair_key, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migration battles: %w", err)
	}
	log.Info().Msg("Migration 2: battles table created")

	// Migration 3: admins
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS admins (
			user_id BIGINT PRIMARY KEY,
			granted_by BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("migration admins: %w", err)
	}
	log.Info().Msg("Migration 3: admins table created")

	// Migration 4: ledger entries
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_user_time ON ledger_entries(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_time ON ledger_entries(type, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migration ledger_entries: %w", err)
	}
	log.Info().Msg("Migration 4: ledger_entries table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
